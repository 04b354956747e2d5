// Package proc holds the process objects and the table that hands out their ids. A process
// records its parent and children, its address space, and the exit status its parent
// collects with Wait.
package proc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kernvm/errno"
	"golang.org/x/exp/slog"
)

// PID identifies a live or completed process
type PID int32

const (
	// DefaultMinPID is the lowest id given to a user process. Lower ids are reserved.
	DefaultMinPID PID = 2
	// DefaultMaxPID is the highest id given to a user process
	DefaultMaxPID PID = 32767
)

// ErrNoPIDs is returned when every id in the table's range belongs to a process
var ErrNoPIDs = errno.New(errno.ENPROC, "no process ids left")

// CreateOptions contains optional settings when creating a process table. Zero fields take
// the defaults.
type CreateOptions struct {
	MinPID PID
	MaxPID PID
}

// Table owns the mapping from id to process. An id stays taken until its process is
// destroyed, so a completed process keeps its id until it has been reaped.
type Table struct {
	logger *slog.Logger

	mutex     sync.Mutex
	processes *swiss.Map[PID, *Process]
	next      PID
	minPID    PID
	maxPID    PID

	destroyed atomic.Int64
}

// NewTable creates an empty process table
func NewTable(logger *slog.Logger, options CreateOptions) (*Table, error) {
	minPID, maxPID := options.MinPID, options.MaxPID
	if minPID == 0 {
		minPID = DefaultMinPID
	}
	if maxPID == 0 {
		maxPID = DefaultMaxPID
	}
	if minPID < 1 || maxPID < minPID {
		return nil, errors.Newf("invalid pid range [%d, %d]", minPID, maxPID)
	}

	return &Table{
		logger:    logger,
		processes: swiss.NewMap[PID, *Process](42),
		next:      minPID,
		minPID:    minPID,
		maxPID:    maxPID,
	}, nil
}

// Create makes a new process with no parent, no children and no address space, and gives
// it the next free id
func (t *Table) Create(name string) (*Process, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	span := int(t.maxPID-t.minPID) + 1
	for i := 0; i < span; i++ {
		pid := t.next
		t.next++
		if t.next > t.maxPID {
			t.next = t.minPID
		}

		if t.processes.Has(pid) {
			continue
		}

		p := newProcess(t, pid, name)
		t.processes.Put(pid, p)

		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "proc: created",
			slog.Int("pid", int(pid)),
			slog.String("name", name))

		return p, nil
	}

	t.logger.LogAttrs(context.Background(), slog.LevelWarn, "proc: out of process ids", slog.Int("processes", span))
	return nil, errors.Wrapf(ErrNoPIDs, "all %d ids in use", span)
}

// Lookup returns the process with the given id, if it has not been destroyed
func (t *Table) Lookup(pid PID) (*Process, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.processes.Get(pid)
}

// Count returns the number of processes that have not been destroyed
func (t *Table) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.processes.Count()
}

// DestroyedCount returns the number of processes destroyed over the table's lifetime
func (t *Table) DestroyedCount() int {
	return int(t.destroyed.Load())
}

func (t *Table) release(p *Process) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.processes.Delete(p.pid)
	t.destroyed.Add(1)

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "proc: destroyed",
		slog.Int("pid", int(p.pid)),
		slog.String("name", p.name))
}

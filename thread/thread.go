// Package thread runs threads of control as goroutines. Each thread may be bound to a
// process, and ends either by returning from its entry function or by calling Exit.
package thread

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cockroachdb/errors"
	goerrors "github.com/go-errors/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/proc"
	"golang.org/x/exp/slog"
)

var (
	// ErrTooManyThreads is returned by Fork when the thread limit has been reached
	ErrTooManyThreads = errno.New(errno.ENOMEM, "too many threads")
	// ErrStopped is returned by Fork once a thread has panicked
	ErrStopped = errors.New("thread system stopped")
)

// Thread is a thread of control and the process it runs for. Kernel threads have no process.
type Thread struct {
	name    string
	process *proc.Process
}

func (t *Thread) Name() string           { return t.name }
func (t *Thread) Process() *proc.Process { return t.process }

// CreateOptions contains optional settings when creating a thread system
type CreateOptions struct {
	// MaxThreads is the most threads that may be running at once. 0 means no limit.
	MaxThreads int
}

// System starts threads and tracks how many are still running. A panic on any thread stops
// the whole system: Wait returns it at once, even while other threads are blocked waiting on
// the one that died, and no further threads are started.
type System struct {
	logger     *slog.Logger
	maxThreads int

	mutex   sync.Mutex
	running int
	done    sync.WaitGroup
	fatal   error
	stopped chan struct{}
}

// New creates a thread system with no threads
func New(logger *slog.Logger, options CreateOptions) *System {
	return &System{
		logger:     logger,
		maxThreads: options.MaxThreads,
		stopped:    make(chan struct{}),
	}
}

// Fork starts a new thread bound to p, which may be nil, that runs entry
func (s *System) Fork(name string, p *proc.Process, entry func(t *Thread)) error {
	s.mutex.Lock()
	if s.fatal != nil {
		s.mutex.Unlock()
		return errors.Wrapf(ErrStopped, "cannot start %s", name)
	}
	if s.maxThreads > 0 && s.running >= s.maxThreads {
		s.mutex.Unlock()
		return errors.Wrapf(ErrTooManyThreads, "cannot start %s", name)
	}
	s.running++
	s.mutex.Unlock()

	t := &Thread{name: name, process: p}

	s.done.Add(1)
	go s.run(t, entry)

	return nil
}

func (s *System) run(t *Thread, entry func(t *Thread)) {
	defer s.done.Done()
	defer func() {
		recovered := recover()

		s.mutex.Lock()
		defer s.mutex.Unlock()

		s.running--
		if recovered == nil {
			return
		}

		err, isErr := recovered.(error)
		if !isErr {
			err = fmt.Errorf("%v", recovered)
		}
		s.logger.LogAttrs(context.Background(), slog.LevelError, "thread: panic",
			slog.String("thread", t.name),
			slog.Any("error", err))
		if s.fatal == nil {
			s.fatal = goerrors.Wrap(err, 0)
			close(s.stopped)
		}
	}()

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "thread: start", slog.String("thread", t.name))
	entry(t)
}

// Exit ends the calling thread, which must be t. It never returns.
func (s *System) Exit(t *Thread) {
	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "thread: exit", slog.String("thread", t.name))
	runtime.Goexit()
}

// Running returns the number of threads that have not finished
func (s *System) Running() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.running
}

// Wait blocks until every thread has finished or one of them panics. It returns the first
// panic raised on any thread, if there was one.
func (s *System) Wait() error {
	finished := make(chan struct{})
	go func() {
		s.done.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-s.stopped:
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.fatal
}

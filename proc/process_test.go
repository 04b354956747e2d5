package proc_test

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/coremap"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/physmem"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

func newTable(t *testing.T, options proc.CreateOptions) *proc.Table {
	table, err := proc.NewTable(slog.New(slog.NewJSONHandler(io.Discard, nil)), options)
	require.NoError(t, err)
	return table
}

func spawn(t *testing.T, table *proc.Table, parent *proc.Process, name string) *proc.Process {
	child, err := table.Create(name)
	require.NoError(t, err)
	if parent != nil {
		parent.AddChild(child)
	}
	return child
}

func TestCreateAssignsIDs(t *testing.T) {
	table := newTable(t, proc.CreateOptions{MaxPID: 4})

	a := spawn(t, table, nil, "a")
	b := spawn(t, table, nil, "b")
	c := spawn(t, table, nil, "c")
	require.Equal(t, []proc.PID{2, 3, 4}, []proc.PID{a.PID(), b.PID(), c.PID()})

	_, err := table.Create("d")
	require.True(t, errors.Is(err, proc.ErrNoPIDs))
	require.Equal(t, errno.ENPROC, errno.Of(err))

	b.Destroy()
	_, found := table.Lookup(3)
	require.False(t, found)

	d := spawn(t, table, nil, "d")
	require.Equal(t, proc.PID(3), d.PID())

	lookedUp, ok := table.Lookup(2)
	require.True(t, ok)
	require.Equal(t, a, lookedUp)
	require.Equal(t, 3, table.Count())
}

func TestNewTableRejectsBadRange(t *testing.T) {
	_, err := proc.NewTable(slog.New(slog.NewJSONHandler(io.Discard, nil)), proc.CreateOptions{MinPID: 10, MaxPID: 5})
	require.Error(t, err)
}

func TestWaitAfterExit(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	parent := spawn(t, table, nil, "parent")
	child := spawn(t, table, parent, "child")
	require.Equal(t, parent, child.Parent())

	require.False(t, child.Exit(proc.MakeExitStatus(7)))
	_, stillThere := table.Lookup(child.PID())
	require.True(t, stillThere)

	status, err := parent.Wait(child.PID())
	require.NoError(t, err)
	require.True(t, status.Exited())
	require.Equal(t, 7, status.ExitStatus())

	_, err = parent.Wait(child.PID())
	require.True(t, errors.Is(err, proc.ErrNoSuchChild))
	require.Equal(t, errno.ECHILD, errno.Of(err))

	require.Equal(t, 1, table.Count())
	require.Equal(t, 1, table.DestroyedCount())
}

func TestWaitBeforeExit(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	parent := spawn(t, table, nil, "parent")
	child := spawn(t, table, parent, "child")

	statuses := make(chan proc.WaitStatus, 1)
	errs := make(chan error, 1)
	go func() {
		status, err := parent.Wait(child.PID())
		statuses <- status
		errs <- err
	}()

	require.False(t, child.Exit(proc.MakeExitStatus(3)))
	require.Equal(t, 3, (<-statuses).ExitStatus())
	require.NoError(t, <-errs)
	require.Empty(t, parent.Children())
}

func TestWaitForStranger(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	parent := spawn(t, table, nil, "parent")
	other := spawn(t, table, nil, "other")

	_, err := parent.Wait(other.PID())
	require.True(t, errors.Is(err, proc.ErrNoSuchChild))
	_, err = parent.Wait(parent.PID())
	require.True(t, errors.Is(err, proc.ErrNoSuchChild))
}

func TestParentExitReapsCompletedChildren(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	parent := spawn(t, table, nil, "parent")
	done := spawn(t, table, parent, "done")
	running := spawn(t, table, parent, "running")

	require.False(t, done.Exit(proc.MakeExitStatus(0)))

	require.True(t, parent.Exit(proc.MakeExitStatus(1)))
	_, found := table.Lookup(done.PID())
	require.False(t, found)
	require.Nil(t, running.Parent())
	require.Empty(t, parent.Children())

	require.True(t, running.Exit(proc.MakeExitStatus(2)))
	running.Destroy()
	parent.Destroy()

	require.Equal(t, 0, table.Count())
	require.Equal(t, 3, table.DestroyedCount())
}

func TestRemoveChild(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	parent := spawn(t, table, nil, "parent")
	child := spawn(t, table, parent, "child")

	parent.RemoveChild(child)
	require.Nil(t, child.Parent())
	require.Empty(t, parent.Children())

	_, err := parent.Wait(child.PID())
	require.True(t, errors.Is(err, proc.ErrNoSuchChild))
}

func TestDestroyTwicePanics(t *testing.T) {
	table := newTable(t, proc.CreateOptions{})
	p := spawn(t, table, nil, "p")

	p.Destroy()
	require.Panics(t, func() { p.Destroy() })
}

func TestDestroyReleasesAddressSpace(t *testing.T) {
	ram, err := physmem.New(64*mips.PageSize, mips.PageSize)
	require.NoError(t, err)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	system := vm.New(logger, ram, coremap.New(logger, ram, coremap.CreateOptions{}), mips.NewTLB(1))
	require.NoError(t, system.Bootstrap())

	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 0x1000, vm.PermRead))
	require.NoError(t, as.PrepareLoad())

	table := newTable(t, proc.CreateOptions{})
	p := spawn(t, table, nil, "p")
	require.Nil(t, p.SetAddressSpace(as))
	require.Equal(t, as, p.AddressSpace())

	p.Destroy()

	var stats memutils.Statistics
	system.Coremap().AddStatistics(&stats)
	require.Equal(t, 0, stats.AllocatedFrames)
}

// Every child is collected exactly once with the code it exited with, whatever order the
// exits, waits and the parent's own exit happen in
func TestExitWaitInterleavings(t *testing.T) {
	random := rand.New(rand.NewSource(11))

	for round := 0; round < 200; round++ {
		table := newTable(t, proc.CreateOptions{})
		parent := spawn(t, table, nil, "parent")

		const childCount = 6
		children := make([]*proc.Process, childCount)
		for i := range children {
			children[i] = spawn(t, table, parent, fmt.Sprintf("child-%d", i))
		}

		waited := random.Intn(childCount + 1)
		var exits sync.WaitGroup
		for i, child := range children {
			exits.Add(1)
			go func(child *proc.Process, code int) {
				defer exits.Done()
				if child.Exit(proc.MakeExitStatus(code)) {
					child.Destroy()
				}
			}(child, 100+i)
		}

		for i := 0; i < waited; i++ {
			status, err := parent.Wait(children[i].PID())
			require.NoError(t, err)
			require.Equal(t, 100+i, status.ExitStatus())

			_, err = parent.Wait(children[i].PID())
			require.True(t, errors.Is(err, proc.ErrNoSuchChild))
		}

		require.True(t, parent.Exit(proc.MakeExitStatus(0)))
		parent.Destroy()
		exits.Wait()

		require.Equal(t, 0, table.Count(), "round %d", round)
		require.Equal(t, childCount+1, table.DestroyedCount(), "round %d", round)
	}
}

func TestWaitStatusEncoding(t *testing.T) {
	exited := proc.MakeExitStatus(7)
	require.Equal(t, proc.WaitStatus(28), exited)
	require.True(t, exited.Exited())
	require.False(t, exited.Signaled())
	require.Equal(t, 7, exited.ExitStatus())
	require.Equal(t, -1, exited.Signal())

	killed := proc.MakeSignalStatus(proc.SIGSEGV)
	require.Equal(t, proc.WaitStatus(45), killed)
	require.True(t, killed.Signaled())
	require.False(t, killed.Exited())
	require.Equal(t, proc.SIGSEGV, killed.Signal())
	require.Equal(t, -1, killed.ExitStatus())
}

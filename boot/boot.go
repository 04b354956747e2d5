// Package boot assembles a machine: physical memory, the coremap, virtual memory, the process
// and thread tables and the kernel that ties them together.
package boot

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/coremap"
	"github.com/vkngwrapper/kernvm/kern"
	"github.com/vkngwrapper/kernvm/loader/elf"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/physmem"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

// ErrLeakedProcesses is returned by Shutdown if processes remain once every thread is done
var ErrLeakedProcesses = errors.New("processes outlived their threads")

// Machine is a booted kernel and the hardware it runs on
type Machine struct {
	logger *slog.Logger
	config Config

	RAM     *physmem.RAM
	Coremap *coremap.Coremap
	VM      *vm.System
	Procs   *proc.Table
	Threads *thread.System
	Kernel  *kern.Kernel

	// bootStack is the boot thread's stack, taken before the coremap exists
	bootStack uint32
}

// Boot brings up a machine described by config. Program images are opened through fileSystem
// and user mode is entered through user.
func Boot(logger *slog.Logger, config Config, fileSystem kern.FileSystem, user kern.UserEntry) (*Machine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ram, err := physmem.New(config.RAMSize, config.KernelEnd)
	if err != nil {
		return nil, err
	}

	frames := coremap.New(logger, ram, coremap.CreateOptions{})
	vmSystem := vm.New(logger, ram, frames, mips.NewTLB(config.TLBSeed))

	// served by the bootstrap allocator and never returned
	bootStack, err := vmSystem.AllocKPages(1)
	if err != nil {
		return nil, errors.Wrap(err, "allocating the boot stack")
	}

	if err := vmSystem.Bootstrap(); err != nil {
		return nil, err
	}

	procs, err := proc.NewTable(logger, proc.CreateOptions{
		MinPID: config.MinPID,
		MaxPID: config.MaxPID,
	})
	if err != nil {
		return nil, err
	}

	threads := thread.New(logger, thread.CreateOptions{MaxThreads: config.MaxThreads})

	kernel, err := kern.New(logger, vmSystem, procs, kern.CreateOptions{
		Threads:    threads,
		FileSystem: fileSystem,
		Loader:     elf.New(logger),
		UserEntry:  user,
	})
	if err != nil {
		return nil, err
	}

	var stats memutils.Statistics
	frames.AddStatistics(&stats)
	logger.LogAttrs(context.Background(), slog.LevelInfo, "boot: machine up",
		slog.Uint64("ramBytes", uint64(ram.Size())),
		slog.Int("frames", stats.FrameCount),
		slog.Int("freeFrames", stats.FreeFrames()),
		slog.Uint64("firstFree", uint64(frames.FirstAllocatable())))

	return &Machine{
		logger:    logger,
		config:    config,
		RAM:       ram,
		Coremap:   frames,
		VM:        vmSystem,
		Procs:     procs,
		Threads:   threads,
		Kernel:    kernel,
		bootStack: bootStack,
	}, nil
}

func (m *Machine) Config() Config { return m.config }

// BootStack returns the KSEG0 address of the boot thread's stack page
func (m *Machine) BootStack() uint32 { return m.bootStack }

// Run starts the program at path with args as its argument vector
func (m *Machine) Run(path string, args []string) (proc.PID, error) {
	return m.Kernel.RunProgram(path, args)
}

// Shutdown waits for every thread to finish and checks that nothing was left behind. A panic
// on any thread is returned first.
func (m *Machine) Shutdown() error {
	if err := m.Threads.Wait(); err != nil {
		return err
	}

	if err := m.Coremap.Validate(); err != nil {
		return err
	}

	var stats memutils.Statistics
	m.Coremap.AddStatistics(&stats)
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "boot: shutdown",
		slog.Int("processesDestroyed", m.Procs.DestroyedCount()),
		slog.Int("allocatedFrames", stats.AllocatedFrames))

	if count := m.Procs.Count(); count > 0 {
		return errors.Wrapf(ErrLeakedProcesses, "%d left", count)
	}
	return nil
}

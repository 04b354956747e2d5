// Package kern is the system call surface of the kernel: process creation and replacement,
// exit and wait, and dispatch of the faults user code raises.
//
// User code is never executed here. Entering user mode is delegated to a UserEntry, and user
// memory references are simulated with UserAccess, which takes the same TLB path a real load
// or store would.
package kern

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

const (
	// ArgMax is the most bytes the strings of an argument vector may take, terminators
	// included
	ArgMax = 65536
	// PathMax is the longest program path accepted, terminator included
	PathMax = 1024
)

var (
	ErrBadWaitOptions = errno.New(errno.EINVAL, "unsupported waitpid options")
	ErrArgsTooLong    = errno.New(errno.E2BIG, "argument list too long")
	ErrNotUserProcess = errno.New(errno.EINVAL, "thread has no user process")
	ErrMissingService = errors.New("kernel service was not provided")
)

// CreateOptions names the collaborators the kernel relies on. All of them are required.
type CreateOptions struct {
	Threads    Threads
	FileSystem FileSystem
	Loader     ImageLoader
	UserEntry  UserEntry
}

// Kernel ties the process table to the virtual memory system. It models a single execution
// unit: whichever address space was last activated owns the TLB, and every thread that
// touches user memory first makes its own address space current.
type Kernel struct {
	logger  *slog.Logger
	vm      *vm.System
	procs   *proc.Table
	threads Threads
	fs      FileSystem
	loader  ImageLoader
	user    UserEntry

	cpu     sync.Mutex
	current *vm.AddressSpace
}

// New creates a kernel over an already bootstrapped virtual memory system
func New(logger *slog.Logger, vmSystem *vm.System, procs *proc.Table, options CreateOptions) (*Kernel, error) {
	switch {
	case options.Threads == nil:
		return nil, errors.Wrap(ErrMissingService, "threads")
	case options.FileSystem == nil:
		return nil, errors.Wrap(ErrMissingService, "file system")
	case options.Loader == nil:
		return nil, errors.Wrap(ErrMissingService, "image loader")
	case options.UserEntry == nil:
		return nil, errors.Wrap(ErrMissingService, "user entry")
	}

	return &Kernel{
		logger:  logger,
		vm:      vmSystem,
		procs:   procs,
		threads: options.Threads,
		fs:      options.FileSystem,
		loader:  options.Loader,
		user:    options.UserEntry,
	}, nil
}

func (k *Kernel) VM() *vm.System         { return k.vm }
func (k *Kernel) Processes() *proc.Table { return k.procs }

// switchTo must be called with k.cpu held
func (k *Kernel) switchTo(as *vm.AddressSpace) {
	if k.current == as {
		return
	}

	previous := k.current
	if previous != nil {
		k.vm.Deactivate(previous)
	}

	if as != nil {
		k.vm.Activate(as)
	} else {
		// Nothing will be translated, but previous's mappings must not survive
		k.vm.Activate(previous)
	}
	k.current = as
}

// activate makes as the address space the TLB translates for
func (k *Kernel) activate(as *vm.AddressSpace) {
	k.cpu.Lock()
	defer k.cpu.Unlock()

	k.switchTo(as)
}

// forget drops every translation into as before it is destroyed
func (k *Kernel) forget(as *vm.AddressSpace) {
	if as == nil {
		return
	}

	k.cpu.Lock()
	defer k.cpu.Unlock()

	if k.current == as {
		k.vm.Activate(as)
		k.current = nil
	}
}

// withErrno marks err with e unless it already carries an error number
func withErrno(err error, e errno.Errno) error {
	if errno.Of(err) != errno.ENOSYS {
		return err
	}
	return errno.Mark(err, e)
}

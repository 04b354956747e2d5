package kern

import (
	"io"

	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"github.com/vkngwrapper/kernvm/vm"
)

//go:generate mockgen -source interfaces.go -destination ./mocks/mocks.go -package mocks

// Threads starts and ends threads of control
type Threads interface {
	// Fork starts a thread bound to p that runs entry
	Fork(name string, p *proc.Process, entry func(t *thread.Thread)) error
	// Exit ends the calling thread t and never returns
	Exit(t *thread.Thread)
}

// Image is an open, read-only program image
type Image interface {
	io.ReaderAt
	io.Closer
}

// FileSystem resolves program paths
type FileSystem interface {
	// Open opens the image at path for reading. It fails with an error matching errno.EACCES
	// if the path cannot be opened.
	Open(path string) (Image, error)
}

// ImageLoader populates an address space from a program image
type ImageLoader interface {
	// Load defines the regions of as, commits their frames, fills them from image and
	// completes the load. It returns the entry point. A malformed image fails with an error
	// matching errno.ENOEXEC.
	Load(image Image, as *vm.AddressSpace) (entry uint32, err error)
}

// UserEntry transfers a thread into user mode. Neither method returns.
type UserEntry interface {
	// EnterForkedProcess resumes the child of a fork at the point the parent trapped, with
	// fork returning 0 in the child
	EnterForkedProcess(t *thread.Thread, tf *mips.TrapFrame)
	// EnterNewProcess starts a freshly loaded program at entry with argc in a0, argv in a1
	// and the stack pointer set to stackPtr
	EnterNewProcess(t *thread.Thread, argc int, argv uint32, stackPtr uint32, entry uint32)
}

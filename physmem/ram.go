// Package physmem simulates the machine's physical memory and the boot-time allocator that
// hands out frames before the coremap exists.
package physmem

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/memutils"
)

// RAM is the physical memory of the machine. Physical address 0 is never handed out, so it
// doubles as the failed-allocation sentinel.
type RAM struct {
	memory []byte

	// stealMem guards firstPaddr/lastPaddr. It is distinct from any coremap lock.
	stealMem   utils.Spinlock
	firstPaddr uint32
	lastPaddr  uint32
}

// New creates size bytes of physical memory. kernelEnd is the first physical address past the
// loaded kernel image; everything from there up belongs to the bootstrap allocator until
// GetSize hands it over.
func New(size uint32, kernelEnd uint32) (*RAM, error) {
	if err := memutils.CheckAligned(size, mips.PageSize, "ram size"); err != nil {
		return nil, err
	}

	first := memutils.AlignUp(kernelEnd, mips.PageSize)
	if first == 0 {
		// keep paddr 0 out of circulation
		first = mips.PageSize
	}
	if first >= size {
		return nil, errors.Newf("kernel image ending at 0x%x leaves no room in 0x%x bytes of ram", kernelEnd, size)
	}

	return &RAM{
		memory:     make([]byte, size),
		firstPaddr: first,
		lastPaddr:  size,
	}, nil
}

// Size returns the number of bytes of physical memory
func (r *RAM) Size() uint32 {
	return uint32(len(r.memory))
}

// StealMem is the bootstrap bump allocator. It returns the physical address of npages
// contiguous frames, or 0 if there is no room or the range has been handed to the coremap.
// Frames obtained here are never returned.
func (r *RAM) StealMem(npages int) uint32 {
	r.stealMem.Acquire()
	defer r.stealMem.Release()

	if npages <= 0 {
		return 0
	}
	return r.steal(uint32(npages) * mips.PageSize)
}

func (r *RAM) steal(size uint32) uint32 {
	utils.Assert(r.stealMem.DoIHold(), "stealing memory without the steal lock")

	if r.firstPaddr == 0 || r.firstPaddr+size > r.lastPaddr || r.firstPaddr+size < r.firstPaddr {
		return 0
	}

	paddr := r.firstPaddr
	r.firstPaddr += size
	return paddr
}

// GetSize reports the range of physical memory not yet consumed by StealMem and hands it
// over: afterwards StealMem always fails, so the two allocators never serve the same frame.
func (r *RAM) GetSize() (lo, hi uint32) {
	r.stealMem.Acquire()
	defer r.stealMem.Release()

	lo, hi = r.firstPaddr, r.lastPaddr
	r.firstPaddr = 0
	r.lastPaddr = 0
	return lo, hi
}

// Frame returns the bytes of the frame holding paddr. The slice aliases physical memory.
func (r *RAM) Frame(paddr uint32) []byte {
	base := paddr & mips.PageFrame
	return r.Bytes(base, mips.PageSize)
}

// Bytes returns length bytes of physical memory starting at paddr. The slice aliases
// physical memory. An out-of-range request is a bus error and stops the kernel.
func (r *RAM) Bytes(paddr uint32, length uint32) []byte {
	end := uint64(paddr) + uint64(length)
	if end > uint64(len(r.memory)) {
		panic(errors.AssertionFailedf("bus error: physical range 0x%x+0x%x outside 0x%x bytes of ram", paddr, length, len(r.memory)))
	}
	return r.memory[paddr:end:end]
}

// ZeroFrame clears the frame holding paddr
func (r *RAM) ZeroFrame(paddr uint32) {
	clear(r.Frame(paddr))
}

// FillFrame overwrites the frame holding paddr with value
func (r *RAM) FillFrame(paddr uint32, value byte) {
	frame := r.Frame(paddr)
	for i := range frame {
		frame[i] = value
	}
}

// CopyFrame copies the whole frame holding src over the frame holding dst
func (r *RAM) CopyFrame(dst, src uint32) {
	copy(r.Frame(dst), r.Frame(src))
}

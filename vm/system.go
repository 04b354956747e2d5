// Package vm is the virtual memory system: per-process address spaces with a fixed layout of
// two loadable regions and a stack, the TLB refill path, and the primitives that move bytes
// across the user/kernel boundary.
//
// There is no paging. Every page of every region is backed by a frame from the coremap for
// as long as its address space exists.
package vm

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/coremap"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/physmem"
	"golang.org/x/exp/slog"
)

const (
	// StackPages is the fixed size of every user stack
	StackPages = 12
	// StackBase is the lowest address of the user stack
	StackBase = mips.UserStack - StackPages*mips.PageSize
)

var (
	ErrTooManyRegions = errno.New(errno.EUNIMP, "too many regions")
	ErrBadRegion      = errno.New(errno.EINVAL, "region is outside user space or overlaps another region")
	ErrNotPrepared    = errno.New(errno.EINVAL, "address space frames have not been committed")
	ErrPrepared       = errno.New(errno.EINVAL, "address space frames are already committed")

	ErrBadFaultType   = errno.New(errno.EINVAL, "unknown fault type")
	ErrReadOnly       = errno.New(errno.EFAULT, "write to read-only page")
	ErrSegmentation   = errno.New(errno.EFAULT, "address is outside every region")
	ErrNoAddressSpace = errno.New(errno.EFAULT, "fault with no address space")

	ErrUserFault = errno.New(errno.EFAULT, "bad user memory reference")
)

// TLBShootdown describes a request to invalidate a mapping on another execution unit
type TLBShootdown struct {
	VAddr uint32
}

// System ties the address spaces to the physical memory, frame allocator and TLB of the
// single execution unit they run on.
type System struct {
	logger  *slog.Logger
	ram     *physmem.RAM
	coremap *coremap.Coremap
	tlb     *mips.TLB
}

// New creates the virtual memory system. The coremap keeps serving bootstrap allocations
// until Bootstrap is called.
func New(logger *slog.Logger, ram *physmem.RAM, frames *coremap.Coremap, tlb *mips.TLB) *System {
	return &System{
		logger:  logger,
		ram:     ram,
		coremap: frames,
		tlb:     tlb,
	}
}

// Bootstrap hands the remaining physical memory to the coremap
func (s *System) Bootstrap() error {
	return s.coremap.Bootstrap()
}

func (s *System) RAM() *physmem.RAM         { return s.ram }
func (s *System) Coremap() *coremap.Coremap { return s.coremap }
func (s *System) TLB() *mips.TLB            { return s.tlb }

// CreateAddressSpace returns an address space with no regions and no frames
func (s *System) CreateAddressSpace() *AddressSpace {
	return &AddressSpace{system: s}
}

// AllocKPages allocates npages contiguous frames for kernel use and returns their KSEG0 address
func (s *System) AllocKPages(npages int) (uint32, error) {
	paddr, err := s.coremap.Alloc(npages)
	if err != nil {
		return 0, err
	}
	return mips.PaddrToKVaddr(paddr), nil
}

// FreeKPages releases kernel pages obtained from AllocKPages
func (s *System) FreeKPages(vaddr uint32) error {
	if vaddr < mips.KSeg0 || vaddr >= mips.KSeg1 {
		return errors.Wrapf(coremap.ErrBadAddress, "0x%x is not a KSEG0 address", vaddr)
	}
	return s.coremap.Free(mips.KVaddrToPaddr(vaddr))
}

// Activate makes as the address space the TLB translates for by invalidating every entry.
// A nil address space, as for kernel threads, leaves the TLB alone.
func (s *System) Activate(as *AddressSpace) {
	if as == nil {
		return
	}

	spl := s.tlb.SplHigh()
	defer s.tlb.Splx(spl)

	for i := 0; i < mips.NumTLB; i++ {
		s.tlb.Write(mips.TLBHiInvalid(i), mips.TLBLoInvalid(), i)
	}
}

// Deactivate is called when as stops being the current address space. Nothing needs to happen.
func (s *System) Deactivate(as *AddressSpace) {
}

// ShootdownAll would invalidate every TLB entry on all other execution units. There is only
// one execution unit, so being asked to is a fatal error.
func (s *System) ShootdownAll() {
	s.logger.LogAttrs(context.Background(), slog.LevelError, "TLB shootdown requested")
	utils.Panicf("vm tried to do tlb shootdown?!")
}

// Shootdown would invalidate one mapping on another execution unit. There is only one
// execution unit, so being asked to is a fatal error.
func (s *System) Shootdown(ts TLBShootdown) {
	s.logger.LogAttrs(context.Background(), slog.LevelError, "TLB shootdown requested", slog.String("vaddr", hex(ts.VAddr)))
	utils.Panicf("vm tried to do tlb shootdown of 0x%x?!", ts.VAddr)
}

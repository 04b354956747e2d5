package vm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/memutils"
	"golang.org/x/exp/slog"
)

func hex(value uint32) string {
	return fmt.Sprintf("0x%08x", value)
}

// Permissions are the access rights requested for a region. They are recorded but every
// frame is mapped read-write, except that region 1 becomes read-only once its image is loaded.
type Permissions uint32

const (
	PermRead Permissions = 1 << iota
	PermWrite
	PermExec
)

func (p Permissions) String() string {
	var sb strings.Builder
	for _, bit := range []struct {
		perm Permissions
		char byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}} {
		if p&bit.perm != 0 {
			sb.WriteByte(bit.char)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// Region is a page-aligned span of virtual memory with one frame per page
type Region struct {
	VBase  uint32
	NPages int
	Perms  Permissions

	frames []uint32
}

// Top returns the first address past the region
func (r Region) Top() uint32 {
	return r.VBase + uint32(r.NPages)*mips.PageSize
}

// Contains reports whether vaddr lies inside the region
func (r Region) Contains(vaddr uint32) bool {
	return r.NPages > 0 && vaddr >= r.VBase && vaddr < r.Top()
}

// Frames returns a copy of the physical frame addresses backing each page. Uncommitted pages
// are 0.
func (r Region) Frames() []uint32 {
	frames := make([]uint32, len(r.frames))
	copy(frames, r.frames)
	return frames
}

func (r Region) overlaps(base, top uint32) bool {
	return r.NPages > 0 && base < r.Top() && r.VBase < top
}

// AddressSpace describes the user half of a process's memory: up to two loadable regions,
// conventionally code then data, and a fixed-size stack ending at mips.UserStack. It owns
// every frame it maps.
//
// The lifecycle is: define the regions, PrepareLoad to commit zeroed frames, let the image
// loader fill them, then CompleteLoad. After CompleteLoad region 1 is mapped read-only.
type AddressSpace struct {
	system *System

	regions     [2]Region
	regionCount int
	stack       Region

	loaded    bool
	destroyed bool
}

// Region1 returns the first defined region, which holds the program text
func (as *AddressSpace) Region1() Region { return as.regions[0] }

// Region2 returns the second defined region
func (as *AddressSpace) Region2() Region { return as.regions[1] }

// Stack returns the stack region
func (as *AddressSpace) Stack() Region { return as.stack }

// RegionCount returns the number of non-stack regions defined so far
func (as *AddressSpace) RegionCount() int { return as.regionCount }

// Loaded reports whether CompleteLoad has been called
func (as *AddressSpace) Loaded() bool { return as.loaded }

// DefineRegion sets up the next region to cover size bytes at vaddr, widened to whole pages.
// Only two regions may be defined; a third request returns ErrTooManyRegions and leaves the
// address space unchanged.
func (as *AddressSpace) DefineRegion(vaddr uint32, size uint32, perms Permissions) error {
	offset := vaddr &^ mips.PageFrame
	vaddr &= mips.PageFrame
	end := memutils.AlignUp(uint64(vaddr)+uint64(offset)+uint64(size), uint64(mips.PageSize))
	npages := int((end - uint64(vaddr)) / uint64(mips.PageSize))

	if as.regionCount >= len(as.regions) {
		as.system.logger.LogAttrs(context.Background(), slog.LevelWarn, "vm: too many regions",
			slog.String("vaddr", hex(vaddr)),
			slog.Int("npages", npages))
		return errors.Wrapf(ErrTooManyRegions, "region at 0x%x", vaddr)
	}

	if end > uint64(StackBase) {
		return errors.Wrapf(ErrBadRegion, "[0x%x, 0x%x) does not fit below the stack", vaddr, end)
	}
	top := uint32(end)
	for i := 0; i < as.regionCount; i++ {
		if as.regions[i].overlaps(vaddr, top) {
			return errors.Wrapf(ErrBadRegion, "[0x%x, 0x%x) overlaps region %d", vaddr, top, i+1)
		}
	}

	as.regions[as.regionCount] = Region{
		VBase:  vaddr,
		NPages: npages,
		Perms:  perms,
		frames: make([]uint32, npages),
	}
	as.regionCount++

	return nil
}

func (as *AddressSpace) commit(region *Region) error {
	for i := range region.frames {
		paddr, err := as.system.coremap.Alloc(1)
		if err != nil {
			return errors.Wrapf(err, "committing page %d of region at 0x%x", i, region.VBase)
		}
		region.frames[i] = paddr
		as.system.ram.ZeroFrame(paddr)
	}

	return nil
}

// PrepareLoad commits one zeroed frame to every page of region 1, region 2 and the stack, in
// that order. If the coremap runs out of frames the error matches errno.ENOMEM and the frames
// committed so far stay owned by the address space until Destroy.
func (as *AddressSpace) PrepareLoad() error {
	if as.stack.frames != nil {
		return ErrPrepared
	}

	as.stack = Region{
		VBase:  StackBase,
		NPages: StackPages,
		Perms:  PermRead | PermWrite,
		frames: make([]uint32, StackPages),
	}

	for i := 0; i < as.regionCount; i++ {
		if err := as.commit(&as.regions[i]); err != nil {
			return err
		}
	}

	return as.commit(&as.stack)
}

// CompleteLoad marks the image as fully written. From here on region 1 is mapped read-only,
// so any writable translations the loader left in the TLB are flushed.
func (as *AddressSpace) CompleteLoad() error {
	if as.stack.frames == nil {
		return ErrNotPrepared
	}

	as.loaded = true
	as.system.Activate(as)
	return nil
}

// DefineStack returns the initial user stack pointer
func (as *AddressSpace) DefineStack() (uint32, error) {
	if as.stack.frames == nil {
		return 0, ErrNotPrepared
	}

	return mips.UserStack, nil
}

// Copy creates a new address space with the same geometry and a byte-for-byte copy of every
// page, backed by fresh frames. On failure nothing is left allocated.
func (as *AddressSpace) Copy() (*AddressSpace, error) {
	if as.stack.frames == nil {
		return nil, ErrNotPrepared
	}

	child := as.system.CreateAddressSpace()
	child.regionCount = as.regionCount
	for i := 0; i < as.regionCount; i++ {
		child.regions[i] = Region{
			VBase:  as.regions[i].VBase,
			NPages: as.regions[i].NPages,
			Perms:  as.regions[i].Perms,
			frames: make([]uint32, as.regions[i].NPages),
		}
	}

	if err := child.PrepareLoad(); err != nil {
		child.Destroy()
		return nil, errors.Wrap(err, "copying address space")
	}

	for i := 0; i < as.regionCount; i++ {
		copyFrames(as.system, child.regions[i].frames, as.regions[i].frames)
	}
	copyFrames(as.system, child.stack.frames, as.stack.frames)

	child.loaded = as.loaded

	return child, nil
}

func copyFrames(system *System, dst, src []uint32) {
	for i := range src {
		system.ram.CopyFrame(dst[i], src[i])
	}
}

// Destroy returns every frame to the coremap. The address space must not be used afterwards.
func (as *AddressSpace) Destroy() {
	if as.destroyed {
		return
	}
	as.destroyed = true

	for i := 0; i < as.regionCount; i++ {
		as.release(&as.regions[i])
	}
	as.release(&as.stack)
}

func (as *AddressSpace) release(region *Region) {
	for _, paddr := range region.frames {
		if paddr == 0 {
			continue
		}

		if err := as.system.coremap.Free(paddr); err != nil {
			as.system.logger.LogAttrs(context.Background(), slog.LevelError, "vm: could not release frame",
				slog.String("paddr", hex(paddr)),
				slog.Any("error", err))
		}
	}
	region.frames = nil
}

// Translate resolves vaddr against region 1, region 2 and the stack, in that order. It returns
// the physical address and whether the page may be written.
func (as *AddressSpace) Translate(vaddr uint32) (paddr uint32, writable bool, err error) {
	candidates := [...]*Region{&as.regions[0], &as.regions[1], &as.stack}
	for index, region := range candidates {
		if !region.Contains(vaddr) {
			continue
		}

		page := (vaddr - region.VBase) / mips.PageSize
		if int(page) >= len(region.frames) || region.frames[page] == 0 {
			return 0, false, errors.Wrapf(ErrNotPrepared, "vaddr 0x%x", vaddr)
		}

		writable = !(index == 0 && as.loaded)
		return region.frames[page] | vaddr&^mips.PageFrame, writable, nil
	}

	return 0, false, errors.Wrapf(ErrSegmentation, "vaddr 0x%x", vaddr)
}

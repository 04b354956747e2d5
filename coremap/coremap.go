// Package coremap is the physical frame allocator. It owns every frame between the end of
// the bootstrap allocations and the top of RAM, and hands out contiguous runs of frames
// first-fit.
package coremap

import (
	"context"
	"encoding/binary"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/physmem"
	"golang.org/x/exp/slog"
)

var (
	// ErrOutOfFrames is returned when no run of free frames is long enough for a request
	ErrOutOfFrames = errno.New(errno.ENOMEM, "out of physical frames")
	// ErrNotAllocated is returned when freeing an address that does not start an allocation
	ErrNotAllocated = errno.New(errno.EINVAL, "address does not start a frame allocation")
	// ErrBadAddress is returned when an address is misaligned or outside the managed range
	ErrBadAddress = errno.New(errno.EINVAL, "physical address outside the coremap")
)

// CreateFlags indicate specific coremap behaviors to activate or deactivate
type CreateFlags int32

const (
	// CoremapExternallySynchronized ensures that the coremap will not be synchronized
	// internally. The consumer must guarantee that it is used from only one thread at a time.
	CoremapExternallySynchronized CreateFlags = 1 << iota
)

// CreateOptions contains optional settings when creating a coremap
type CreateOptions struct {
	Flags CreateFlags
}

type frameState uint32

const (
	frameFree frameState = iota
	frameReserved
	frameAllocated
)

var frameStateMapping = map[frameState]string{
	frameFree:      "Free",
	frameReserved:  "Reserved",
	frameAllocated: "Allocated",
}

func (s frameState) String() string {
	return frameStateMapping[s]
}

const entrySize = 4

// Coremap tracks every frame of the managed range as free, reserved or allocated. The
// per-frame table itself lives in physical memory, in frames at the bottom of the range that
// are reserved at Bootstrap and never handed out. The length of each allocation is kept in a
// side table keyed by the run's first frame.
//
// Before Bootstrap the coremap forwards allocations to the RAM's bootstrap allocator and
// silently leaks frees, since those frames can never be reclaimed.
type Coremap struct {
	logger *slog.Logger
	ram    *physmem.RAM
	mutex  utils.OptionalMutex

	created atomic.Bool

	base            uint32
	frameCount      int
	reservedFrames  int
	allocatedFrames int
	table           []byte
	extents         *swiss.Map[int, int]
}

// New creates a coremap over ram. The coremap serves bootstrap allocations until
// Bootstrap is called.
func New(logger *slog.Logger, ram *physmem.RAM, options CreateOptions) *Coremap {
	return &Coremap{
		logger: logger,
		ram:    ram,
		mutex: utils.OptionalMutex{
			UseMutex: options.Flags&CoremapExternallySynchronized == 0,
		},
	}
}

// Bootstrap takes over every frame the bootstrap allocator has not handed out. The frame
// table is written into the lowest frames of that range, which are marked reserved before
// any allocation can be served. After Bootstrap returns, the coremap is authoritative.
func (c *Coremap) Bootstrap() error {
	if c.created.Load() {
		return errors.New("coremap has already been bootstrapped")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	lo, hi := c.ram.GetSize()
	if lo == 0 || hi <= lo {
		return errors.Newf("no physical memory left to manage: [0x%x, 0x%x)", lo, hi)
	}

	frameCount := int((hi - lo) / mips.PageSize)
	reserved := memutils.DivRoundUp(frameCount*entrySize, int(mips.PageSize))
	if reserved >= frameCount {
		return errors.Wrapf(ErrOutOfFrames, "%d frames cannot hold their own %d-frame table", frameCount, reserved)
	}

	c.base = lo
	c.frameCount = frameCount
	c.reservedFrames = reserved
	c.allocatedFrames = 0
	c.table = c.ram.Bytes(lo, uint32(reserved)*mips.PageSize)
	c.extents = swiss.NewMap[int, int](42)

	clear(c.table)
	for i := 0; i < reserved; i++ {
		c.setState(i, frameReserved)
	}

	c.created.Store(true)

	c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Coremap bootstrapped",
		slog.String("base", hex(lo)),
		slog.Int("frames", frameCount),
		slog.Int("reserved", reserved))

	return nil
}

// Created reports whether Bootstrap has completed
func (c *Coremap) Created() bool {
	return c.created.Load()
}

func (c *Coremap) state(index int) frameState {
	return frameState(binary.BigEndian.Uint32(c.table[index*entrySize:]))
}

func (c *Coremap) setState(index int, state frameState) {
	binary.BigEndian.PutUint32(c.table[index*entrySize:], uint32(state))
}

func (c *Coremap) paddr(index int) uint32 {
	return c.base + uint32(index)*mips.PageSize
}

// Alloc returns the physical address of the first frame of npages contiguous free frames.
// The frames are not zeroed.
func (c *Coremap) Alloc(npages int) (uint32, error) {
	if npages <= 0 {
		return 0, errors.Newf("invalid frame count %d", npages)
	}

	if !c.created.Load() {
		paddr := c.ram.StealMem(npages)
		if paddr == 0 {
			return 0, errors.Wrapf(ErrOutOfFrames, "bootstrap allocator could not supply %d frames", npages)
		}
		return paddr, nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	start := c.findFreeRun(npages)
	if start < 0 {
		return 0, errors.Wrapf(ErrOutOfFrames, "no run of %d free frames", npages)
	}

	for i := start; i < start+npages; i++ {
		c.setState(i, frameAllocated)
	}
	c.extents.Put(start, npages)
	c.allocatedFrames += npages

	return c.paddr(start), nil
}

func (c *Coremap) findFreeRun(npages int) int {
	runStart, runLength := -1, 0
	for i := c.reservedFrames; i < c.frameCount; i++ {
		if c.state(i) != frameFree {
			runLength = 0
			continue
		}

		if runLength == 0 {
			runStart = i
		}
		runLength++

		if runLength == npages {
			return runStart
		}
	}

	return -1
}

// Free returns the allocation starting at paddr to the free pool. Exactly the frames that
// were allocated together are released. Frames from the bootstrap allocator are leaked.
func (c *Coremap) Free(paddr uint32) error {
	if !c.created.Load() {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if paddr < c.base {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "Leaking bootstrap frame", slog.String("paddr", hex(paddr)))
		return nil
	}

	if err := memutils.CheckAligned(paddr, mips.PageSize, "paddr"); err != nil {
		return errors.Wrapf(ErrBadAddress, "%v", err)
	}

	index := int((paddr - c.base) / mips.PageSize)
	if index >= c.frameCount {
		return errors.Wrapf(ErrBadAddress, "paddr 0x%x is past the last frame", paddr)
	}

	length, ok := c.extents.Get(index)
	if !ok {
		return errors.Wrapf(ErrNotAllocated, "paddr 0x%x is %s", paddr, c.state(index))
	}

	for i := index; i < index+length; i++ {
		c.setState(i, frameFree)
		if memutils.DebugFill != 0 {
			c.ram.FillFrame(c.paddr(i), memutils.DebugFill)
		}
	}
	c.extents.Delete(index)
	c.allocatedFrames -= length

	memutils.DebugValidate(tableValidator{c})

	return nil
}

// AllocationSize returns the number of frames in the allocation that starts at paddr
func (c *Coremap) AllocationSize(paddr uint32) (int, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.created.Load() || paddr < c.base {
		return 0, false
	}

	return c.extents.Get(int((paddr - c.base) / mips.PageSize))
}

// Base returns the physical address of the first managed frame
func (c *Coremap) Base() uint32 { return c.base }

// FrameCount returns the number of managed frames, reserved ones included
func (c *Coremap) FrameCount() int { return c.frameCount }

// ReservedFrames returns the number of frames holding the frame table
func (c *Coremap) ReservedFrames() int { return c.reservedFrames }

// FirstAllocatable returns the lowest physical address Alloc can ever return
func (c *Coremap) FirstAllocatable() uint32 { return c.paddr(c.reservedFrames) }

type tableValidator struct {
	coremap *Coremap
}

func (v tableValidator) Validate() error {
	return v.coremap.validate()
}

// Validate cross-checks the frame table against the allocation side table
func (c *Coremap) Validate() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.validate()
}

func (c *Coremap) validate() error {
	if !c.created.Load() {
		return nil
	}

	extentCount := 0
	allocated := 0
	for i := 0; i < c.frameCount; {
		if i < c.reservedFrames {
			if c.state(i) != frameReserved {
				return errors.Errorf("frame %d holds the frame table but is %s", i, c.state(i))
			}
			i++
			continue
		}

		length, ok := c.extents.Get(i)
		if !ok {
			if c.state(i) != frameFree {
				return errors.Errorf("frame %d is %s but belongs to no allocation", i, c.state(i))
			}
			i++
			continue
		}

		if length <= 0 || i+length > c.frameCount {
			return errors.Errorf("allocation at frame %d has invalid length %d", i, length)
		}
		for j := i; j < i+length; j++ {
			if c.state(j) != frameAllocated {
				return errors.Errorf("frame %d is inside the allocation at frame %d but is %s", j, i, c.state(j))
			}
		}

		extentCount++
		allocated += length
		i += length
	}

	if extentCount != c.extents.Count() {
		return errors.Errorf("found %d allocations in the frame table but %d are recorded", extentCount, c.extents.Count())
	}

	if allocated != c.allocatedFrames {
		return errors.Errorf("found %d allocated frames but %d are recorded", allocated, c.allocatedFrames)
	}

	return nil
}

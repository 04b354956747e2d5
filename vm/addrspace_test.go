package vm_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/coremap"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/memutils"
	"github.com/vkngwrapper/kernvm/physmem"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

func newSystem(t *testing.T, frames uint32) *vm.System {
	ram, err := physmem.New(frames*mips.PageSize, mips.PageSize)
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	system := vm.New(logger, ram, coremap.New(logger, ram, coremap.CreateOptions{}), mips.NewTLB(1))
	require.NoError(t, system.Bootstrap())

	return system
}

func allocatedFrames(system *vm.System) int {
	var stats memutils.Statistics
	system.Coremap().AddStatistics(&stats)
	return stats.AllocatedFrames
}

// Region 1 is [0x400000, 0x401000), region 2 is [0x410000, 0x412000)
func preparedSpace(t *testing.T, system *vm.System) *vm.AddressSpace {
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 0x1000, vm.PermRead|vm.PermExec))
	require.NoError(t, as.DefineRegion(0x410000, 0x2000, vm.PermRead|vm.PermWrite))
	require.NoError(t, as.PrepareLoad())
	return as
}

func TestCreateIsEmpty(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()

	require.Equal(t, 0, as.RegionCount())
	require.False(t, as.Loaded())
	require.Equal(t, 0, as.Stack().NPages)

	_, err := as.DefineStack()
	require.True(t, errors.Is(err, vm.ErrNotPrepared))
	require.Equal(t, 0, allocatedFrames(system))
}

func TestDefineRegionRounds(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()

	require.NoError(t, as.DefineRegion(0x400123, 0x1000, vm.PermRead))
	region := as.Region1()
	require.Equal(t, uint32(0x400000), region.VBase)
	require.Equal(t, 2, region.NPages)
	require.Equal(t, uint32(0x402000), region.Top())
	require.Equal(t, "r--", region.Perms.String())
}

func TestThirdRegionIsRejected(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()

	require.NoError(t, as.DefineRegion(0x400000, 0x1000, vm.PermRead|vm.PermExec))
	require.NoError(t, as.DefineRegion(0x410000, 0x2000, vm.PermRead|vm.PermWrite))
	first, second := as.Region1(), as.Region2()

	err := as.DefineRegion(0x500000, 0x1000, vm.PermRead)
	require.True(t, errors.Is(err, vm.ErrTooManyRegions))
	require.Equal(t, errno.EUNIMP, errno.Of(err))

	require.Equal(t, 2, as.RegionCount())
	require.Equal(t, first, as.Region1())
	require.Equal(t, second, as.Region2())
}

func TestBadRegions(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 0x3000, vm.PermRead))

	require.True(t, errors.Is(as.DefineRegion(0x402000, 0x1000, vm.PermRead), vm.ErrBadRegion))
	require.True(t, errors.Is(as.DefineRegion(vm.StackBase-0x1000, 0x2000, vm.PermRead), vm.ErrBadRegion))
	require.True(t, errors.Is(as.DefineRegion(0xfffff000, 0x2000, vm.PermRead), vm.ErrBadRegion))
	require.True(t, errors.Is(as.DefineRegion(0x10, 0xfffffff0, vm.PermRead), vm.ErrBadRegion))
	require.True(t, errors.Is(as.DefineRegion(0x500000, 0xffffffff, vm.PermRead), vm.ErrBadRegion))
	require.True(t, errors.Is(as.DefineRegion(vm.StackBase-0x1000, 0x1001, vm.PermRead), vm.ErrBadRegion))
	require.Equal(t, 1, as.RegionCount())

	require.NoError(t, as.DefineRegion(0x403000, 0x1000, vm.PermRead))
}

func TestPrepareLoadCommitsZeroedFrames(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)

	require.Equal(t, 1+2+vm.StackPages, allocatedFrames(system))
	require.True(t, errors.Is(as.PrepareLoad(), vm.ErrPrepared))

	for _, region := range []vm.Region{as.Region1(), as.Region2(), as.Stack()} {
		for _, paddr := range region.Frames() {
			require.NotZero(t, paddr)
			require.Equal(t, make([]byte, mips.PageSize), system.RAM().Frame(paddr))
		}
	}

	sp, err := as.DefineStack()
	require.NoError(t, err)
	require.Equal(t, mips.UserStack, sp)
	require.Equal(t, vm.StackBase, as.Stack().VBase)
	require.Equal(t, mips.UserStack, as.Stack().Top())

	as.Destroy()
	require.Equal(t, 0, allocatedFrames(system))
}

func TestPrepareLoadOutOfMemory(t *testing.T) {
	// 15 managed frames, one of them the frame table
	system := newSystem(t, 16)
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 4*mips.PageSize, vm.PermRead))

	err := as.PrepareLoad()
	require.True(t, errors.Is(err, coremap.ErrOutOfFrames))
	require.Equal(t, errno.ENOMEM, errno.Of(err))
	require.NotZero(t, allocatedFrames(system))

	as.Destroy()
	require.Equal(t, 0, allocatedFrames(system))
}

func TestCopyIsDeepAndDisjoint(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)

	text := bytes.Repeat([]byte{0x11, 0x22, 0x33}, 1000)
	data := bytes.Repeat([]byte("data"), 2048)
	stack := []byte("stack contents")
	require.NoError(t, as.CopyOut(0x400000, text))
	require.NoError(t, as.CopyOut(0x410000, data))
	require.NoError(t, as.CopyOut(mips.UserStack-uint32(len(stack)), stack))
	require.NoError(t, as.CompleteLoad())

	child, err := as.Copy()
	require.NoError(t, err)
	require.True(t, child.Loaded())
	require.Equal(t, 2*(1+2+vm.StackPages), allocatedFrames(system))

	parentRegions := []vm.Region{as.Region1(), as.Region2(), as.Stack()}
	childRegions := []vm.Region{child.Region1(), child.Region2(), child.Stack()}

	parentFrames := map[uint32]bool{}
	for _, region := range parentRegions {
		for _, paddr := range region.Frames() {
			parentFrames[paddr] = true
		}
	}

	for i := range parentRegions {
		require.Equal(t, parentRegions[i].VBase, childRegions[i].VBase)
		require.Equal(t, parentRegions[i].NPages, childRegions[i].NPages)
		require.Equal(t, parentRegions[i].Perms, childRegions[i].Perms)

		parent, copied := parentRegions[i].Frames(), childRegions[i].Frames()
		for page := range parent {
			require.False(t, parentFrames[copied[page]], "frame 0x%x is shared", copied[page])
			require.Equal(t, system.RAM().Frame(parent[page]), system.RAM().Frame(copied[page]))
		}
	}

	require.NoError(t, child.CopyOut(0x410000, []byte("DATA")))
	readBack := make([]byte, 4)
	require.NoError(t, as.CopyIn(readBack, 0x410000))
	require.Equal(t, []byte("data"), readBack)

	as.Destroy()
	child.Destroy()
	require.Equal(t, 0, allocatedFrames(system))
}

func TestCopyFailureLeavesNothingAllocated(t *testing.T) {
	// 62 allocatable frames: a 20-page space fits once but not twice
	system := newSystem(t, 64)
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 20*mips.PageSize, vm.PermRead))
	require.NoError(t, as.PrepareLoad())
	require.NoError(t, as.CompleteLoad())
	before := allocatedFrames(system)

	filler, err := system.Coremap().Alloc(62 - before - 10)
	require.NoError(t, err)

	_, err = as.Copy()
	require.True(t, errors.Is(err, errno.ENOMEM))
	require.Equal(t, 52, allocatedFrames(system))

	require.NoError(t, system.Coremap().Free(filler))
	as.Destroy()
	require.Equal(t, 0, allocatedFrames(system))
}

func TestTranslate(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)

	paddr, writable, err := as.Translate(0x400010)
	require.NoError(t, err)
	require.True(t, writable)
	require.Equal(t, as.Region1().Frames()[0]+0x10, paddr)

	paddr, writable, err = as.Translate(0x411004)
	require.NoError(t, err)
	require.True(t, writable)
	require.Equal(t, as.Region2().Frames()[1]+4, paddr)

	require.NoError(t, as.CompleteLoad())
	_, writable, err = as.Translate(0x400010)
	require.NoError(t, err)
	require.False(t, writable)

	_, _, err = as.Translate(0x3ff000)
	require.True(t, errors.Is(err, vm.ErrSegmentation))
	_, _, err = as.Translate(0x412000)
	require.True(t, errors.Is(err, vm.ErrSegmentation))
}

func TestKernelPages(t *testing.T) {
	system := newSystem(t, 256)

	vaddr, err := system.AllocKPages(3)
	require.NoError(t, err)
	require.Equal(t, mips.PaddrToKVaddr(system.Coremap().FirstAllocatable()), vaddr)
	require.Equal(t, 3, allocatedFrames(system))

	require.NoError(t, system.FreeKPages(vaddr))
	require.Equal(t, 0, allocatedFrames(system))

	require.True(t, errors.Is(system.FreeKPages(0x400000), coremap.ErrBadAddress))
	require.True(t, errors.Is(system.FreeKPages(vaddr), coremap.ErrNotAllocated))
}

func TestPrintDetailedMap(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 0x1000, vm.PermRead|vm.PermExec))
	require.NoError(t, as.PrepareLoad())
	require.NoError(t, as.CompleteLoad())

	stats := as.BuildStatsString()
	require.Contains(t, stats, `"Loaded":true`)
	require.Contains(t, stats, `"VBase":"0x00400000","Pages":1,"Perms":"r-x","Writable":false`)
	require.Contains(t, stats, `"VBase":"0x7fff4000","Pages":12,"Perms":"rw-","Writable":true`)
}

package vm_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/vm"
)

func requireMapping(t *testing.T, system *vm.System, vaddr uint32, paddr uint32, writable bool) {
	slot := system.TLB().Probe(vaddr)
	require.GreaterOrEqual(t, slot, 0, "no mapping for 0x%x", vaddr)

	hi, lo := system.TLB().Read(slot)
	require.Equal(t, vaddr&mips.PageFrame, hi)
	require.Equal(t, paddr&mips.PageFrame, lo&mips.TLBLoPPage)
	require.NotZero(t, lo&mips.TLBLoValid)
	require.Equal(t, writable, lo&mips.TLBLoDirty != 0)
}

func TestFaultBeforeAndAfterLoad(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)
	system.Activate(as)
	text := as.Region1().Frames()[0]

	require.NoError(t, system.Fault(as, mips.FaultRead, 0x400010))
	requireMapping(t, system, 0x400010, text, true)

	require.NoError(t, as.CompleteLoad())
	require.Equal(t, 0, system.TLB().ValidCount())

	require.NoError(t, system.Fault(as, mips.FaultRead, 0x400010))
	requireMapping(t, system, 0x400010, text, false)
	require.Equal(t, 1, system.TLB().ValidCount())

	_, fault := system.TLB().Translate(0x400010, true)
	require.Equal(t, mips.FaultReadOnly, fault)

	err := system.Fault(as, mips.FaultReadOnly, 0x400010)
	require.True(t, errors.Is(err, vm.ErrReadOnly))
	require.Equal(t, errno.EFAULT, errno.Of(err))
}

func TestWriteMissOnLoadedText(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)
	require.NoError(t, as.CompleteLoad())

	err := system.Fault(as, mips.FaultWrite, 0x400010)
	require.True(t, errors.Is(err, vm.ErrReadOnly))
	require.Equal(t, 0, system.TLB().ValidCount())

	require.NoError(t, system.Fault(as, mips.FaultWrite, 0x411ffc))
	requireMapping(t, system, 0x411ffc, as.Region2().Frames()[1], true)

	require.NoError(t, system.Fault(as, mips.FaultWrite, mips.UserStack-4))
	requireMapping(t, system, mips.UserStack-4, as.Stack().Frames()[vm.StackPages-1], true)
}

func TestFaultOutsideRegions(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)

	for _, vaddr := range []uint32{0x3ff000, 0x401000, 0x412000, vm.StackBase - 4, 0x80000000} {
		err := system.Fault(as, mips.FaultRead, vaddr)
		require.True(t, errors.Is(err, vm.ErrSegmentation), "vaddr 0x%x", vaddr)
		require.Equal(t, errno.EFAULT, errno.Of(err))
	}
	require.Equal(t, 0, system.TLB().ValidCount())
}

func TestFaultArguments(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)

	err := system.Fault(as, mips.FaultType(7), 0x400000)
	require.True(t, errors.Is(err, vm.ErrBadFaultType))
	require.Equal(t, errno.EINVAL, errno.Of(err))

	require.True(t, errors.Is(system.Fault(nil, mips.FaultRead, 0x400000), vm.ErrNoAddressSpace))
}

func TestFaultErrorsAreDistinct(t *testing.T) {
	system := newSystem(t, 256)
	as := preparedSpace(t, system)
	require.NoError(t, as.CompleteLoad())

	readOnly := system.Fault(as, mips.FaultWrite, 0x400000)
	segmentation := system.Fault(as, mips.FaultRead, 0x3ff000)
	badType := system.Fault(as, mips.FaultType(7), 0x400000)

	for _, err := range []error{readOnly, segmentation, badType} {
		require.Error(t, err)
		require.False(t, errors.Is(err, vm.ErrNoAddressSpace), "%v", err)
	}
	require.False(t, errors.Is(readOnly, vm.ErrSegmentation))
	require.False(t, errors.Is(segmentation, vm.ErrReadOnly))
	require.False(t, errors.Is(badType, vm.ErrNotPrepared))

	require.False(t, errors.Is(vm.ErrReadOnly, vm.ErrNoAddressSpace))
	require.False(t, errors.Is(vm.ErrSegmentation, vm.ErrUserFault))
	require.True(t, errors.Is(vm.ErrReadOnly, errno.EFAULT))
}

func TestFaultFillsThenReplaces(t *testing.T) {
	system := newSystem(t, 256)
	as := system.CreateAddressSpace()
	require.NoError(t, as.DefineRegion(0x400000, 80*mips.PageSize, vm.PermRead|vm.PermWrite))
	require.NoError(t, as.PrepareLoad())
	system.Activate(as)

	for page := uint32(0); page < mips.NumTLB; page++ {
		require.NoError(t, system.Fault(as, mips.FaultRead, 0x400000+page*mips.PageSize))
		require.Equal(t, int(page)+1, system.TLB().ValidCount())
	}

	// Refaulting a mapped page reuses its slot
	require.NoError(t, system.Fault(as, mips.FaultWrite, 0x400000))
	require.Equal(t, mips.NumTLB, system.TLB().ValidCount())

	frames := as.Region1().Frames()
	for page := uint32(mips.NumTLB); page < 80; page++ {
		vaddr := 0x400000 + page*mips.PageSize
		require.NoError(t, system.Fault(as, mips.FaultRead, vaddr))
		require.Equal(t, mips.NumTLB, system.TLB().ValidCount())
		requireMapping(t, system, vaddr, frames[page], true)
	}

	system.Activate(as)
	require.Equal(t, 0, system.TLB().ValidCount())
}

func TestShootdownIsFatal(t *testing.T) {
	system := newSystem(t, 256)

	require.Panics(t, func() { system.ShootdownAll() })
	require.Panics(t, func() { system.Shootdown(vm.TLBShootdown{VAddr: 0x400000}) })
}

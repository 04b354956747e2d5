package kern

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/internal/utils"
	"github.com/vkngwrapper/kernvm/proc"
	"github.com/vkngwrapper/kernvm/thread"
	"github.com/vkngwrapper/kernvm/vm"
	"golang.org/x/exp/slog"
)

// HandleFault dispatches a TLB exception raised by t. It returns once the TLB can satisfy
// the access. If the fault cannot be serviced the process is killed with SIGSEGV and
// HandleFault does not return.
//
// A fault from a thread with no process or no address space cannot be serviced at all and
// stops the kernel.
func (k *Kernel) HandleFault(t *thread.Thread, faultType mips.FaultType, faultAddress uint32) {
	p := t.Process()
	if p == nil {
		utils.Panicf("%s fault at 0x%x on kernel thread %s", faultType, faultAddress, t.Name())
	}

	as := p.AddressSpace()
	if as == nil {
		utils.Panicf("%s fault at 0x%x in process %d with no address space", faultType, faultAddress, p.PID())
	}

	k.cpu.Lock()
	k.switchTo(as)
	err := k.vm.Fault(as, faultType, faultAddress)
	k.cpu.Unlock()

	if errors.Is(err, vm.ErrNoAddressSpace) {
		utils.Panicf("fault at 0x%x lost its address space: %v", faultAddress, err)
	}
	if err != nil {
		k.kill(t, proc.SIGSEGV, err)
	}
}

func (k *Kernel) kill(t *thread.Thread, signal int, cause error) {
	k.logger.LogAttrs(context.Background(), slog.LevelWarn, "killing process",
		slog.Int("pid", int(t.Process().PID())),
		slog.Int("signal", signal),
		slog.Any("cause", cause))

	k.exitProcess(t, proc.MakeSignalStatus(signal))
}

// UserAccess performs the address translation for a user-mode load or store by t at vaddr
// and returns the physical address. Faults are raised and dispatched exactly as the
// hardware would, so an access the process is not allowed to make kills it.
func (k *Kernel) UserAccess(t *thread.Thread, vaddr uint32, write bool) uint32 {
	p, err := userProcess(t)
	if err != nil {
		utils.Panicf("user access at 0x%x: %v", vaddr, err)
	}

	if !mips.IsUserAddress(vaddr) {
		k.kill(t, proc.SIGSEGV, errors.Newf("address error at 0x%x", vaddr))
	}

	for {
		k.cpu.Lock()
		k.switchTo(p.AddressSpace())
		paddr, fault := k.vm.TLB().Translate(vaddr, write)
		k.cpu.Unlock()

		if fault == mips.FaultNone {
			return paddr
		}

		k.HandleFault(t, fault, vaddr)
	}
}

// LoadWord performs a user-mode load of the big-endian word at vaddr
func (k *Kernel) LoadWord(t *thread.Thread, vaddr uint32) uint32 {
	if vaddr%4 != 0 {
		k.kill(t, proc.SIGBUS, errors.Newf("unaligned load at 0x%x", vaddr))
	}

	paddr := k.UserAccess(t, vaddr, false)
	return binary.BigEndian.Uint32(k.vm.RAM().Bytes(paddr, 4))
}

// StoreWord performs a user-mode store of value as a big-endian word at vaddr
func (k *Kernel) StoreWord(t *thread.Thread, vaddr uint32, value uint32) {
	if vaddr%4 != 0 {
		k.kill(t, proc.SIGBUS, errors.Newf("unaligned store at 0x%x", vaddr))
	}

	paddr := k.UserAccess(t, vaddr, true)
	binary.BigEndian.PutUint32(k.vm.RAM().Bytes(paddr, 4), value)
}

// LoadByte performs a user-mode load of the byte at vaddr
func (k *Kernel) LoadByte(t *thread.Thread, vaddr uint32) byte {
	paddr := k.UserAccess(t, vaddr, false)
	return k.vm.RAM().Bytes(paddr, 1)[0]
}

package vm

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"golang.org/x/exp/slog"
)

// Fault services a TLB exception raised while as was the current address space. On success
// the TLB holds a valid entry for the faulting page and the access can be retried.
//
// A write to a page the address space does not allow writing is reported as ErrReadOnly,
// whether the hardware raised it as a read-only fault or as a write miss. An address
// outside every region is ErrSegmentation. A nil address space is ErrNoAddressSpace, which
// callers are expected to treat as fatal.
func (s *System) Fault(as *AddressSpace, faultType mips.FaultType, faultAddress uint32) error {
	switch faultType {
	case mips.FaultReadOnly:
		return errors.Wrapf(ErrReadOnly, "vaddr 0x%x", faultAddress)
	case mips.FaultRead, mips.FaultWrite:
	default:
		return errors.Wrapf(ErrBadFaultType, "fault type %d", faultType)
	}

	if as == nil {
		return ErrNoAddressSpace
	}

	faultAddress &= mips.PageFrame

	paddr, writable, err := as.Translate(faultAddress)
	if err != nil {
		return err
	}

	if faultType == mips.FaultWrite && !writable {
		return errors.Wrapf(ErrReadOnly, "vaddr 0x%x", faultAddress)
	}

	hi := faultAddress
	lo := paddr | mips.TLBLoValid
	if writable {
		lo |= mips.TLBLoDirty
	}

	spl := s.tlb.SplHigh()
	slot := s.tlb.Probe(faultAddress)
	if slot < 0 {
		slot = s.findInvalidSlot()
	}
	if slot >= 0 {
		s.tlb.Write(hi, lo, slot)
	} else {
		slot = s.tlb.Random(hi, lo)
	}
	s.tlb.Splx(spl)

	s.logger.LogAttrs(context.Background(), slog.LevelDebug, "vm: tlb refill",
		slog.String("fault", faultType.String()),
		slog.String("vaddr", hex(faultAddress)),
		slog.String("paddr", hex(paddr)),
		slog.Bool("writable", writable),
		slog.Int("slot", slot))

	return nil
}

// findInvalidSlot must be called at high spl
func (s *System) findInvalidSlot() int {
	for i := 0; i < mips.NumTLB; i++ {
		_, lo := s.tlb.Read(i)
		if lo&mips.TLBLoValid == 0 {
			return i
		}
	}

	return -1
}

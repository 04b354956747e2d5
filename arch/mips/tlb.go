package mips

import (
	"math/rand"
	"sync"
)

const (
	// NumTLB is the number of entries in the TLB
	NumTLB = 64

	// TLBHiVPage masks the virtual page number in the high word of an entry
	TLBHiVPage uint32 = 0xfffff000
	// TLBLoPPage masks the physical page number in the low word of an entry
	TLBLoPPage uint32 = 0xfffff000
	// TLBLoNoCache marks the mapping uncached
	TLBLoNoCache uint32 = 0x00000800
	// TLBLoDirty is the "write enable" bit. A write through an entry without it raises a
	// read-only fault.
	TLBLoDirty uint32 = 0x00000400
	// TLBLoValid marks the entry usable for translation
	TLBLoValid uint32 = 0x00000200
)

// TLBHiInvalid is the high word to write into slot i when invalidating it. Each slot gets a
// distinct kernel address so that no two entries ever match the same page.
func TLBHiInvalid(slot int) uint32 {
	return uint32(0x80000+slot) << 12
}

// TLBLoInvalid is the low word to write into a slot when invalidating it
func TLBLoInvalid() uint32 {
	return 0
}

// FaultType identifies the kind of TLB exception raised on a translation
type FaultType int

const (
	// FaultNone indicates that a translation succeeded
	FaultNone FaultType = iota - 1
	// FaultRead is a TLB miss on a load
	FaultRead
	// FaultWrite is a TLB miss on a store
	FaultWrite
	// FaultReadOnly is a store through a valid entry whose dirty bit is clear
	FaultReadOnly
)

var faultTypeMapping = map[FaultType]string{
	FaultNone:     "FaultNone",
	FaultRead:     "FaultRead",
	FaultWrite:    "FaultWrite",
	FaultReadOnly: "FaultReadOnly",
}

func (f FaultType) String() string {
	str, ok := faultTypeMapping[f]
	if !ok {
		return "FaultUnknown"
	}
	return str
}

type tlbEntry struct {
	hi uint32
	lo uint32
}

// Spl is the interrupt priority level returned from SplHigh, to be handed back to Splx
type Spl int

const (
	splLow Spl = iota
	splHigh
)

// TLB is the translation cache of a single execution unit. Software refills it on a miss.
//
// Any read-modify-write of the entries must happen between SplHigh and Splx, which stands in
// for disabling interrupts on the owning CPU. SplHigh is not reentrant.
type TLB struct {
	interrupts sync.Mutex
	level      Spl

	entries [NumTLB]tlbEntry
	random  *rand.Rand
}

// NewTLB creates a TLB with every slot invalid. seed drives the victim choice of Random.
func NewTLB(seed int64) *TLB {
	t := &TLB{
		random: rand.New(rand.NewSource(seed)),
	}

	for i := 0; i < NumTLB; i++ {
		t.entries[i] = tlbEntry{hi: TLBHiInvalid(i), lo: TLBLoInvalid()}
	}

	return t
}

// SplHigh disables interrupts on the execution unit that owns this TLB and returns the
// previous level
func (t *TLB) SplHigh() Spl {
	t.interrupts.Lock()
	old := t.level
	t.level = splHigh
	return old
}

// Splx restores the interrupt level returned by SplHigh
func (t *TLB) Splx(old Spl) {
	t.level = old
	t.interrupts.Unlock()
}

// Read returns the raw contents of a slot
func (t *TLB) Read(slot int) (hi, lo uint32) {
	entry := t.entries[slot]
	return entry.hi, entry.lo
}

// Write overwrites a slot
func (t *TLB) Write(hi, lo uint32, slot int) {
	t.entries[slot] = tlbEntry{hi: hi, lo: lo}
}

// Random overwrites an arbitrary slot and returns which one was used
func (t *TLB) Random(hi, lo uint32) int {
	slot := t.random.Intn(NumTLB)
	t.Write(hi, lo, slot)
	return slot
}

// Probe returns the slot whose valid entry maps the page containing vaddr, or -1
func (t *TLB) Probe(vaddr uint32) int {
	vpage := vaddr & TLBHiVPage
	for i := 0; i < NumTLB; i++ {
		entry := t.entries[i]
		if entry.lo&TLBLoValid != 0 && entry.hi&TLBHiVPage == vpage {
			return i
		}
	}

	return -1
}

// Translate performs the hardware lookup for an access to vaddr. If the access would raise
// an exception, the returned FaultType says which one and the physical address is 0.
func (t *TLB) Translate(vaddr uint32, write bool) (uint32, FaultType) {
	spl := t.SplHigh()
	defer t.Splx(spl)

	slot := t.Probe(vaddr)
	if slot < 0 {
		if write {
			return 0, FaultWrite
		}
		return 0, FaultRead
	}

	lo := t.entries[slot].lo
	if write && lo&TLBLoDirty == 0 {
		return 0, FaultReadOnly
	}

	return lo&TLBLoPPage | vaddr&^PageFrame, FaultNone
}

// ValidCount returns the number of valid entries
func (t *TLB) ValidCount() int {
	count := 0
	for i := 0; i < NumTLB; i++ {
		if t.entries[i].lo&TLBLoValid != 0 {
			count++
		}
	}
	return count
}

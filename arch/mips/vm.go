// Package mips models the parts of the MIPS R3000 that the virtual memory system touches:
// the segment layout, the software-refilled TLB and the trap frame saved on kernel entry.
package mips

const (
	// PageSize is the size of a page and of a physical frame
	PageSize uint32 = 4096
	// PageFrame masks an address down to its page
	PageFrame uint32 = 0xfffff000

	// KSeg0 is the base of the direct-mapped, cached kernel segment
	KSeg0 uint32 = 0x80000000
	// KSeg1 is the base of the direct-mapped, uncached kernel segment
	KSeg1 uint32 = 0xa0000000
	// KSeg2 is the base of the TLB-mapped kernel segment
	KSeg2 uint32 = 0xc0000000

	// UserSpaceTop is the first address above user space
	UserSpaceTop uint32 = KSeg0
	// UserStack is the initial user stack pointer. The stack grows down from here.
	UserStack uint32 = UserSpaceTop
)

// PaddrToKVaddr converts a physical address to its KSEG0 alias
func PaddrToKVaddr(paddr uint32) uint32 {
	return paddr + KSeg0
}

// KVaddrToPaddr converts a KSEG0 address to the physical address it aliases
func KVaddrToPaddr(vaddr uint32) uint32 {
	return vaddr - KSeg0
}

// IsUserAddress reports whether vaddr lies in the TLB-mapped user segment
func IsUserAddress(vaddr uint32) bool {
	return vaddr < UserSpaceTop
}

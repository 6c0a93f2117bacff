package pagetable

import (
	"github.com/vkngwrapper/aubstream/memutils"
	"github.com/vkngwrapper/core/v2/common"
)

// EntryBits are the low, non-address bits of a simulated page table entry
type EntryBits uint32

var entryBitsMapping = common.NewFlagStringMapping[EntryBits]()

func (b EntryBits) Register(str string) {
	entryBitsMapping.Register(b, str)
}
func (b EntryBits) String() string {
	return entryBitsMapping.FlagsToString(b)
}

const (
	EntryPresent        EntryBits = 1 << 0
	EntryWritable       EntryBits = 1 << 1
	EntryUserSupervisor EntryBits = 1 << 2
	EntryLocalMemory    EntryBits = 1 << 11
)

// EntryBitsMask covers every bit of an entry that is not part of the physical page address
const EntryBitsMask uint64 = memutils.PageSize - 1

func init() {
	EntryPresent.Register("EntryPresent")
	EntryWritable.Register("EntryWritable")
	EntryUserSupervisor.Register("EntryUserSupervisor")
	EntryLocalMemory.Register("EntryLocalMemory")
}

// Bits returns the entry bits as they are stored in a 64-bit entry
func (b EntryBits) Bits() uint64 {
	return uint64(b)
}

// PhysicalAddress strips the entry bits from a stored entry
func PhysicalAddress(entry uint64) uint64 {
	return entry &^ EntryBitsMask
}

// EntryBitsOf returns the non-address bits of a stored entry
func EntryBitsOf(entry uint64) uint64 {
	return entry & EntryBitsMask
}

package gtt

import (
	"github.com/vkngwrapper/aubstream/memutils"
	"github.com/vkngwrapper/aubstream/pagetable"
	"github.com/vkngwrapper/aubstream/trace"
)

// GTTData carries the attributes applied to every global translation table entry a receiver writes
type GTTData struct {
	Present     bool
	LocalMemory bool
}

// GTTEntry is a 64-bit global translation table entry in hardware layout
type GTTEntry uint64

const (
	gttPresentBit     GTTEntry = 1 << 0
	gttLocalMemoryBit GTTEntry = 1 << 1
	gttFunctionMask   GTTEntry = 0x3ff << gttFunctionShift
	gttPhysicalMask   GTTEntry = (1<<35 - 1) << gttPhysicalShift

	gttFunctionShift = 2
	gttPhysicalShift = 12

	gttEntrySize uint64 = 8
)

func (e GTTEntry) Present() bool     { return e&gttPresentBit != 0 }
func (e GTTEntry) LocalMemory() bool { return e&gttLocalMemoryBit != 0 }

func (e GTTEntry) FunctionNumber() uint32 {
	return uint32((e & gttFunctionMask) >> gttFunctionShift)
}

// PhysicalAddress returns the physical page number held by the entry
func (e GTTEntry) PhysicalAddress() uint64 {
	return uint64((e & gttPhysicalMask) >> gttPhysicalShift)
}

// SetGTTEntry points entry at the page holding physicalAddress and applies data. Bits not covered by
// GTTData and the physical page number are left unchanged.
func SetGTTEntry(entry *GTTEntry, physicalAddress uint64, data GTTData) {
	value := *entry &^ (gttPresentBit | gttLocalMemoryBit | gttPhysicalMask)

	if data.Present {
		value |= gttPresentBit
	}
	if data.LocalMemory {
		value |= gttLocalMemoryBit
	}
	value |= (GTTEntry(physicalAddress/memutils.PageSize) << gttPhysicalShift) & gttPhysicalMask

	*entry = value
}

// EntryOffset returns the byte offset inside the global translation table of the entry translating
// virtualAddress
func EntryOffset(virtualAddress uint64) uint64 {
	return (virtualAddress / memutils.PageSize) * gttEntrySize
}

// MemoryBankForGTT selects the bank that backs global translation table pages
func MemoryBankForGTT(localMemoryEnabled bool) pagetable.MemoryBank {
	if localMemoryEnabled {
		return pagetable.BankForLocalMemory(0)
	}
	return pagetable.MainBank
}

// AddressSpaceFromEntryBits classifies page table entry bits into a trace annotation
func AddressSpaceFromEntryBits(entryBits uint64) trace.AddressSpace {
	if entryBits&pagetable.EntryLocalMemory.Bits() != 0 {
		return trace.TraceLocal
	}
	return trace.TraceNonlocal
}

package pagetable

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/aubstream/memutils"
)

// PageWalker is called once for every page touched by a walk. physicalAddress is the physical
// address of the first walked byte in the page, size is the number of bytes walked in the page,
// offset is the distance from the start of the walk, and entryBits are the non-address bits of
// the page's entry.
type PageWalker func(physicalAddress uint64, size int, offset int, entryBits uint64)

// Table is a software emulation of the device page tables of one memory bank's address space
type Table interface {
	// Map makes sure every page of [virtualAddress, virtualAddress+size) has a physical page taken
	// from bank and returns the physical address backing virtualAddress. Pages that are already
	// mapped keep their physical page and gain entryBits.
	Map(virtualAddress uint64, size int, entryBits uint64, bank MemoryBank) uint64
	// PageWalk maps the range like Map does and calls walker for each page in address order
	PageWalk(virtualAddress uint64, size int, offset int, entryBits uint64, walker PageWalker, bank MemoryBank)
	// Lookup returns the stored entry of the page containing virtualAddress without mapping it
	Lookup(virtualAddress uint64) (uint64, bool)
	// VisitPages calls the callback with the page-aligned virtual address and entry of every mapped
	// page until the callback returns true
	VisitPages(callback func(virtualAddress uint64, entry uint64) (stop bool))
	// PageCount is the number of mapped leaf entries
	PageCount() int
	// AddressBits is the width of the virtual address space the table covers
	AddressBits() int
	// Release returns every physical page to the allocator and empties the table
	Release()
	Validate() error
}

type tableNode struct {
	children *swiss.Map[uint32, *tableNode]
	entries  *swiss.Map[uint32, uint64]
}

type levelTable struct {
	allocator   *PhysicalAddressAllocator
	shifts      []uint
	indexMask   uint64
	addressBits int

	bank      MemoryBank
	bankBound bool
	root      *tableNode
	pageCount int
}

// NewShallowTable creates a two-level table covering a 32-bit virtual address space: a 1024-entry
// directory indexed by bits 22-31 pointing at 1024-entry page tables indexed by bits 12-21
func NewShallowTable(allocator *PhysicalAddressAllocator) Table {
	return newLevelTable(allocator, []uint{22, 12}, 10, 32)
}

// NewFourLevelTable creates a PML4 -> PDP -> PD -> PT table covering a 48-bit virtual address space,
// each level indexed by 9 bits
func NewFourLevelTable(allocator *PhysicalAddressAllocator) Table {
	return newLevelTable(allocator, []uint{39, 30, 21, 12}, 9, 48)
}

func newLevelTable(allocator *PhysicalAddressAllocator, shifts []uint, indexBits uint, addressBits int) *levelTable {
	if allocator == nil {
		panic("a page table requires a physical address allocator")
	}

	return &levelTable{
		allocator:   allocator,
		shifts:      shifts,
		indexMask:   (1 << indexBits) - 1,
		addressBits: addressBits,
		root:        newTableNode(len(shifts) == 1),
	}
}

func newTableNode(leaf bool) *tableNode {
	if leaf {
		return &tableNode{entries: swiss.NewMap[uint32, uint64](16)}
	}
	return &tableNode{children: swiss.NewMap[uint32, *tableNode](4)}
}

func (t *levelTable) AddressBits() int { return t.addressBits }
func (t *levelTable) PageCount() int   { return t.pageCount }

func (t *levelTable) checkRange(virtualAddress uint64, size int) {
	if t.addressBits >= 64 {
		return
	}

	limit := uint64(1) << t.addressBits
	if virtualAddress >= limit || uint64(size) > limit-virtualAddress {
		panic(fmt.Sprintf("range %#x+%#x does not fit in a %d-bit address space", virtualAddress, size, t.addressBits))
	}
}

func (t *levelTable) index(virtualAddress uint64, level int) uint32 {
	return uint32((virtualAddress >> t.shifts[level]) & t.indexMask)
}

func (t *levelTable) leaf(virtualAddress uint64, create bool) *tableNode {
	node := t.root
	for level := 0; level < len(t.shifts)-1; level++ {
		index := t.index(virtualAddress, level)
		child, ok := node.children.Get(index)
		if !ok {
			if !create {
				return nil
			}
			child = newTableNode(level+1 == len(t.shifts)-1)
			node.children.Put(index, child)
		}
		node = child
	}

	return node
}

func (t *levelTable) resolve(pageAddress uint64, entryBits uint64, bank MemoryBank) uint64 {
	leaf := t.leaf(pageAddress, true)
	index := t.index(pageAddress, len(t.shifts)-1)

	entry, ok := leaf.entries.Get(index)
	if ok {
		updated := entry | (entryBits & EntryBitsMask)
		if updated != entry {
			leaf.entries.Put(index, updated)
		}
		return updated
	}

	if t.bankBound && bank != t.bank {
		panic(fmt.Sprintf("page table of %s asked to map a page from %s", t.bank, bank))
	}
	t.bank = bank
	t.bankBound = true

	entry = t.allocator.ReservePage(bank) | (entryBits & EntryBitsMask)
	leaf.entries.Put(index, entry)
	t.pageCount++
	return entry
}

func (t *levelTable) Map(virtualAddress uint64, size int, entryBits uint64, bank MemoryBank) uint64 {
	if size <= 0 {
		size = 1
	}

	var physicalAddress uint64
	t.PageWalk(virtualAddress, size, 0, entryBits, func(address uint64, size int, offset int, entryBits uint64) {
		if offset == 0 {
			physicalAddress = address
		}
	}, bank)

	memutils.DebugValidate(t)
	return physicalAddress
}

func (t *levelTable) PageWalk(virtualAddress uint64, size int, offset int, entryBits uint64, walker PageWalker, bank MemoryBank) {
	t.checkRange(virtualAddress, size)

	address := virtualAddress
	remaining := size
	for remaining > 0 {
		pageAddress := memutils.AlignDown(address, memutils.PageSize)
		inPage := address - pageAddress

		chunk := int(memutils.PageSize - inPage)
		if chunk > remaining {
			chunk = remaining
		}

		entry := t.resolve(pageAddress, entryBits, bank)
		walker(PhysicalAddress(entry)+inPage, chunk, offset, EntryBitsOf(entry))

		address += uint64(chunk)
		offset += chunk
		remaining -= chunk
	}
}

func (t *levelTable) Lookup(virtualAddress uint64) (uint64, bool) {
	if t.addressBits < 64 && virtualAddress >= uint64(1)<<t.addressBits {
		return 0, false
	}

	leaf := t.leaf(virtualAddress, false)
	if leaf == nil {
		return 0, false
	}

	return leaf.entries.Get(t.index(virtualAddress, len(t.shifts)-1))
}

func (t *levelTable) VisitPages(callback func(virtualAddress uint64, entry uint64) (stop bool)) {
	t.visitNode(t.root, 0, 0, callback)
}

func (t *levelTable) visitNode(node *tableNode, level int, prefix uint64, callback func(uint64, uint64) bool) (stop bool) {
	shift := t.shifts[level]
	if node.entries != nil {
		node.entries.Iter(func(index uint32, entry uint64) bool {
			stop = callback(prefix|uint64(index)<<shift, entry)
			return stop
		})
		return stop
	}

	node.children.Iter(func(index uint32, child *tableNode) bool {
		stop = t.visitNode(child, level+1, prefix|uint64(index)<<shift, callback)
		return stop
	})
	return stop
}

func (t *levelTable) Release() {
	t.VisitPages(func(virtualAddress uint64, entry uint64) bool {
		t.allocator.ReleasePage(t.bank, PhysicalAddress(entry))
		return false
	})

	t.root = newTableNode(len(t.shifts) == 1)
	t.pageCount = 0
	t.bankBound = false
}

func (t *levelTable) Validate() error {
	seen := swiss.NewMap[uint64, uint64](uint32(t.pageCount + 1))
	count := 0

	var err error
	t.VisitPages(func(virtualAddress uint64, entry uint64) bool {
		count++
		physicalAddress := PhysicalAddress(entry)
		if physicalAddress == 0 {
			err = errors.Newf("page %#x is mapped to physical address zero", virtualAddress)
			return true
		}

		other, duplicate := seen.Get(physicalAddress)
		if duplicate {
			err = errors.Newf("pages %#x and %#x share physical page %#x", other, virtualAddress, physicalAddress)
			return true
		}
		seen.Put(physicalAddress, virtualAddress)

		if !t.allocator.IsReserved(t.bank, physicalAddress) {
			err = errors.Newf("page %#x is mapped to physical page %#x, which is not reserved", virtualAddress, physicalAddress)
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	if count != t.pageCount {
		return errors.Newf("the listed number of pages in the table (%d) does not match the actual number of pages (%d)", t.pageCount, count)
	}

	return nil
}

package pagetable

import (
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/aubstream/internal/utils"
	"github.com/vkngwrapper/aubstream/memutils"
)

const (
	// mainBankFirstPage keeps physical address zero out of circulation so a zero
	// entry always means "not mapped"
	mainBankFirstPage uint64 = 0x1000
	localBankShift    uint64 = 36
)

type bankPages struct {
	next     uint64
	limit    uint64
	free     []uint64
	reserved *swiss.Map[uint64, struct{}]
}

// PhysicalAddressAllocator hands out physical page addresses of the simulated device. A page is never
// handed out twice while it is reserved; released pages are recycled.
type PhysicalAddressAllocator struct {
	mutex utils.OptionalMutex
	banks *swiss.Map[MemoryBank, *bankPages]
}

func NewPhysicalAddressAllocator(useMutex bool) *PhysicalAddressAllocator {
	return &PhysicalAddressAllocator{
		mutex: utils.OptionalMutex{UseMutex: useMutex},
		banks: swiss.NewMap[MemoryBank, *bankPages](4),
	}
}

func (a *PhysicalAddressAllocator) bank(bank MemoryBank) *bankPages {
	pages, ok := a.banks.Get(bank)
	if ok {
		return pages
	}

	base := uint64(bank) << localBankShift
	if bank == MainBank {
		base = mainBankFirstPage
	}

	pages = &bankPages{
		next:     base,
		limit:    (uint64(bank) + 1) << localBankShift,
		reserved: swiss.NewMap[uint64, struct{}](64),
	}
	a.banks.Put(bank, pages)
	return pages
}

// ReservePage returns the physical address of a page from the requested bank that is not
// currently reserved
func (a *PhysicalAddressAllocator) ReservePage(bank MemoryBank) uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pages := a.bank(bank)

	var address uint64
	if len(pages.free) > 0 {
		address = pages.free[len(pages.free)-1]
		pages.free = pages.free[:len(pages.free)-1]
	} else {
		if pages.next+memutils.PageSize > pages.limit {
			panic(fmt.Sprintf("physical memory of %s is exhausted", bank))
		}
		address = pages.next
		pages.next += memutils.PageSize
	}

	pages.reserved.Put(address, struct{}{})
	return address
}

// ReleasePage returns a page to its bank. Releasing a page that is not reserved is a programming error.
func (a *PhysicalAddressAllocator) ReleasePage(bank MemoryBank, address uint64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pages := a.bank(bank)
	if !pages.reserved.Delete(address) {
		panic(fmt.Sprintf("attempted to release physical page %#x of %s, which is not reserved", address, bank))
	}

	pages.free = append(pages.free, address)
}

func (a *PhysicalAddressAllocator) IsReserved(bank MemoryBank, address uint64) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pages, ok := a.banks.Get(bank)
	if !ok {
		return false
	}
	return pages.reserved.Has(address)
}

func (a *PhysicalAddressAllocator) ReservedPageCount(bank MemoryBank) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pages, ok := a.banks.Get(bank)
	if !ok {
		return 0
	}
	return pages.reserved.Count()
}

package gtt

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/aubstream/internal/utils"
	"github.com/vkngwrapper/aubstream/pagetable"
	"golang.org/x/exp/slog"
)

// TranslationTable is either the global translation table or a per-process translation table of the
// simulated device. It keeps one page table per memory bank, created the first time the bank is used,
// and every bank's table draws physical pages from a shared allocator. A TranslationTable is safe for
// concurrent use.
type TranslationTable struct {
	mutex       utils.OptionalRWMutex
	logger      *slog.Logger
	allocator   *pagetable.PhysicalAddressAllocator
	create      func(*pagetable.PhysicalAddressAllocator) pagetable.Table
	addressBits int
	global      bool

	tables *swiss.Map[pagetable.MemoryBank, pagetable.Table]
}

// NewGlobal creates the global translation table, which always covers a 32-bit address space
func NewGlobal(logger *slog.Logger, allocator *pagetable.PhysicalAddressAllocator) *TranslationTable {
	return newTranslationTable(logger, allocator, 32, true)
}

// NewPerProcess creates a per-process translation table. Address spaces wider than 32 bits use four-level
// tables.
func NewPerProcess(logger *slog.Logger, allocator *pagetable.PhysicalAddressAllocator, addressBits int) *TranslationTable {
	return newTranslationTable(logger, allocator, addressBits, false)
}

func newTranslationTable(logger *slog.Logger, allocator *pagetable.PhysicalAddressAllocator, addressBits int, global bool) *TranslationTable {
	table := &TranslationTable{
		mutex:       utils.OptionalRWMutex{UseMutex: true},
		logger:      logger,
		allocator:   allocator,
		create:      pagetable.NewShallowTable,
		addressBits: 32,
		global:      global,
		tables:      swiss.NewMap[pagetable.MemoryBank, pagetable.Table](2),
	}

	if addressBits > 32 {
		table.create = pagetable.NewFourLevelTable
		table.addressBits = 48
	}
	return table
}

func (t *TranslationTable) IsGlobal() bool   { return t.global }
func (t *TranslationTable) AddressBits() int { return t.addressBits }

func (t *TranslationTable) table(bank pagetable.MemoryBank) pagetable.Table {
	table, ok := t.tables.Get(bank)
	if !ok {
		table = t.create(t.allocator)
		t.tables.Put(bank, table)
	}
	return table
}

// Map makes the range resident in the bank's table and returns the physical address of virtualAddress
func (t *TranslationTable) Map(virtualAddress uint64, size int, entryBits uint64, bank pagetable.MemoryBank) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.table(bank).Map(virtualAddress, size, entryBits, bank)
}

// PageWalk maps the range in the bank's table and calls walker once per page in address order
func (t *TranslationTable) PageWalk(virtualAddress uint64, size int, offset int, entryBits uint64, walker pagetable.PageWalker, bank pagetable.MemoryBank) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.table(bank).PageWalk(virtualAddress, size, offset, entryBits, walker, bank)
}

// Lookup returns the entry of the page containing virtualAddress in the bank's table, without mapping it
func (t *TranslationTable) Lookup(virtualAddress uint64, bank pagetable.MemoryBank) (uint64, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	table, ok := t.tables.Get(bank)
	if !ok {
		return 0, false
	}
	return table.Lookup(virtualAddress)
}

// PageCount is the number of mapped pages across all banks
func (t *TranslationTable) PageCount() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	count := 0
	t.tables.Iter(func(bank pagetable.MemoryBank, table pagetable.Table) bool {
		count += table.PageCount()
		return false
	})
	return count
}

// Release returns every page of every bank to the allocator
func (t *TranslationTable) Release() {
	t.logger.Debug("TranslationTable::Release")

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.tables.Iter(func(bank pagetable.MemoryBank, table pagetable.Table) bool {
		table.Release()
		return false
	})
	t.tables = swiss.NewMap[pagetable.MemoryBank, pagetable.Table](2)
}

func (t *TranslationTable) Validate() error {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	var err error
	t.tables.Iter(func(bank pagetable.MemoryBank, table pagetable.Table) bool {
		err = table.Validate()
		if err != nil {
			err = errors.Wrapf(err, "translation table of %s", bank)
			t.logger.LogAttrs(context.Background(), slog.LevelError, "translation table failed validation",
				slog.String("Bank", bank.String()), slog.Any("Error", err))
			return true
		}
		return false
	})
	return err
}

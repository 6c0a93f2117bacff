package memory

import (
	"context"
	"fmt"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/aubstream/internal/utils"
	"github.com/vkngwrapper/aubstream/internal/vaspace"
	"github.com/vkngwrapper/aubstream/memutils"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var managerCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	managerCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return managerCreateFlagsMapping.FlagsToString(f)
}

const (
	// ManagerCreateExternallySynchronized ensures that the manager is not synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time.
	ManagerCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	ManagerCreateExternallySynchronized.Register("ManagerCreateExternallySynchronized")
}

const (
	// defaultBaseAddress keeps the first 64KiB of the GPU address space unused, so a zero address is never
	// a valid allocation
	defaultBaseAddress uint64 = 0x10000
	// defaultAddressSpaceSize keeps every allocation inside the first 4GiB, where both the global and
	// per-process translation tables can map it
	defaultAddressSpaceSize uint64 = 0xfffe0000
)

// CreateOptions contains optional settings when creating an OSAgnosticManager
type CreateOptions struct {
	Flags CreateFlags
	// BaseAddress is the lowest GPU address handed out. 0 selects a default.
	BaseAddress uint64
	// AddressSpaceSize is the number of bytes of GPU address space available. 0 selects a default.
	AddressSpaceSize uint64
}

// OSAgnosticManager is a Manager that needs no operating system or driver support. GPU addresses are
// handed out from a simulated address space and host shadows are ordinary Go memory.
type OSAgnosticManager struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex

	space       *vaspace.Space
	allocations allocationList
	byAddress   *swiss.Map[uint64, *Allocation]
	observers   []FreeObserver

	lockOperations int
}

var _ Manager = &OSAgnosticManager{}

func NewOSAgnosticManager(logger *slog.Logger, options CreateOptions) (*OSAgnosticManager, error) {
	base := options.BaseAddress
	if base == 0 {
		base = defaultBaseAddress
	}

	size := options.AddressSpaceSize
	if size == 0 {
		size = defaultAddressSpaceSize
	}

	if err := memutils.CheckAligned(base, memutils.PageSize, "BaseAddress"); err != nil {
		return nil, err
	}
	if err := memutils.CheckAligned(size, memutils.PageSize, "AddressSpaceSize"); err != nil {
		return nil, err
	}

	return &OSAgnosticManager{
		logger:    logger,
		mutex:     utils.OptionalMutex{UseMutex: options.Flags&ManagerCreateExternallySynchronized == 0},
		space:     vaspace.New(base, size),
		byAddress: swiss.NewMap[uint64, *Allocation](64),
	}, nil
}

func (m *OSAgnosticManager) Allocate(info AllocateInfo) (*Allocation, error) {
	m.logger.Debug("OSAgnosticManager::Allocate")

	if info.Size <= 0 {
		return nil, errors.Errorf("attempted to allocate %d bytes", info.Size)
	}

	alignment := info.Alignment
	if alignment == 0 {
		alignment = memutils.PageSize
	}
	if err := memutils.CheckPow2(alignment, "Alignment"); err != nil {
		return nil, err
	}

	// Reservations cover whole pages so no two allocations ever share a page of the simulated tables
	reservedSize := memutils.AlignUp(uint64(info.Size), memutils.PageSize)
	if info.Compression.RenderCompressed && info.Compression.AllocationSize > info.Size {
		reservedSize = memutils.AlignUp(uint64(info.Compression.AllocationSize), memutils.PageSize)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	address, ok := m.space.Allocate(reservedSize, alignment)
	if !ok {
		return nil, errors.Wrapf(OutOfAddressSpaceError, "could not reserve %#x bytes aligned to %#x", reservedSize, alignment)
	}

	alloc := &Allocation{
		gpuAddress:     address,
		size:           info.Size,
		alignment:      alignment,
		aubWritable:    info.Flags&AllocateNotAubWritable == 0,
		compression:    info.Compression,
		pool:           info.Pool,
		allocationType: info.Type,
		name:           info.Name,
		manager:        m,
	}

	store := make([]byte, alloc.UnderlyingSize())
	if info.Flags&AllocateNoHostShadow != 0 {
		alloc.privateStore = store
	} else {
		alloc.hostShadow = store
	}

	m.allocations.Register(alloc)
	m.byAddress.Put(address, alloc)

	memutils.DebugValidate(m)
	return alloc, nil
}

func (m *OSAgnosticManager) reservedSize(alloc *Allocation) uint64 {
	size := alloc.size
	if alloc.compression.RenderCompressed && alloc.compression.AllocationSize > size {
		size = alloc.compression.AllocationSize
	}
	return memutils.AlignUp(uint64(size), memutils.PageSize)
}

// Free notifies every free observer and then releases the allocation. Freeing an allocation twice, or
// freeing an allocation that belongs to another manager, panics.
func (m *OSAgnosticManager) Free(alloc *Allocation) error {
	m.logger.Debug("OSAgnosticManager::Free")

	if alloc == nil {
		return nil
	}

	m.mutex.Lock()
	if alloc.freed {
		m.mutex.Unlock()
		panic(fmt.Sprintf("attempted to free allocation %s, which has already been freed", alloc))
	}
	if alloc.manager != m {
		m.mutex.Unlock()
		panic(fmt.Sprintf("attempted to free allocation %s, which does not belong to this manager", alloc))
	}
	observers := append([]FreeObserver(nil), m.observers...)
	m.mutex.Unlock()

	for _, observer := range observers {
		observer.AllocationFreed(alloc)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if alloc.lockCount > 0 {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "freeing an allocation that is still locked",
			slog.String("Allocation", alloc.String()),
			slog.Int("LockCount", alloc.lockCount))
	}

	m.allocations.Unregister(alloc)
	m.byAddress.Delete(alloc.gpuAddress)

	err := m.space.Free(alloc.gpuAddress, m.reservedSize(alloc))
	if err != nil {
		return errors.Wrapf(err, "failed to release the address range of %s", alloc)
	}

	alloc.freed = true
	alloc.hostShadow = nil
	alloc.privateStore = nil

	memutils.DebugValidate(m)
	return nil
}

// LockResource returns the contents of the allocation, whether or not it has a host shadow
func (m *OSAgnosticManager) LockResource(alloc *Allocation) ([]byte, error) {
	m.logger.Debug("OSAgnosticManager::LockResource")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if alloc.freed {
		return nil, errors.Errorf("attempted to lock allocation %s, which has been freed", alloc)
	}

	m.lockOperations++
	alloc.lockCount++

	if alloc.hostShadow != nil {
		return alloc.hostShadow, nil
	}
	return alloc.privateStore, nil
}

func (m *OSAgnosticManager) UnlockResource(alloc *Allocation) {
	m.logger.Debug("OSAgnosticManager::UnlockResource")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if alloc.lockCount == 0 {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "attempted to unlock an allocation that is not locked",
			slog.String("Allocation", alloc.String()))
		return
	}
	alloc.lockCount--
}

func (m *OSAgnosticManager) AddFreeObserver(observer FreeObserver) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.observers = append(m.observers, observer)
}

// Lookup returns the live allocation whose GPU address is exactly address
func (m *OSAgnosticManager) Lookup(address uint64) (*Allocation, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.byAddress.Get(address)
}

func (m *OSAgnosticManager) AllocationCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.allocations.Count()
}

// LockOperationCount is the number of successful LockResource calls over the manager's lifetime
func (m *OSAgnosticManager) LockOperationCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.lockOperations
}

func (m *OSAgnosticManager) Validate() error {
	if err := m.allocations.Validate(); err != nil {
		return err
	}

	if m.byAddress.Count() != m.allocations.Count() {
		return errors.Errorf("the address index holds %d allocations but the allocation list holds %d", m.byAddress.Count(), m.allocations.Count())
	}

	return m.space.Validate()
}

func (m *OSAgnosticManager) BuildStatsString(writer *jwriter.Writer) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("AllocationCount").Int(m.allocations.Count())
	obj.Name("AllocationBytes").Int(m.allocations.TotalBytes())
	obj.Name("FreeAddressBytes").Int(int(m.space.FreeBytes()))
	obj.Name("FreeAddressRanges").Int(m.space.FreeRangeCount())

	allocations := obj.Name("Allocations").Array()
	m.allocations.BuildStatsString(&allocations)
	allocations.End()
}

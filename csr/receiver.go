package csr

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/gtt"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/internal/utils"
	"github.com/vkngwrapper/aubstream/memory"
	"github.com/vkngwrapper/aubstream/memutils"
	"github.com/vkngwrapper/aubstream/pagetable"
	"github.com/vkngwrapper/aubstream/subcapture"
	"github.com/vkngwrapper/aubstream/trace"
	"golang.org/x/exp/slog"
)

const tagBufferSize = 0x1000

// CommandStreamReceiver turns the submissions of one device into a trace that a hardware simulator can
// replay. It emulates the device address spaces, writes resident memory, and emits every batch buffer
// through the engine ring buffers.
type CommandStreamReceiver struct {
	logger    *slog.Logger
	stream    trace.Stream
	manager   memory.Manager
	family    hwcmd.Family
	overrides Overrides
	mutex     utils.OptionalMutex

	localMemoryEnabled bool

	allocator *pagetable.PhysicalAddressAllocator
	ggtt      *gtt.TranslationTable
	ppgtt     *gtt.TranslationTable

	flattener  BatchBufferFlattener
	subCapture *subcapture.Manager

	engines           [engineCount]engineState
	nextContextHandle uint32
	headerWritten     bool

	residency           []*memory.Allocation
	externalAllocations []memory.AllocationView
	pending             []submission

	tagAllocation *memory.Allocation
	taskCount     uint32
	statistics    memutils.DetailedStatistics
}

var _ memory.FreeObserver = &CommandStreamReceiver{}

func New(logger *slog.Logger, stream trace.Stream, manager memory.Manager, options CreateOptions) (*CommandStreamReceiver, error) {
	family := options.Family
	if family == nil {
		family = hwcmd.Gen8()
	}

	if options.LocalMemoryEnabled && !family.LocalMemorySupported() {
		return nil, errors.Newf("local memory was requested, but %s devices have no local memory", family.Name())
	}

	addressBits := options.AddressBits
	if addressBits == 0 {
		addressBits = defaultAddressBits
	}

	useMutex := options.Flags&CreateReceiverExternallySynchronized == 0
	allocator := pagetable.NewPhysicalAddressAllocator(useMutex)

	r := &CommandStreamReceiver{
		logger:    logger,
		stream:    stream,
		manager:   manager,
		family:    family,
		overrides: options.Overrides,
		mutex:     utils.OptionalMutex{UseMutex: useMutex},

		localMemoryEnabled: options.LocalMemoryEnabled,

		allocator: allocator,
		ggtt:      gtt.NewGlobal(logger, allocator),
		ppgtt:     gtt.NewPerProcess(logger, allocator, addressBits),

		flattener:  flatbb.NewHelper(logger, family, manager),
		subCapture: subcapture.New(logger, options.Overrides.subCaptureOptions()),

		nextContextHandle: 1,
	}
	r.statistics.Clear()

	tag, err := manager.Allocate(memory.AllocateInfo{
		Size: tagBufferSize,
		Type: memory.TypeTagBuffer,
		Name: "TagBuffer",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate the tag buffer")
	}
	r.tagAllocation = tag

	manager.AddFreeObserver(r)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "created command stream receiver",
		slog.String("Family", family.Name()),
		slog.Int("DeviceID", int(r.DeviceID())),
		slog.String("DispatchMode", r.DispatchMode().String()),
		slog.Int("AddressBits", r.ppgtt.AddressBits()))

	return r, nil
}

// SetFlattener replaces the relocation and jump bookkeeping of the receiver
func (r *CommandStreamReceiver) SetFlattener(flattener BatchBufferFlattener) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.flattener = flattener
}

func (r *CommandStreamReceiver) Flattener() BatchBufferFlattener {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.flattener
}

func (r *CommandStreamReceiver) SubCaptureManager() *subcapture.Manager {
	return r.subCapture
}

func (r *CommandStreamReceiver) GGTT() *gtt.TranslationTable  { return r.ggtt }
func (r *CommandStreamReceiver) PPGTT() *gtt.TranslationTable { return r.ppgtt }
func (r *CommandStreamReceiver) Family() hwcmd.Family         { return r.family }
func (r *CommandStreamReceiver) Overrides() Overrides         { return r.overrides }
func (r *CommandStreamReceiver) LocalMemoryEnabled() bool     { return r.localMemoryEnabled }

// DeviceID is the device id written into the trace header
func (r *CommandStreamReceiver) DeviceID() uint32 {
	if r.overrides.DeviceID != 0 {
		return r.overrides.DeviceID
	}
	return r.family.DefaultDeviceID()
}

func (r *CommandStreamReceiver) DispatchMode() flatbb.DispatchMode {
	if r.overrides.DispatchMode != flatbb.DispatchModeDefault {
		return r.overrides.DispatchMode
	}
	return flatbb.DispatchModeImmediate
}

func (r *CommandStreamReceiver) GTTData() gtt.GTTData {
	return gtt.GTTData{Present: true, LocalMemory: r.localMemoryEnabled}
}

func (r *CommandStreamReceiver) MemoryBankForGTT() pagetable.MemoryBank {
	return gtt.MemoryBankForGTT(r.localMemoryEnabled)
}

func (r *CommandStreamReceiver) AddressSpaceFromPTEBits(entryBits uint64) trace.AddressSpace {
	return gtt.AddressSpaceFromEntryBits(entryBits)
}

// PreferredTagPoolSize is the number of tags the receiver wants per tag allocation. Trace replay is
// serial, so a single tag is enough.
func (r *CommandStreamReceiver) PreferredTagPoolSize() int {
	return 1
}

func (r *CommandStreamReceiver) TaskCount() uint32 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.taskCount
}

// ContextHandle returns the handle assigned to engine at initialization, or 0 if the engine has not
// been initialized
func (r *CommandStreamReceiver) ContextHandle(engine EngineType) uint32 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.engines[engine].contextHandle
}

// InitializeEngine prepares engine for submissions. Engines are initialized once; later calls do nothing.
func (r *CommandStreamReceiver) InitializeEngine(engine EngineType) error {
	r.logger.Debug("CommandStreamReceiver::InitializeEngine")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.initializeEngine(engine)
}

func (r *CommandStreamReceiver) initializeEngine(engine EngineType) error {
	if engine >= engineCount {
		return errors.Newf("unknown engine %d", engine)
	}

	state := &r.engines[engine]
	if state.initialized {
		return nil
	}

	if !r.headerWritten {
		r.stream.WriteHeader(r.DeviceID(), r.family.Name())
		r.headerWritten = true
	}

	ring, err := r.manager.Allocate(memory.AllocateInfo{
		Size: ringBufferSize,
		Type: memory.TypeRingBuffer,
		Name: engine.String() + "Ring",
	})
	if err != nil {
		return errors.Wrapf(err, "failed to allocate the ring buffer of %s", engine)
	}

	r.writeGTTEntries(ring.GPUAddress(), ring.Size())

	base := engine.MMIOBase()
	r.stream.WriteMMIO(base+ringStartRegister, uint32(ring.GPUAddress()))
	r.stream.WriteMMIO(base+ringHeadRegister, 0)
	r.stream.WriteMMIO(base+ringTailRegister, 0)
	r.stream.WriteMMIO(base+ringCtlRegister, uint32(ringBufferSize-memutils.PageSize)|ringCtlEnable)

	state.ring = ring
	state.tail = 0
	state.contextHandle = r.nextContextHandle
	state.initialized = true
	r.nextContextHandle++

	r.InitAdditionalMMIO()

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "initialized engine",
		slog.String("Engine", engine.String()),
		slog.Int("ContextHandle", int(state.contextHandle)))

	return nil
}

// writeGTTEntries maps the range through the global translation table and records an entry per page
func (r *CommandStreamReceiver) writeGTTEntries(gpuAddress uint64, size int) {
	bank := r.MemoryBankForGTT()
	entryBits := r.family.EntryBits(r.localMemoryEnabled)
	data := r.GTTData()

	for page := memutils.AlignDown(gpuAddress, memutils.PageSize); page < gpuAddress+uint64(size); page += memutils.PageSize {
		physical := r.ggtt.Map(page, int(memutils.PageSize), entryBits, bank)

		var entry gtt.GTTEntry
		gtt.SetGTTEntry(&entry, physical, data)
		r.stream.WriteGTTEntry(gtt.EntryOffset(page), uint64(entry))
	}
}

// writeRange records data at gpuAddress through table, one memory record per page
func (r *CommandStreamReceiver) writeRange(table *gtt.TranslationTable, gpuAddress uint64, data []byte, bank pagetable.MemoryBank, entryBits uint64) {
	pages := 0
	table.PageWalk(gpuAddress, len(data), 0, entryBits, func(physicalAddress uint64, size int, offset int, entryBits uint64) {
		r.stream.WriteMemory(physicalAddress, data[offset:offset+size], gtt.AddressSpaceFromEntryBits(entryBits))
		pages++
	}, bank)

	r.statistics.AddWrite(len(data))
	r.statistics.AddPageWrites(pages)
}

func (r *CommandStreamReceiver) bankFor(alloc *memory.Allocation) (pagetable.MemoryBank, uint64) {
	local := r.localMemoryEnabled && alloc.Pool() == memory.PoolLocal
	bank := pagetable.MainBank
	if local {
		bank = pagetable.BankForLocalMemory(0)
	}
	return bank, r.family.EntryBits(local)
}

// AllocationFreed drops every reference the receiver holds to alloc
func (r *CommandStreamReceiver) AllocationFreed(alloc *memory.Allocation) {
	r.logger.Debug("CommandStreamReceiver::AllocationFreed")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.flattener.RemovePatchInfoData(alloc.GPUAddress())

	kept := r.residency[:0]
	for _, resident := range r.residency {
		if resident != alloc {
			kept = append(kept, resident)
		}
	}
	for i := len(kept); i < len(r.residency); i++ {
		r.residency[i] = nil
	}
	r.residency = kept
}

// Close flushes the trace and returns every allocation and physical page the receiver owns
func (r *CommandStreamReceiver) Close() error {
	r.logger.Debug("CommandStreamReceiver::Close")

	r.mutex.Lock()
	owned := []*memory.Allocation{r.tagAllocation}
	for i := range r.engines {
		if r.engines[i].ring != nil {
			owned = append(owned, r.engines[i].ring)
		}
		r.engines[i] = engineState{}
	}
	r.tagAllocation = nil
	r.pending = nil
	r.residency = nil
	r.ggtt.Release()
	r.ppgtt.Release()
	r.mutex.Unlock()

	err := r.stream.Flush()
	for _, alloc := range owned {
		if alloc != nil {
			err = errors.CombineErrors(err, r.manager.Free(alloc))
		}
	}
	return err
}

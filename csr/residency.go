package csr

import (
	"context"
	"fmt"

	"github.com/vkngwrapper/aubstream/memory"
	"github.com/vkngwrapper/aubstream/pagetable"
	"golang.org/x/exp/slog"
)

// MakeResident queues alloc for the next flush. Queuing an allocation twice has no effect.
func (r *CommandStreamReceiver) MakeResident(alloc *memory.Allocation) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for _, resident := range r.residency {
		if resident == alloc {
			return
		}
	}
	r.residency = append(r.residency, alloc)
}

// ResidencyAllocations returns a copy of the allocations queued for the next flush
func (r *CommandStreamReceiver) ResidencyAllocations() []*memory.Allocation {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]*memory.Allocation(nil), r.residency...)
}

// MakeResidentExternal tracks a view that is written on every flush until it is removed. Views are not
// deduplicated.
func (r *CommandStreamReceiver) MakeResidentExternal(view memory.AllocationView) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.externalAllocations = append(r.externalAllocations, view)
}

// MakeNonResidentExternal stops tracking the first view at address. It returns false when no view matched.
func (r *CommandStreamReceiver) MakeNonResidentExternal(address uint64) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, view := range r.externalAllocations {
		if view.Address == address {
			r.externalAllocations = append(r.externalAllocations[:i], r.externalAllocations[i+1:]...)
			return true
		}
	}
	return false
}

func (r *CommandStreamReceiver) ExternalAllocations() []memory.AllocationView {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return append([]memory.AllocationView(nil), r.externalAllocations...)
}

// WriteMemory records the contents of alloc in the trace. It returns false when nothing was written,
// either because the trace already holds the contents or because the allocation is empty. Allocations
// without a host shadow are locked for the duration of the write.
func (r *CommandStreamReceiver) WriteMemory(alloc *memory.Allocation) (bool, error) {
	r.logger.Debug("CommandStreamReceiver::WriteMemory")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.writeMemory(alloc)
}

func (r *CommandStreamReceiver) writeMemory(alloc *memory.Allocation) (bool, error) {
	if alloc.IsFreed() {
		panic(fmt.Sprintf("attempted to write allocation %s, which has been freed", alloc))
	}

	if !alloc.IsAubWritable() {
		return false, nil
	}

	size := alloc.UnderlyingSize()
	if size == 0 {
		r.statistics.AddFailedWrite()
		return false, nil
	}

	data := alloc.HostShadow()
	if data == nil {
		locked, err := r.manager.LockResource(alloc)
		if err != nil {
			return false, err
		}
		defer r.manager.UnlockResource(alloc)
		data = locked
	}

	bank, entryBits := r.bankFor(alloc)
	r.writeRange(r.ppgtt, alloc.GPUAddress(), data[:size], bank, entryBits)

	if isOneTimeAubWritable(alloc.Type()) {
		alloc.SetAubWritable(false)
	}
	return true, nil
}

// isOneTimeAubWritable reports whether allocations of type t keep their contents once written, so later
// flushes can skip them
func isOneTimeAubWritable(t memory.AllocationType) bool {
	switch t {
	case memory.TypeBuffer, memory.TypeImage, memory.TypeUnknown:
		return true
	}
	return false
}

// WriteMemoryView records the bytes of an external view in the trace. Views with no bytes are not written
// and report false.
func (r *CommandStreamReceiver) WriteMemoryView(view memory.AllocationView) bool {
	r.logger.Debug("CommandStreamReceiver::WriteMemoryView")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.writeMemoryView(view)
}

func (r *CommandStreamReceiver) writeMemoryView(view memory.AllocationView) bool {
	if view.Size == 0 {
		r.statistics.AddFailedWrite()
		return false
	}

	data := view.Data
	if len(data) < view.Size {
		data = make([]byte, view.Size)
		copy(data, view.Data)
	}

	r.writeRange(r.ppgtt, view.Address, data[:view.Size], pagetable.MainBank, r.family.EntryBits(false))
	return true
}

// ProcessResidency writes every external view and every allocation of residency to the trace. It returns
// false when a view could not be written. Failed writes are logged and do not stop the others.
func (r *CommandStreamReceiver) ProcessResidency(residency []*memory.Allocation) (bool, error) {
	r.logger.Debug("CommandStreamReceiver::ProcessResidency")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.processResidency(residency)
}

func (r *CommandStreamReceiver) processResidency(residency []*memory.Allocation) (bool, error) {
	success := true
	for _, view := range r.externalAllocations {
		if !r.writeMemoryView(view) {
			success = false
			r.logger.LogAttrs(context.Background(), slog.LevelWarn, "external allocation was not written",
				slog.String("Address", fmt.Sprintf("%#x", view.Address)),
				slog.Int("Size", view.Size))
		}
	}

	for _, alloc := range residency {
		if _, err := r.writeMemory(alloc); err != nil {
			return false, err
		}
	}

	return success, nil
}

package csr

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/memory"
	"github.com/vkngwrapper/aubstream/subcapture"
	"golang.org/x/exp/slog"
)

type submission struct {
	bb        flatbb.BatchBuffer
	engine    EngineType
	residency []*memory.Allocation
}

// Flush traces one submission: the batch buffer, optionally flattened, the resident memory, and the ring
// buffer commands that start it. When the FlattenBatchBuffer override produces a merged buffer, it
// replaces bb.CommandBuffer and is freed once it has been traced.
func (r *CommandStreamReceiver) Flush(bb *flatbb.BatchBuffer, engine EngineType, residency []*memory.Allocation) error {
	r.logger.Debug("CommandStreamReceiver::Flush")

	r.mutex.Lock()
	flat, err := r.flush(bb, engine, residency, false)
	r.mutex.Unlock()

	if flat == nil {
		return err
	}
	return r.release([]*memory.Allocation{flat}, err)
}

// release frees merged batch buffers. The manager notifies the receiver of every free, so it must not be
// called with the receiver locked.
func (r *CommandStreamReceiver) release(flattened []*memory.Allocation, err error) error {
	for _, alloc := range flattened {
		err = errors.CombineErrors(err, r.manager.Free(alloc))
	}
	return err
}

func (r *CommandStreamReceiver) flush(bb *flatbb.BatchBuffer, engine EngineType, residency []*memory.Allocation, force bool) (*memory.Allocation, error) {
	if err := r.initializeEngine(engine); err != nil {
		return nil, err
	}

	r.taskCount++
	defer r.clearResidency()

	if !force && r.subCapture.IsSubCaptureMode() && !r.subCapture.IsSubCaptureActive() {
		r.logger.LogAttrs(context.Background(), slog.LevelDebug, "sub-capture is inactive, flush is not traced",
			slog.Int("TaskCount", int(r.taskCount)))
		return nil, nil
	}

	var flat *memory.Allocation
	start := bb.StartOffset
	size := bb.UsedSize - bb.StartOffset

	mode := r.DispatchMode()
	if r.overrides.FlattenBatchBuffer && (mode == flatbb.DispatchModeImmediate || mode == flatbb.DispatchModeBatched) {
		if mode == flatbb.DispatchModeBatched && bb.ChainedBatchBuffer != nil {
			if err := r.flattener.RegisterBatchBufferChain(bb); err != nil {
				return nil, errors.Wrap(err, "failed to register the chained batch buffer")
			}
		}

		flattened, err := r.flattener.FlattenBatchBuffer(bb, &size, mode)
		if err != nil {
			return nil, errors.Wrap(err, "failed to flatten the batch buffer")
		}
		if flattened != nil {
			flat = flattened
			bb.CommandBuffer = flattened
			start = 0
		}
	}

	if _, err := r.processResidency(residency); err != nil {
		return flat, errors.Wrap(err, "failed to write resident allocations")
	}

	var ringCommands []byte
	if flat == nil {
		indirect, patches := r.flattener.IndirectPatchCommands()
		if len(patches) > 0 {
			r.logger.LogAttrs(context.Background(), slog.LevelDebug, "injecting indirect patch commands",
				slog.Int("Patches", len(patches)),
				slog.Int("Bytes", len(indirect)))
		}
		ringCommands = append(ringCommands, indirect...)
	}

	if r.overrides.AddPatchInfoComments {
		r.addPatchInfoComments()
	}

	if err := r.writeBatchBuffer(bb.CommandBuffer, start, size); err != nil {
		return flat, err
	}

	jump := make([]byte, r.family.BatchBufferStartSize())
	r.family.EncodeBatchBufferStart(jump, bb.CommandBuffer.GPUAddress()+uint64(start), true)
	ringCommands = append(ringCommands, jump...)
	for len(ringCommands)%8 != 0 {
		noop := make([]byte, r.family.NoopSize())
		r.family.EncodeNoop(noop)
		ringCommands = append(ringCommands, noop...)
	}

	r.submitToRing(engine, ringCommands)
	r.updateTag()

	r.statistics.FlushCount++
	return flat, nil
}

func (r *CommandStreamReceiver) writeBatchBuffer(commandBuffer *memory.Allocation, start, size int) error {
	data := commandBuffer.HostShadow()
	if data == nil {
		locked, err := r.manager.LockResource(commandBuffer)
		if err != nil {
			return errors.Wrapf(err, "failed to read batch buffer %s", commandBuffer)
		}
		defer r.manager.UnlockResource(commandBuffer)
		data = locked
	}

	end := start + size
	if end > len(data) {
		end = len(data)
	}
	if end <= start {
		return nil
	}

	bank, entryBits := r.bankFor(commandBuffer)
	r.writeRange(r.ppgtt, commandBuffer.GPUAddress()+uint64(start), data[start:end], bank, entryBits)
	return nil
}

// submitToRing appends commands to the engine's ring buffer and moves the ring tail past them
func (r *CommandStreamReceiver) submitToRing(engine EngineType, commands []byte) {
	state := &r.engines[engine]
	if state.tail+len(commands) > ringBufferSize {
		state.tail = 0
	}

	host := state.ring.HostShadow()
	copy(host[state.tail:], commands)
	r.writeRange(r.ggtt, state.ring.GPUAddress()+uint64(state.tail), commands, r.MemoryBankForGTT(), r.family.EntryBits(r.localMemoryEnabled))

	state.tail += len(commands)
	r.stream.WriteMMIO(engine.MMIOBase()+ringTailRegister, uint32(state.tail))
}

func (r *CommandStreamReceiver) updateTag() {
	host := r.tagAllocation.HostShadow()
	binary.LittleEndian.PutUint32(host, r.taskCount)

	bank, entryBits := r.bankFor(r.tagAllocation)
	r.writeRange(r.ppgtt, r.tagAllocation.GPUAddress(), host[:4], bank, entryBits)
}

func (r *CommandStreamReceiver) clearResidency() {
	for i := range r.residency {
		r.residency[i] = nil
	}
	r.residency = r.residency[:0]
}

// Submit hands a submission to the receiver. In batched dispatch the submission waits for
// FlushBatchedSubmissions; every other mode flushes it immediately. The chunks of a waiting submission
// are registered for flattening when it is flushed.
func (r *CommandStreamReceiver) Submit(bb *flatbb.BatchBuffer, engine EngineType, residency []*memory.Allocation) error {
	r.logger.Debug("CommandStreamReceiver::Submit")

	if r.DispatchMode() != flatbb.DispatchModeBatched {
		return r.Flush(bb, engine, residency)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.pending = append(r.pending, submission{
		bb:        *bb,
		engine:    engine,
		residency: append([]*memory.Allocation(nil), residency...),
	})
	return nil
}

func (r *CommandStreamReceiver) PendingSubmissions() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.pending)
}

// FlushBatchedSubmissions flushes every waiting submission in submission order
func (r *CommandStreamReceiver) FlushBatchedSubmissions() error {
	r.logger.Debug("CommandStreamReceiver::FlushBatchedSubmissions")

	r.mutex.Lock()
	flattened, err := r.flushPending(false)
	r.mutex.Unlock()

	return r.release(flattened, err)
}

func (r *CommandStreamReceiver) flushPending(force bool) ([]*memory.Allocation, error) {
	pending := r.pending
	r.pending = nil

	var flattened []*memory.Allocation
	for i := range pending {
		flat, err := r.flush(&pending[i].bb, pending[i].engine, pending[i].residency, force)
		if flat != nil {
			flattened = append(flattened, flat)
		}
		if err != nil {
			return flattened, errors.Wrapf(err, "failed to flush batched submission %d of %d", i+1, len(pending))
		}
	}
	return flattened, nil
}

// ActivateSubCapture decides whether the enqueue of kernelName is traced. When a toggled sub-capture
// switches off, the submissions still waiting are traced before tracing stops.
func (r *CommandStreamReceiver) ActivateSubCapture(kernelName string) (subcapture.Status, error) {
	r.logger.Debug("CommandStreamReceiver::ActivateSubCapture")

	status := r.subCapture.CheckAndActivate(kernelName)
	if r.subCapture.Mode() != subcapture.ModeToggle || !status.WasActiveInPreviousEnqueue || status.IsActive {
		return status, nil
	}

	r.mutex.Lock()
	flattened, err := r.flushPending(true)
	r.mutex.Unlock()

	return status, r.release(flattened, err)
}

// AddBatchBufferStart encodes a jump to target into dst, which sits at GPU address location. The jump is
// remembered for flattening when the FlattenBatchBuffer override is set.
func (r *CommandStreamReceiver) AddBatchBufferStart(dst []byte, location, target uint64) {
	r.family.EncodeBatchBufferStart(dst, target, true)

	if r.overrides.FlattenBatchBuffer {
		r.mutex.Lock()
		defer r.mutex.Unlock()

		r.flattener.RegisterBatchBufferStartAddress(location, target)
	}
}

// AddGUCStartMessage places a jump to batchBufferAddress in the ring buffer of engine, the way the GuC
// firmware starts a submission. With the AddPatchInfoComments override set, the jump is recorded as patch
// info so the start message is relocated along with the batch buffer.
func (r *CommandStreamReceiver) AddGUCStartMessage(batchBufferAddress uint64, engine EngineType) error {
	r.logger.Debug("CommandStreamReceiver::AddGUCStartMessage")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if err := r.initializeEngine(engine); err != nil {
		return err
	}

	message := make([]byte, r.family.BatchBufferStartSize())
	r.family.EncodeBatchBufferStart(message, batchBufferAddress, true)
	for len(message)%8 != 0 {
		noop := make([]byte, r.family.NoopSize())
		r.family.EncodeNoop(noop)
		message = append(message, noop...)
	}

	state := &r.engines[engine]
	r.submitToRing(engine, message)
	location := state.tail - len(message)

	if r.overrides.AddPatchInfoComments {
		r.flattener.SetPatchInfoData(flatbb.PatchInfoData{
			SourceAllocation:       batchBufferAddress,
			SourceType:             flatbb.PatchDefault,
			TargetAllocation:       state.ring.GPUAddress(),
			TargetAllocationOffset: uint64(location + hwcmd.BatchBufferStartAddressOffset),
			TargetType:             flatbb.PatchGUCStartMessage,
		})
	}
	return nil
}

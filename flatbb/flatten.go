package flatbb

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/memory"
	"github.com/vkngwrapper/aubstream/memutils"
	"golang.org/x/exp/slog"
)

// segment is a copied range of one chunk
type segment struct {
	gpuStart uint64
	data     []byte
	offset   int
}

func (s *segment) contains(address uint64) bool {
	return address >= s.gpuStart && address < s.gpuStart+uint64(len(s.data))
}

type position struct {
	segment int
	delta   uint64
}

func locate(segments []segment, address uint64) position {
	for i := range segments {
		if segments[i].contains(address) {
			return position{segment: i, delta: address - segments[i].gpuStart}
		}
	}
	return position{segment: -1}
}

type relocation struct {
	data   PatchInfoData
	source position
	target position
}

// FlattenBatchBuffer copies the chunks reachable from the head of the jump chain into one new allocation,
// in execution order, and rewrites the registered relocations to match. It returns nil and leaves
// sizeBatchBuffer alone when bb has no chained buffer or when mode is neither immediate nor batched.
// Otherwise the registered chunks and jumps are consumed, sizeBatchBuffer receives the size of the new
// allocation, and the caller owns the returned allocation.
func (h *Helper) FlattenBatchBuffer(bb *BatchBuffer, sizeBatchBuffer *int, mode DispatchMode) (*memory.Allocation, error) {
	h.logger.Debug("Helper::FlattenBatchBuffer")

	if bb.ChainedBatchBuffer == nil || (mode != DispatchModeImmediate && mode != DispatchModeBatched) {
		return nil, nil
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	chunks := h.chunks.Drain()
	edges := h.jumps.Drain()

	if len(chunks) == 0 {
		if mode == DispatchModeBatched {
			panic("flattening a batched submission with no registered command chunks")
		}

		var err error
		chunks, edges, err = h.chainChunks(bb)
		if err != nil {
			return nil, err
		}
	}

	segments := h.walk(chunks, edges)

	kept, indirect := h.classify(segments)

	pending := append(append([]PatchInfoData(nil), h.indirect...), dataOf(indirect)...)
	for _, rel := range kept {
		if rel.data.RequiresIndirectPatching() {
			pending = append(pending, rel.data)
		}
	}
	indirectSize := countRuns(pending) * h.family.StoreDataImmSize()

	indirectOffset := len(segments[0].data)
	offset := indirectOffset + indirectSize
	for i := 1; i < len(segments); i++ {
		segments[i].offset = offset
		offset += len(segments[i].data)
	}

	flatSize := memutils.AlignUp(offset+CSOverfetchSize, int(memutils.PageSize))
	flat, err := h.manager.Allocate(memory.AllocateInfo{
		Size:      flatSize,
		Alignment: memutils.PageSize,
		Type:      memory.TypeInternalHost,
		Name:      "FlatBatchBuffer",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate the flattened batch buffer")
	}

	for _, rel := range indirect {
		h.indirect = append(h.indirect, resolve(rel, segments, flat.GPUAddress()))
	}
	h.patchInfo = h.patchInfo[:0]
	for _, rel := range kept {
		h.patchInfo = append(h.patchInfo, resolve(rel, segments, flat.GPUAddress()))
	}

	consumed := h.drainIndirectPatches()
	commands, runOf := h.encodeIndirectPatches(consumed)

	host := flat.HostShadow()
	for _, seg := range segments {
		copy(host[seg.offset:], seg.data)
	}
	copy(host[indirectOffset:], commands)

	for i, data := range consumed {
		h.patchInfo = append(h.patchInfo, PatchInfoData{
			SourceAllocation:       flat.GPUAddress(),
			SourceAllocationOffset: uint64(indirectOffset + runOf[i]*h.family.StoreDataImmSize() + hwcmd.StoreDataImmDataOffset),
			SourceType:             PatchDefault,
			TargetAllocation:       data.TargetAllocation,
			TargetAllocationOffset: data.TargetAllocationOffset,
			TargetType:             PatchDefault,
		})
	}

	h.logger.LogAttrs(context.Background(), slog.LevelDebug, "flattened batch buffer",
		slog.String("Mode", mode.String()),
		slog.Int("Segments", len(segments)),
		slog.Int("IndirectCommandBytes", len(commands)),
		slog.Int("Size", flatSize))

	*sizeBatchBuffer = flatSize
	return flat, nil
}

func dataOf(rels []relocation) []PatchInfoData {
	data := make([]PatchInfoData, 0, len(rels))
	for _, rel := range rels {
		data = append(data, rel.data)
	}
	return data
}

// chainChunks describes bb as the primary buffer up to its jump, followed by the whole chained buffer
func (h *Helper) chainChunks(bb *BatchBuffer) ([]CommandChunk, []JumpEdge, error) {
	primaryHost, err := h.hostBytes(bb.CommandBuffer)
	if err != nil {
		return nil, nil, err
	}
	chainedHost, err := h.hostBytes(bb.ChainedBatchBuffer)
	if err != nil {
		return nil, nil, err
	}

	primaryEnd := bb.ChainedBatchBufferStartOffset + h.family.BatchBufferStartSize()
	if primaryEnd > len(primaryHost) {
		primaryEnd = len(primaryHost)
	}

	chunks := []CommandChunk{
		{
			HostBase:    primaryHost,
			GPUBase:     bb.CommandBuffer.GPUAddress(),
			StartOffset: bb.StartOffset,
			EndOffset:   primaryEnd,
		},
		{
			HostBase:  chainedHost,
			GPUBase:   bb.ChainedBatchBuffer.GPUAddress(),
			EndOffset: len(chainedHost),
		},
	}
	edges := []JumpEdge{
		{
			Location: bb.CommandBuffer.GPUAddress() + uint64(bb.ChainedBatchBufferStartOffset),
			Target:   bb.ChainedBatchBuffer.GPUAddress(),
		},
	}
	return chunks, edges, nil
}

func (h *Helper) hostBytes(alloc *memory.Allocation) ([]byte, error) {
	if shadow := alloc.HostShadow(); shadow != nil {
		return shadow, nil
	}

	data, err := h.manager.LockResource(alloc)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read the commands of %s", alloc)
	}
	defer h.manager.UnlockResource(alloc)

	return append([]byte(nil), data...), nil
}

// walk follows the jumps from the head chunk, which is the first chunk no jump lands in, and returns the
// copied ranges in execution order. A jump ends the range it sits in; the jump itself is not copied.
func (h *Helper) walk(chunks []CommandChunk, edges []JumpEdge) []segment {
	head := -1
	for i := range chunks {
		if !isJumpTarget(&chunks[i], edges) {
			head = i
			break
		}
	}
	if head < 0 {
		panic("every registered command chunk is the target of a jump")
	}

	visited := make([]bool, len(chunks))
	var segments []segment

	current := head
	address := chunks[head].GPUStart()
	for {
		if visited[current] {
			panic(fmt.Sprintf("command chunk %s is reached twice while following jumps", &chunks[current]))
		}
		visited[current] = true
		chunk := &chunks[current]

		end := chunk.GPUEnd()
		jump, found := earliestJump(edges, address, end)
		if found {
			end = jump.Location
		}
		segments = append(segments, segment{gpuStart: address, data: chunk.bytes(address, end)})

		if !found {
			break
		}

		current = chunkContaining(chunks, jump.Target)
		if current < 0 {
			h.logger.LogAttrs(context.Background(), slog.LevelWarn, "jump target lies outside every registered command chunk",
				slog.String("Location", fmt.Sprintf("%#x", jump.Location)),
				slog.String("Target", fmt.Sprintf("%#x", jump.Target)))
			break
		}
		address = jump.Target
	}

	for i := range chunks {
		if !visited[i] {
			h.logger.LogAttrs(context.Background(), slog.LevelWarn, "dropping unreachable command chunk",
				slog.String("Chunk", chunks[i].String()))
		}
	}

	return segments
}

func isJumpTarget(chunk *CommandChunk, edges []JumpEdge) bool {
	for _, edge := range edges {
		if chunk.Contains(edge.Target) {
			return true
		}
	}
	return false
}

func earliestJump(edges []JumpEdge, from, to uint64) (JumpEdge, bool) {
	var earliest JumpEdge
	found := false
	for _, edge := range edges {
		if edge.Location < from || edge.Location >= to {
			continue
		}
		if !found || edge.Location < earliest.Location {
			earliest = edge
			found = true
		}
	}
	return earliest, found
}

func chunkContaining(chunks []CommandChunk, address uint64) int {
	for i := range chunks {
		if chunks[i].Contains(address) {
			return i
		}
	}
	return -1
}

// classify sorts the registered relocations against the copied ranges. Relocations whose source is an
// indirect object heap inside the copied ranges can only be patched at replay time. Relocations touching
// the copied ranges on either end are kept and later rewritten. The rest no longer describe anything in
// the submission and are dropped.
func (h *Helper) classify(segments []segment) (kept, indirect []relocation) {
	for _, data := range h.patchInfo {
		rel := relocation{
			data:   data,
			source: locate(segments, data.SourceAddress()),
			target: locate(segments, data.TargetAddress()),
		}
		if rel.target.segment >= 0 {
			rel.data.TargetType = PatchDefault
		}

		switch {
		case rel.source.segment >= 0 && data.SourceType == PatchIndirectObjectHeap:
			indirect = append(indirect, rel)
		case rel.target.segment >= 0 || rel.source.segment >= 0:
			kept = append(kept, rel)
		default:
			h.logger.LogAttrs(context.Background(), slog.LevelDebug, "dropping patch info outside the flattened batch buffer",
				slog.String("PatchInfo", data.String()))
		}
	}
	return kept, indirect
}

func resolve(rel relocation, segments []segment, flatAddress uint64) PatchInfoData {
	data := rel.data
	if rel.source.segment >= 0 {
		data.SourceAllocation = flatAddress
		data.SourceAllocationOffset = uint64(segments[rel.source.segment].offset) + rel.source.delta
	}
	if rel.target.segment >= 0 {
		data.TargetAllocation = flatAddress
		data.TargetAllocationOffset = uint64(segments[rel.target.segment].offset) + rel.target.delta
	}
	return data
}

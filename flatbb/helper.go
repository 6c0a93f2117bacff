package flatbb

import (
	"context"

	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/internal/utils"
	"github.com/vkngwrapper/aubstream/memory"
	"golang.org/x/exp/slog"
)

// CSOverfetchSize is the number of bytes past the end of a batch buffer the command streamer may prefetch
const CSOverfetchSize = 0x20

// Helper owns the relocation and jump bookkeeping of one command stream receiver and uses it to merge
// chained command buffers into a single buffer for a trace.
type Helper struct {
	logger  *slog.Logger
	family  hwcmd.Family
	manager memory.Manager
	mutex   utils.OptionalMutex

	patchInfo []PatchInfoData
	indirect  []PatchInfoData
	chunks    ChunkQueue
	jumps     *JumpGraph
}

func NewHelper(logger *slog.Logger, family hwcmd.Family, manager memory.Manager) *Helper {
	return &Helper{
		logger:  logger,
		family:  family,
		manager: manager,
		mutex:   utils.OptionalMutex{UseMutex: true},
		jumps:   NewJumpGraph(),
	}
}

func (h *Helper) SetPatchInfoData(data PatchInfoData) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.patchInfo = append(h.patchInfo, data)
}

// RemovePatchInfoData removes every relocation whose target allocation is target, including those
// waiting for indirect patching. It returns false when nothing matched.
func (h *Helper) RemovePatchInfoData(target uint64) bool {
	h.logger.Debug("Helper::RemovePatchInfoData")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	var removed int
	h.patchInfo, removed = removeByTarget(h.patchInfo, target)
	var removedIndirect int
	h.indirect, removedIndirect = removeByTarget(h.indirect, target)

	return removed+removedIndirect > 0
}

func removeByTarget(list []PatchInfoData, target uint64) ([]PatchInfoData, int) {
	kept := list[:0]
	for _, data := range list {
		if data.TargetAllocation != target {
			kept = append(kept, data)
		}
	}

	removed := len(list) - len(kept)
	for i := len(kept); i < len(list); i++ {
		list[i] = PatchInfoData{}
	}
	return kept, removed
}

// PatchInfoCollection returns a copy of the registered relocations
func (h *Helper) PatchInfoCollection() []PatchInfoData {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return append([]PatchInfoData(nil), h.patchInfo...)
}

// DrainPatchInfoCollection returns the registered relocations and clears the collection
func (h *Helper) DrainPatchInfoCollection() []PatchInfoData {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	collection := h.patchInfo
	h.patchInfo = nil
	return collection
}

func (h *Helper) RegisterCommandChunk(chunk CommandChunk) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.chunks.Push(chunk)
}

// RegisterCommandChunkForBatchBuffer registers the primary commands of bb, up to and including the jump
// into its chained buffer
func (h *Helper) RegisterCommandChunkForBatchBuffer(bb *BatchBuffer, batchBufferStartSize int) {
	h.RegisterCommandChunk(CommandChunk{
		HostBase:    bb.CommandBuffer.HostShadow(),
		GPUBase:     bb.CommandBuffer.GPUAddress(),
		StartOffset: bb.StartOffset,
		EndOffset:   bb.ChainedBatchBufferStartOffset + batchBufferStartSize,
	})
}

// RegisterBatchBufferChain registers the primary commands of bb, its whole chained buffer and the jump
// that links them. A batched flatten consumes exactly what was registered before it.
func (h *Helper) RegisterBatchBufferChain(bb *BatchBuffer) error {
	if bb.ChainedBatchBuffer == nil {
		return nil
	}

	chunks, edges, err := h.chainChunks(bb)
	if err != nil {
		return err
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for _, chunk := range chunks {
		h.chunks.Push(chunk)
	}
	for _, edge := range edges {
		h.jumps.Register(edge.Location, edge.Target)
	}
	return nil
}

// CommandChunkList returns a copy of the registered chunks in registration order
func (h *Helper) CommandChunkList() []CommandChunk {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.chunks.Chunks()
}

func (h *Helper) RegisterBatchBufferStartAddress(location, target uint64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.jumps.Register(location, target)
}

// BatchBufferStartAddressSequence returns the registered jumps in registration order
func (h *Helper) BatchBufferStartAddressSequence() []JumpEdge {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.jumps.Edges()
}

// IndirectPatchCommands consumes every relocation whose value is only known at replay time and returns
// the store commands that materialize them, along with the consumed relocations. A contiguous run of
// relocations sharing a source type is materialized by one store.
func (h *Helper) IndirectPatchCommands() ([]byte, []PatchInfoData) {
	h.logger.Debug("Helper::IndirectPatchCommands")

	h.mutex.Lock()
	defer h.mutex.Unlock()

	pending := h.drainIndirectPatches()
	commands, _ := h.encodeIndirectPatches(pending)
	return commands, pending
}

func (h *Helper) drainIndirectPatches() []PatchInfoData {
	pending := h.indirect
	h.indirect = nil

	kept := h.patchInfo[:0]
	for _, data := range h.patchInfo {
		if data.RequiresIndirectPatching() {
			pending = append(pending, data)
		} else {
			kept = append(kept, data)
		}
	}
	h.patchInfo = kept

	return pending
}

func countRuns(pending []PatchInfoData) int {
	runs := 0
	for i := range pending {
		if i == 0 || pending[i].SourceType != pending[i-1].SourceType {
			runs++
		}
	}
	return runs
}

// encodeIndirectPatches emits one store per source-type run and reports, for each relocation, the
// index of the store that carries it
func (h *Helper) encodeIndirectPatches(pending []PatchInfoData) ([]byte, []int) {
	commandSize := h.family.StoreDataImmSize()
	commands := make([]byte, countRuns(pending)*commandSize)
	runOf := make([]int, len(pending))

	run := -1
	for i, data := range pending {
		if i == 0 || data.SourceType != pending[i-1].SourceType {
			run++
			h.family.EncodeStoreDataImm(commands[run*commandSize:], data.SourceAddress(), data.TargetAddress())
		}
		runOf[i] = run
	}

	if len(pending) > 0 {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "encoded indirect patch commands",
			slog.Int("Patches", len(pending)),
			slog.Int("Commands", run+1))
	}

	return commands, runOf
}

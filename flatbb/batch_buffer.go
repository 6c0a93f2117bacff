package flatbb

import (
	"github.com/vkngwrapper/aubstream/memory"
)

// DispatchMode selects how a command stream receiver hands submissions to the device
type DispatchMode uint32

const (
	DispatchModeDefault DispatchMode = iota
	DispatchModeImmediate
	DispatchModeAdaptive
	DispatchModeBatched
)

var dispatchModeMapping = make(map[DispatchMode]string)

func (m DispatchMode) String() string {
	str, ok := dispatchModeMapping[m]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	dispatchModeMapping[DispatchModeDefault] = "DispatchModeDefault"
	dispatchModeMapping[DispatchModeImmediate] = "DispatchModeImmediate"
	dispatchModeMapping[DispatchModeAdaptive] = "DispatchModeAdaptive"
	dispatchModeMapping[DispatchModeBatched] = "DispatchModeBatched"
}

// BatchBuffer is a single submission. CommandBuffer holds the primary commands, which run from
// StartOffset and may jump into ChainedBatchBuffer at ChainedBatchBufferStartOffset.
type BatchBuffer struct {
	CommandBuffer                 *memory.Allocation
	StartOffset                   int
	ChainedBatchBufferStartOffset int
	ChainedBatchBuffer            *memory.Allocation
	RequiresCoherency             bool
	LowPriority                   bool
	UsedSize                      int
}

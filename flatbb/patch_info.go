package flatbb

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// PatchInfoAllocationType names the kind of memory on either end of a relocation
type PatchInfoAllocationType uint32

const (
	PatchDefault PatchInfoAllocationType = iota
	PatchKernelArg
	PatchGeneralStateHeap
	PatchDynamicStateHeap
	PatchIndirectObjectHeap
	PatchSurfaceStateHeap
	PatchInstructionHeap
	PatchTagAddress
	PatchTagValue
	PatchGUCStartMessage
)

var patchInfoAllocationTypeMapping = make(map[PatchInfoAllocationType]string)

func (t PatchInfoAllocationType) String() string {
	str, ok := patchInfoAllocationTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	patchInfoAllocationTypeMapping[PatchDefault] = "Default"
	patchInfoAllocationTypeMapping[PatchKernelArg] = "KernelArg"
	patchInfoAllocationTypeMapping[PatchGeneralStateHeap] = "GeneralStateHeap"
	patchInfoAllocationTypeMapping[PatchDynamicStateHeap] = "DynamicStateHeap"
	patchInfoAllocationTypeMapping[PatchIndirectObjectHeap] = "IndirectObjectHeap"
	patchInfoAllocationTypeMapping[PatchSurfaceStateHeap] = "SurfaceStateHeap"
	patchInfoAllocationTypeMapping[PatchInstructionHeap] = "InstructionHeap"
	patchInfoAllocationTypeMapping[PatchTagAddress] = "TagAddress"
	patchInfoAllocationTypeMapping[PatchTagValue] = "TagValue"
	patchInfoAllocationTypeMapping[PatchGUCStartMessage] = "GUCStartMessage"
}

// PatchInfoData records that the bytes at the source location hold the address of the target location.
// Allocations are referenced by GPU address only; the memory manager owns them.
type PatchInfoData struct {
	SourceAllocation       uint64
	SourceAllocationOffset uint64
	SourceType             PatchInfoAllocationType
	TargetAllocation       uint64
	TargetAllocationOffset uint64
	TargetType             PatchInfoAllocationType
}

func (p PatchInfoData) SourceAddress() uint64 { return p.SourceAllocation + p.SourceAllocationOffset }
func (p PatchInfoData) TargetAddress() uint64 { return p.TargetAllocation + p.TargetAllocationOffset }

// RequiresIndirectPatching reports whether the patched value is only known at replay time
func (p PatchInfoData) RequiresIndirectPatching() bool {
	return p.TargetType != PatchDefault && p.TargetType != PatchGUCStartMessage
}

func (p PatchInfoData) String() string {
	return fmt.Sprintf("%#x+%#x(%s) -> %#x+%#x(%s)",
		p.SourceAllocation, p.SourceAllocationOffset, p.SourceType,
		p.TargetAllocation, p.TargetAllocationOffset, p.TargetType)
}

func (p PatchInfoData) PrintParameters(json *jwriter.ObjectState) {
	json.Name("SourceAllocation").String(fmt.Sprintf("%#x", p.SourceAllocation))
	json.Name("SourceAllocationOffset").String(fmt.Sprintf("%#x", p.SourceAllocationOffset))
	json.Name("SourceType").String(p.SourceType.String())
	json.Name("TargetAllocation").String(fmt.Sprintf("%#x", p.TargetAllocation))
	json.Name("TargetAllocationOffset").String(fmt.Sprintf("%#x", p.TargetAllocationOffset))
	json.Name("TargetType").String(p.TargetType.String())
}

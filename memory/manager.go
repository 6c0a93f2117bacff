package memory

import (
	"github.com/vkngwrapper/core/v2/common"
)

// AllocateFlags adjust how a single allocation is created
type AllocateFlags int32

var allocateFlagsMapping = common.NewFlagStringMapping[AllocateFlags]()

func (f AllocateFlags) Register(str string) {
	allocateFlagsMapping.Register(f, str)
}
func (f AllocateFlags) String() string {
	return allocateFlagsMapping.FlagsToString(f)
}

const (
	// AllocateNoHostShadow creates an allocation without host memory mirroring it. The allocation's
	// contents can only be reached with Manager.LockResource.
	AllocateNoHostShadow AllocateFlags = 1 << iota
	// AllocateNotAubWritable creates an allocation whose contents are already present in the trace
	AllocateNotAubWritable
)

func init() {
	AllocateNoHostShadow.Register("AllocateNoHostShadow")
	AllocateNotAubWritable.Register("AllocateNotAubWritable")
}

// AllocateInfo describes a requested allocation
type AllocateInfo struct {
	Flags AllocateFlags
	Size  int
	// Alignment is the required alignment of the GPU address. It must be a power of two, and a value
	// of 0 means page alignment.
	Alignment   uint64
	Type        AllocationType
	Pool        Pool
	Compression Compression
	Name        string
}

// FreeObserver is notified about every allocation freed through a Manager. AllocationFreed runs
// before the allocation is released, so the allocation's address and contents are still valid.
type FreeObserver interface {
	AllocationFreed(allocation *Allocation)
}

// Manager creates and destroys the allocations a command stream receiver writes into a trace
type Manager interface {
	Allocate(info AllocateInfo) (*Allocation, error)
	Free(allocation *Allocation) error
	// LockResource returns the contents of an allocation. Allocations without a host shadow must be
	// unlocked with UnlockResource once the caller is done with the returned bytes.
	LockResource(allocation *Allocation) ([]byte, error)
	UnlockResource(allocation *Allocation)
	AddFreeObserver(observer FreeObserver)
}

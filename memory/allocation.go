package memory

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// AllocationType describes what an allocation holds
type AllocationType uint32

const (
	TypeUnknown AllocationType = iota
	TypeCommandBuffer
	TypeBuffer
	TypeImage
	TypeInternalHost
	TypeRingBuffer
	TypeTagBuffer
)

var allocationTypeMapping = make(map[AllocationType]string)

func (t AllocationType) String() string {
	str, ok := allocationTypeMapping[t]
	if !ok {
		return "unknown"
	}
	return str
}

// Pool is the kind of memory an allocation lives in
type Pool uint32

const (
	PoolSystem Pool = iota
	PoolLocal
)

var poolMapping = make(map[Pool]string)

func (p Pool) String() string {
	str, ok := poolMapping[p]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	allocationTypeMapping[TypeUnknown] = "TypeUnknown"
	allocationTypeMapping[TypeCommandBuffer] = "TypeCommandBuffer"
	allocationTypeMapping[TypeBuffer] = "TypeBuffer"
	allocationTypeMapping[TypeImage] = "TypeImage"
	allocationTypeMapping[TypeInternalHost] = "TypeInternalHost"
	allocationTypeMapping[TypeRingBuffer] = "TypeRingBuffer"
	allocationTypeMapping[TypeTagBuffer] = "TypeTagBuffer"

	poolMapping[PoolSystem] = "PoolSystem"
	poolMapping[PoolLocal] = "PoolLocal"
}

// Compression describes the compressed backing of a render-compressed allocation
type Compression struct {
	RenderCompressed bool
	// AllocationSize is the size of the compressed backing. It replaces the allocation size
	// whenever the allocation's contents are written to a trace.
	AllocationSize int
}

// Allocation is a block of simulated GPU memory, optionally shadowed by host memory
type Allocation struct {
	gpuAddress     uint64
	size           int
	alignment      uint64
	hostShadow     []byte
	privateStore   []byte
	aubWritable    bool
	compression    Compression
	pool           Pool
	allocationType AllocationType
	name           string
	userData       any

	lockCount int
	freed     bool
	manager   *OSAgnosticManager

	nextAlloc *Allocation
	prevAlloc *Allocation
}

func (a *Allocation) GPUAddress() uint64              { return a.gpuAddress }
func (a *Allocation) Size() int                       { return a.size }
func (a *Allocation) Alignment() uint64               { return a.alignment }
func (a *Allocation) Pool() Pool                      { return a.pool }
func (a *Allocation) Type() AllocationType            { return a.allocationType }
func (a *Allocation) Compression() Compression        { return a.compression }
func (a *Allocation) IsFreed() bool                   { return a.freed }
func (a *Allocation) IsLocked() bool                  { return a.lockCount > 0 }
func (a *Allocation) SetCompression(c Compression)    { a.compression = c }
func (a *Allocation) SetUserData(userData any)        { a.userData = userData }
func (a *Allocation) UserData() any                   { return a.userData }
func (a *Allocation) SetName(name string)             { a.name = name }
func (a *Allocation) Name() string                    { return a.name }
func (a *Allocation) SetAubWritable(aubWritable bool) { a.aubWritable = aubWritable }

// HostShadow is the host memory mirroring the allocation. It is nil for allocations whose
// contents are only reachable by locking them through their manager.
func (a *Allocation) HostShadow() []byte {
	return a.hostShadow
}

// IsAubWritable reports whether the allocation's contents still need to be written to a trace
func (a *Allocation) IsAubWritable() bool {
	return a.aubWritable
}

// UnderlyingSize is the number of bytes a trace write of this allocation covers
func (a *Allocation) UnderlyingSize() int {
	if a.compression.RenderCompressed {
		return a.compression.AllocationSize
	}
	return a.size
}

// Contains reports whether address falls inside the allocation's GPU range
func (a *Allocation) Contains(address uint64) bool {
	return address >= a.gpuAddress && address < a.gpuAddress+uint64(a.size)
}

func (a *Allocation) String() string {
	if a.name != "" {
		return fmt.Sprintf("%s(%s %#x+%#x)", a.name, a.allocationType, a.gpuAddress, a.size)
	}
	return fmt.Sprintf("%s(%#x+%#x)", a.allocationType, a.gpuAddress, a.size)
}

func (a *Allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Type").String(a.allocationType.String())
	json.Name("Pool").String(a.pool.String())
	json.Name("GPUAddress").String(fmt.Sprintf("%#x", a.gpuAddress))
	json.Name("Size").Int(a.size)
	json.Name("AubWritable").Bool(a.aubWritable)

	if a.compression.RenderCompressed {
		json.Name("CompressedSize").Int(a.compression.AllocationSize)
	}

	if a.hostShadow == nil {
		json.Name("HostShadow").Bool(false)
	}

	if a.userData != nil {
		json.Name("CustomData").String(fmt.Sprintf("%+v", a.userData))
	}

	if a.name != "" {
		json.Name("Name").String(a.name)
	}
}

// AllocationView is a byte range owned outside of any memory manager, such as memory imported from
// another process
type AllocationView struct {
	Address uint64
	Size    int
	Data    []byte
}

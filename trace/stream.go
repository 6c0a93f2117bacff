package trace

// AddressSpace annotates a memory record with the kind of memory the simulator should place it in
type AddressSpace uint32

const (
	TraceGttGfx AddressSpace = iota
	TraceLocal
	TraceNonlocal
	TraceGttEntry
	TracePpgttEntry
)

var addressSpaceMapping = make(map[AddressSpace]string)

func (s AddressSpace) String() string {
	str, ok := addressSpaceMapping[s]
	if !ok {
		return "unknown"
	}
	return str
}

// CompareOperation selects how the simulator compares memory against an expectation record
type CompareOperation uint32

const (
	CompareEqual CompareOperation = iota
	CompareNotEqual
)

var compareOperationMapping = make(map[CompareOperation]string)

func (o CompareOperation) String() string {
	str, ok := compareOperationMapping[o]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	addressSpaceMapping[TraceGttGfx] = "TraceGttGfx"
	addressSpaceMapping[TraceLocal] = "TraceLocal"
	addressSpaceMapping[TraceNonlocal] = "TraceNonlocal"
	addressSpaceMapping[TraceGttEntry] = "TraceGttEntry"
	addressSpaceMapping[TracePpgttEntry] = "TracePpgttEntry"

	compareOperationMapping[CompareEqual] = "CompareEqual"
	compareOperationMapping[CompareNotEqual] = "CompareNotEqual"
}

// MMIOPair is a single register write emitted at engine initialization
type MMIOPair struct {
	Register uint32
	Value    uint32
}

//go:generate mockgen -source stream.go -destination ./mocks/mock_stream.go -package mocks

// Stream is the sink a command stream receiver writes its trace into. Records are written in call order.
type Stream interface {
	// WriteHeader opens the trace for a device
	WriteHeader(deviceID uint32, family string)
	// WriteMemory records the contents of physical memory starting at physicalAddress
	WriteMemory(physicalAddress uint64, data []byte, space AddressSpace)
	// WriteGTTEntry records a global translation table entry at the provided table offset
	WriteGTTEntry(offset uint64, entry uint64)
	WriteMMIO(register uint32, value uint32)
	// ExpectMemory asks the simulator to compare physical memory against data during replay
	ExpectMemory(physicalAddress uint64, data []byte, space AddressSpace, op CompareOperation)
	AddComment(comment string)
	Flush() error
}

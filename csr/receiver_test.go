package csr_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/aubstream/csr"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/memory"
	"github.com/vkngwrapper/aubstream/pagetable"
	"github.com/vkngwrapper/aubstream/trace"
	"golang.org/x/exp/slog"
)

type record struct {
	Kind     string
	DeviceID int
	Family   string
	Address  string
	Space    string
	Data     string
	Compare  string
	Register string
	Value    string
	Text     string
}

type tracedReceiver struct {
	receiver *csr.CommandStreamReceiver
	manager  *memory.OSAgnosticManager
	stream   *trace.JSONStream
	out      *bytes.Buffer
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func createManager(t *testing.T) *memory.OSAgnosticManager {
	manager, err := memory.NewOSAgnosticManager(testLogger(), memory.CreateOptions{})
	require.NoError(t, err)
	return manager
}

func createTracedReceiver(t *testing.T, options csr.CreateOptions) *tracedReceiver {
	out := &bytes.Buffer{}
	stream := trace.NewJSONStream(out)
	manager := createManager(t)

	receiver, err := csr.New(testLogger(), stream, manager, options)
	require.NoError(t, err)

	return &tracedReceiver{receiver: receiver, manager: manager, stream: stream, out: out}
}

func (r *tracedReceiver) records(t *testing.T) []record {
	require.NoError(t, r.stream.Flush())

	var records []record
	for _, line := range bytes.Split(r.out.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		var rec record
		reader := jreader.NewReader(line)
		for obj := reader.Object(); obj.Next(); {
			switch string(obj.Name()) {
			case "Record":
				rec.Kind = reader.String()
			case "DeviceID":
				rec.DeviceID = reader.Int()
			case "Family":
				rec.Family = reader.String()
			case "Address":
				rec.Address = reader.String()
			case "Space":
				rec.Space = reader.String()
			case "Data":
				rec.Data = reader.String()
			case "Compare":
				rec.Compare = reader.String()
			case "Register":
				rec.Register = reader.String()
			case "Value":
				rec.Value = reader.String()
			case "Text":
				rec.Text = reader.String()
			default:
				reader.SkipValue()
			}
		}
		require.NoError(t, reader.Error())
		records = append(records, rec)
	}
	return records
}

func recordsOfKind(records []record, kind string) []record {
	var matching []record
	for _, rec := range records {
		if rec.Kind == kind {
			matching = append(matching, rec)
		}
	}
	return matching
}

func allocateCommands(t *testing.T, manager memory.Manager, size int) *memory.Allocation {
	alloc, err := manager.Allocate(memory.AllocateInfo{Size: size, Type: memory.TypeCommandBuffer})
	require.NoError(t, err)
	return alloc
}

func TestNewRejectsLocalMemoryOnSystemMemoryFamily(t *testing.T) {
	_, err := csr.New(testLogger(), trace.NewJSONStream(io.Discard), createManager(t), csr.CreateOptions{
		Family:             hwcmd.Gen8(),
		LocalMemoryEnabled: true,
	})
	require.Error(t, err)
}

func TestDeviceID(t *testing.T) {
	testCases := map[string]struct {
		Overrides csr.Overrides
		Expected  uint32
	}{
		"FamilyDefault": {
			Overrides: csr.DefaultOverrides(),
			Expected:  hwcmd.Gen8().DefaultDeviceID(),
		},
		"Override": {
			Overrides: csr.Overrides{DeviceID: 0x9},
			Expected:  0x9,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			traced := createTracedReceiver(t, csr.CreateOptions{Overrides: testCase.Overrides})
			require.Equal(t, testCase.Expected, traced.receiver.DeviceID())

			require.NoError(t, traced.receiver.InitializeEngine(csr.EngineRCS))
			headers := recordsOfKind(traced.records(t), "Header")
			require.Len(t, headers, 1)
			require.Equal(t, int(testCase.Expected), headers[0].DeviceID)
			require.Equal(t, "Gen8", headers[0].Family)
		})
	}
}

func TestDispatchModeDefaultsToImmediate(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})
	require.Equal(t, flatbb.DispatchModeImmediate, traced.receiver.DispatchMode())

	traced = createTracedReceiver(t, csr.CreateOptions{Overrides: csr.Overrides{DispatchMode: flatbb.DispatchModeBatched}})
	require.Equal(t, flatbb.DispatchModeBatched, traced.receiver.DispatchMode())
}

func TestGTTDataFollowsLocalMemory(t *testing.T) {
	system := createTracedReceiver(t, csr.CreateOptions{Family: hwcmd.Gen12LP()})
	require.Equal(t, true, system.receiver.GTTData().Present)
	require.Equal(t, false, system.receiver.GTTData().LocalMemory)
	require.Equal(t, pagetable.MainBank, system.receiver.MemoryBankForGTT())

	local := createTracedReceiver(t, csr.CreateOptions{Family: hwcmd.Gen12LP(), LocalMemoryEnabled: true})
	require.Equal(t, true, local.receiver.GTTData().LocalMemory)
	require.NotEqual(t, pagetable.MainBank, local.receiver.MemoryBankForGTT())
}

func TestAddressSpaceFromPTEBits(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	bits := pagetable.EntryPresent.Bits() | pagetable.EntryWritable.Bits()
	require.Equal(t, trace.TraceNonlocal, traced.receiver.AddressSpaceFromPTEBits(bits))
	require.Equal(t, trace.TraceLocal, traced.receiver.AddressSpaceFromPTEBits(bits|pagetable.EntryLocalMemory.Bits()))
}

func TestTranslationTablesMapToNonZeroPhysicalPages(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	require.NotZero(t, traced.receiver.GGTT().Map(0x100000, 4096, 0, pagetable.MainBank))
	require.NotZero(t, traced.receiver.PPGTT().Map(0x100000, 4096, 0, pagetable.MainBank))
}

func TestInitializeEngine(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})
	require.Zero(t, traced.receiver.ContextHandle(csr.EngineRCS))

	require.NoError(t, traced.receiver.InitializeEngine(csr.EngineRCS))
	handle := traced.receiver.ContextHandle(csr.EngineRCS)
	require.NotZero(t, handle)

	// A second initialization changes nothing
	require.NoError(t, traced.receiver.InitializeEngine(csr.EngineRCS))
	require.Equal(t, handle, traced.receiver.ContextHandle(csr.EngineRCS))

	require.NoError(t, traced.receiver.InitializeEngine(csr.EngineBCS))
	require.NotZero(t, traced.receiver.ContextHandle(csr.EngineBCS))
	require.NotEqual(t, handle, traced.receiver.ContextHandle(csr.EngineBCS))

	records := traced.records(t)
	require.Len(t, recordsOfKind(records, "Header"), 1)
	require.Len(t, recordsOfKind(records, "GTTEntry"), 8)
	require.Len(t, recordsOfKind(records, "MMIO"), 8)

	require.Error(t, traced.receiver.InitializeEngine(csr.EngineType(99)))
}

func TestPreferredTagPoolSize(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})
	require.Equal(t, 1, traced.receiver.PreferredTagPoolSize())
}

func TestAllocationFreedPurgesReferences(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	target, err := traced.manager.Allocate(memory.AllocateInfo{Size: 0x100, Type: memory.TypeBuffer})
	require.NoError(t, err)
	other, err := traced.manager.Allocate(memory.AllocateInfo{Size: 0x100, Type: memory.TypeBuffer})
	require.NoError(t, err)

	traced.receiver.MakeResident(target)
	traced.receiver.MakeResident(other)

	helper := traced.receiver.Flattener().(*flatbb.Helper)
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x1000, TargetAllocation: target.GPUAddress()})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x2000, TargetAllocation: other.GPUAddress()})

	require.NoError(t, traced.manager.Free(target))

	require.Equal(t, []*memory.Allocation{other}, traced.receiver.ResidencyAllocations())
	collection := helper.PatchInfoCollection()
	require.Len(t, collection, 1)
	require.Equal(t, other.GPUAddress(), collection[0].TargetAllocation)
}

func TestCloseReleasesOwnedAllocations(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})
	require.NoError(t, traced.receiver.InitializeEngine(csr.EngineRCS))
	require.Equal(t, 2, traced.manager.AllocationCount())

	require.NoError(t, traced.receiver.Close())
	require.Equal(t, 0, traced.manager.AllocationCount())
	require.Equal(t, 0, traced.receiver.GGTT().PageCount())
	require.Equal(t, 0, traced.receiver.PPGTT().PageCount())
}

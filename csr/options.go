package csr

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/subcapture"
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific receiver behaviors to activate or deactivate
type CreateFlags int32

var receiverCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	receiverCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return receiverCreateFlagsMapping.FlagsToString(f)
}

const (
	// CreateReceiverExternallySynchronized ensures that the receiver is not synchronized internally. The
	// consumer must guarantee it is used from only one goroutine at a time.
	CreateReceiverExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateReceiverExternallySynchronized.Register("CreateReceiverExternallySynchronized")
}

const defaultAddressBits = 48

// CreateOptions contains optional settings when creating a CommandStreamReceiver
type CreateOptions struct {
	Flags CreateFlags
	// Family selects the hardware generation. nil selects hwcmd.Gen8.
	Family hwcmd.Family
	// LocalMemoryEnabled places the global translation table and local-pool allocations in device-local
	// memory. The family must support local memory.
	LocalMemoryEnabled bool
	// AddressBits is the width of the per-process virtual address space. 0 selects 48 bits.
	AddressBits int
	Overrides   Overrides
}

// Overrides are the debug settings a receiver consults while tracing
type Overrides struct {
	// FlattenBatchBuffer merges chained command buffers before they are written to the trace.
	// Key: FlattenBatchBufferForAUBDump
	FlattenBatchBuffer bool
	// DispatchMode replaces the receiver's dispatch mode unless it is flatbb.DispatchModeDefault.
	// Key: CsrDispatchMode
	DispatchMode flatbb.DispatchMode
	// AddPatchInfoComments annotates the trace with the relocations of every flush.
	// Key: AddPatchInfoCommentsForAUBDump
	AddPatchInfoComments bool
	// DeviceID replaces the family's device id unless it is 0. Key: OverrideAubDeviceId
	DeviceID uint32
	// AdditionalMMIO is a semicolon separated list of register;value pairs written at engine
	// initialization. Key: AubDumpAddMmioRegistersList
	AdditionalMMIO string

	// Keys: AUBDumpSubCaptureMode, AUBDumpFilterKernelStartIdx, AUBDumpFilterKernelEndIdx,
	// AUBDumpFilterKernelName
	SubCaptureMode       subcapture.Mode
	FilterKernelStartIdx int
	FilterKernelEndIdx   int
	FilterKernelName     string
}

// DefaultOverrides returns overrides that change nothing
func DefaultOverrides() Overrides {
	return Overrides{
		FilterKernelEndIdx: -1,
	}
}

func (o *Overrides) subCaptureOptions() subcapture.Options {
	return subcapture.Options{
		Mode:                 o.SubCaptureMode,
		FilterKernelStartIdx: o.FilterKernelStartIdx,
		FilterKernelEndIdx:   o.FilterKernelEndIdx,
		FilterKernelName:     o.FilterKernelName,
	}
}

// LoadOverrides reads overrides from a JSON object keyed by setting name. Settings that are absent keep
// their DefaultOverrides value and unknown keys are ignored.
func LoadOverrides(data []byte) (Overrides, error) {
	overrides := DefaultOverrides()

	reader := jreader.NewReader(data)
	for obj := reader.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "FlattenBatchBufferForAUBDump":
			overrides.FlattenBatchBuffer = reader.Bool()
		case "CsrDispatchMode":
			overrides.DispatchMode = flatbb.DispatchMode(reader.Int())
		case "AddPatchInfoCommentsForAUBDump":
			overrides.AddPatchInfoComments = reader.Bool()
		case "OverrideAubDeviceId":
			overrides.DeviceID = uint32(reader.Int())
		case "AubDumpAddMmioRegistersList":
			overrides.AdditionalMMIO = reader.String()
		case "AUBDumpSubCaptureMode":
			overrides.SubCaptureMode = subcapture.Mode(reader.Int())
		case "AUBDumpFilterKernelStartIdx":
			overrides.FilterKernelStartIdx = reader.Int()
		case "AUBDumpFilterKernelEndIdx":
			overrides.FilterKernelEndIdx = reader.Int()
		case "AUBDumpFilterKernelName":
			overrides.FilterKernelName = reader.String()
		default:
			reader.SkipValue()
		}
	}

	if err := reader.Error(); err != nil {
		return DefaultOverrides(), errors.Wrap(err, "failed to parse overrides")
	}

	if overrides.DispatchMode > flatbb.DispatchModeBatched {
		return DefaultOverrides(), errors.Newf("CsrDispatchMode %d is not a dispatch mode", overrides.DispatchMode)
	}
	if overrides.SubCaptureMode > subcapture.ModeToggle {
		return DefaultOverrides(), errors.Newf("AUBDumpSubCaptureMode %d is not a sub-capture mode", overrides.SubCaptureMode)
	}

	return overrides, nil
}

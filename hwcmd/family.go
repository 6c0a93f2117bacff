package hwcmd

import (
	"encoding/binary"
	"fmt"

	"github.com/vkngwrapper/aubstream/pagetable"
)

// Family describes the command encodings and memory capabilities of one hardware generation. A command
// stream receiver is bound to a single Family at construction.
type Family interface {
	Name() string
	DefaultDeviceID() uint32
	LocalMemorySupported() bool

	BatchBufferStartSize() int
	StoreDataImmSize() int
	NoopSize() int

	// EncodeBatchBufferStart writes a jump to address into the first BatchBufferStartSize bytes of dst
	EncodeBatchBufferStart(dst []byte, address uint64, ppgtt bool)
	// EncodeStoreDataImm writes an instruction storing the 64-bit data at address into the first
	// StoreDataImmSize bytes of dst
	EncodeStoreDataImm(dst []byte, address uint64, data uint64)
	EncodeNoop(dst []byte)

	// EntryBits returns the page table entry bits used for ordinary writable mappings
	EntryBits(localMemory bool) uint64
}

const (
	miCommandOpcodeShift = 23

	miBatchBufferStartOpcode uint32 = 0x31
	miBatchBufferStartPPGTT  uint32 = 1 << 8
	miStoreDataImmOpcode     uint32 = 0x20
	miStoreDataImmStoreQword uint32 = 1 << 21

	miBatchBufferStartDwords = 3
	miStoreDataImmDwords     = 5
	miNoopDwords             = 1
	dwordSize                = 4

	batchBufferStartAlignMask uint64 = 0x3
)

func checkRoom(dst []byte, size int, command string) {
	if len(dst) < size {
		panic(fmt.Sprintf("%s needs %d bytes but only %d are available", command, size, len(dst)))
	}
}

type family struct {
	name                 string
	defaultDeviceID      uint32
	localMemorySupported bool
}

func (f *family) Name() string               { return f.name }
func (f *family) DefaultDeviceID() uint32    { return f.defaultDeviceID }
func (f *family) LocalMemorySupported() bool { return f.localMemorySupported }

func (f *family) BatchBufferStartSize() int { return miBatchBufferStartDwords * dwordSize }
func (f *family) StoreDataImmSize() int     { return miStoreDataImmDwords * dwordSize }
func (f *family) NoopSize() int             { return miNoopDwords * dwordSize }

func (f *family) EncodeBatchBufferStart(dst []byte, address uint64, ppgtt bool) {
	checkRoom(dst, f.BatchBufferStartSize(), "MI_BATCH_BUFFER_START")

	header := miBatchBufferStartOpcode<<miCommandOpcodeShift | (miBatchBufferStartDwords - 2)
	if ppgtt {
		header |= miBatchBufferStartPPGTT
	}

	address &^= batchBufferStartAlignMask
	binary.LittleEndian.PutUint32(dst[0:], header)
	binary.LittleEndian.PutUint32(dst[4:], uint32(address))
	binary.LittleEndian.PutUint32(dst[8:], uint32(address>>32))
}

func (f *family) EncodeStoreDataImm(dst []byte, address uint64, data uint64) {
	checkRoom(dst, f.StoreDataImmSize(), "MI_STORE_DATA_IMM")

	header := miStoreDataImmOpcode<<miCommandOpcodeShift | miStoreDataImmStoreQword | (miStoreDataImmDwords - 2)
	binary.LittleEndian.PutUint32(dst[0:], header)
	binary.LittleEndian.PutUint32(dst[4:], uint32(address))
	binary.LittleEndian.PutUint32(dst[8:], uint32(address>>32))
	binary.LittleEndian.PutUint64(dst[12:], data)
}

func (f *family) EncodeNoop(dst []byte) {
	checkRoom(dst, f.NoopSize(), "MI_NOOP")
	binary.LittleEndian.PutUint32(dst, 0)
}

func (f *family) EntryBits(localMemory bool) uint64 {
	bits := pagetable.EntryPresent | pagetable.EntryWritable
	if localMemory && f.localMemorySupported {
		bits |= pagetable.EntryLocalMemory
	}
	return bits.Bits()
}

// BatchBufferStartAddressOffset is the byte offset of the address field inside a batch-buffer-start
const BatchBufferStartAddressOffset = dwordSize

// StoreDataImmDataOffset is the byte offset of the data field inside a store-immediate instruction
const StoreDataImmDataOffset = 3 * dwordSize

// Gen8 returns the family of Broadwell-class devices, which only have system memory
func Gen8() Family {
	return &family{
		name:            "Gen8",
		defaultDeviceID: 0x1616,
	}
}

// Gen12LP returns the family of Xe-LP devices, which may carry device-local memory
func Gen12LP() Family {
	return &family{
		name:                 "Gen12LP",
		defaultDeviceID:      0x9a49,
		localMemorySupported: true,
	}
}

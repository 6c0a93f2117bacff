package csr_test

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/aubstream/csr"
	"github.com/vkngwrapper/aubstream/memory"
	tracemocks "github.com/vkngwrapper/aubstream/trace/mocks"
	"go.uber.org/mock/gomock"
)

func TestMakeResidentDeduplicates(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})
	alloc := allocateCommands(t, traced.manager, 0x100)

	traced.receiver.MakeResident(alloc)
	traced.receiver.MakeResident(alloc)
	require.Equal(t, []*memory.Allocation{alloc}, traced.receiver.ResidencyAllocations())
}

func TestExternalAllocations(t *testing.T) {
	testCases := map[string]struct {
		Remove   uint64
		Removed  bool
		Expected int
	}{
		"Matching": {
			Remove:   0x1000,
			Removed:  true,
			Expected: 0,
		},
		"NotMatching": {
			Remove:   0x2000,
			Removed:  false,
			Expected: 1,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			traced := createTracedReceiver(t, csr.CreateOptions{})

			traced.receiver.MakeResidentExternal(memory.AllocationView{Address: 0x1000, Size: 0x10})
			require.Len(t, traced.receiver.ExternalAllocations(), 1)

			require.Equal(t, testCase.Removed, traced.receiver.MakeNonResidentExternal(testCase.Remove))
			require.Len(t, traced.receiver.ExternalAllocations(), testCase.Expected)
		})
	}
}

func TestProcessResidencyWithEmptyExternalView(t *testing.T) {
	ctrl := gomock.NewController(t)
	stream := tracemocks.NewMockStream(ctrl)
	stream.EXPECT().WriteMemory(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	receiver, err := csr.New(testLogger(), stream, createManager(t), csr.CreateOptions{})
	require.NoError(t, err)

	receiver.MakeResidentExternal(memory.AllocationView{Address: 0x1000, Size: 0})

	success, err := receiver.ProcessResidency(nil)
	require.NoError(t, err)
	require.False(t, success)
	require.Equal(t, 1, receiver.Statistics().FailedWriteCount)
}

func TestProcessResidencyWritesExternalViewSize(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	traced.receiver.MakeResidentExternal(memory.AllocationView{Address: 0x1000, Size: 4, Data: data})

	success, err := traced.receiver.ProcessResidency(nil)
	require.NoError(t, err)
	require.True(t, success)

	writes := recordsOfKind(traced.records(t), "Memory")
	require.Len(t, writes, 1)
	require.Equal(t, "deadbeef", writes[0].Data)
	require.Equal(t, "TraceNonlocal", writes[0].Space)
}

func TestWriteMemorySize(t *testing.T) {
	testCases := map[string]struct {
		Compression memory.Compression
		Expected    int
	}{
		"Uncompressed": {
			Expected: 0x2000,
		},
		"RenderCompressed": {
			Compression: memory.Compression{RenderCompressed: true, AllocationSize: 0x3000},
			Expected:    0x3000,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			traced := createTracedReceiver(t, csr.CreateOptions{})

			alloc, err := traced.manager.Allocate(memory.AllocateInfo{
				Size:        0x2000,
				Type:        memory.TypeBuffer,
				Compression: testCase.Compression,
			})
			require.NoError(t, err)

			written, err := traced.receiver.WriteMemory(alloc)
			require.NoError(t, err)
			require.True(t, written)

			total := 0
			for _, write := range recordsOfKind(traced.records(t), "Memory") {
				raw, err := hex.DecodeString(write.Data)
				require.NoError(t, err)
				total += len(raw)
			}
			require.Equal(t, testCase.Expected, total)
			require.Equal(t, testCase.Expected, traced.receiver.Statistics().WriteBytes)
		})
	}
}

func TestWriteMemoryIsOneTimeForBuffers(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	buffer, err := traced.manager.Allocate(memory.AllocateInfo{Size: 0x100, Type: memory.TypeBuffer})
	require.NoError(t, err)
	commands := allocateCommands(t, traced.manager, 0x100)

	written, err := traced.receiver.WriteMemory(buffer)
	require.NoError(t, err)
	require.True(t, written)
	require.False(t, buffer.IsAubWritable())

	written, err = traced.receiver.WriteMemory(buffer)
	require.NoError(t, err)
	require.False(t, written)

	written, err = traced.receiver.WriteMemory(commands)
	require.NoError(t, err)
	require.True(t, written)
	require.True(t, commands.IsAubWritable())
}

func TestWriteMemoryWithoutHostShadowLocks(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	alloc, err := traced.manager.Allocate(memory.AllocateInfo{
		Size:  0x100,
		Type:  memory.TypeImage,
		Flags: memory.AllocateNoHostShadow,
	})
	require.NoError(t, err)

	written, err := traced.receiver.WriteMemory(alloc)
	require.NoError(t, err)
	require.True(t, written)
	require.Equal(t, 1, traced.manager.LockOperationCount())
	require.False(t, alloc.IsLocked())
}

func TestWriteMemoryOfFreedAllocationPanics(t *testing.T) {
	traced := createTracedReceiver(t, csr.CreateOptions{})

	alloc := allocateCommands(t, traced.manager, 0x100)
	require.NoError(t, traced.manager.Free(alloc))

	require.Panics(t, func() {
		_, _ = traced.receiver.WriteMemory(alloc)
	})
}

package flatbb_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/hwcmd"
	"github.com/vkngwrapper/aubstream/memory"
	"golang.org/x/exp/slog"
)

func createHelper(t *testing.T) (*flatbb.Helper, *memory.OSAgnosticManager) {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	manager, err := memory.NewOSAgnosticManager(logger, memory.CreateOptions{})
	require.NoError(t, err)
	return flatbb.NewHelper(logger, hwcmd.Gen8(), manager), manager
}

func allocateCommands(t *testing.T, manager *memory.OSAgnosticManager, size int, marker byte) *memory.Allocation {
	alloc, err := manager.Allocate(memory.AllocateInfo{Size: size, Type: memory.TypeCommandBuffer})
	require.NoError(t, err)
	alloc.HostShadow()[0] = marker
	return alloc
}

func chunkOf(alloc *memory.Allocation, start, end int) flatbb.CommandChunk {
	return flatbb.CommandChunk{
		HostBase:    alloc.HostShadow(),
		GPUBase:     alloc.GPUAddress(),
		StartOffset: start,
		EndOffset:   end,
	}
}

func TestFlattenWithoutChainedBufferIsNoop(t *testing.T) {
	for _, mode := range []flatbb.DispatchMode{
		flatbb.DispatchModeDefault,
		flatbb.DispatchModeImmediate,
		flatbb.DispatchModeAdaptive,
		flatbb.DispatchModeBatched,
	} {
		t.Run(mode.String(), func(t *testing.T) {
			helper, manager := createHelper(t)
			primary := allocateCommands(t, manager, 4096, 0x1)
			helper.RegisterCommandChunk(chunkOf(primary, 0, 0x40))

			bb := &flatbb.BatchBuffer{CommandBuffer: primary, ChainedBatchBufferStartOffset: 128}
			size := 0xffff

			flat, err := helper.FlattenBatchBuffer(bb, &size, mode)
			require.NoError(t, err)
			require.Nil(t, flat)
			require.Equal(t, 0xffff, size)
			require.Len(t, helper.CommandChunkList(), 1)
		})
	}
}

func TestFlattenOutsideImmediateOrBatchedIsNoop(t *testing.T) {
	helper, manager := createHelper(t)
	primary := allocateCommands(t, manager, 4096, 0x1)
	chained := allocateCommands(t, manager, 128, 0x2)

	bb := &flatbb.BatchBuffer{CommandBuffer: primary, ChainedBatchBufferStartOffset: 128, ChainedBatchBuffer: chained}
	size := 0xffff

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeAdaptive)
	require.NoError(t, err)
	require.Nil(t, flat)
	require.Equal(t, 0xffff, size)
}

func TestFlattenImmediateMergesPrimaryAndChained(t *testing.T) {
	helper, manager := createHelper(t)
	primary := allocateCommands(t, manager, 4096, 0x11)
	chained := allocateCommands(t, manager, 128, 0x22)

	bb := &flatbb.BatchBuffer{CommandBuffer: primary, ChainedBatchBufferStartOffset: 128, ChainedBatchBuffer: chained}
	size := 0xffff

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeImmediate)
	require.NoError(t, err)
	require.NotNil(t, flat)
	require.Equal(t, 0x1000, size)
	require.Equal(t, 0x1000, flat.Size())
	require.Equal(t, memory.TypeInternalHost, flat.Type())

	host := flat.HostShadow()
	require.Equal(t, byte(0x11), host[0])
	require.Equal(t, byte(0x22), host[128])

	require.NoError(t, manager.Free(flat))
}

func TestFlattenBatchedCopiesInExecutionOrder(t *testing.T) {
	helper, manager := createHelper(t)
	commands1 := allocateCommands(t, manager, 0x100, 0x1)
	commands2 := allocateCommands(t, manager, 0x100, 0x2)
	commands3 := allocateCommands(t, manager, 0x100, 0x3)

	helper.RegisterBatchBufferStartAddress(commands2.GPUAddress()+0x40, commands1.GPUAddress())
	helper.RegisterBatchBufferStartAddress(commands3.GPUAddress()+0x40, commands2.GPUAddress())

	helper.RegisterCommandChunk(chunkOf(commands1, 0, 0x50))
	helper.RegisterCommandChunk(chunkOf(commands2, 0, 0x50))
	helper.RegisterCommandChunk(chunkOf(commands3, 0, 0x50))
	require.Len(t, helper.CommandChunkList(), 3)

	helper.SetPatchInfoData(flatbb.PatchInfoData{
		SourceAllocation: 0xAAA, SourceAllocationOffset: 0xA, SourceType: flatbb.PatchIndirectObjectHeap,
		TargetAllocation: commands1.GPUAddress(), TargetAllocationOffset: 0x10, TargetType: flatbb.PatchDefault,
	})
	helper.SetPatchInfoData(flatbb.PatchInfoData{
		SourceAllocation: 0xBBB, SourceAllocationOffset: 0xA, SourceType: flatbb.PatchIndirectObjectHeap,
		TargetAllocation: commands1.GPUAddress(), TargetAllocationOffset: 0x60, TargetType: flatbb.PatchDefault,
	})
	helper.SetPatchInfoData(flatbb.PatchInfoData{
		SourceAllocation: 0xCCC, SourceAllocationOffset: 0xA, SourceType: flatbb.PatchIndirectObjectHeap,
		TargetAllocation: 0, TargetAllocationOffset: 0x10, TargetType: flatbb.PatchDefault,
	})
	require.Len(t, helper.PatchInfoCollection(), 3)

	bb := &flatbb.BatchBuffer{CommandBuffer: commands3, ChainedBatchBufferStartOffset: 0x40, ChainedBatchBuffer: commands2}
	size := 0

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	require.NoError(t, err)
	require.NotNil(t, flat)
	require.Equal(t, 0x1000, size)

	host := flat.HostShadow()
	require.Equal(t, byte(0x3), host[0])
	require.Equal(t, byte(0x2), host[0x40])
	require.Equal(t, byte(0x1), host[0x80])

	collection := helper.PatchInfoCollection()
	require.Len(t, collection, 1)
	require.Equal(t, uint64(0xAAA), collection[0].SourceAllocation)
	require.Equal(t, flat.GPUAddress(), collection[0].TargetAllocation)
	require.Equal(t, uint64(0x90), collection[0].TargetAllocationOffset)
	require.Equal(t, flatbb.PatchDefault, collection[0].TargetType)

	require.Empty(t, helper.CommandChunkList())
	require.Empty(t, helper.BatchBufferStartAddressSequence())
}

func TestFlattenChainReverseDiscoveryOrder(t *testing.T) {
	helper, manager := createHelper(t)
	a := allocateCommands(t, manager, 0x300, 0xA)
	b := allocateCommands(t, manager, 0x200, 0xB)
	c := allocateCommands(t, manager, 0x100, 0xC)

	// B jumps into A and C jumps into B; each jump sits at the end of its chunk
	helper.RegisterCommandChunk(chunkOf(a, 0, 0x300))
	helper.RegisterCommandChunk(chunkOf(b, 0, 0x200+12))
	helper.RegisterCommandChunk(chunkOf(c, 0, 0x100))
	helper.RegisterBatchBufferStartAddress(b.GPUAddress()+0x200, a.GPUAddress())
	helper.RegisterBatchBufferStartAddress(c.GPUAddress()+0xf0, b.GPUAddress())

	bb := &flatbb.BatchBuffer{CommandBuffer: c, ChainedBatchBuffer: b}
	size := 0

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	require.NoError(t, err)
	require.Equal(t, 0x1000, size)

	host := flat.HostShadow()
	require.Equal(t, byte(0xC), host[0])
	require.Equal(t, byte(0xB), host[0xf0])
	require.Equal(t, byte(0xA), host[0xf0+0x200])
}

func TestFlattenBatchedWithoutChunksPanics(t *testing.T) {
	helper, manager := createHelper(t)
	primary := allocateCommands(t, manager, 0x100, 0x1)
	chained := allocateCommands(t, manager, 0x100, 0x2)

	bb := &flatbb.BatchBuffer{CommandBuffer: primary, ChainedBatchBuffer: chained}
	size := 0

	require.Panics(t, func() {
		_, _ = helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	})
}

func TestFlattenJumpCyclePanics(t *testing.T) {
	helper, manager := createHelper(t)
	head := allocateCommands(t, manager, 0x100, 0x1)
	loop := allocateCommands(t, manager, 0x100, 0x2)

	helper.RegisterCommandChunk(chunkOf(head, 0, 0x40))
	helper.RegisterCommandChunk(chunkOf(loop, 0, 0x40))
	helper.RegisterBatchBufferStartAddress(head.GPUAddress()+0x30, loop.GPUAddress())
	helper.RegisterBatchBufferStartAddress(loop.GPUAddress()+0x30, loop.GPUAddress())

	bb := &flatbb.BatchBuffer{CommandBuffer: head, ChainedBatchBuffer: loop}
	size := 0

	require.Panics(t, func() {
		_, _ = helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	})
}

func TestFlattenDropsUnreachableChunks(t *testing.T) {
	helper, manager := createHelper(t)
	head := allocateCommands(t, manager, 0x100, 0x1)
	orphan := allocateCommands(t, manager, 0x100, 0x2)

	helper.RegisterCommandChunk(chunkOf(head, 0, 0x40))
	helper.RegisterCommandChunk(chunkOf(orphan, 0, 0x40))

	bb := &flatbb.BatchBuffer{CommandBuffer: head, ChainedBatchBuffer: orphan}
	size := 0

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	require.NoError(t, err)
	require.Equal(t, 0x1000, size)
	require.Equal(t, byte(0x1), flat.HostShadow()[0])
	require.Equal(t, byte(0), flat.HostShadow()[0x40])
}

func TestFlattenPlacesIndirectPatchCommandsAfterHead(t *testing.T) {
	helper, manager := createHelper(t)
	head := allocateCommands(t, manager, 0x100, 0x1)
	chained := allocateCommands(t, manager, 0x100, 0x2)

	helper.RegisterCommandChunk(chunkOf(head, 0, 0x40))
	helper.RegisterCommandChunk(chunkOf(chained, 0, 0x20))
	helper.RegisterBatchBufferStartAddress(head.GPUAddress()+0x30, chained.GPUAddress())

	helper.SetPatchInfoData(flatbb.PatchInfoData{
		SourceAllocation: head.GPUAddress(), SourceAllocationOffset: 0x8, SourceType: flatbb.PatchIndirectObjectHeap,
		TargetAllocation: 0x5000000, TargetAllocationOffset: 0x4, TargetType: flatbb.PatchIndirectObjectHeap,
	})

	bb := &flatbb.BatchBuffer{CommandBuffer: head, ChainedBatchBufferStartOffset: 0x30, ChainedBatchBuffer: chained}
	size := 0

	flat, err := helper.FlattenBatchBuffer(bb, &size, flatbb.DispatchModeBatched)
	require.NoError(t, err)

	family := hwcmd.Gen8()
	commandSize := family.StoreDataImmSize()
	host := flat.HostShadow()

	require.Equal(t, byte(0x1), host[0])
	require.Equal(t, byte(0x2), host[0x30+commandSize])

	command := host[0x30 : 0x30+commandSize]
	require.Equal(t, uint32(flat.GPUAddress()+0x8), binary.LittleEndian.Uint32(command[4:]))
	require.Equal(t, uint64(0x5000004), binary.LittleEndian.Uint64(command[hwcmd.StoreDataImmDataOffset:]))

	collection := helper.PatchInfoCollection()
	require.Len(t, collection, 1)
	require.Equal(t, flat.GPUAddress(), collection[0].SourceAllocation)
	require.Equal(t, uint64(0x30+hwcmd.StoreDataImmDataOffset), collection[0].SourceAllocationOffset)
	require.Equal(t, uint64(0x5000000), collection[0].TargetAllocation)
	require.False(t, collection[0].RequiresIndirectPatching())

	commands, patches := helper.IndirectPatchCommands()
	require.Empty(t, commands)
	require.Empty(t, patches)
}

func TestRemovePatchInfoData(t *testing.T) {
	helper, _ := createHelper(t)

	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0xA000, SourceType: flatbb.PatchKernelArg, TargetAllocation: 0xB000})
	require.Len(t, helper.PatchInfoCollection(), 1)

	require.False(t, helper.RemovePatchInfoData(0xC000))
	require.Len(t, helper.PatchInfoCollection(), 1)

	require.True(t, helper.RemovePatchInfoData(0xB000))
	require.Empty(t, helper.PatchInfoCollection())
}

func TestRemovePatchInfoDataRemovesOnlyMatchingTargets(t *testing.T) {
	helper, _ := createHelper(t)

	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x1000, TargetAllocation: 0xB000})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x2000, TargetAllocation: 0xD000})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x3000, TargetAllocation: 0xB000, TargetAllocationOffset: 0x40})

	require.True(t, helper.RemovePatchInfoData(0xB000))

	collection := helper.PatchInfoCollection()
	require.Len(t, collection, 1)
	require.Equal(t, uint64(0x2000), collection[0].SourceAllocation)
}

func TestIndirectPatchCommandsEmpty(t *testing.T) {
	helper, _ := createHelper(t)

	commands, patches := helper.IndirectPatchCommands()
	require.Len(t, commands, 0)
	require.Len(t, patches, 0)
}

func TestIndirectPatchCommandsCollapseSourceTypeRuns(t *testing.T) {
	helper, _ := createHelper(t)

	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x1000, SourceType: flatbb.PatchKernelArg, TargetAllocation: 0x8000, TargetType: flatbb.PatchIndirectObjectHeap})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x2000, SourceType: flatbb.PatchKernelArg, TargetAllocation: 0x9000, TargetType: flatbb.PatchIndirectObjectHeap})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x3000, SourceType: flatbb.PatchIndirectObjectHeap, TargetAllocation: 0xA000, TargetType: flatbb.PatchIndirectObjectHeap})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x4000, SourceType: flatbb.PatchIndirectObjectHeap, TargetAllocation: 0xB000, TargetType: flatbb.PatchIndirectObjectHeap})

	commands, patches := helper.IndirectPatchCommands()

	commandSize := hwcmd.Gen8().StoreDataImmSize()
	require.Len(t, commands, 2*commandSize)
	require.Len(t, patches, 4)
	require.Empty(t, helper.PatchInfoCollection())

	require.Equal(t, uint32(0x1000), binary.LittleEndian.Uint32(commands[4:]))
	require.Equal(t, uint64(0x8000), binary.LittleEndian.Uint64(commands[hwcmd.StoreDataImmDataOffset:]))
	require.Equal(t, uint32(0x3000), binary.LittleEndian.Uint32(commands[commandSize+4:]))
	require.Equal(t, uint64(0xA000), binary.LittleEndian.Uint64(commands[commandSize+hwcmd.StoreDataImmDataOffset:]))
}

func TestIndirectPatchCommandsLeaveDirectPatches(t *testing.T) {
	helper, _ := createHelper(t)

	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x1000, SourceType: flatbb.PatchKernelArg, TargetAllocation: 0x8000, TargetType: flatbb.PatchIndirectObjectHeap})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x2000, SourceType: flatbb.PatchKernelArg, TargetAllocation: 0x9000, TargetType: flatbb.PatchIndirectObjectHeap})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x3000, SourceType: flatbb.PatchIndirectObjectHeap, TargetAllocation: 0xA000, TargetType: flatbb.PatchDefault})
	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x4000, SourceType: flatbb.PatchDefault, TargetAllocation: 0xB000, TargetType: flatbb.PatchGUCStartMessage})

	commands, patches := helper.IndirectPatchCommands()
	require.Len(t, commands, hwcmd.Gen8().StoreDataImmSize())
	require.Len(t, patches, 2)

	remaining := helper.PatchInfoCollection()
	require.Len(t, remaining, 2)
	require.Equal(t, uint64(0x3000), remaining[0].SourceAllocation)
	require.Equal(t, uint64(0x4000), remaining[1].SourceAllocation)
}

func TestRegisterCommandChunk(t *testing.T) {
	helper, manager := createHelper(t)
	primary := allocateCommands(t, manager, 4096, 0x1)

	bb := &flatbb.BatchBuffer{CommandBuffer: primary, ChainedBatchBufferStartOffset: 128}
	batchBufferStartSize := hwcmd.Gen8().BatchBufferStartSize()

	helper.RegisterCommandChunkForBatchBuffer(bb, batchBufferStartSize)
	chunks := helper.CommandChunkList()
	require.Len(t, chunks, 1)
	require.Equal(t, 128+batchBufferStartSize, chunks[0].EndOffset)
	require.Equal(t, primary.GPUAddress(), chunks[0].GPUBase)

	helper.RegisterCommandChunk(flatbb.CommandChunk{EndOffset: 0x123})
	chunks = helper.CommandChunkList()
	require.Len(t, chunks, 2)
	require.Equal(t, 0x123, chunks[1].EndOffset)
}

func TestRegisterBatchBufferChain(t *testing.T) {
	helper, manager := createHelper(t)
	primary := allocateCommands(t, manager, 4096, 0x1)
	chained := allocateCommands(t, manager, 256, 0x2)

	require.NoError(t, helper.RegisterBatchBufferChain(&flatbb.BatchBuffer{CommandBuffer: primary}))
	require.Empty(t, helper.CommandChunkList())

	bb := &flatbb.BatchBuffer{
		CommandBuffer:                 primary,
		ChainedBatchBuffer:            chained,
		ChainedBatchBufferStartOffset: 128,
		StartOffset:                   16,
	}
	require.NoError(t, helper.RegisterBatchBufferChain(bb))

	chunks := helper.CommandChunkList()
	require.Len(t, chunks, 2)
	require.Equal(t, primary.GPUAddress(), chunks[0].GPUBase)
	require.Equal(t, 16, chunks[0].StartOffset)
	require.Equal(t, 128+hwcmd.Gen8().BatchBufferStartSize(), chunks[0].EndOffset)
	require.Equal(t, chained.GPUAddress(), chunks[1].GPUBase)
	require.Equal(t, 0, chunks[1].StartOffset)
	require.Equal(t, 256, chunks[1].EndOffset)

	require.Equal(t, []flatbb.JumpEdge{
		{Location: primary.GPUAddress() + 128, Target: chained.GPUAddress()},
	}, helper.BatchBufferStartAddressSequence())
}

func TestRegisterBatchBufferStartAddressKeepsLatestTarget(t *testing.T) {
	helper, _ := createHelper(t)

	helper.RegisterBatchBufferStartAddress(0x1000, 0xA000)
	helper.RegisterBatchBufferStartAddress(0x2000, 0xC000)
	helper.RegisterBatchBufferStartAddress(0x1000, 0xB000)

	require.Equal(t, []flatbb.JumpEdge{
		{Location: 0x1000, Target: 0xB000},
		{Location: 0x2000, Target: 0xC000},
	}, helper.BatchBufferStartAddressSequence())
}

func TestDrainPatchInfoCollection(t *testing.T) {
	helper, _ := createHelper(t)

	helper.SetPatchInfoData(flatbb.PatchInfoData{SourceAllocation: 0x1000, TargetAllocation: 0xB000})
	drained := helper.DrainPatchInfoCollection()
	require.Len(t, drained, 1)
	require.Empty(t, helper.PatchInfoCollection())
}

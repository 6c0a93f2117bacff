package csr

import (
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/memory"
)

//go:generate mockgen -source flattener.go -destination ./mocks/mock_flattener.go -package mocks

// BatchBufferFlattener keeps the relocation and jump bookkeeping of a receiver and merges chained
// command buffers. flatbb.Helper is the implementation every receiver starts with.
type BatchBufferFlattener interface {
	FlattenBatchBuffer(bb *flatbb.BatchBuffer, sizeBatchBuffer *int, mode flatbb.DispatchMode) (*memory.Allocation, error)
	IndirectPatchCommands() ([]byte, []flatbb.PatchInfoData)

	RegisterBatchBufferStartAddress(location, target uint64)
	RegisterBatchBufferChain(bb *flatbb.BatchBuffer) error

	SetPatchInfoData(data flatbb.PatchInfoData)
	RemovePatchInfoData(target uint64) bool
	DrainPatchInfoCollection() []flatbb.PatchInfoData
}

var _ BatchBufferFlattener = &flatbb.Helper{}

package csr

import (
	"fmt"
	"strings"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/aubstream/flatbb"
	"github.com/vkngwrapper/aubstream/pagetable"
	"golang.org/x/exp/slices"
)

// AddPatchInfoComments drains the registered relocations into two trace comments: a PatchInfoData section
// with one line per relocation and an AllocationsList section mapping every referenced GPU address to its
// physical address. It reports whether any relocation was described.
func (r *CommandStreamReceiver) AddPatchInfoComments() bool {
	r.logger.Debug("CommandStreamReceiver::AddPatchInfoComments")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.addPatchInfoComments()
}

func (r *CommandStreamReceiver) addPatchInfoComments() bool {
	collection := r.flattener.DrainPatchInfoCollection()
	physical := swiss.NewMap[uint64, uint64](uint32(2*len(collection) + 1))

	var patches strings.Builder
	patches.WriteString("PatchInfoData\n")
	for _, data := range collection {
		patches.WriteString(patchComment(data))
		patches.WriteByte('\n')

		r.recordPhysicalAddress(physical, data.SourceAllocation)
		r.recordPhysicalAddress(physical, data.TargetAllocation)
	}
	r.stream.AddComment(patches.String())

	addresses := make([]uint64, 0, physical.Count())
	physical.Iter(func(address uint64, _ uint64) bool {
		addresses = append(addresses, address)
		return false
	})
	slices.Sort(addresses)

	var allocations strings.Builder
	allocations.WriteString("AllocationsList\n")
	for _, address := range addresses {
		physicalAddress, _ := physical.Get(address)
		fmt.Fprintf(&allocations, "%x;%x\n", address, physicalAddress)
	}
	r.stream.AddComment(allocations.String())

	return len(collection) > 0
}

func (r *CommandStreamReceiver) recordPhysicalAddress(physical *swiss.Map[uint64, uint64], address uint64) {
	if address == 0 || physical.Has(address) {
		return
	}
	if r.ppgtt.AddressBits() < 64 && address >= uint64(1)<<r.ppgtt.AddressBits() {
		return
	}
	physical.Put(address, r.ppgtt.Map(address, 1, 0, pagetable.MainBank))
}

// patchComment formats a single relocation the way it appears in the PatchInfoData section
func patchComment(data flatbb.PatchInfoData) string {
	return fmt.Sprintf("%x;%x;%x;%x;%x;%x",
		data.SourceAllocation,
		data.SourceAllocationOffset,
		uint32(data.SourceType),
		data.TargetAllocation,
		data.TargetAllocationOffset,
		uint32(data.TargetType))
}

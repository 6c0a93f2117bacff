package csr

import (
	"github.com/vkngwrapper/aubstream/gtt"
	"github.com/vkngwrapper/aubstream/pagetable"
	"github.com/vkngwrapper/aubstream/trace"
)

// ExpectMemoryEqual asks the simulator to check that the memory at GPU address matches data during replay
func (r *CommandStreamReceiver) ExpectMemoryEqual(address uint64, data []byte) {
	r.expectMemory(address, data, trace.CompareEqual)
}

// ExpectMemoryNotEqual asks the simulator to check that the memory at GPU address differs from data during
// replay
func (r *CommandStreamReceiver) ExpectMemoryNotEqual(address uint64, data []byte) {
	r.expectMemory(address, data, trace.CompareNotEqual)
}

func (r *CommandStreamReceiver) expectMemory(address uint64, data []byte, op trace.CompareOperation) {
	r.logger.Debug("CommandStreamReceiver::ExpectMemory")

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.ppgtt.PageWalk(address, len(data), 0, 0, func(physicalAddress uint64, size int, offset int, entryBits uint64) {
		r.stream.ExpectMemory(physicalAddress, data[offset:offset+size], gtt.AddressSpaceFromEntryBits(entryBits), op)
	}, pagetable.MainBank)
}

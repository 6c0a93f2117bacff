package csr

import (
	"github.com/vkngwrapper/aubstream/memory"
)

// EngineType identifies one hardware engine of the simulated device
type EngineType uint32

const (
	EngineRCS EngineType = iota
	EngineBCS
	EngineVCS
	EngineVECS
	EngineCCS

	engineCount
)

var engineTypeMapping = make(map[EngineType]string)

func (e EngineType) String() string {
	str, ok := engineTypeMapping[e]
	if !ok {
		return "unknown"
	}
	return str
}

func init() {
	engineTypeMapping[EngineRCS] = "EngineRCS"
	engineTypeMapping[EngineBCS] = "EngineBCS"
	engineTypeMapping[EngineVCS] = "EngineVCS"
	engineTypeMapping[EngineVECS] = "EngineVECS"
	engineTypeMapping[EngineCCS] = "EngineCCS"
}

var engineMMIOBase = [engineCount]uint32{
	EngineRCS:  0x2000,
	EngineBCS:  0x22000,
	EngineVCS:  0x1C0000,
	EngineVECS: 0x1C8000,
	EngineCCS:  0x1A000,
}

// MMIOBase is the register block base of the engine
func (e EngineType) MMIOBase() uint32 {
	return engineMMIOBase[e]
}

const (
	ringTailRegister  uint32 = 0x30
	ringHeadRegister  uint32 = 0x34
	ringStartRegister uint32 = 0x38
	ringCtlRegister   uint32 = 0x3C

	ringCtlEnable uint32 = 1

	ringBufferSize = 0x4000
)

type engineState struct {
	initialized   bool
	ring          *memory.Allocation
	tail          int
	contextHandle uint32
}

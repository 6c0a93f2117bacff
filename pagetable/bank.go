package pagetable

import "fmt"

// MemoryBank selects which simulated memory a physical page is taken from. The main bank is
// system memory, every other bank is a device-local memory region.
type MemoryBank uint32

const (
	MainBank MemoryBank = 0
)

// BankForLocalMemory returns the bank backing device-local memory of the device with the given ordinal
func BankForLocalMemory(deviceOrdinal uint32) MemoryBank {
	return MemoryBank(deviceOrdinal + 1)
}

func (b MemoryBank) IsLocal() bool {
	return b != MainBank
}

func (b MemoryBank) String() string {
	if b == MainBank {
		return "MainBank"
	}
	return fmt.Sprintf("LocalBank%d", uint32(b)-1)
}

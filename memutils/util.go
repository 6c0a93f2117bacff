package memutils

import (
	cerrors "github.com/cockroachdb/errors"
)

const (
	// PageSize is the device page size used by every simulated address space
	PageSize uint64 = 0x1000
	// PageSize64K is the size of a large page
	PageSize64K uint64 = 0x10000
)

type Number interface {
	~int | ~uint | ~uint32 | ~uint64
}

func CheckPow2[T Number](number T, name string) error {
	if number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func CheckAligned[T Number](value T, alignment T, name string) error {
	if !IsAligned(value, alignment) {
		return cerrors.Wrapf(AlignmentError, "%s (%#x) is not aligned to %#x", name, value, alignment)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}

func IsAligned[T Number](value T, alignment T) bool {
	return value&(alignment-1) == 0
}

// PageCount returns the number of device pages touched by the range [address, address+size)
func PageCount(address uint64, size int) int {
	if size <= 0 {
		return 0
	}
	first := AlignDown(address, PageSize)
	last := AlignUp(address+uint64(size), PageSize)
	return int((last - first) / PageSize)
}

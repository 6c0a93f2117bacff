package vaspace

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/aubstream/memutils"
	"golang.org/x/exp/slices"
)

type freeRange struct {
	offset uint64
	size   uint64
}

func (r freeRange) end() uint64 { return r.offset + r.size }

// Space hands out ranges of a virtual address space, first fit. Freed ranges are merged with their
// free neighbors so the free list never holds two adjacent ranges.
type Space struct {
	base uint64
	size uint64

	freeRanges []freeRange
	freeBytes  uint64
}

func New(base uint64, size uint64) *Space {
	return &Space{
		base:       base,
		size:       size,
		freeRanges: []freeRange{{offset: base, size: size}},
		freeBytes:  size,
	}
}

func (s *Space) Base() uint64        { return s.base }
func (s *Space) Size() uint64        { return s.size }
func (s *Space) FreeBytes() uint64   { return s.freeBytes }
func (s *Space) FreeRangeCount() int { return len(s.freeRanges) }
func (s *Space) IsEmpty() bool       { return s.freeBytes == s.size }

func (s *Space) contains(r freeRange) bool {
	return r.offset >= s.base && r.end() <= s.base+s.size && r.end() >= r.offset
}

// Allocate reserves size bytes aligned to alignment and returns the address of the reservation. The second
// return value is false when no free range can hold the request.
func (s *Space) Allocate(size uint64, alignment uint64) (uint64, bool) {
	memutils.DebugCheckPow2(alignment, "alignment")
	if size == 0 {
		size = 1
	}
	if alignment == 0 {
		alignment = 1
	}

	for index, candidate := range s.freeRanges {
		start := memutils.AlignUp(candidate.offset, alignment)
		if start < candidate.offset || start+size < start || start+size > candidate.end() {
			continue
		}

		var replacement []freeRange
		if start > candidate.offset {
			replacement = append(replacement, freeRange{offset: candidate.offset, size: start - candidate.offset})
		}
		if start+size < candidate.end() {
			replacement = append(replacement, freeRange{offset: start + size, size: candidate.end() - (start + size)})
		}

		s.freeRanges = slices.Replace(s.freeRanges, index, index+1, replacement...)
		s.freeBytes -= size

		memutils.DebugValidate(s)
		return start, true
	}

	return 0, false
}

// Free returns a range previously handed out by Allocate
func (s *Space) Free(address uint64, size uint64) error {
	if size == 0 {
		size = 1
	}

	released := freeRange{offset: address, size: size}
	if !s.contains(released) {
		return errors.Newf("range %#x+%#x lies outside of the address space %#x+%#x", address, size, s.base, s.size)
	}

	index, _ := slices.BinarySearchFunc(s.freeRanges, address, func(r freeRange, target uint64) int {
		switch {
		case r.offset < target:
			return -1
		case r.offset > target:
			return 1
		}
		return 0
	})

	if index > 0 && s.freeRanges[index-1].end() > address {
		return errors.Newf("range %#x+%#x overlaps free range %#x+%#x", address, size, s.freeRanges[index-1].offset, s.freeRanges[index-1].size)
	}
	if index < len(s.freeRanges) && s.freeRanges[index].offset < released.end() {
		return errors.Newf("range %#x+%#x overlaps free range %#x+%#x", address, size, s.freeRanges[index].offset, s.freeRanges[index].size)
	}

	mergePrev := index > 0 && s.freeRanges[index-1].end() == address
	mergeNext := index < len(s.freeRanges) && s.freeRanges[index].offset == released.end()

	switch {
	case mergePrev && mergeNext:
		s.freeRanges[index-1].size += size + s.freeRanges[index].size
		s.freeRanges = slices.Delete(s.freeRanges, index, index+1)
	case mergePrev:
		s.freeRanges[index-1].size += size
	case mergeNext:
		s.freeRanges[index].offset = address
		s.freeRanges[index].size += size
	default:
		s.freeRanges = slices.Insert(s.freeRanges, index, released)
	}
	s.freeBytes += size

	memutils.DebugValidate(s)
	return nil
}

func (s *Space) Validate() error {
	var total uint64
	for index, r := range s.freeRanges {
		if r.size == 0 {
			return errors.Newf("free range %d is empty", index)
		}
		if !s.contains(r) {
			return errors.Newf("free range %#x+%#x lies outside of the address space", r.offset, r.size)
		}
		if index > 0 && s.freeRanges[index-1].end() >= r.offset {
			return errors.Newf("free ranges %d and %d are adjacent or overlapping", index-1, index)
		}
		total += r.size
	}

	if total != s.freeBytes {
		return errors.Newf("the listed number of free bytes (%d) does not match the actual number of free bytes (%d)", s.freeBytes, total)
	}

	return nil
}

package memory

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

// allocationList is an intrusive list of the live allocations of a manager, in creation order
type allocationList struct {
	count              int
	allocationListHead *Allocation
	allocationListTail *Allocation
}

func (l *allocationList) Validate() error {
	declaredCount := l.count
	actualCount := 0

	var prev *Allocation
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextAlloc {
		if alloc.prevAlloc != prev {
			return errors.Errorf("allocation %s does not point back at its predecessor in the list", alloc)
		}
		if alloc.freed {
			return errors.Errorf("freed allocation %s is still in the list", alloc)
		}
		prev = alloc
		actualCount++
	}

	if prev != l.allocationListTail {
		return errors.New("the tail of the allocation list is not the last allocation")
	}

	if declaredCount != actualCount {
		return errors.Errorf("the listed number of allocations in the list (%d) does not match the actual number of allocations (%d)", declaredCount, actualCount)
	}

	return nil
}

func (l *allocationList) TotalBytes() int {
	total := 0
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextAlloc {
		total += alloc.size
	}
	return total
}

func (l *allocationList) BuildStatsString(writer *jwriter.ArrayState) {
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.nextAlloc {
		o := writer.Object()
		alloc.printParameters(&o)
		o.End()
	}
}

func (l *allocationList) IsEmpty() bool {
	return l.count == 0
}

func (l *allocationList) Count() int {
	return l.count
}

func (l *allocationList) Register(alloc *Allocation) {
	if l.count == 0 {
		l.allocationListHead = alloc
		l.allocationListTail = alloc
		l.count = 1
		return
	}

	alloc.prevAlloc = l.allocationListTail
	l.allocationListTail.nextAlloc = alloc

	l.allocationListTail = alloc
	l.count++
}

func (l *allocationList) Unregister(alloc *Allocation) {
	prev := alloc.prevAlloc
	next := alloc.nextAlloc

	if prev != nil {
		prev.nextAlloc = next
	} else {
		l.allocationListHead = next
	}

	if next != nil {
		next.prevAlloc = prev
	} else {
		l.allocationListTail = prev
	}

	alloc.nextAlloc = nil
	alloc.prevAlloc = nil

	l.count--
}

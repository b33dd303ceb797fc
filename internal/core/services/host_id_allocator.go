package services

import (
	"sync/atomic"

	"p2prelay/internal/core/domain"
)

// HostIDAllocator hands out process-unique host IDs. IDs are never handed out
// twice within the life of the allocator, so a live session's ID is never reused.
type HostIDAllocator struct {
	next atomic.Uint32
}

// NewHostIDAllocator returns an allocator whose first ID is first.
func NewHostIDAllocator(first domain.HostID) *HostIDAllocator {
	a := &HostIDAllocator{}
	if first == 0 {
		first = 1
	}
	a.next.Store(uint32(first) - 1)
	return a
}

func (a *HostIDAllocator) Next() domain.HostID {
	for {
		id := domain.HostID(a.next.Add(1))
		if id != 0 {
			return id
		}
	}
}

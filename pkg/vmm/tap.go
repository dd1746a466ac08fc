package vmm

import "sync/atomic"

// TapAllocator hands out monotonically increasing TAP device indexes,
// generalized from the teacher's pkg/network host-port bookkeeping to the
// VMM's network-device bookkeeping.
type TapAllocator struct {
	next atomic.Uint64
}

// NewTapAllocator starts allocation at start.
func NewTapAllocator(start uint64) *TapAllocator {
	t := &TapAllocator{}
	t.next.Store(start)
	return t
}

// Allocate returns the next unused TAP index.
func (t *TapAllocator) Allocate() uint64 {
	return t.next.Add(1) - 1
}

package rpc

import "container/heap"

// DupTracker detects duplicate sequence numbers. Numbers arrive mostly in
// order but may be duplicated or slightly reordered, so neither a
// high-water mark nor an ever-growing set is good enough. Seen numbers are
// kept in both a set (for lookup) and a min-heap; once the two lowest
// tracked numbers are adjacent the lowest is dropped, which keeps memory
// bounded while still knowing the largest N such that all of 0..N have
// been seen.
type DupTracker struct {
	heap seqHeap
	set  map[int64]struct{}
}

func NewDupTracker() *DupTracker {
	return &DupTracker{
		heap: seqHeap{-1},
		set:  map[int64]struct{}{-1: {}},
	}
}

// IsNew reports whether n has not been passed to IsNew before.
func (d *DupTracker) IsNew(n int64) bool {
	if n <= d.heap[0] {
		return false
	}
	if _, ok := d.set[n]; ok {
		return false
	}

	d.set[n] = struct{}{}
	heap.Push(&d.heap, n)

	// Evict the contiguous prefix.
	for {
		if _, ok := d.set[d.heap[0]+1]; !ok {
			break
		}
		delete(d.set, d.heap[0])
		heap.Pop(&d.heap)
	}
	return true
}

// LowestStillTracked returns the maximum number such that it and all
// lower numbers have been seen.
func (d *DupTracker) LowestStillTracked() int64 {
	return d.heap[0]
}

type seqHeap []int64

func (h seqHeap) Len() int            { return len(h) }
func (h seqHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h seqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *seqHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *seqHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"container/heap"
	"sort"
)

// evictHeap is a container/heap min-heap over pooled entries ordered by
// priority ascending, so its root is always the lowest-priority entry:
// spec.md §8's eviction rule, "priority is strictly (fee/size,
// arrival_time)". The teacher reaches for container/list for its mempool's
// ordering; container/heap is the standard-library counterpart for a
// priority queue, used here rather than a hand-rolled structure since no
// third-party priority-queue library appears anywhere in the retrieval
// pack.
type evictHeap []*entry

func (h evictHeap) Len() int { return len(h) }

func (h evictHeap) Less(i, j int) bool {
	if h[i].feeRate != h[j].feeRate {
		return h[i].feeRate < h[j].feeRate
	}
	// Equal fee rate: the most recently arrived is considered
	// lower-priority, so a burst of same-fee spam evicts itself before
	// displacing transactions that have been waiting longer.
	return h[i].arrival > h[j].arrival
}

func (h evictHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *evictHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *evictHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// PushEntry adds e to the heap, maintaining the heap invariant. Named
// distinctly from the heap.Interface Push method (which container/heap
// calls internally and which does not reorder the slice by itself).
func (h *evictHeap) PushEntry(e *entry) { heap.Push(h, e) }

// PopLowest removes and returns the current lowest-priority entry.
func (h *evictHeap) PopLowest() *entry {
	return heap.Pop(h).(*entry)
}

// Remove deletes e from the heap given its tracked index.
func (h *evictHeap) Remove(e *entry) {
	if e.heapIdx < 0 || e.heapIdx >= h.Len() {
		return
	}
	heap.Remove(h, e.heapIdx)
}

// sortByPriority orders entries by descending priority (highest fee/size
// first, earliest arrival breaking ties) for block-assembly selection —
// the mirror image of evictHeap's ascending eviction order.
func sortByPriority(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].feeRate != entries[j].feeRate {
			return entries[i].feeRate > entries[j].feeRate
		}
		return entries[i].arrival < entries[j].arrival
	})
}

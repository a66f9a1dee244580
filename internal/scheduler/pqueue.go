package scheduler

import (
	"container/heap"

	"github.com/parasync/parasync/internal/types"
)

// PriorityQueue pre-orders a bulk set of file entries by size (smaller
// size → popped first) ahead of submission, and can partition entries by
// size category. It is a convenience wrapper around container/heap; the
// scheduler itself does not consult it — SubmitBatch achieves the same
// ordering with a plain sort for the common case, and this type exists for
// callers that want incremental push/pop access instead of a one-shot sort.
type PriorityQueue struct {
	items pqItems
}

type pqItem struct {
	entry *types.FileEntry
}

type pqItems []pqItem

func (q pqItems) Len() int            { return len(q) }
func (q pqItems) Less(i, j int) bool  { return q[i].entry.Size < q[j].entry.Size }
func (q pqItems) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pqItems) Push(x interface{}) { *q = append(*q, x.(pqItem)) }
func (q *pqItems) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// NewPriorityQueue returns an empty queue ready for Push.
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{}
	heap.Init(&pq.items)
	return pq
}

// Push inserts an entry, maintaining heap order.
func (pq *PriorityQueue) Push(entry *types.FileEntry) {
	heap.Push(&pq.items, pqItem{entry: entry})
}

// Pop removes and returns the smallest-size entry. Returns nil when empty.
func (pq *PriorityQueue) Pop() *types.FileEntry {
	if pq.items.Len() == 0 {
		return nil
	}
	item := heap.Pop(&pq.items).(pqItem)
	return item.entry
}

// Len reports the number of entries currently queued.
func (pq *PriorityQueue) Len() int { return pq.items.Len() }

// PartitionBySizeCategory buckets entries into the five SizeCategory
// groups without altering per-bucket order.
func PartitionBySizeCategory(entries []*types.FileEntry) map[types.SizeCategory][]*types.FileEntry {
	out := make(map[types.SizeCategory][]*types.FileEntry)
	for _, e := range entries {
		cat := types.CategoryForSize(e.Size)
		out[cat] = append(out[cat], e)
	}
	return out
}

// Package pqueue implements a stable priority queue: items with equal
// priority drain in insertion order. Each item carries a composite key
// (priority, sequence) minted by its own queue, so comparison is total and
// two items never compare equal unless they are the same insertion.
package pqueue

import "container/heap"

// Direction controls whether lower or higher priorities drain first.
type Direction int

const (
	// Ascending drains the lowest priority first.
	Ascending Direction = iota
	// Descending drains the highest priority first.
	Descending
)

type item[T any] struct {
	value    T
	priority int
	seq      uint64
}

// Queue is a drain-once priority container. It is not safe for concurrent
// use; a render cycle owns its queues exclusively.
type Queue[T any] struct {
	dir     Direction
	nextSeq uint64
	h       itemHeap[T]
}

func New[T any](dir Direction) *Queue[T] {
	q := &Queue[T]{dir: dir}
	q.h.q = q
	return q
}

// Insert queues v at the given priority. The insertion sequence is assigned
// here, which is the only place composite keys are minted.
func (q *Queue[T]) Insert(v T, priority int) {
	it := item[T]{value: v, priority: priority, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.h, it)
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int { return len(q.h.items) }

// Pop removes and returns the next item in priority order. The second
// return is false when the queue is empty.
func (q *Queue[T]) Pop() (T, bool) {
	if len(q.h.items) == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(&q.h).(item[T])
	return it.value, true
}

// Drain empties the queue and returns all items in priority order, equal
// priorities in insertion order.
func (q *Queue[T]) Drain() []T {
	out := make([]T, 0, len(q.h.items))
	for {
		v, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Merge re-queues every item drained from other into q. Foreign composite
// keys are not trusted: items are re-sequenced under q's own counter, so a
// malformed or cross-instance sequence can never perturb q's ordering.
func (q *Queue[T]) Merge(other *Queue[T]) {
	for len(other.h.items) > 0 {
		it := heap.Pop(&other.h).(item[T])
		q.Insert(it.value, it.priority)
	}
}

// less orders by the composite key. Ties on priority fall through to the
// insertion sequence, which is unique per queue, making the order total.
func (q *Queue[T]) less(a, b item[T]) bool {
	if a.priority != b.priority {
		if q.dir == Descending {
			return a.priority > b.priority
		}
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

type itemHeap[T any] struct {
	q     *Queue[T]
	items []item[T]
}

func (h *itemHeap[T]) Len() int           { return len(h.items) }
func (h *itemHeap[T]) Less(i, j int) bool { return h.q.less(h.items[i], h.items[j]) }
func (h *itemHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *itemHeap[T]) Push(x any) { h.items = append(h.items, x.(item[T])) }

func (h *itemHeap[T]) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

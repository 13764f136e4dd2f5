package dispatch

import (
	"container/heap"

	"worldsim.ai/internal/protocol"
)

// Entity is the origin of a queued operation. The queue holds it until the
// operation is dispatched or the queue is cleared.
type Entity interface {
	ID() string
}

type entry struct {
	op   *protocol.Operation
	from Entity
	seq  uint64
}

// opHeap orders entries by delivery time, then by insertion sequence.
type opHeap []entry

func (h opHeap) Len() int { return len(h) }

func (h opHeap) Less(i, j int) bool {
	ti, tj := h[i].op.Time(), h[j].op.Time()
	if ti != tj {
		return ti < tj
	}
	return h[i].seq < h[j].seq
}

func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *opHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Queue is a min-heap of operations keyed on delivery time with a FIFO
// tie-break among equal times.
type Queue struct {
	h   opHeap
	seq uint64
}

func (q *Queue) Push(op *protocol.Operation, from Entity) {
	q.seq++
	heap.Push(&q.h, entry{op: op, from: from, seq: q.seq})
}

// Peek returns the earliest entry without removing it.
func (q *Queue) Peek() (*protocol.Operation, Entity, bool) {
	if len(q.h) == 0 {
		return nil, nil, false
	}
	return q.h[0].op, q.h[0].from, true
}

func (q *Queue) Pop() (*protocol.Operation, Entity, bool) {
	if len(q.h) == 0 {
		return nil, nil, false
	}
	e := heap.Pop(&q.h).(entry)
	return e.op, e.from, true
}

func (q *Queue) Len() int { return len(q.h) }

func (q *Queue) Clear() {
	for i := range q.h {
		q.h[i] = entry{}
	}
	q.h = q.h[:0]
}

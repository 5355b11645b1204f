package decoder

import (
	"container/heap"

	"github.com/google/uuid"
)

// Priority orders decode requests. Higher values are served first.
type Priority int

const (
	PriorityQueued Priority = iota
	PriorityNext
	PriorityCurrent
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCurrent:
		return "current"
	case PriorityNext:
		return "next"
	case PriorityQueued:
		return "queued"
	default:
		return "unknown"
	}
}

type job struct {
	req   Request
	seq   uint64 // insertion order for FIFO tie-breaking
	index int
}

// jobHeap is a max-heap on priority with FIFO order inside a priority.
type jobHeap []*job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].req.Priority != h[j].req.Priority {
		return h[i].req.Priority > h[j].req.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	j := x.(*job) //nolint:forcetypeassert // only *job is pushed
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

// jobQueue indexes the heap by passage id.
type jobQueue struct {
	heap jobHeap
	byID map[uuid.UUID]*job
	seq  uint64
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[uuid.UUID]*job)}
}

// push adds req, replacing a pending request for the same passage.
func (q *jobQueue) push(req Request) {
	if j, ok := q.byID[req.PassageID]; ok {
		req.Priority = max(req.Priority, j.req.Priority)
		j.req = req
		heap.Fix(&q.heap, j.index)
		return
	}
	q.seq++
	j := &job{req: req, seq: q.seq}
	heap.Push(&q.heap, j)
	q.byID[req.PassageID] = j
}

func (q *jobQueue) pop() (Request, bool) {
	if len(q.heap) == 0 {
		return Request{}, false
	}
	j := heap.Pop(&q.heap).(*job) //nolint:forcetypeassert // only *job is pushed
	delete(q.byID, j.req.PassageID)
	return j.req, true
}

func (q *jobQueue) remove(id uuid.UUID) bool {
	j, ok := q.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, j.index)
	delete(q.byID, id)
	return true
}

func (q *jobQueue) setPriority(id uuid.UUID, p Priority) bool {
	j, ok := q.byID[id]
	if !ok {
		return false
	}
	j.req.Priority = p
	heap.Fix(&q.heap, j.index)
	return true
}

func (q *jobQueue) len() int { return len(q.heap) }

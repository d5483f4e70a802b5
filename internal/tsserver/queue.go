package tsserver

import "sync"

// Priority classes an outgoing request for dispatch order.
type Priority int

const (
	// PriorityNormal is the default class.
	PriorityNormal Priority = iota

	// PriorityLow requests run only when nothing else waits. Diagnostics
	// pulls live here.
	PriorityLow

	// PriorityFence requests are document mutations whose relative order
	// the server requires.
	PriorityFence
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityFence:
		return "fence"
	default:
		return "unknown"
	}
}

// queueItem is one outgoing request with its dispatch class.
type queueItem struct {
	req             *Request
	priority        Priority
	expectsResponse bool
	isAsync         bool

	// done is closed when the request's callback resolves; the dispatcher
	// waits on it to enforce the single-flight throttle. Nil when no
	// response is expected.
	done chan struct{}
}

// RequestQueue holds outgoing requests until the dispatcher writes them.
//
// Fence and Normal requests share one strict-FIFO lane: a fence is a
// barrier, and letting a Normal request overtake one would let a read run
// against document state the server has not seen yet. Low requests wait
// until the main lane is empty.
type RequestQueue struct {
	mu     sync.Mutex
	main   []*queueItem
	low    []*queueItem
	closed bool
	notify chan struct{}
}

// NewRequestQueue returns an empty queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{notify: make(chan struct{}, 1)}
}

// Enqueue adds an item to its lane and pulses Notify.
func (q *RequestQueue) Enqueue(item *queueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if item.priority == PriorityLow {
		q.low = append(q.low, item)
	} else {
		q.main = append(q.main, item)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes the next item: main lane in arrival order, low lane
// only when the main lane is empty.
func (q *RequestQueue) Dequeue() (*queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.main) > 0 {
		item := q.main[0]
		q.main = q.main[1:]
		return item, true
	}
	if len(q.low) > 0 {
		item := q.low[0]
		q.low = q.low[1:]
		return item, true
	}
	return nil, false
}

// TryDeletePending removes a not-yet-sent request by seq. It never
// touches a request already handed to the writer.
func (q *RequestQueue) TryDeletePending(seq int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.main {
		if item.req.Seq == seq {
			q.main = append(q.main[:i], q.main[i+1:]...)
			return true
		}
	}
	for i, item := range q.low {
		if item.req.Seq == seq {
			q.low = append(q.low[:i], q.low[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued requests.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.main) + len(q.low)
}

// Drain closes the queue and returns everything still waiting, main lane
// first. Enqueue fails afterwards.
func (q *RequestQueue) Drain() []*queueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := make([]*queueItem, 0, len(q.main)+len(q.low))
	items = append(items, q.main...)
	items = append(items, q.low...)
	q.main, q.low = nil, nil
	return items
}

// Notify pulses when an item arrives.
func (q *RequestQueue) Notify() <-chan struct{} {
	return q.notify
}

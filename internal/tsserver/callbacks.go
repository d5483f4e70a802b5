package tsserver

import (
	"fmt"
	"sync"
	"time"
)

// callback is one pending request completion. Exactly one resolver ever
// holds it: the registry hands it out once and never again.
type callback struct {
	command        string
	seq            int64
	isAsync        bool
	nonRecoverable bool
	startedAt      time.Time

	ch   chan ExecResult
	done chan struct{}
}

func newCallback(command string, seq int64, isAsync bool) *callback {
	return &callback{
		command:   command,
		seq:       seq,
		isAsync:   isAsync,
		startedAt: time.Now(),
		ch:        make(chan ExecResult, 1),
		done:      make(chan struct{}),
	}
}

// resolve delivers the result and releases the dispatcher's throttle slot.
func (cb *callback) resolve(res ExecResult) {
	cb.ch <- res
	close(cb.done)
}

// CallbackRegistry correlates request seqs to pending completions.
type CallbackRegistry struct {
	mu         sync.Mutex
	pending    map[int64]*callback
	asyncCount int
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{pending: make(map[int64]*callback)}
}

// Add registers the callback for its seq. Seqs are unique by
// construction; a duplicate is a programming error.
func (r *CallbackRegistry) Add(cb *callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.pending[cb.seq]; exists {
		panic(fmt.Sprintf("duplicate callback for seq %d", cb.seq))
	}
	r.pending[cb.seq] = cb
	if cb.isAsync {
		r.asyncCount++
	}
}

// Fetch atomically retrieves and removes the callback for a seq. Anything
// arriving for a seq after its fetch finds nothing and is discarded by
// the caller.
func (r *CallbackRegistry) Fetch(seq int64) (*callback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pending[seq]
	if !ok {
		return nil, false
	}
	delete(r.pending, seq)
	if cb.isAsync {
		r.asyncCount--
	}
	return cb, true
}

// Destroy removes every pending callback and fails it with a no-server
// result carrying reason.
func (r *CallbackRegistry) Destroy(reason string) {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[int64]*callback)
	r.asyncCount = 0
	r.mu.Unlock()

	// Resolve outside the lock: waking waiters can re-enter the registry.
	for _, cb := range pending {
		cb.resolve(noServerResult(reason))
	}
}

// Len returns the number of pending callbacks.
func (r *CallbackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// HasAsync reports whether any async request is awaiting completion.
func (r *CallbackRegistry) HasAsync() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asyncCount > 0
}

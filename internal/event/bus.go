package event

import (
	"context"
	"sync"
	"sync/atomic"
)

// Event is anything that can be published. Topic routes it to subscribers.
type Event interface {
	Topic() string
}

// Handler processes a published event.
type Handler func(ctx context.Context, e Event)

// Stats counts bus activity.
type Stats struct {
	// Published is the number of Publish calls.
	Published int64

	// Delivered is the number of handler invocations completed.
	Delivered int64

	// Dropped counts events lost to full async buffers or a closed bus.
	Dropped int64
}

// Bus routes events to topic subscribers. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	closed bool
	nextID atomic.Int64

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithAsync delivers events to this subscription through a buffered
// channel and a dedicated goroutine instead of the publisher's goroutine.
// When the buffer is full, events for this subscription are dropped.
func WithAsync(buffer int) SubscribeOption {
	return func(s *Subscription) {
		if buffer < 1 {
			buffer = 1
		}
		s.async = true
		s.buffer = buffer
	}
}

// Subscribe registers a handler for a topic. Subscribing on a closed bus
// returns an already-cancelled subscription.
func (b *Bus) Subscribe(topic string, h Handler, opts ...SubscribeOption) *Subscription {
	s := &Subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: h,
		bus:     b,
	}
	for _, opt := range opts {
		opt(s)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.cancelled.Store(true)
		return s
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	if s.async {
		s.ch = make(chan Event, s.buffer)
		s.quit = make(chan struct{})
		go s.pump()
	}
	return s
}

// Publish routes an event to every subscriber of its topic. Sync handlers
// run here, in subscription order. Publishing on a closed bus is a
// counted drop.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.published.Add(1)

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.dropped.Add(1)
		return
	}
	list := b.subs[e.Topic()]
	subs := make([]*Subscription, len(list))
	copy(subs, list)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.cancelled.Load() {
			continue
		}
		if !s.async {
			s.handler(ctx, e)
			b.delivered.Add(1)
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close cancels every subscription. Publish and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, s := range all {
		s.stop()
	}
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[target.topic]
	for i, s := range list {
		if s.id == target.id {
			b.subs[target.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Subscription is one registered handler. Cancel detaches it.
type Subscription struct {
	id      int64
	topic   string
	handler Handler
	bus     *Bus

	async  bool
	buffer int
	ch     chan Event
	quit   chan struct{}

	cancelled atomic.Bool
	stopOnce  sync.Once
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Cancel detaches the subscription. Idempotent; no event is delivered to
// a cancelled subscription after Cancel returns.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
	s.stop()
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		s.cancelled.Store(true)
		if s.quit != nil {
			close(s.quit)
		}
	})
}

// pump delivers buffered events for an async subscription. The channel is
// never closed; abandoning it after quit keeps concurrent publishers safe.
func (s *Subscription) pump() {
	for {
		select {
		case e := <-s.ch:
			s.handler(context.Background(), e)
			s.bus.delivered.Add(1)
		case <-s.quit:
			return
		}
	}
}

package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	topic string
	n     int
}

func (e testEvent) Topic() string { return e.topic }

func TestBusPublishSubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var got []int
	b.Subscribe("a", func(_ context.Context, e Event) {
		got = append(got, e.(testEvent).n)
	})

	b.Publish(context.Background(), testEvent{topic: "a", n: 1})
	b.Publish(context.Background(), testEvent{topic: "b", n: 2})
	b.Publish(context.Background(), testEvent{topic: "a", n: 3})

	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("delivered = %v, want [1 3]", got)
	}
}

func TestBusSyncOrder(t *testing.T) {
	b := New()
	defer b.Close()

	var order []string
	b.Subscribe("t", func(_ context.Context, _ Event) { order = append(order, "first") })
	b.Subscribe("t", func(_ context.Context, _ Event) { order = append(order, "second") })

	b.Publish(context.Background(), testEvent{topic: "t"})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("handler order = %v, want [first second]", order)
	}
}

func TestBusCancel(t *testing.T) {
	b := New()
	defer b.Close()

	calls := 0
	sub := b.Subscribe("t", func(_ context.Context, _ Event) { calls++ })

	b.Publish(context.Background(), testEvent{topic: "t"})
	sub.Cancel()
	sub.Cancel()
	b.Publish(context.Background(), testEvent{topic: "t"})

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
}

func TestBusAsyncDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	done := make(chan int, 4)
	b.Subscribe("t", func(_ context.Context, e Event) {
		done <- e.(testEvent).n
	}, WithAsync(4))

	for i := 1; i <= 3; i++ {
		b.Publish(context.Background(), testEvent{topic: "t", n: i})
	}

	for want := 1; want <= 3; want++ {
		select {
		case got := <-done:
			if got != want {
				t.Errorf("async delivery = %d, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("async event %d not delivered", want)
		}
	}
}

func TestBusAsyncDropsWhenFull(t *testing.T) {
	b := New()
	defer b.Close()

	block := make(chan struct{})
	var once sync.Once
	b.Subscribe("t", func(_ context.Context, _ Event) {
		once.Do(func() { <-block })
	}, WithAsync(1))

	// First event occupies the handler, second fills the buffer, the
	// rest must drop rather than stall the publisher.
	for i := 0; i < 5; i++ {
		b.Publish(context.Background(), testEvent{topic: "t", n: i})
	}
	close(block)

	deadline := time.After(time.Second)
	for b.Stats().Dropped == 0 {
		select {
		case <-deadline:
			t.Fatal("no drops counted with a full async buffer")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestBusCloseDrops(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("t", func(_ context.Context, _ Event) { calls++ })

	b.Close()
	b.Publish(context.Background(), testEvent{topic: "t"})
	b.Close()

	if calls != 0 {
		t.Errorf("handler calls after Close = %d, want 0", calls)
	}
	st := b.Stats()
	if st.Dropped != 1 {
		t.Errorf("Stats().Dropped = %d, want 1", st.Dropped)
	}
	if st.Published != 1 {
		t.Errorf("Stats().Published = %d, want 1", st.Published)
	}
}

func TestBusSubscribeAfterClose(t *testing.T) {
	b := New()
	b.Close()

	sub := b.Subscribe("t", func(_ context.Context, _ Event) {
		t.Error("handler invoked on closed bus")
	})
	b.Publish(context.Background(), testEvent{topic: "t"})
	sub.Cancel()
}

func TestBusStatsDelivered(t *testing.T) {
	b := New()
	defer b.Close()

	b.Subscribe("t", func(_ context.Context, _ Event) {})
	b.Subscribe("t", func(_ context.Context, _ Event) {})

	b.Publish(context.Background(), testEvent{topic: "t"})

	st := b.Stats()
	if st.Published != 1 {
		t.Errorf("Stats().Published = %d, want 1", st.Published)
	}
	if st.Delivered != 2 {
		t.Errorf("Stats().Delivered = %d, want 2", st.Delivered)
	}
}

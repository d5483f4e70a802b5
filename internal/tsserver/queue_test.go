package tsserver

import "testing"

func item(seq int64, command string, p Priority) *queueItem {
	return &queueItem{
		req:      &Request{Seq: seq, Type: "request", Command: command},
		priority: p,
	}
}

func TestRequestQueueFIFO(t *testing.T) {
	q := NewRequestQueue()
	for seq := int64(1); seq <= 4; seq++ {
		if err := q.Enqueue(item(seq, "quickinfo", PriorityNormal)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	for want := int64(1); want <= 4; want++ {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() empty, want seq %d", want)
		}
		if got.req.Seq != want {
			t.Errorf("Dequeue() seq = %d, want %d", got.req.Seq, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue() on empty queue = item, want none")
	}
}

// Fence and Normal requests share one strict-FIFO lane: a normal request
// enqueued after a fence never overtakes it, and a fence never jumps
// ahead of earlier normal requests.
func TestRequestQueueFenceNormalGlobalOrder(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(item(1, CommandOpen, PriorityFence))
	q.Enqueue(item(2, "quickinfo", PriorityNormal))
	q.Enqueue(item(3, CommandChange, PriorityFence))
	q.Enqueue(item(4, "references", PriorityNormal))
	q.Enqueue(item(5, CommandClose, PriorityFence))

	for want := int64(1); want <= 5; want++ {
		got, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() empty, want seq %d", want)
		}
		if got.req.Seq != want {
			t.Errorf("Dequeue() seq = %d, want %d", got.req.Seq, want)
		}
	}
}

func TestRequestQueueLowWaits(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(item(1, CommandGeterr, PriorityLow))
	q.Enqueue(item(2, CommandOpen, PriorityFence))
	q.Enqueue(item(3, "quickinfo", PriorityNormal))

	var got []int64
	for {
		it, ok := q.Dequeue()
		if !ok {
			break
		}
		got = append(got, it.req.Seq)
	}

	want := []int64{2, 3, 1}
	if len(got) != len(want) {
		t.Fatalf("drained %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dequeue order[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRequestQueueLowResumesAfterMainRefill(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(item(1, CommandGeterr, PriorityLow))
	q.Enqueue(item(2, "quickinfo", PriorityNormal))

	it, _ := q.Dequeue()
	if it.req.Seq != 2 {
		t.Fatalf("Dequeue() seq = %d, want 2", it.req.Seq)
	}

	// New main-lane work arrives before the low item was served.
	q.Enqueue(item(3, "definition", PriorityNormal))

	it, _ = q.Dequeue()
	if it.req.Seq != 3 {
		t.Errorf("Dequeue() seq = %d, want 3 (low never overtakes main)", it.req.Seq)
	}
	it, _ = q.Dequeue()
	if it.req.Seq != 1 {
		t.Errorf("Dequeue() seq = %d, want 1", it.req.Seq)
	}
}

func TestRequestQueueTryDeletePending(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(item(1, "quickinfo", PriorityNormal))
	q.Enqueue(item(2, "references", PriorityNormal))
	q.Enqueue(item(3, CommandGeterr, PriorityLow))

	if !q.TryDeletePending(2) {
		t.Error("TryDeletePending(2) = false, want true")
	}
	if q.TryDeletePending(2) {
		t.Error("TryDeletePending(2) twice = true, want false")
	}
	if !q.TryDeletePending(3) {
		t.Error("TryDeletePending(3) = false, want true")
	}
	if q.TryDeletePending(99) {
		t.Error("TryDeletePending(99) = true, want false")
	}
	if got := q.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}

	it, _ := q.Dequeue()
	if it.req.Seq != 1 {
		t.Errorf("Dequeue() seq = %d, want 1", it.req.Seq)
	}
}

func TestRequestQueueDrain(t *testing.T) {
	q := NewRequestQueue()
	q.Enqueue(item(1, CommandOpen, PriorityFence))
	q.Enqueue(item(2, CommandGeterr, PriorityLow))
	q.Enqueue(item(3, "quickinfo", PriorityNormal))

	items := q.Drain()
	if len(items) != 3 {
		t.Fatalf("Drain() returned %d items, want 3", len(items))
	}
	// Main lane first, then low.
	wantSeqs := []int64{1, 3, 2}
	for i, it := range items {
		if it.req.Seq != wantSeqs[i] {
			t.Errorf("Drain()[%d] seq = %d, want %d", i, it.req.Seq, wantSeqs[i])
		}
	}

	if got := q.Len(); got != 0 {
		t.Errorf("Len() after Drain() = %d, want 0", got)
	}
	if err := q.Enqueue(item(4, "quickinfo", PriorityNormal)); err != ErrQueueClosed {
		t.Errorf("Enqueue() after Drain() error = %v, want ErrQueueClosed", err)
	}
}

func TestRequestQueueNotify(t *testing.T) {
	q := NewRequestQueue()

	select {
	case <-q.Notify():
		t.Fatal("Notify() pulsed before any enqueue")
	default:
	}

	q.Enqueue(item(1, "quickinfo", PriorityNormal))
	q.Enqueue(item(2, "quickinfo", PriorityNormal))

	select {
	case <-q.Notify():
	default:
		t.Fatal("Notify() did not pulse after enqueue")
	}
	// Coalesced: one pulse covers any number of pending items.
	select {
	case <-q.Notify():
		t.Error("Notify() pulsed twice, want coalesced single pulse")
	default:
	}
}

package queue

import (
	"context"
	"testing"
)

// TestCapacityDrop is property P1: enqueuing 1025 entries on a stalled
// consumer results in exactly 1024 enqueued and 1 dropped.
func TestCapacityDrop(t *testing.T) {
	q := New[int]()
	accepted := 0
	dropped := 0
	for i := 0; i < Capacity+1; i++ {
		if q.Enqueue(i) {
			accepted++
		} else {
			dropped++
		}
	}
	if accepted != Capacity {
		t.Fatalf("accepted = %d, want %d", accepted, Capacity)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if q.Len() != Capacity {
		t.Fatalf("Len() = %d, want %d", q.Len(), Capacity)
	}
}

func TestDequeueBlocksUntilCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Dequeue(ctx)
	if ok {
		t.Fatalf("expected Dequeue to report !ok after context cancellation")
	}
}

func TestDequeueFIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Enqueue(i)
	}
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue(ctx)
		if !ok || v != i {
			t.Fatalf("Dequeue() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
}

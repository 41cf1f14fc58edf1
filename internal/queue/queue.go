// Package queue implements the bounded single-producer/multi-consumer FIFO
// primitive shared by RecvQ, SendQ and BroadcastQ (C1). Each queue holds at
// most Capacity entries; Enqueue never blocks a producer — once full it
// drops the newest entry and reports so. Dequeue blocks until an entry is
// available or the queue is stopped.
//
// The original daemon's hand-rolled intrusive linked list + mutex/condvar pair is
// replaced by a single buffered channel: capacity bounds the queue exactly
// the same way, and channel receive is Go's native condition-variable wait.
package queue

import "context"

// Capacity is the fixed bound from §3 invariants and §4.1.
const Capacity = 1024

// Queue is a bounded FIFO of T with non-blocking drop-on-overflow enqueue.
type Queue[T any] struct {
	ch      chan T
	dropped chan struct{} // signalled (best-effort) whenever an enqueue drops
}

// New creates a queue with the standard 1024 capacity.
func New[T any]() *Queue[T] {
	return &Queue[T]{ch: make(chan T, Capacity), dropped: make(chan struct{}, 1)}
}

// Enqueue appends to the tail. It returns false (and drops the entry) if the
// queue is already at capacity; producers never block.
func (q *Queue[T]) Enqueue(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		select {
		case q.dropped <- struct{}{}:
		default:
		}
		return false
	}
}

// Dequeue blocks until an entry is available or ctx is done. ok is false
// only when ctx ended before an entry arrived (equivalent to observing the
// "stopping" flag on an empty queue in the original design).
func (q *Queue[T]) Dequeue(ctx context.Context) (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	case <-ctx.Done():
		return v, false
	}
}

// Len reports the number of entries currently queued (best-effort).
func (q *Queue[T]) Len() int { return len(q.ch) }

// Dropped returns a channel that receives a value (coalesced) whenever an
// Enqueue call drops an entry, for metrics/logging consumers (§7 "Queue
// overflow: drop-newest, log at error level").
func (q *Queue[T]) Dropped() <-chan struct{} { return q.dropped }

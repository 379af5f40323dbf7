// Package mpmc wraps a bounded lock-free multi-producer/multi-consumer
// ring buffer for request handoff between application goroutines and
// the processor loops.
package mpmc

import (
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

type Queue[T any] struct {
	rb *queue.RingBuffer
}

// New creates a queue holding at most size items (rounded up to a power
// of two by the ring buffer).
func New[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}

	return &Queue[T]{
		rb: queue.NewRingBuffer(uint64(size)),
	}
}

// Enqueue is non-blocking; false means the queue is full or disposed.
func (q *Queue[T]) Enqueue(v T) bool {
	ok, err := q.rb.Offer(v)

	return err == nil && ok
}

// Dequeue is non-blocking; false means the queue is empty or disposed.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if q.rb.Len() == 0 {
		return zero, false
	}
	v, err := q.rb.Poll(time.Microsecond)
	if err != nil {
		return zero, false
	}

	return v.(T), true
}

func (q *Queue[T]) IsEmpty() bool {
	return q.rb.Len() == 0
}

func (q *Queue[T]) Len() int {
	return int(q.rb.Len())
}

func (q *Queue[T]) Cap() int {
	return int(q.rb.Cap())
}

// Dispose permanently fails pending and future operations.
func (q *Queue[T]) Dispose() {
	q.rb.Dispose()
}

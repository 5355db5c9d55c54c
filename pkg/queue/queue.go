package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// Queue is an unbounded, concurrent-safe FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *deque.Deque[T]
	signal chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  deque.New[T](),
		signal: make(chan struct{}, 1),
	}
}

// Push appends v and wakes a waiting consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.PushBack(v)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the oldest item.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

// Drain removes and returns every queued item, oldest first.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for q.items.Len() > 0 {
		out = append(out, q.items.PopFront())
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Signal returns a channel that receives after Push. A receive does not
// guarantee the queue is non-empty, since another consumer may have drained
// it first.
func (q *Queue[T]) Signal() <-chan struct{} {
	return q.signal
}

package pipeline

import (
	"time"

	"github.com/yndnr/ledgersnap/internal/snapshot"
	"github.com/yndnr/ledgersnap/pkg/queue"
)

// RequestQueue is the unbounded channel between the fork set and the
// background service. It implements forks.RequestSender, so SetRoot never
// blocks on it.
type RequestQueue struct {
	q *queue.Queue[snapshot.Request]
}

func NewRequestQueue() *RequestQueue {
	return &RequestQueue{q: queue.New[snapshot.Request]()}
}

// Send enqueues req.
func (r *RequestQueue) Send(req snapshot.Request) {
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = time.Now()
	}
	r.q.Push(req)
}

// Drain removes every queued request, oldest first.
func (r *RequestQueue) Drain() []snapshot.Request {
	return r.q.Drain()
}

// Signal fires after Send.
func (r *RequestQueue) Signal() <-chan struct{} {
	return r.q.Signal()
}

func (r *RequestQueue) Len() int {
	return r.q.Len()
}

package queue

import (
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int]()
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}

	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	v, ok := q.TryPop()
	if !ok || v != 1 {
		t.Fatalf("TryPop() = (%d, %v), want (1, true)", v, ok)
	}

	rest := q.Drain()
	if len(rest) != 2 || rest[0] != 2 || rest[1] != 3 {
		t.Errorf("Drain() = %v, want [2 3]", rest)
	}
	if _, ok := q.TryPop(); ok {
		t.Error("TryPop() on empty queue returned ok")
	}
	if q.Drain() != nil {
		t.Error("Drain() on empty queue should return nil")
	}
}

func TestQueue_SignalCoalesces(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")

	select {
	case <-q.Signal():
	case <-time.After(time.Second):
		t.Fatal("no signal after Push")
	}

	select {
	case <-q.Signal():
		t.Fatal("expected a single pending signal")
	default:
	}

	if got := len(q.Drain()); got != 2 {
		t.Errorf("Drain() returned %d items, want 2", got)
	}
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := New[int]()
	done := make(chan struct{})

	go func() {
		for i := 0; i < 100000; i++ {
			q.Push(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	if got := q.Len(); got != 100000 {
		t.Errorf("Len() = %d, want 100000", got)
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if got := len(q.Drain()); got != 1000 {
		t.Errorf("Drain() returned %d items, want 1000", got)
	}
}

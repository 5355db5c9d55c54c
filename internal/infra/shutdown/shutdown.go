package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Handler handles graceful shutdown.
type Handler struct {
	timeout time.Duration
	hooks   []func(context.Context) error
	mu      sync.Mutex
	done    chan struct{}

	ctx     context.Context
	cancel  context.CancelCauseFunc
	trigger chan error
	once    sync.Once
}

// ErrSignal is the cause recorded when shutdown was started by a signal.
var ErrSignal = errors.New("shutdown: received signal")

// NewHandler creates a new shutdown handler.
func NewHandler(timeout time.Duration) *Handler {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Handler{
		timeout: timeout,
		hooks:   make([]func(context.Context) error, 0),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		trigger: make(chan error, 1),
	}
}

// OnShutdown registers a shutdown hook.
// Hooks are called in reverse order of registration.
func (h *Handler) OnShutdown(hook func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// Context is cancelled as soon as shutdown starts. Its cause is ErrSignal or
// the error passed to Trigger.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Trigger starts shutdown without a signal. Only the first call counts.
func (h *Handler) Trigger(cause error) {
	h.once.Do(func() {
		h.trigger <- cause
	})
}

// Wait waits for a signal or Trigger and executes hooks. It returns the
// trigger cause if there was one, otherwise the last hook error.
func (h *Handler) Wait() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var cause error
	select {
	case <-sigCh:
		h.cancel(ErrSignal)
	case cause = <-h.trigger:
		h.cancel(cause)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]func(context.Context) error, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	var lastErr error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](ctx); err != nil {
			lastErr = err
		}
	}

	close(h.done)
	if cause != nil {
		return cause
	}
	return lastErr
}

// Done returns a channel that closes when shutdown is complete.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

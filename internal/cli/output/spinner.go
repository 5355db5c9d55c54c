package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner animates a message while a long operation runs.
type Spinner struct {
	w       io.Writer
	message string
	frames  []string

	done     chan struct{}
	finished chan struct{}
	once     sync.Once
	started  bool
}

func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:        w,
		message:  message,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Start starts the animation.
func (s *Spinner) Start() {
	s.started = true
	go func() {
		defer close(s.finished)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the animation and clears the line.
func (s *Spinner) Stop() {
	s.finish("\r\033[K")
}

// Success stops the animation with a success line.
func (s *Spinner) Success(message string) {
	s.finish(fmt.Sprintf("\r\033[K✓ %s\n", message))
}

// Fail stops the animation with a failure line.
func (s *Spinner) Fail(message string) {
	s.finish(fmt.Sprintf("\r\033[K✗ %s\n", message))
}

// finish is safe to call more than once; only the first call prints.
func (s *Spinner) finish(line string) {
	s.once.Do(func() {
		close(s.done)
		if s.started {
			<-s.finished
		}
		fmt.Fprint(s.w, line)
	})
}

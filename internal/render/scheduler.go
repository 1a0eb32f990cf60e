package render

import (
	"context"
	"sync"
	"time"

	"github.com/dgallion1/docview/internal/viewport"
)

// Scheduler coalesces bursts of window updates. Only the latest window of a
// burst is passed to the run function, once the burst has been quiet for the
// debounce delay.
type Scheduler struct {
	delay time.Duration
	run   func(context.Context, viewport.Window)
	ctx   context.Context

	mu      sync.Mutex
	timer   *time.Timer
	pending viewport.Window
	armed   bool
	stopped bool
}

func NewScheduler(ctx context.Context, delay time.Duration, run func(context.Context, viewport.Window)) *Scheduler {
	return &Scheduler{ctx: ctx, delay: delay, run: run}
}

// Schedule records w as the latest window and restarts the debounce timer.
func (s *Scheduler) Schedule(w viewport.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = w
	s.armed = true
	if s.delay <= 0 {
		go s.fire()
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.fire)
		return
	}
	s.timer.Reset(s.delay)
}

// Flush runs the pending window immediately, if any, and waits for it.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.fire()
}

// Cancel drops the pending window, if any. The scheduler stays usable.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Stop drops any pending window. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.armed || s.stopped {
		s.mu.Unlock()
		return
	}
	w := s.pending
	s.armed = false
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	s.run(s.ctx, w)
}

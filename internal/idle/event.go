// Package idle provides the one-shot timeout event backing the
// wait-for-more-output-or-go-idle policy used wherever streaming output is
// gathered: flush when enough bytes have arrived, or when the idle window
// elapses with no new bytes, or when the overall ceiling elapses with no
// bytes at all.
package idle

import (
	"context"
	"sync"
	"time"
)

// Event is a restartable one-shot signal, triggered either manually via Set
// or by an armed timer expiring. At most one timer is outstanding; arming a
// new one supersedes any prior timer. The generation counter is what makes
// supersession airtight: a timer whose callback is already in flight when it
// is stopped finds its generation stale and signals nothing.
type Event struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	signaled bool
	ch       chan struct{}
}

func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Clear cancels any pending timer and resets the event to idle.
func (e *Event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateTimerLocked()
	if e.signaled {
		e.signaled = false
		e.ch = make(chan struct{})
	}
}

// StartTimer clears the event and schedules it to signal after d.
func (e *Event) StartTimer(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateTimerLocked()
	if e.signaled {
		e.signaled = false
		e.ch = make(chan struct{})
	}
	gen := e.gen
	e.timer = time.AfterFunc(d, func() { e.setFromTimer(gen) })
}

// Set cancels any pending timer and signals the event immediately.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateTimerLocked()
	e.setLocked()
}

// setFromTimer signals the event on behalf of the timer armed at gen. A
// stale generation means the timer was superseded after its callback was
// already scheduled.
func (e *Event) setFromTimer(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.setLocked()
}

func (e *Event) setLocked() {
	if !e.signaled {
		e.signaled = true
		close(e.ch)
	}
}

// Cancel cancels any pending timer without signalling.
func (e *Event) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invalidateTimerLocked()
}

// IsSet reports whether the event is currently signalled.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

// Wait blocks until the event is signalled or the context is done.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// invalidateTimerLocked stops the pending timer and bumps the generation so
// a callback that already fired cannot signal.
func (e *Event) invalidateTimerLocked() {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

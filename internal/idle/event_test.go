package idle

import (
	"context"
	"testing"
	"time"
)

// TestTimerSignalsAfterDelay arms a timer and verifies the event signals
// roughly on schedule, never early.
func TestTimerSignalsAfterDelay(t *testing.T) {
	e := NewEvent()
	e.StartTimer(100 * time.Millisecond)

	start := time.Now()
	if err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("signalled after %v, want >= ~100ms", elapsed)
	}
	if !e.IsSet() {
		t.Error("IsSet() = false after timer fired")
	}
}

// TestRearmResetsCountdown verifies a second StartTimer before expiry
// supersedes the first timer's deadline.
func TestRearmResetsCountdown(t *testing.T) {
	e := NewEvent()
	e.StartTimer(80 * time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	e.StartTimer(120 * time.Millisecond)

	start := time.Now()
	if err := e.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("signalled after %v, want the re-armed 120ms countdown", elapsed)
	}
}

// TestRearmSupersedesExpiredTimer re-arms right as the previous timer
// expires and verifies the superseded timer's callback can never signal the
// re-armed event, even when it was already scheduled when re-arming stopped
// it.
func TestRearmSupersedesExpiredTimer(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := NewEvent()
		e.StartTimer(50 * time.Microsecond)
		time.Sleep(100 * time.Microsecond)
		e.StartTimer(time.Hour)

		// Give a stale callback every chance to run.
		time.Sleep(time.Millisecond)
		if e.IsSet() {
			t.Fatalf("iteration %d: superseded timer signalled the re-armed event", i)
		}
	}
}

// TestClearSupersedesExpiredTimer verifies a timer callback scheduled just
// before Clear cannot signal afterwards.
func TestClearSupersedesExpiredTimer(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := NewEvent()
		e.StartTimer(50 * time.Microsecond)
		time.Sleep(100 * time.Microsecond)
		e.Clear()

		time.Sleep(time.Millisecond)
		if e.IsSet() {
			t.Fatalf("iteration %d: superseded timer signalled after Clear", i)
		}
	}
}

// TestSetCancelsTimer verifies Set signals immediately and cancels the timer.
func TestSetCancelsTimer(t *testing.T) {
	e := NewEvent()
	e.StartTimer(time.Hour)
	e.Set()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait after Set: %v", err)
	}
}

// TestCancelLeavesEventUnsignalled verifies Cancel stops the timer without
// signalling.
func TestCancelLeavesEventUnsignalled(t *testing.T) {
	e := NewEvent()
	e.StartTimer(30 * time.Millisecond)
	e.Cancel()

	time.Sleep(60 * time.Millisecond)
	if e.IsSet() {
		t.Error("event signalled after Cancel")
	}
}

// TestClearResetsSignalledEvent verifies Clear returns a signalled event to
// idle so it can be waited on again.
func TestClearResetsSignalledEvent(t *testing.T) {
	e := NewEvent()
	e.Set()
	e.Clear()
	if e.IsSet() {
		t.Error("IsSet() = true after Clear")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := e.Wait(ctx); err == nil {
		t.Error("Wait returned without a new signal")
	}

	e.Set()
	if err := e.Wait(context.Background()); err != nil {
		t.Errorf("Wait after re-Set: %v", err)
	}
}

package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/sandboxtools/internal/job"
)

var shellArgv = []string{"/bin/sh"}

// TestRegistryNameSuffixing verifies that three sessions created with the
// same requested name come back as S, S_1, S_2.
func TestRegistryNameSuffixing(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(time.Second)

	want := []string{"S", "S_1", "S_2"}
	for _, expected := range want {
		s, err := r.Create("S", shellArgv, "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if s.Name() != expected {
			t.Errorf("session name = %q, want %q", s.Name(), expected)
		}
	}
}

// TestRegistryGetUnknown verifies unknown-name lookup fails.
func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Error("Get on unknown name succeeded")
	}
}

// TestSessionInteractAndRestart drives a shell session through an echo and a
// restart, checking the session keeps its name and gets a fresh process.
func TestSessionInteractAndRestart(t *testing.T) {
	r := NewRegistry()
	defer r.CloseAll(time.Second)

	s, err := r.Create("bash", shellArgv, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := s.Interact(context.Background(), "MARKER=before; echo $MARKER\n", 5*time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if !strings.Contains(out, "before") {
		t.Errorf("output %q missing marker", out)
	}

	if err := s.Restart(2 * time.Second); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if s.Name() != "bash" {
		t.Errorf("name changed across restart: %q", s.Name())
	}

	out, err = s.Interact(context.Background(), "echo [$MARKER]\n", 5*time.Second, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Interact after restart: %v", err)
	}
	if !strings.Contains(out, "[]") {
		t.Errorf("restarted shell kept state: %q", out)
	}
}

// TestJobsRemoveExactlyOnce races concurrent removals of one pid and checks
// exactly one wins.
func TestJobsRemoveExactlyOnce(t *testing.T) {
	js := NewJobs()
	j, err := job.Start("sleep 0.1", job.Options{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	js.Add(j)
	pid := j.Pid()

	var wg sync.WaitGroup
	removed := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			removed <- js.Remove(pid)
		}()
	}
	wg.Wait()
	close(removed)

	wins := 0
	for r := range removed {
		if r {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("removal won %d times, want exactly once", wins)
	}
	if _, ok := js.Get(pid); ok {
		t.Error("job still registered after removal")
	}
}

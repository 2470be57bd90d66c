// Package session multiplexes the logical conversations sharing one sandbox:
// named interactive sessions and PID-keyed background jobs.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/user/sandboxtools/internal/pty"
)

// Session is a named, long-lived interactive shell. It owns exactly one live
// PTY-backed process, replaced wholesale on Restart. The per-session mutex
// serializes Interact and Restart so the process swap never races a drain.
type Session struct {
	name string
	argv []string
	dir  string

	mu   sync.Mutex
	proc *pty.Interactive
}

func newSession(name string, argv []string, dir string) (*Session, error) {
	proc, err := pty.StartInteractive(argv, dir, nil)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", name, err)
	}
	return &Session{name: name, argv: argv, dir: dir, proc: proc}, nil
}

// Name returns the session's registry identity.
func (s *Session) Name() string { return s.name }

// Interact forwards to the live process under the session mutex.
func (s *Session) Interact(ctx context.Context, input string, waitForOutput, idleTimeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.Interact(ctx, input, waitForOutput, idleTimeout)
}

// Restart tears down the current process (graceful escalating to forced)
// and replaces it with a fresh one. The session keeps its name.
func (s *Session) Restart(terminateTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.proc.Terminate(terminateTimeout); err != nil {
		return fmt.Errorf("restart session %q: %w", s.name, err)
	}
	proc, err := pty.StartInteractive(s.argv, s.dir, nil)
	if err != nil {
		return fmt.Errorf("restart session %q: %w", s.name, err)
	}
	s.proc = proc
	return nil
}

// Close terminates the session's process.
func (s *Session) Close(terminateTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc.Terminate(terminateTimeout)
}

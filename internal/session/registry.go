package session

import (
	"fmt"
	"sync"
	"time"
)

// Registry maps caller-chosen names to live sessions. Name collisions get a
// numeric suffix; the first caller always receives the bare name.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create starts a new session under name (or the suffixed variant that makes
// it unique) and returns it.
func (r *Registry) Create(name string, argv []string, dir string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unique := name
	for i := 1; ; i++ {
		if _, taken := r.sessions[unique]; !taken {
			break
		}
		unique = fmt.Sprintf("%s_%d", name, i)
	}

	s, err := newSession(unique, argv, dir)
	if err != nil {
		return nil, err
	}
	r.sessions[unique] = s
	return s, nil
}

// Get resolves a session by name. An unknown name is a programming error on
// the caller's side, not a recoverable condition.
func (r *Registry) Get(name string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", name)
	}
	return s, nil
}

// Remove drops the session from the registry without closing it.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, name)
}

// Names returns the registered session names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// CloseAll terminates every session; used at daemon shutdown.
func (r *Registry) CloseAll(terminateTimeout time.Duration) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close(terminateTimeout)
	}
}

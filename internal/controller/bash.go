package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/sandboxtools/internal/history"
	"github.com/user/sandboxtools/internal/jsonrpc"
	"github.com/user/sandboxtools/internal/session"
)

const (
	// DefaultSessionName is what callers get when they don't pick a name.
	DefaultSessionName = "bash"

	defaultWaitForOutput = 30 * time.Second
	defaultIdleTimeout   = 500 * time.Millisecond
	terminateTimeout     = 5 * time.Second
)

// RestartConfirmation is the fixed result of bash_session_restart.
const RestartConfirmation = "Bash session restarted."

// EventSink receives session output and lifecycle changes for live
// observers; a nil sink is valid.
type EventSink interface {
	SessionOutput(sessionName, text string)
	SessionEvent(sessionName, event string)
	SessionsChanged(names []string)
}

// Bash dispatches the interactive-session methods onto a name registry.
type Bash struct {
	registry *session.Registry
	store    *history.Store
	sink     EventSink
	shell    []string
}

// NewBash creates the bash-session controller. store and sink may be nil;
// an empty shell defaults to /bin/bash.
func NewBash(registry *session.Registry, store *history.Store, sink EventSink, shell []string) *Bash {
	if len(shell) == 0 {
		shell = []string{"/bin/bash"}
	}
	return &Bash{registry: registry, store: store, sink: sink, shell: shell}
}

// Register adds the bash_session_* methods to the mux.
func (b *Bash) Register(mb *MuxBuilder) {
	mb.Handle("bash_session_new_session", b.newSession).
		Handle("bash_session_interact", b.interact).
		Handle("bash_session_restart", b.restart)
}

type newSessionParams struct {
	Name string `json:"name,omitempty"`
}

// NewSessionResult is the wire shape of bash_session_new_session.
type NewSessionResult struct {
	SessionName string `json:"session_name"`
}

func (b *Bash) newSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params newSessionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	name := params.Name
	if name == "" {
		name = DefaultSessionName
	}

	s, err := b.registry.Create(name, b.shell, "")
	if err != nil {
		return nil, &jsonrpc.ToolError{Message: fmt.Sprintf("cannot start session: %v", err)}
	}
	slog.Info("session created", "name", s.Name())
	if b.store != nil {
		if err := b.store.SessionStarted(ctx, s.Name()); err != nil {
			slog.Warn("history record failed", "error", err)
		}
	}
	if b.sink != nil {
		b.sink.SessionEvent(s.Name(), "started")
		b.sink.SessionsChanged(b.registry.Names())
	}
	return NewSessionResult{SessionName: s.Name()}, nil
}

type interactParams struct {
	SessionName   string   `json:"session_name"`
	Input         *string  `json:"input,omitempty"`
	WaitForOutput *float64 `json:"wait_for_output,omitempty"`
	IdleTimeout   *float64 `json:"idle_timeout,omitempty"`
}

func (b *Bash) interact(ctx context.Context, raw json.RawMessage) (any, error) {
	var params interactParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionName == "" {
		return nil, &jsonrpc.ValidationError{Message: "session_name is required"}
	}

	s, err := b.registry.Get(params.SessionName)
	if err != nil {
		return nil, err
	}

	input := ""
	if params.Input != nil {
		input = *params.Input
	}
	output, err := s.Interact(ctx, input, secondsOr(params.WaitForOutput, defaultWaitForOutput), secondsOr(params.IdleTimeout, defaultIdleTimeout))
	if err != nil {
		return nil, &jsonrpc.ToolError{Message: err.Error()}
	}
	if b.sink != nil && output != "" {
		b.sink.SessionOutput(s.Name(), output)
	}
	return output, nil
}

type restartParams struct {
	SessionName string `json:"session_name"`
}

func (b *Bash) restart(ctx context.Context, raw json.RawMessage) (any, error) {
	var params restartParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.SessionName == "" {
		return nil, &jsonrpc.ValidationError{Message: "session_name is required"}
	}

	s, err := b.registry.Get(params.SessionName)
	if err != nil {
		return nil, err
	}
	if err := s.Restart(terminateTimeout); err != nil {
		return nil, &jsonrpc.ToolError{Message: err.Error()}
	}
	slog.Info("session restarted", "name", s.Name())
	if b.store != nil {
		// The old incarnation's record is closed and a fresh one opened so
		// history reflects each process the session ran.
		if err := b.store.SessionEnded(ctx, s.Name()); err != nil {
			slog.Warn("history record failed", "error", err)
		}
		if err := b.store.SessionStarted(ctx, s.Name()); err != nil {
			slog.Warn("history record failed", "error", err)
		}
	}
	if b.sink != nil {
		b.sink.SessionEvent(s.Name(), "restarted")
	}
	return RestartConfirmation, nil
}

func secondsOr(value *float64, fallback time.Duration) time.Duration {
	if value == nil {
		return fallback
	}
	return time.Duration(*value * float64(time.Second))
}

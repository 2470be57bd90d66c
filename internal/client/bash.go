package client

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/sandboxtools/internal/jsonrpc"
)

const (
	defaultWaitForOutput = 30 * time.Second
	defaultIdleTimeout   = 500 * time.Millisecond
)

// BashSession is a handle to one interactive shell living in the
// sandbox. The handle is stateless; the shell's state survives across
// calls until Restart.
type BashSession struct {
	ts   *ToolSupport
	name string
}

// Name is the server-assigned session name.
func (s *BashSession) Name() string { return s.name }

type newSessionParams struct {
	Name string `json:"name,omitempty"`
}

type newSessionResult struct {
	SessionName string `json:"session_name"`
}

// NewBashSession starts a fresh shell. An empty name gets a unique
// one so independent callers never collide.
func (ts *ToolSupport) NewBashSession(ctx context.Context, name string) (*BashSession, error) {
	if name == "" {
		name = "bash-" + uuid.NewString()
	}
	result, err := jsonrpc.ExecModelRequest[newSessionResult](ctx, ts.transport, "bash_session_new_session", newSessionParams{Name: name}, nil)
	if err != nil {
		return nil, err
	}
	return &BashSession{ts: ts, name: result.SessionName}, nil
}

type interactParams struct {
	SessionName   string   `json:"session_name"`
	Input         *string  `json:"input,omitempty"`
	WaitForOutput *float64 `json:"wait_for_output,omitempty"`
	IdleTimeout   *float64 `json:"idle_timeout,omitempty"`
}

// InteractOptions tune one exchange with the shell.
type InteractOptions struct {
	WaitForOutput time.Duration
	IdleTimeout   time.Duration
}

// Type sends input to the shell and collects whatever output settles
// before the idle timeout. A command missing its trailing newline
// would sit unexecuted at the prompt, so one is added.
func (s *BashSession) Type(ctx context.Context, input string, opts InteractOptions) (string, error) {
	if input != "" && !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	return s.interact(ctx, &input, opts)
}

// ReadOutput collects pending output without sending anything.
func (s *BashSession) ReadOutput(ctx context.Context, opts InteractOptions) (string, error) {
	return s.interact(ctx, nil, opts)
}

func (s *BashSession) interact(ctx context.Context, input *string, opts InteractOptions) (string, error) {
	if opts.WaitForOutput <= 0 {
		opts.WaitForOutput = defaultWaitForOutput
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	params := interactParams{
		SessionName:   s.name,
		Input:         input,
		WaitForOutput: seconds(opts.WaitForOutput),
		IdleTimeout:   seconds(opts.IdleTimeout),
	}
	return jsonrpc.ExecScalarRequest[string](ctx, s.ts.transport, "bash_session_interact", params, nil)
}

type restartParams struct {
	SessionName string `json:"session_name"`
}

// Restart tears the shell down and starts a clean one under the same
// name. Returns the server's confirmation text.
func (s *BashSession) Restart(ctx context.Context) (string, error) {
	return jsonrpc.ExecScalarRequest[string](ctx, s.ts.transport, "bash_session_restart", restartParams{SessionName: s.name}, nil)
}

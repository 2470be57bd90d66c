// Package client is the host-side facade over the sandbox tool
// binary. It wraps the JSON-RPC transport in typed handles for
// interactive sessions, background processes and one-shot commands.
package client

import (
	"context"
	"time"

	"github.com/user/sandboxtools/internal/jsonrpc"
	"github.com/user/sandboxtools/internal/sandbox"
)

// DefaultTransportTimeout bounds a single exec round trip into the
// sandbox, not the command the call may be running.
const DefaultTransportTimeout = 60 * time.Second

// ToolSupport is the entry point for everything the sandbox tool
// binary offers.
type ToolSupport struct {
	transport jsonrpc.Transport
}

// New builds a ToolSupport over a sandbox with default transport
// settings.
func New(sb sandbox.Sandbox) *ToolSupport {
	return &ToolSupport{
		transport: sandbox.NewTransport(sb, "", DefaultTransportTimeout, ""),
	}
}

// NewWithTransport builds a ToolSupport over a pre-configured
// transport.
func NewWithTransport(t jsonrpc.Transport) *ToolSupport {
	return &ToolSupport{transport: t}
}

type execPlusParams struct {
	Command string            `json:"command"`
	Input   *string           `json:"input,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Timeout *float64          `json:"timeout,omitempty"`
}

// ExecResult is the outcome of a one-shot command.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// ExecOptions tune a one-shot command.
type ExecOptions struct {
	Input   string
	Env     map[string]string
	Cwd     string
	Timeout time.Duration
}

// Exec runs a shell command to completion inside the sandbox and
// returns its captured result.
func (ts *ToolSupport) Exec(ctx context.Context, command string, opts ExecOptions) (ExecResult, error) {
	params := execPlusParams{
		Command: command,
		Env:     opts.Env,
		Cwd:     opts.Cwd,
	}
	if opts.Input != "" {
		params.Input = &opts.Input
	}
	if opts.Timeout > 0 {
		seconds := opts.Timeout.Seconds()
		params.Timeout = &seconds
	}
	return jsonrpc.ExecModelRequest[ExecResult](ctx, ts.transport, "exec_plus", params, nil)
}

func seconds(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	s := d.Seconds()
	return &s
}

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/user/sandboxtools/internal/jsonrpc"
)

// minPollInterval keeps a tight caller loop from hammering the
// sandbox with exec round trips.
const minPollInterval = 200 * time.Millisecond

// RemoteProcess is a handle to one background job in the sandbox.
type RemoteProcess struct {
	ts       *ToolSupport
	pid      int
	lastPoll time.Time
}

// Pid is the job's process id inside the sandbox.
func (p *RemoteProcess) Pid() int { return p.pid }

// ProcessState is a job's lifecycle state as reported by poll.
type ProcessState string

const (
	ProcessRunning   ProcessState = "running"
	ProcessCompleted ProcessState = "completed"
	ProcessKilled    ProcessState = "killed"
)

// Terminal reports whether the state is final.
func (s ProcessState) Terminal() bool {
	return s == ProcessCompleted || s == ProcessKilled
}

type startProcessParams struct {
	Command   string            `json:"command"`
	Input     *string           `json:"input,omitempty"`
	StdinOpen bool              `json:"stdin_open,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
}

type startProcessResult struct {
	Pid int `json:"pid"`
}

// StartOptions tune a background job.
type StartOptions struct {
	Input     string
	StdinOpen bool
	Env       map[string]string
	Cwd       string
}

// StartProcess launches argv as a background job. The argv is quoted
// into a single shell command, so arguments with spaces survive.
func (ts *ToolSupport) StartProcess(ctx context.Context, argv []string, opts StartOptions) (*RemoteProcess, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("argv must not be empty")
	}
	params := startProcessParams{
		Command:   shellquote.Join(argv...),
		StdinOpen: opts.StdinOpen,
		Env:       opts.Env,
		Cwd:       opts.Cwd,
	}
	if opts.Input != "" {
		params.Input = &opts.Input
	}
	result, err := jsonrpc.ExecModelRequest[startProcessResult](ctx, ts.transport, "exec_remote_start", params, nil)
	if err != nil {
		return nil, err
	}
	return &RemoteProcess{ts: ts, pid: result.Pid}, nil
}

type pidParams struct {
	Pid int `json:"pid"`
}

// PollResult is one poll's worth of job progress. Stdout and Stderr
// carry only output produced since the previous poll.
type PollResult struct {
	State    ProcessState `json:"state"`
	ExitCode *int         `json:"exit_code,omitempty"`
	Stdout   string       `json:"stdout"`
	Stderr   string       `json:"stderr"`
}

// Output carries the final drained buffers from kill and the stdin
// calls.
type Output struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Poll drains new output and reports the job's state. Polls arriving
// faster than minPollInterval are delayed, not dropped.
func (p *RemoteProcess) Poll(ctx context.Context) (PollResult, error) {
	if wait := minPollInterval - time.Since(p.lastPoll); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		}
	}
	p.lastPoll = time.Now()
	return jsonrpc.ExecModelRequest[PollResult](ctx, p.ts.transport, "exec_remote_poll", pidParams{Pid: p.pid}, nil)
}

// Wait polls until the job reaches a terminal state, streaming each
// increment through the callbacks. Cancelling ctx kills the job
// before returning.
func (p *RemoteProcess) Wait(ctx context.Context, onStdout, onStderr func(string)) (PollResult, error) {
	for {
		result, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				killCtx, cancel := context.WithTimeout(context.Background(), DefaultTransportTimeout)
				defer cancel()
				p.Kill(killCtx)
			}
			return PollResult{}, err
		}
		if onStdout != nil && result.Stdout != "" {
			onStdout(result.Stdout)
		}
		if onStderr != nil && result.Stderr != "" {
			onStderr(result.Stderr)
		}
		if result.State.Terminal() {
			return result, nil
		}
	}
}

// Kill terminates the job's process group and returns whatever output
// was still buffered. Killing an already retired job is a no-op.
func (p *RemoteProcess) Kill(ctx context.Context) (Output, error) {
	return jsonrpc.ExecModelRequest[Output](ctx, p.ts.transport, "exec_remote_kill", pidParams{Pid: p.pid}, nil)
}

type writeStdinParams struct {
	Pid  int    `json:"pid"`
	Data string `json:"data"`
}

// WriteStdin sends data to the job's stdin. The job must have been
// started with StdinOpen.
func (p *RemoteProcess) WriteStdin(ctx context.Context, data string) (Output, error) {
	return jsonrpc.ExecModelRequest[Output](ctx, p.ts.transport, "exec_remote_write_stdin", writeStdinParams{Pid: p.pid, Data: data}, nil)
}

// CloseStdin closes the job's stdin, letting commands that read to
// EOF finish. Closing twice is fine.
func (p *RemoteProcess) CloseStdin(ctx context.Context) (Output, error) {
	return jsonrpc.ExecModelRequest[Output](ctx, p.ts.transport, "exec_remote_close_stdin", pidParams{Pid: p.pid}, nil)
}

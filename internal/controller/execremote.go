package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/sandboxtools/internal/history"
	"github.com/user/sandboxtools/internal/job"
	"github.com/user/sandboxtools/internal/jsonrpc"
	"github.com/user/sandboxtools/internal/session"
)

const defaultKillTimeout = 5 * time.Second

// JobSink receives job lifecycle changes for live observers; a nil sink
// is valid.
type JobSink interface {
	JobEvent(pid int, event string, exitCode *int)
}

// ExecRemote dispatches the fire-and-forget job methods onto the PID-keyed
// registry.
type ExecRemote struct {
	jobs  *session.Jobs
	store *history.Store
	sink  JobSink
}

// NewExecRemote creates the exec-remote controller. store and sink may be nil.
func NewExecRemote(jobs *session.Jobs, store *history.Store, sink JobSink) *ExecRemote {
	return &ExecRemote{jobs: jobs, store: store, sink: sink}
}

// Register adds the exec_remote_* methods to the mux.
func (e *ExecRemote) Register(mb *MuxBuilder) {
	mb.Handle("exec_remote_start", e.start).
		Handle("exec_remote_poll", e.poll).
		Handle("exec_remote_kill", e.kill).
		Handle("exec_remote_write_stdin", e.writeStdin).
		Handle("exec_remote_close_stdin", e.closeStdin)
}

type startParams struct {
	Command   string            `json:"command"`
	Input     *string           `json:"input,omitempty"`
	StdinOpen bool              `json:"stdin_open,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
}

// StartResult is the wire shape of exec_remote_start.
type StartResult struct {
	Pid int `json:"pid"`
}

// PollResult is the wire shape of exec_remote_poll.
type PollResult struct {
	State    string `json:"state"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// OutputResult is the wire shape of kill/write_stdin/close_stdin.
type OutputResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

func (e *ExecRemote) start(ctx context.Context, raw json.RawMessage) (any, error) {
	var params startParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Command == "" {
		return nil, &jsonrpc.ValidationError{Message: "command is required"}
	}

	opts := job.Options{StdinOpen: params.StdinOpen, Env: params.Env, Cwd: params.Cwd}
	if params.Input != nil {
		opts.Input = []byte(*params.Input)
	}
	j, err := job.Start(params.Command, opts)
	if err != nil {
		return nil, &jsonrpc.ToolError{Message: fmt.Sprintf("cannot start job: %v", err)}
	}
	e.jobs.Add(j)
	slog.Info("job started", "pid", j.Pid(), "command", params.Command)
	if e.store != nil {
		if err := e.store.JobStarted(ctx, j.Pid(), params.Command); err != nil {
			slog.Warn("history record failed", "error", err)
		}
	}
	if e.sink != nil {
		e.sink.JobEvent(j.Pid(), string(job.StateRunning), nil)
	}
	return StartResult{Pid: j.Pid()}, nil
}

type pidParams struct {
	Pid int `json:"pid"`
}

func (e *ExecRemote) poll(ctx context.Context, raw json.RawMessage) (any, error) {
	var params pidParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	j, ok := e.jobs.Get(params.Pid)
	if !ok {
		return nil, fmt.Errorf("unknown job pid %d", params.Pid)
	}

	res := j.Poll()
	if res.State != job.StateRunning {
		// The poll that first observes a terminal state retires the job; the
		// buffers were drained above, so nothing is lost.
		if e.jobs.Remove(params.Pid) {
			e.recordFinish(ctx, params.Pid, res.State, res.ExitCode)
		}
	}
	return PollResult{
		State:    string(res.State),
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}, nil
}

type killParams struct {
	Pid     int      `json:"pid"`
	Timeout *float64 `json:"timeout,omitempty"`
}

func (e *ExecRemote) kill(ctx context.Context, raw json.RawMessage) (any, error) {
	var params killParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	j, ok := e.jobs.Get(params.Pid)
	if !ok {
		// Already retired by a concurrent poll or kill; nothing left to do.
		return OutputResult{}, nil
	}

	stdout, stderr := j.Kill(secondsOr(params.Timeout, defaultKillTimeout))
	if e.jobs.Remove(params.Pid) {
		res := j.Poll()
		e.recordFinish(ctx, params.Pid, res.State, res.ExitCode)
		slog.Info("job killed", "pid", params.Pid)
	}
	return OutputResult{Stdout: stdout, Stderr: stderr}, nil
}

type writeStdinParams struct {
	Pid  int    `json:"pid"`
	Data string `json:"data"`
}

func (e *ExecRemote) writeStdin(_ context.Context, raw json.RawMessage) (any, error) {
	var params writeStdinParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	j, ok := e.jobs.Get(params.Pid)
	if !ok {
		return nil, fmt.Errorf("unknown job pid %d", params.Pid)
	}

	stdout, stderr, err := j.WriteStdin([]byte(params.Data))
	if err != nil {
		return nil, toolErrorForStdin(err)
	}
	return OutputResult{Stdout: stdout, Stderr: stderr}, nil
}

func (e *ExecRemote) closeStdin(_ context.Context, raw json.RawMessage) (any, error) {
	var params pidParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	j, ok := e.jobs.Get(params.Pid)
	if !ok {
		return nil, fmt.Errorf("unknown job pid %d", params.Pid)
	}

	stdout, stderr, err := j.CloseStdin()
	if err != nil {
		return nil, toolErrorForStdin(err)
	}
	return OutputResult{Stdout: stdout, Stderr: stderr}, nil
}

func (e *ExecRemote) recordFinish(ctx context.Context, pid int, state job.State, exitCode *int) {
	if e.sink != nil {
		e.sink.JobEvent(pid, string(state), exitCode)
	}
	if e.store == nil {
		return
	}
	if err := e.store.JobFinished(ctx, pid, string(state), exitCode); err != nil {
		slog.Warn("history record failed", "error", err)
	}
}

// toolErrorForStdin surfaces stdin lifecycle misuse as a recoverable domain
// error rather than an internal fault.
func toolErrorForStdin(err error) error {
	if errors.Is(err, job.ErrStdinUnavailable) || errors.Is(err, job.ErrStdinClosed) {
		return &jsonrpc.ToolError{Message: err.Error()}
	}
	return err
}

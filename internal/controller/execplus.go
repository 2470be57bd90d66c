package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/sandboxtools/internal/job"
	"github.com/user/sandboxtools/internal/jsonrpc"
)

const defaultExecTimeout = 30 * time.Second

// ExecPlus dispatches one-shot run-to-completion execution. It reuses the
// Job machinery but waits for the terminal state before answering.
type ExecPlus struct{}

func NewExecPlus() *ExecPlus {
	return &ExecPlus{}
}

// Register adds the exec_plus method to the mux.
func (e *ExecPlus) Register(mb *MuxBuilder) {
	mb.Handle("exec_plus", e.run)
}

type execPlusParams struct {
	Command string            `json:"command"`
	Input   *string           `json:"input,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Timeout *float64          `json:"timeout,omitempty"`
}

// ExecPlusResult is the wire shape of exec_plus.
type ExecPlusResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (e *ExecPlus) run(_ context.Context, raw json.RawMessage) (any, error) {
	var params execPlusParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Command == "" {
		return nil, &jsonrpc.ValidationError{Message: "command is required"}
	}

	opts := job.Options{Env: params.Env, Cwd: params.Cwd}
	if params.Input != nil {
		opts.Input = []byte(*params.Input)
	}
	j, err := job.Start(params.Command, opts)
	if err != nil {
		return nil, &jsonrpc.ToolError{Message: fmt.Sprintf("cannot run command: %v", err)}
	}

	timeout := secondsOr(params.Timeout, defaultExecTimeout)
	if !j.Wait(timeout) {
		j.Kill(defaultKillTimeout)
		return nil, &jsonrpc.ToolError{Message: fmt.Sprintf("command timed out after %s", timeout)}
	}

	res := j.Poll()
	exitCode := -1
	if res.ExitCode != nil {
		exitCode = *res.ExitCode
	}
	return ExecPlusResult{ExitCode: exitCode, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

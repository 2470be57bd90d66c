// Package sandbox defines the isolation-boundary capability consumed by the
// host side: command execution plus file I/O inside an isolated environment.
// The container runtime behind it (docker, local process, ...) is supplied
// externally.
package sandbox

import (
	"context"
	"time"
)

// ExecResult is the outcome of a command executed inside the sandbox.
type ExecResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecOptions carries the optional knobs for Exec.
type ExecOptions struct {
	// Input is written to the command's stdin.
	Input string
	// Timeout bounds the execution; zero means no ceiling.
	Timeout time.Duration
	// User is the username or UID to run as; empty means the sandbox default.
	User string
	// Cwd is the working directory; empty means the sandbox default.
	Cwd string
	// Env holds additional environment variables.
	Env map[string]string
}

// Sandbox is the capability an isolated execution environment provides.
type Sandbox interface {
	Exec(ctx context.Context, argv []string, opts ExecOptions) (ExecResult, error)
	WriteFile(ctx context.Context, path string, contents []byte) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

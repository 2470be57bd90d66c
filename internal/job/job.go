// Package job runs fire-and-forget shell commands with separate stdout and
// stderr pipes, incremental output draining, and process-group termination.
package job

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// State is the job lifecycle state. Transitions are one-way:
// running → completed (process exited) or running → killed (caller
// terminated); both are terminal.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateKilled    State = "killed"
)

// drainGrace is how long an exited job waits for its readers to hit EOF
// before the read ends are forced closed. A descendant that inherited the
// pipes and outlives the direct child would otherwise hold them open
// forever.
const drainGrace = 100 * time.Millisecond

// Lifecycle errors for stdin misuse. Double-close is explicitly not an error.
var (
	ErrStdinUnavailable = errors.New("stdin is not available (job started without stdin open)")
	ErrStdinClosed      = errors.New("stdin is already closed")
)

// PollResult is a snapshot of job state plus the output produced since the
// previous drain.
type PollResult struct {
	State    State
	ExitCode *int
	Stdout   string
	Stderr   string
}

// Options configures Start. Stdin becomes a pipe only when Input is non-nil
// or StdinOpen is set.
type Options struct {
	// Input is written to stdin after start; nil means no initial input.
	Input []byte
	// StdinOpen keeps stdin open after the initial input so WriteStdin and
	// CloseStdin can be used later.
	StdinOpen bool
	// Env holds additional environment variables merged over the daemon's.
	Env map[string]string
	// Cwd is the working directory.
	Cwd string
}

// Job owns one shell invocation and its two background readers. The pipes
// are managed directly so process exit can be observed independently of
// reader EOF: exited closes when the child is reaped, drained closes when
// both readers have returned.
type Job struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdoutR *os.File
	stderrR *os.File

	mu          sync.Mutex
	state       State
	exitCode    int
	stdout      strings.Builder
	stderr      strings.Builder
	stdinClosed bool

	exited    chan struct{}
	drained   chan struct{}
	readers   sync.WaitGroup
	closeOnce sync.Once
}

// Start launches command via the shell as its own session (and therefore
// process-group) leader. Group-wide signalling is what lets Kill reap the
// whole tree when the command forks children.
func Start(command string, opts Options) (*Job, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = opts.Cwd
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdinR, stdinW *os.File
	if opts.Input != nil || opts.StdinOpen {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdinR, stdinW = r, w
		cmd.Stdin = stdinR
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeFiles(stdinR, stdinW, stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("start job: %w", err)
	}

	// The child carries its own copies; the parent's write ends must close
	// so reader EOF tracks writer liveness.
	closeFiles(stdinR, stdoutW, stderrW)

	j := &Job{
		cmd:     cmd,
		stdoutR: stdoutR,
		stderrR: stderrR,
		state:   StateRunning,
		exited:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	if stdinW != nil {
		j.stdin = stdinW
	}

	j.readers.Add(2)
	go j.readStream(stdoutR, &j.stdout)
	go j.readStream(stderrR, &j.stderr)
	go func() {
		j.readers.Wait()
		close(j.drained)
	}()

	go func() {
		err := cmd.Wait()
		j.mu.Lock()
		j.exitCode = exitCodeOf(cmd, err)
		j.mu.Unlock()
		close(j.exited)
	}()

	if j.stdin != nil {
		if opts.Input != nil {
			if _, err := j.stdin.Write(opts.Input); err != nil && !isExpectedIOError(err) {
				_ = j.stdin.Close()
				j.Kill(time.Second)
				return nil, fmt.Errorf("write initial input: %w", err)
			}
		}
		if !opts.StdinOpen {
			_ = j.stdin.Close()
			j.stdinClosed = true
		}
	}

	return j, nil
}

// Pid returns the process id, which also identifies the job.
func (j *Job) Pid() int {
	return j.cmd.Process.Pid
}

// readStream drains one pipe into its accumulator. The streams are never
// merged; each keeps production order independently.
func (j *Job) readStream(r io.Reader, buf *strings.Builder) {
	defer j.readers.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			j.mu.Lock()
			buf.Write(chunk[:n])
			j.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// cancelReaders forces the readers to return by closing the read ends.
func (j *Job) cancelReaders() {
	j.closeOnce.Do(func() {
		_ = j.stdoutR.Close()
		_ = j.stderrR.Close()
	})
}

// awaitDrained waits for the readers to finish. Normally they hit EOF right
// after process exit; past drainGrace the read ends are forced closed so an
// escaped descendant holding the write ends cannot stall the job.
func (j *Job) awaitDrained() {
	select {
	case <-j.drained:
		return
	case <-time.After(drainGrace):
	}
	j.cancelReaders()
	<-j.drained
}

// Poll returns the current state and the output produced since the previous
// drain, clearing both accumulators. The first Poll that observes process
// exit transitions the job to completed after letting the readers drain.
func (j *Job) Poll() PollResult {
	j.mu.Lock()
	if j.state == StateRunning {
		select {
		case <-j.exited:
			j.state = StateCompleted
			j.mu.Unlock()
			j.awaitDrained()
			j.mu.Lock()
		default:
		}
	}

	result := PollResult{State: j.state}
	if j.state == StateCompleted {
		code := j.exitCode
		result.ExitCode = &code
	}
	result.Stdout, result.Stderr = j.drainLocked()
	j.mu.Unlock()
	return result
}

// Wait blocks until the process has exited or the timeout elapses. It
// reports whether the job finished in time.
func (j *Job) Wait(timeout time.Duration) bool {
	select {
	case <-j.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Kill terminates the whole process group, escalating from SIGTERM to
// SIGKILL if the process has not exited within timeout, and returns the
// remaining buffered output. The timeout is a hard ceiling: once the direct
// child is reaped, only drainGrace more is spent on the readers. Killing a
// job already in a terminal state is a no-op returning empty buffers.
func (j *Job) Kill(timeout time.Duration) (stdout, stderr string) {
	j.mu.Lock()
	if j.state != StateRunning {
		j.mu.Unlock()
		return "", ""
	}
	j.state = StateKilled
	pgid := j.cmd.Process.Pid
	j.mu.Unlock()

	// ESRCH means the group is already gone, which is fine.
	_ = unix.Kill(-pgid, unix.SIGTERM)
	select {
	case <-j.exited:
	case <-time.After(timeout):
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-j.exited
	}
	j.awaitDrained()

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.drainLocked()
}

// WriteStdin writes data to the job's stdin and returns output buffered
// since the last drain. Writing when stdin was never opened, or after it was
// closed, is a lifecycle error.
func (j *Job) WriteStdin(data []byte) (stdout, stderr string, err error) {
	j.mu.Lock()
	switch {
	case j.stdin == nil:
		j.mu.Unlock()
		return "", "", ErrStdinUnavailable
	case j.stdinClosed:
		j.mu.Unlock()
		return "", "", ErrStdinClosed
	case j.state != StateRunning:
		j.mu.Unlock()
		return "", "", fmt.Errorf("cannot write to stdin: job is %s", j.state)
	}
	j.mu.Unlock()

	if _, err := j.stdin.Write(data); err != nil && !isExpectedIOError(err) {
		return "", "", fmt.Errorf("write stdin: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	stdout, stderr = j.drainLocked()
	return stdout, stderr, nil
}

// CloseStdin closes the job's stdin to signal EOF and returns buffered
// output. It is idempotent; closing an already-closed stdin just drains.
func (j *Job) CloseStdin() (stdout, stderr string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stdin == nil {
		return "", "", ErrStdinUnavailable
	}
	if !j.stdinClosed {
		_ = j.stdin.Close()
		j.stdinClosed = true
	}
	stdout, stderr = j.drainLocked()
	return stdout, stderr, nil
}

func (j *Job) drainLocked() (stdout, stderr string) {
	stdout = j.stdout.String()
	stderr = j.stderr.String()
	j.stdout.Reset()
	j.stderr.Reset()
	return stdout, stderr
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

func isExpectedIOError(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

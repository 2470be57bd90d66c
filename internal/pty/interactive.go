package pty

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/user/sandboxtools/internal/ansi"
	"github.com/user/sandboxtools/internal/idle"
)

// flushThreshold is the accumulated byte count at which buffered output is
// flushed immediately instead of waiting out the idle window.
const flushThreshold = 4096

// drainGrace is how long Terminate waits for the reader after the child has
// been reaped before force-closing the pty to unblock it.
const drainGrace = 100 * time.Millisecond

// Interactive owns a child process attached to a pty as its own
// process-group leader. A background goroutine pulls decoded chunks into an
// accumulator and drives the idle-batching event; Interact drains the
// accumulator under the wait-for-output/idle-timeout policy.
type Interactive struct {
	handle *Handle
	cmd    *exec.Cmd
	event  *idle.Event

	mu          sync.Mutex
	accumulated strings.Builder
	idleTimeout time.Duration

	waited     chan struct{}
	readerDone chan struct{}
}

// StartInteractive spawns argv attached to a fresh pty. The child becomes
// session leader with the pty as its controlling terminal, so terminating
// the process group reaps any descendants it forks.
func StartInteractive(argv []string, dir string, env []string) (*Interactive, error) {
	if len(argv) == 0 {
		return nil, errors.New("pty: argv must not be empty")
	}

	handle, err := Open()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = env
	}
	tty := handle.Subprocess()
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		handle.Cleanup()
		return nil, fmt.Errorf("start %q: %w", argv[0], err)
	}
	handle.CloseSubprocess()

	p := &Interactive{
		handle:     handle,
		cmd:        cmd,
		event:      idle.NewEvent(),
		waited:     make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(p.waited)
	}()
	go p.readPump()

	return p, nil
}

// Pid returns the child's process id (also its process-group id).
func (p *Interactive) Pid() int {
	return p.cmd.Process.Pid
}

// readPump continuously pulls decoded chunks into the accumulator. Enough
// accumulated bytes flush immediately; otherwise each new chunk restarts the
// idle timer. Read errors after child exit are expected shutdown noise and
// flush whatever is buffered.
func (p *Interactive) readPump() {
	defer close(p.readerDone)
	for {
		chunk, err := p.handle.Read(flushThreshold)
		if chunk != "" {
			p.mu.Lock()
			p.accumulated.WriteString(chunk)
			total := p.accumulated.Len()
			timeout := p.idleTimeout
			p.mu.Unlock()

			if total >= flushThreshold {
				p.event.Set()
			} else if timeout > 0 {
				p.event.StartTimer(timeout)
			}
		}
		if err != nil {
			p.event.Set()
			return
		}
	}
}

// Interact optionally writes input to the terminal, waits for output per the
// idle-batching policy, and returns the accumulated output with escape
// sequences stripped. The accumulator is cleared on return. If no output at
// all arrives within waitForOutput, the result is an empty string.
func (p *Interactive) Interact(ctx context.Context, input string, waitForOutput, idleTimeout time.Duration) (string, error) {
	p.mu.Lock()
	p.idleTimeout = idleTimeout
	pending := p.accumulated.Len() > 0
	p.mu.Unlock()

	p.event.Clear()
	if pending {
		// Output arrived since the previous drain; just wait out the idle
		// window for any trailing chunks.
		p.event.StartTimer(idleTimeout)
	}

	if input != "" {
		if _, err := p.handle.Write([]byte(input)); err != nil && !isExpectedIOError(err) {
			return "", fmt.Errorf("write to terminal: %w", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, waitForOutput)
	defer cancel()
	if err := p.event.Wait(waitCtx); err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}

	p.mu.Lock()
	output := p.accumulated.String()
	p.accumulated.Reset()
	p.mu.Unlock()

	return ansi.Strip(output), nil
}

// Terminate shuts the session down: it sends an interactive exit line,
// cancels the idle timer, and terminates the process group, escalating from
// SIGTERM to SIGKILL if the child does not exit within timeout. The pty is
// released on every path.
func (p *Interactive) Terminate(timeout time.Duration) error {
	defer p.handle.Cleanup()

	_, _ = p.handle.Write([]byte("exit\n"))
	p.event.Cancel()

	pgid := p.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate process group %d: %w", pgid, err)
	}

	select {
	case <-p.waited:
	case <-time.After(timeout):
		if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("kill process group %d: %w", pgid, err)
		}
		<-p.waited
	}

	// The reader normally sees EIO right after the child exits. A descendant
	// that escaped the process group can keep the tty open past that, so the
	// pty is force-closed to unblock the reader rather than waited on
	// indefinitely.
	select {
	case <-p.readerDone:
	case <-time.After(drainGrace):
		p.handle.Cleanup()
		<-p.readerDone
	}
	return nil
}

// isExpectedIOError reports whether err is normal teardown noise from a pty
// or pipe whose peer has gone away.
func isExpectedIOError(err error) bool {
	return errors.Is(err, unix.EIO) || errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

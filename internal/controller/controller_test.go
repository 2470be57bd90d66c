package controller

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/user/sandboxtools/internal/history"
	"github.com/user/sandboxtools/internal/jsonrpc"
	"github.com/user/sandboxtools/internal/session"
)

func buildTestMux(t *testing.T) (*Mux, *session.Registry, *session.Jobs) {
	t.Helper()
	registry := session.NewRegistry()
	jobs := session.NewJobs()
	t.Cleanup(func() {
		registry.CloseAll(time.Second)
		jobs.KillAll(time.Second)
	})

	mb := NewMuxBuilder()
	NewBash(registry, nil, nil, []string{"/bin/sh"}).Register(mb)
	NewExecRemote(jobs, nil, nil).Register(mb)
	NewExecPlus().Register(mb)
	mux, err := mb.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return mux, registry, jobs
}

func dispatch(t *testing.T, mux *Mux, method string, params string) (any, error) {
	t.Helper()
	return mux.Dispatch(context.Background(), method, json.RawMessage(params))
}

// TestMuxRejectsDuplicates verifies the builder validates registrations.
func TestMuxRejectsDuplicates(t *testing.T) {
	mb := NewMuxBuilder()
	h := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	mb.Handle("m", h).Handle("m", h)
	if _, err := mb.Build(); err == nil {
		t.Error("duplicate registration accepted")
	}
}

// TestMuxMethodNotFound verifies unknown methods map to the protocol error.
func TestMuxMethodNotFound(t *testing.T) {
	mux, _, _ := buildTestMux(t)
	_, err := dispatch(t, mux, "no_such_method", "")
	var notFound *jsonrpc.MethodNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("got %v, want *MethodNotFoundError", err)
	}
}

// TestNewSessionDefaultNameSuffixing creates three sessions without a name
// and expects bash, bash_1, bash_2.
func TestNewSessionDefaultNameSuffixing(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	want := []string{"bash", "bash_1", "bash_2"}
	for _, expected := range want {
		res, err := dispatch(t, mux, "bash_session_new_session", "{}")
		if err != nil {
			t.Fatalf("new_session: %v", err)
		}
		got := res.(NewSessionResult).SessionName
		if got != expected {
			t.Errorf("session name = %q, want %q", got, expected)
		}
	}
}

// TestInteractRoundTrip sends an echo through the dispatch layer and expects
// the output string to contain it.
func TestInteractRoundTrip(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	res, err := dispatch(t, mux, "bash_session_new_session", "{}")
	if err != nil {
		t.Fatalf("new_session: %v", err)
	}
	name := res.(NewSessionResult).SessionName

	out, err := dispatch(t, mux, "bash_session_interact",
		`{"session_name":"`+name+`","input":"echo A\n","wait_for_output":5,"idle_timeout":0.2}`)
	if err != nil {
		t.Fatalf("interact: %v", err)
	}
	if !strings.Contains(out.(string), "A") {
		t.Errorf("output %q missing A", out)
	}
}

// TestRestartRecordsSessionHistory restarts a session with history enabled
// and verifies the old incarnation's record gets its end stamped while a
// fresh open record takes its place.
func TestRestartRecordsSessionHistory(t *testing.T) {
	ctx := context.Background()
	store, err := history.Open(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := session.NewRegistry()
	t.Cleanup(func() { registry.CloseAll(time.Second) })

	mb := NewMuxBuilder()
	NewBash(registry, store, nil, []string{"/bin/sh"}).Register(mb)
	mux, err := mb.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res, err := dispatch(t, mux, "bash_session_new_session", "{}")
	if err != nil {
		t.Fatalf("new_session: %v", err)
	}
	name := res.(NewSessionResult).SessionName

	if _, err := dispatch(t, mux, "bash_session_restart", `{"session_name":"`+name+`"}`); err != nil {
		t.Fatalf("restart: %v", err)
	}

	records, err := store.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentSessions: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d session records, want 2", len(records))
	}
	if records[0].EndedAt != "" {
		t.Errorf("newest record already ended: %+v", records[0])
	}
	if records[1].EndedAt == "" {
		t.Errorf("restarted incarnation never got its end stamped: %+v", records[1])
	}
}

// TestRestartReturnsConfirmation verifies the fixed restart result.
func TestRestartReturnsConfirmation(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	res, err := dispatch(t, mux, "bash_session_new_session", "{}")
	if err != nil {
		t.Fatalf("new_session: %v", err)
	}
	name := res.(NewSessionResult).SessionName

	out, err := dispatch(t, mux, "bash_session_restart", `{"session_name":"`+name+`"}`)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if out != RestartConfirmation {
		t.Errorf("got %q, want %q", out, RestartConfirmation)
	}
}

// TestInteractUnknownSession verifies unknown names are not surfaced as
// recoverable tool errors.
func TestInteractUnknownSession(t *testing.T) {
	mux, _, _ := buildTestMux(t)
	_, err := dispatch(t, mux, "bash_session_interact", `{"session_name":"ghost","wait_for_output":1}`)
	if err == nil {
		t.Fatal("unknown session accepted")
	}
	var toolErr *jsonrpc.ToolError
	if errors.As(err, &toolErr) {
		t.Errorf("unknown session mapped to ToolError: %v", err)
	}
}

// TestInteractRejectsUnknownFields verifies params validation.
func TestInteractRejectsUnknownFields(t *testing.T) {
	mux, _, _ := buildTestMux(t)
	_, err := dispatch(t, mux, "bash_session_interact", `{"session_name":"x","bogus":1}`)
	var valErr *jsonrpc.ValidationError
	if !errors.As(err, &valErr) {
		t.Errorf("got %v, want *ValidationError", err)
	}
}

// TestExecRemoteLifecycle submits `sleep` + echo, observes running before
// completed, and checks the terminal poll retires the job.
func TestExecRemoteLifecycle(t *testing.T) {
	mux, _, jobs := buildTestMux(t)

	res, err := dispatch(t, mux, "exec_remote_start", `{"command":"sleep 1; echo done"}`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := res.(StartResult).Pid
	if _, ok := jobs.Get(pid); !ok {
		t.Fatal("job not registered")
	}

	sawRunning := false
	var stdout strings.Builder
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		res, err := dispatch(t, mux, "exec_remote_poll", jsonPid(pid))
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		poll := res.(PollResult)
		stdout.WriteString(poll.Stdout)
		if poll.State == "running" {
			sawRunning = true
		}
		if poll.State == "completed" {
			if !sawRunning {
				t.Error("never observed running")
			}
			if poll.ExitCode == nil || *poll.ExitCode != 0 {
				t.Errorf("exit code = %v", poll.ExitCode)
			}
			if !strings.Contains(stdout.String(), "done\n") {
				t.Errorf("stdout = %q", stdout.String())
			}
			if _, ok := jobs.Get(pid); ok {
				t.Error("job still registered after terminal poll")
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("job never completed")
}

// TestExecRemoteKillRetiredJob verifies kill on a retired pid is a no-op
// with empty buffers.
func TestExecRemoteKillRetiredJob(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	res, err := dispatch(t, mux, "exec_remote_start", `{"command":"true"}`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := res.(StartResult).Pid

	// Poll until the job retires itself.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err := dispatch(t, mux, "exec_remote_poll", jsonPid(pid))
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if res.(PollResult).State == "completed" {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	out, err := dispatch(t, mux, "exec_remote_kill", jsonPid(pid))
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if got := out.(OutputResult); got.Stdout != "" || got.Stderr != "" {
		t.Errorf("kill returned %+v, want empty buffers", got)
	}
}

// TestExecRemoteStdinErrors verifies stdin misuse surfaces as recoverable
// tool errors.
func TestExecRemoteStdinErrors(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	res, err := dispatch(t, mux, "exec_remote_start", `{"command":"cat","stdin_open":true}`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := res.(StartResult).Pid
	defer dispatch(t, mux, "exec_remote_kill", jsonPid(pid))

	if _, err := dispatch(t, mux, "exec_remote_write_stdin", `{"pid":`+strconv.Itoa(pid)+`,"data":"x\n"}`); err != nil {
		t.Fatalf("write_stdin: %v", err)
	}
	if _, err := dispatch(t, mux, "exec_remote_close_stdin", jsonPid(pid)); err != nil {
		t.Fatalf("close_stdin: %v", err)
	}
	if _, err := dispatch(t, mux, "exec_remote_close_stdin", jsonPid(pid)); err != nil {
		t.Errorf("second close_stdin: %v, want idempotent nil", err)
	}

	_, err = dispatch(t, mux, "exec_remote_write_stdin", `{"pid":`+strconv.Itoa(pid)+`,"data":"y\n"}`)
	var toolErr *jsonrpc.ToolError
	if !errors.As(err, &toolErr) {
		t.Errorf("write after close: %v, want *ToolError", err)
	}
}

// TestExecPlus runs a command to completion and checks the captured result.
func TestExecPlus(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	res, err := dispatch(t, mux, "exec_plus", `{"command":"echo out; echo err >&2; exit 2"}`)
	if err != nil {
		t.Fatalf("exec_plus: %v", err)
	}
	got := res.(ExecPlusResult)
	if got.ExitCode != 2 || got.Stdout != "out\n" || got.Stderr != "err\n" {
		t.Errorf("result = %+v", got)
	}
}

// TestExecPlusTimeout verifies the timeout ceiling kills the command and
// surfaces a tool error.
func TestExecPlusTimeout(t *testing.T) {
	mux, _, _ := buildTestMux(t)

	start := time.Now()
	_, err := dispatch(t, mux, "exec_plus", `{"command":"sleep 30","timeout":0.3}`)
	var toolErr *jsonrpc.ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("got %v, want *ToolError", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("timeout not enforced")
	}
}

func jsonPid(pid int) string {
	return `{"pid":` + strconv.Itoa(pid) + `}`
}

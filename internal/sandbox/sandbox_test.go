package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

// TestLocalExec runs a trivial command through the Local sandbox and checks
// stdout, stderr and exit status handling.
func TestLocalExec(t *testing.T) {
	sb := NewLocal(t.TempDir())

	res, err := sb.Exec(context.Background(), []string{"sh", "-c", "echo out; echo err >&2"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !res.Success || res.Stdout != "out\n" || res.Stderr != "err\n" {
		t.Errorf("got %+v", res)
	}

	res, err = sb.Exec(context.Background(), []string{"sh", "-c", "exit 3"}, ExecOptions{})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Success || res.ExitCode != 3 {
		t.Errorf("got %+v, want failure with exit code 3", res)
	}
}

// TestLocalExecInput verifies stdin is delivered to the command.
func TestLocalExecInput(t *testing.T) {
	sb := NewLocal(t.TempDir())
	res, err := sb.Exec(context.Background(), []string{"cat"}, ExecOptions{Input: "hello"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "hello" {
		t.Errorf("stdout = %q, want hello", res.Stdout)
	}
}

// TestLocalFileRoundTrip writes then reads a file relative to the root.
func TestLocalFileRoundTrip(t *testing.T) {
	sb := NewLocal(t.TempDir())
	ctx := context.Background()
	if err := sb.WriteFile(ctx, "sub/dir/f.txt", []byte("data")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := sb.ReadFile(ctx, "sub/dir/f.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("contents = %q, want data", got)
	}
}

type recordingSandbox struct {
	Local
	argv  []string
	input string
	out   string
	fail  bool
}

func (r *recordingSandbox) Exec(_ context.Context, argv []string, opts ExecOptions) (ExecResult, error) {
	r.argv = argv
	r.input = opts.Input
	if r.fail {
		return ExecResult{Success: false, Stderr: "exec blew up"}, nil
	}
	return ExecResult{Success: true, Stdout: r.out}, nil
}

// TestTransportCall verifies the transport invokes `<cli> exec` with the
// encoded request on stdin and returns raw stdout.
func TestTransportCall(t *testing.T) {
	sb := &recordingSandbox{out: `{"jsonrpc":"2.0","id":1,"result":"ok"}`}
	tr := NewTransport(sb, "", 10*time.Second, "")

	out, err := tr.Call(context.Background(), "some_method", map[string]any{"k": "v"}, false)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out != sb.out {
		t.Errorf("stdout = %q", out)
	}
	if len(sb.argv) != 2 || sb.argv[0] != DefaultCLI || sb.argv[1] != "exec" {
		t.Errorf("argv = %v", sb.argv)
	}
	if !strings.Contains(sb.input, `"method":"some_method"`) {
		t.Errorf("request stdin = %q", sb.input)
	}
}

// TestTransportExecFailure verifies a failed exec surfaces as an error that
// carries the sandbox's stderr.
func TestTransportExecFailure(t *testing.T) {
	sb := &recordingSandbox{fail: true}
	tr := NewTransport(sb, "", 0, "")
	_, err := tr.Call(context.Background(), "m", nil, false)
	if err == nil || !strings.Contains(err.Error(), "exec blew up") {
		t.Errorf("got %v, want error carrying stderr", err)
	}
}

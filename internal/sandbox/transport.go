package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/user/sandboxtools/internal/jsonrpc"
)

// DefaultCLI is the tool binary expected on the sandbox PATH.
const DefaultCLI = "sandbox-tools"

// Transport ships JSON-RPC requests to the sandboxed tool binary by invoking
// `<cli> exec` with the encoded request on stdin.
type Transport struct {
	sandbox Sandbox
	cli     string
	timeout time.Duration
	user    string
}

// NewTransport creates a Transport over the given sandbox. An empty cli
// selects DefaultCLI; timeout bounds each exec round trip.
func NewTransport(sb Sandbox, cli string, timeout time.Duration, user string) *Transport {
	if cli == "" {
		cli = DefaultCLI
	}
	return &Transport{sandbox: sb, cli: cli, timeout: timeout, user: user}
}

// Call implements jsonrpc.Transport. A failed exec surfaces as a runtime
// error carrying the sandbox's stderr.
func (t *Transport) Call(ctx context.Context, method string, params any, isNotification bool) (string, error) {
	request, err := jsonrpc.EncodeRequest(method, params, isNotification)
	if err != nil {
		return "", err
	}
	result, err := t.sandbox.Exec(ctx, []string{t.cli, "exec"}, ExecOptions{
		Input:   string(request),
		Timeout: t.timeout,
		User:    t.user,
	})
	if err != nil {
		return "", fmt.Errorf("sandbox exec failed executing %s: %w", jsonrpc.CallDescription(method, params), err)
	}
	if !result.Success {
		return "", fmt.Errorf("sandbox exec failure executing %s: %s", jsonrpc.CallDescription(method, params), result.Stderr)
	}
	return result.Stdout, nil
}

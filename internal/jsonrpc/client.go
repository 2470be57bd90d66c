package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Transport ships an encoded request to the JSON-RPC server and returns the
// raw response text. Implementations decide the channel (sandbox exec, unix
// socket, in-process loopback for tests).
type Transport interface {
	Call(ctx context.Context, method string, params any, isNotification bool) (string, error)
}

// ParseResponse decodes a success or error response. Error responses are
// mapped through the taxonomy; a body matching neither shape is a
// *ValidationError carrying the raw text.
func ParseResponse(text string, method string, params any, mapper ServerErrorMapper) (json.RawMessage, error) {
	var resp response
	if err := json.Unmarshal([]byte(text), &resp); err != nil || resp.JSONRPC != Version {
		return nil, &ValidationError{
			Message: fmt.Sprintf("unexpected response to %s: %s", CallDescription(method, params), text),
		}
	}
	switch {
	case resp.Error != nil:
		return nil, errorForResponse(resp.Error, method, params, mapper)
	case resp.Result != nil:
		return *resp.Result, nil
	default:
		return nil, &ValidationError{
			Message: fmt.Sprintf("unexpected response to %s: %s", CallDescription(method, params), text),
		}
	}
}

// ExecRequest performs a round trip and returns the raw result.
func ExecRequest(ctx context.Context, t Transport, method string, params any, mapper ServerErrorMapper) (json.RawMessage, error) {
	text, err := t.Call(ctx, method, params, false)
	if err != nil {
		return nil, err
	}
	return ParseResponse(text, method, params, mapper)
}

// Scalar constrains the result types permitted by ExecScalarRequest.
type Scalar interface {
	~string | ~int | ~int64 | ~float64 | ~bool
}

// ExecScalarRequest performs a round trip expecting a scalar result and
// validates the unwrapped result against the expected type.
func ExecScalarRequest[T Scalar](ctx context.Context, t Transport, method string, params any, mapper ServerErrorMapper) (T, error) {
	var zero T
	raw, err := ExecRequest(ctx, t, method, params, mapper)
	if err != nil {
		return zero, err
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, &ValidationError{
			Message: fmt.Sprintf("expected %T result from %s, got %s", zero, method, raw),
		}
	}
	return result, nil
}

// ExecModelRequest performs a round trip expecting a structured result and
// unmarshals it into T, rejecting unknown fields.
func ExecModelRequest[T any](ctx context.Context, t Transport, method string, params any, mapper ServerErrorMapper) (T, error) {
	var result T
	raw, err := ExecRequest(ctx, t, method, params, mapper)
	if err != nil {
		return result, err
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&result); err != nil {
		return result, &ValidationError{
			Message: fmt.Sprintf("cannot decode %s result into %T: %v", method, result, err),
		}
	}
	return result, nil
}

// ExecNotification sends a notification; any response at all is a protocol
// violation.
func ExecNotification(ctx context.Context, t Transport, method string, params any) error {
	text, err := t.Call(ctx, method, params, true)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) != "" {
		return protocolErrorf("unexpected response to notification %s: %s", CallDescription(method, params), text)
	}
	return nil
}

// Package jsonrpc implements the JSON-RPC 2.0 codec used on both sides of
// the sandbox boundary: request encoding and typed response decoding for
// host-side callers, and request decoding plus response building for the
// in-sandbox daemon.
package jsonrpc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

const Version = "2.0"

// Request is an incoming JSON-RPC request or notification. A nil ID marks a
// notification, for which no response may be written.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// ErrorObject is the error member of a JSON-RPC error response.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// response always carries the id member; a nil ID marshals as null, which is
// what a response to an unparseable request must report.
type response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  *json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject     `json:"error,omitempty"`
}

var requestID atomic.Int64

// EncodeRequest serializes a request for the wire. Null-valued entries are
// dropped recursively from params, and an id is assigned from a process-wide
// counter unless the request is a notification.
func EncodeRequest(method string, params any, isNotification bool) ([]byte, error) {
	body := map[string]any{
		"jsonrpc": Version,
		"method":  method,
	}
	if params != nil {
		normalized, err := normalizeParams(params)
		if err != nil {
			return nil, fmt.Errorf("encode request %s: %w", method, err)
		}
		if normalized != nil {
			body["params"] = normalized
		}
	}
	if !isNotification {
		body["id"] = requestID.Add(1)
	}
	return json.Marshal(body)
}

// normalizeParams round-trips params through JSON so that structs, maps and
// slices all reduce to the generic shape, then strips null entries.
func normalizeParams(params any) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	switch g := removeNulls(generic).(type) {
	case map[string]any:
		if len(g) == 0 {
			return nil, nil
		}
		return g, nil
	case []any:
		return g, nil
	default:
		return nil, fmt.Errorf("params must be an object or array, got %T", generic)
	}
}

func removeNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			if item == nil {
				continue
			}
			out[k] = removeNulls(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, removeNulls(item))
		}
		return out
	default:
		return v
	}
}

// DecodeRequest parses and validates an incoming request.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if req.JSONRPC != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return nil, fmt.Errorf("request has no method")
	}
	return &req, nil
}

// CallDescription renders "method(k: v, ...)" for diagnostics.
func CallDescription(method string, params any) string {
	var parts []string
	switch p := params.(type) {
	case nil:
	case []any:
		for _, v := range p {
			parts = append(parts, fmt.Sprint(v))
		}
	case map[string]any:
		for k, v := range p {
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
		sort.Strings(parts)
	default:
		if generic, err := normalizeParams(params); err == nil {
			return CallDescription(method, generic)
		}
		parts = append(parts, fmt.Sprint(params))
	}
	return fmt.Sprintf("%s(%s)", method, strings.Join(parts, ", "))
}

// Package controller holds the logic-free dispatch layer: each RPC method is
// translated 1:1 onto registry and session/job operations. Handlers are
// registered into an explicit method map built once at startup.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/sandboxtools/internal/jsonrpc"
)

// Handler executes one method against its raw params and returns a result
// that will be wrapped into a JSON-RPC success response.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Mux routes method names to handlers.
type Mux struct {
	handlers map[string]Handler
}

// MuxBuilder accumulates handler registrations; Build validates the map
// once and freezes it.
type MuxBuilder struct {
	handlers map[string]Handler
	err      error
}

func NewMuxBuilder() *MuxBuilder {
	return &MuxBuilder{handlers: make(map[string]Handler)}
}

// Handle registers a method. Registration problems are reported by Build so
// call sites stay chainable.
func (b *MuxBuilder) Handle(method string, h Handler) *MuxBuilder {
	if b.err != nil {
		return b
	}
	if method == "" || h == nil {
		b.err = fmt.Errorf("invalid registration for method %q", method)
		return b
	}
	if _, dup := b.handlers[method]; dup {
		b.err = fmt.Errorf("duplicate handler for method %q", method)
		return b
	}
	b.handlers[method] = h
	return b
}

func (b *MuxBuilder) Build() (*Mux, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.handlers) == 0 {
		return nil, fmt.Errorf("no handlers registered")
	}
	return &Mux{handlers: b.handlers}, nil
}

// Dispatch resolves and runs the handler for method.
func (m *Mux) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	h, ok := m.handlers[method]
	if !ok {
		return nil, &jsonrpc.MethodNotFoundError{Method: method}
	}
	return h(ctx, params)
}

// decodeParams unmarshals raw params into dst, rejecting unknown fields.
// Failures are caller-correctable input errors.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &jsonrpc.ValidationError{Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

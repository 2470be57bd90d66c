package jsonrpc

import "fmt"

// Error codes shared with the sandboxed tool binary. The two custom codes sit
// in the -32000..-32099 server-defined range: CodeToolError is a recoverable
// domain failure, CodeInternalError an unexpected fault inside the daemon.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeInternalError  = -32098
	CodeToolError      = -32099
)

// ToolError is a tool/domain failure surfaced to the caller as a recoverable
// result rather than a crash.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string { return e.Message }

// ValidationError marks caller-correctable input: invalid params reported by
// the server, or a result that does not match the expected type.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ProtocolError marks a programming bug in the protocol exchange: malformed
// requests, unknown methods, or error codes no caller should ever see. It is
// never retried.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string { return e.Message }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// MethodNotFoundError marks a request for a method the dispatcher does not
// know.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("method %q not found", e.Method)
}

// ServerErrorMapper maps a server-defined error code (-32000..-32099) to a
// domain-specific error. A nil mapper yields a generic *ToolError carrying
// the message.
type ServerErrorMapper interface {
	MapServerError(code int, message string, method string, params any) error
}

// errorForResponse converts a decoded error object to a typed error
// according to the wire contract.
func errorForResponse(errObj *ErrorObject, method string, params any, mapper ServerErrorMapper) error {
	code, message := errObj.Code, errObj.Message
	switch {
	case -32099 <= code && code <= -32000:
		if mapper != nil {
			return mapper.MapServerError(code, message, method, params)
		}
		return &ToolError{Message: message}
	case code == CodeInvalidParams:
		return &ValidationError{Message: message}
	case code == CodeInternal:
		return &ToolError{Message: message}
	default:
		return protocolErrorf("error executing %s: code=%d %s", CallDescription(method, params), code, message)
	}
}

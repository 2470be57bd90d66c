package jsonrpc

import (
	"encoding/json"
	"errors"
)

// SuccessResponse builds a success response correlated to the request id.
func SuccessResponse(id *json.RawMessage, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	msg := json.RawMessage(raw)
	return json.Marshal(response{JSONRPC: Version, ID: id, Result: &msg})
}

// ErrorResponse builds an error response correlated to the request id.
func ErrorResponse(id *json.RawMessage, code int, message string, data any) ([]byte, error) {
	return json.Marshal(response{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Data: data},
	})
}

// ResponseForError converts a handler error to an error response using the
// wire contract: domain failures become CodeToolError, bad params become
// CodeInvalidParams, anything else is an unexpected internal fault.
func ResponseForError(id *json.RawMessage, err error) ([]byte, error) {
	var toolErr *ToolError
	var valErr *ValidationError
	var notFound *MethodNotFoundError
	switch {
	case errors.As(err, &toolErr):
		return ErrorResponse(id, CodeToolError, toolErr.Message, nil)
	case errors.As(err, &valErr):
		return ErrorResponse(id, CodeInvalidParams, valErr.Message, nil)
	case errors.As(err, &notFound):
		return ErrorResponse(id, CodeMethodNotFound, notFound.Error(), nil)
	default:
		return ErrorResponse(id, CodeInternalError, err.Error(), nil)
	}
}

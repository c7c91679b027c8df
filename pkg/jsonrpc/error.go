package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes, plus the conventional -32000 range
// used by Ethereum nodes for execution-level failures.
const (
	CodeParse          int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternal       int64 = -32603
	CodeInvalidInput   int64 = -32000
)

// Error is a structured RPC error that is sent back to the client inside
// the response envelope. Unlike generic Go errors, an Error's code, message
// and data are guaranteed to reach the client unmodified, so messages must
// be safe for external consumption.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError creates an Error with the given code and message.
func NewError(code int64, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an Error with a formatted message.
func Errorf(code int64, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of the error carrying an additional data payload.
// The payload is marshaled as-is; marshal failures drop the data rather
// than failing the whole error path.
func (e *Error) WithData(data any) *Error {
	clone := *e
	if raw, err := json.Marshal(data); err == nil {
		clone.Data = raw
	}
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// AsError converts an arbitrary error into a client-facing *Error.
// Errors that already are an *Error pass through unmodified, preserving
// execution-engine codes and revert payloads. Anything else is hidden
// behind the fallback message with an internal error code.
func AsError(err error, fallbackMessage string) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	if fallbackMessage == "" {
		fallbackMessage = "an error occurred while processing the request"
	}
	return NewError(CodeInternal, fallbackMessage)
}

// ABOUTME: Error taxonomy for tool registration and dispatch.
// ABOUTME: Describe converts any dispatch error into a structured kind/message/detail triple.

package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateRequestID indicates the request ID is already in flight.
var ErrDuplicateRequestID = errors.New("duplicate request ID")

// ErrInvalidResult indicates a handler returned a value that does not satisfy
// the tool's return schema.
var ErrInvalidResult = errors.New("result does not match return schema")

// Kind classifies an error for protocol-level reporting.
type Kind string

const (
	KindUnknownTool      Kind = "unknown_tool"
	KindInvalidArguments Kind = "invalid_arguments"
	KindHandlerError     Kind = "handler_error"
	KindTimeout          Kind = "timeout"
	KindTransport        Kind = "transport"
	KindDuplicateTool    Kind = "duplicate_tool"
	KindCancelled        Kind = "cancelled"
	KindDuplicateRequest Kind = "duplicate_request"
)

// UnknownToolError is returned when a tool name is not in the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// FieldError describes one argument that failed validation.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// InvalidArgumentsError lists every argument that failed validation.
type InvalidArgumentsError struct {
	Tool   string
	Fields []FieldError
}

func (e *InvalidArgumentsError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("invalid arguments for %q: %s", e.Tool, strings.Join(parts, "; "))
}

// HasField reports whether the named field is among the violations.
func (e *InvalidArgumentsError) HasField(name string) bool {
	for _, f := range e.Fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

// HandlerExecutionError wraps any failure raised inside tool logic.
type HandlerExecutionError struct {
	Tool string
	Err  error
}

func (e *HandlerExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *HandlerExecutionError) Unwrap() error { return e.Err }

// TimeoutError is returned when an invocation exceeds its execution budget.
type TimeoutError struct {
	Tool   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("tool %q exceeded its %s execution budget", e.Tool, e.Budget)
}

// Is lets callers match a TimeoutError with context.DeadlineExceeded.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// TransportError reports a connection-level failure. It tears down the
// session that owns the connection and is never reported as a tool error.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DuplicateToolError is returned when registering a name already present.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// ErrorInfo is the structured form of an error surfaced to clients.
type ErrorInfo struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Describe converts err into the structured form shared by every transport.
// Handler failures are reported with an opaque message; callers log the
// original error.
func Describe(err error) ErrorInfo {
	var (
		unknown   *UnknownToolError
		invalid   *InvalidArgumentsError
		timeout   *TimeoutError
		handler   *HandlerExecutionError
		duplicate *DuplicateToolError
		transport *TransportError
	)

	switch {
	case errors.As(err, &unknown):
		return ErrorInfo{Kind: KindUnknownTool, Message: unknown.Error(), Detail: map[string]any{"tool": unknown.Name}}
	case errors.As(err, &invalid):
		return ErrorInfo{
			Kind:    KindInvalidArguments,
			Message: fmt.Sprintf("invalid arguments for tool %q", invalid.Tool),
			Detail:  map[string]any{"fields": invalid.Fields},
		}
	case errors.As(err, &timeout):
		return ErrorInfo{
			Kind:    KindTimeout,
			Message: "tool execution timed out",
			Detail:  map[string]any{"tool": timeout.Tool, "budget": timeout.Budget.String()},
		}
	case errors.As(err, &handler):
		return ErrorInfo{Kind: KindHandlerError, Message: "tool execution failed", Detail: map[string]any{"tool": handler.Tool}}
	case errors.As(err, &duplicate):
		return ErrorInfo{Kind: KindDuplicateTool, Message: duplicate.Error()}
	case errors.As(err, &transport):
		return ErrorInfo{Kind: KindTransport, Message: "transport failure"}
	case errors.Is(err, ErrDuplicateRequestID):
		return ErrorInfo{Kind: KindDuplicateRequest, Message: "duplicate request ID"}
	case errors.Is(err, context.Canceled):
		return ErrorInfo{Kind: KindCancelled, Message: "request cancelled"}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorInfo{Kind: KindTimeout, Message: "tool execution timed out"}
	default:
		return ErrorInfo{Kind: KindHandlerError, Message: "tool execution failed"}
	}
}

// Package mcp exposes the evidence platform over the Model Context
// Protocol: read-side tools dispatch through the query bus, workflow
// control goes to the research service. Tools are thin adapters; all
// validation and policy lives behind the bus.
package mcp

import (
	"context"
	stderrors "errors"
	"fmt"

	caseerr "github.com/caseweave/caseweave/internal/errors"
)

// Custom MCP error codes for CaseWeave.
const (
	// ErrCodeNotFound indicates a referenced case, run, or dossier is missing.
	ErrCodeNotFound = -32001

	// ErrCodeDegradedBackend indicates a retrieval backend is unavailable.
	ErrCodeDegradedBackend = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeResourceExhausted indicates the resource governor or a store
	// rejected the request at capacity.
	ErrCodeResourceExhausted = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with a JSON-RPC code. The optional
// correlation ID ties a client-visible failure back to the server logs.
type MCPError struct {
	Code          int    `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors. Structured errors map
// by taxonomy kind; context errors map to the timeout code; anything else
// is an opaque internal error.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}
	if me := (*MCPError)(nil); stderrors.As(err, &me) {
		return me
	}

	var ce *caseerr.Error
	if stderrors.As(err, &ce) {
		// The query bus wraps failures in a query-execution envelope;
		// the cause carries the kind the client can act on.
		for ce.Code == caseerr.ErrCodeQueryExecution && ce.Cause != nil {
			var inner *caseerr.Error
			if !stderrors.As(ce.Cause, &inner) {
				break
			}
			ce = inner
		}
		return mapCaseError(ce)
	}

	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case stderrors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool %q not found.", name)}
}

// mapCaseError converts a structured platform error to an MCPError.
// The message is already user-facing; the code comes from the kind.
func mapCaseError(ce *caseerr.Error) *MCPError {
	me := &MCPError{Message: ce.Message, CorrelationID: ce.CorrelationID}
	switch ce.Kind {
	case caseerr.KindValidation:
		me.Code = ErrCodeInvalidParams
	case caseerr.KindNotFound:
		me.Code = ErrCodeNotFound
	case caseerr.KindTimeout:
		me.Code = ErrCodeTimeout
	case caseerr.KindResourceExhausted:
		me.Code = ErrCodeResourceExhausted
	case caseerr.KindTransientBackend:
		me.Code = ErrCodeDegradedBackend
	default:
		// CONFIG, CONSISTENCY, FATAL_BACKEND, INTERNAL: nothing the
		// caller can fix by changing the request.
		me.Code = ErrCodeInternalError
	}
	return me
}

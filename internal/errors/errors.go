package errors

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Error is the structured error type for CaseWeave.
// User-visible failures carry a stable kind, a human-readable message,
// and a correlation ID.
type Error struct {
	// Code is the unique error code (e.g., "ERR_304_RESOURCE_EXHAUSTED").
	Code string

	// Kind is the taxonomy classification driving propagation policy.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// CorrelationID ties the error to the request or run that produced it.
	CorrelationID string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("[%s] %s (correlation_id=%s)", e.Code, e.Message, e.CorrelationID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrapping.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithCorrelation attaches a correlation ID.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// New creates a new Error with the given code and message.
// Kind, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	kind := kindFromCode(code)
	return &Error{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Severity:  severityFromKind(kind),
		Cause:     cause,
		Retryable: retryableKind(kind),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error, preserving it as the cause.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates a validation error. Never retried.
func Validation(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(ErrCodeInvalidInput, format, args...)
}

// NotFound creates a missing-entity error.
func NotFound(entity, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found: %s", entity, id), nil).
		WithDetail("entity", entity).
		WithDetail("id", id)
}

// Timeout creates a deadline-exceeded error.
func Timeout(message string, cause error) *Error {
	return New(ErrCodeBackendTimeout, message, cause)
}

// ResourceExhausted creates a capacity error (governor, store limits).
func ResourceExhausted(message string, cause error) *Error {
	return New(ErrCodeResourceExhausted, message, cause)
}

// Consistency creates a dual-store partial-write error.
func Consistency(message string, cause error) *Error {
	return New(ErrCodeConsistency, message, cause)
}

// TransientBackend creates a single-backend-unavailable error.
func TransientBackend(backend string, cause error) *Error {
	return New(ErrCodeBackendUnavailable, fmt.Sprintf("%s backend unavailable", backend), cause).
		WithDetail("backend", backend)
}

// FatalBackend creates an all-backends-down error.
func FatalBackend(message string, cause error) *Error {
	return New(ErrCodeBackendFatal, message, cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// IsKind reports whether err is an *Error of the given kind anywhere
// in its chain.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf extracts the kind from an error, or KindInternal for plain errors.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the error code, or empty string for plain errors.
func CodeOf(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation ID threaded through ctx,
// or empty string if none was set.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// EnsureCorrelationID returns ctx with a correlation ID, generating a new
// UUID when the context carries none. Outermost entry points call this once.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

// Correlate stamps the context's correlation ID onto an *Error in err's
// chain, if one is present and unstamped. Plain errors pass through.
func Correlate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok && e.CorrelationID == "" {
		e.CorrelationID = CorrelationID(ctx)
	}
	return err
}

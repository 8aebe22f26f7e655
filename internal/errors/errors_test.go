package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("lexical index is read-only")

	// When: wrapping with a structured error
	err := New(ErrCodeStoreIO, "write to lexical store failed", originalErr)

	// Then: unwrapping returns the original error
	require.NotNil(t, err)
	assert.Equal(t, originalErr, errors.Unwrap(err))
	assert.True(t, errors.Is(err, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "governor error",
			code:     ErrCodeResourceExhausted,
			message:  "permit acquisition timed out",
			expected: "[ERR_304_RESOURCE_EXHAUSTED] permit acquisition timed out",
		},
		{
			name:     "validation error",
			code:     ErrCodeQueryEmpty,
			message:  "query must not be empty",
			expected: "[ERR_404_QUERY_EMPTY] query must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Error_IncludesCorrelationID(t *testing.T) {
	err := Internal("boom", nil).WithCorrelation("corr-123")
	assert.Contains(t, err.Error(), "corr-123")
}

func TestError_Is_MatchesByCode(t *testing.T) {
	err1 := NotFound("research run", "run-a")
	err2 := NotFound("research run", "run-b")

	assert.True(t, errors.Is(err1, err2))
}

func TestError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := Validation("limit out of range")
	err2 := NotFound("case", "c1")

	assert.False(t, errors.Is(err1, err2))
}

func TestKindDerivation(t *testing.T) {
	tests := []struct {
		code      string
		kind      Kind
		retryable bool
	}{
		{ErrCodeInvalidInput, KindValidation, false},
		{ErrCodeNotFound, KindNotFound, false},
		{ErrCodeBackendTimeout, KindTimeout, true},
		{ErrCodeResourceExhausted, KindResourceExhausted, true},
		{ErrCodeConsistency, KindConsistency, false},
		{ErrCodeBackendUnavailable, KindTransientBackend, true},
		{ErrCodeBackendFatal, KindFatalBackend, false},
		{ErrCodeInternal, KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestIsKind_WalksErrorChain(t *testing.T) {
	inner := TransientBackend("vector", errors.New("connection refused"))
	outer := fmt.Errorf("search failed: %w", inner)

	assert.True(t, IsKind(outer, KindTransientBackend))
	assert.False(t, IsKind(outer, KindValidation))
}

func TestFatalBackend_HasFatalSeverity(t *testing.T) {
	err := FatalBackend("both rankers unavailable", nil)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestCorrelationID_ContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CorrelationID(ctx))

	ctx, id := EnsureCorrelationID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, CorrelationID(ctx))

	// A second call reuses the existing ID.
	ctx2, id2 := EnsureCorrelationID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, ctx, ctx2)
}

func TestCorrelate_StampsStructuredErrors(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-7")

	err := Correlate(ctx, Validation("bad input"))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "corr-7", e.CorrelationID)

	// Plain errors pass through untouched.
	plain := errors.New("plain")
	assert.Equal(t, plain, Correlate(ctx, plain))
	assert.NoError(t, Correlate(ctx, nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreIO, nil))
}

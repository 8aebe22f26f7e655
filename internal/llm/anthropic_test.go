package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/errors"
)

// ============================================================================
// Anthropic client
// ============================================================================

func TestAnthropicClient_EmptyPromptRejected(t *testing.T) {
	client := NewAnthropicClient("test-key", "", 0)

	_, err := client.Complete(context.Background(), Request{})

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestAnthropicClient_OpenBreakerFailsFast(t *testing.T) {
	// Given: a client whose breaker tripped on repeated API failures
	client := NewAnthropicClient("test-key", "", 0, WithTimeout(time.Second))
	for i := 0; i < 3; i++ {
		client.breaker.RecordFailure()
	}
	require.False(t, client.Available(context.Background()))

	// When: I request a completion
	started := time.Now()
	_, err := client.Complete(context.Background(), Request{Prompt: "summarize"})

	// Then: the call is refused without touching the network
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransientBackend))
	assert.Less(t, time.Since(started), time.Second)
}

func TestAnthropicClient_BreakerClosedReportsAvailable(t *testing.T) {
	client := NewAnthropicClient("test-key", "", 0)

	assert.True(t, client.Available(context.Background()))
	assert.Equal(t, errors.StateClosed, client.breaker.State())
}

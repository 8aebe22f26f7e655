package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/config"
	"github.com/caseweave/caseweave/internal/errors"
)

// ============================================================================
// Static client
// ============================================================================

func TestStaticClient_Deterministic(t *testing.T) {
	// Given: a static client
	client := NewStaticClient()
	defer func() { _ = client.Close() }()

	req := Request{Prompt: "Summarize the key obligations in the master services agreement."}

	// When: I complete the same request twice
	resp1, err1 := client.Complete(context.Background(), req)
	resp2, err2 := client.Complete(context.Background(), req)

	// Then: identical responses come back
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, resp1.Text, resp2.Text)
	assert.Equal(t, "static", resp1.Model)
}

func TestStaticClient_EmptyPromptFails(t *testing.T) {
	client := NewStaticClient()
	defer func() { _ = client.Close() }()

	_, err := client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestStaticClient_CustomResponder(t *testing.T) {
	// Given: a scripted responder
	client := NewStaticClient(WithResponder(func(req Request) string {
		return `{"sub_queries":["wire transfers"]}`
	}))
	defer func() { _ = client.Close() }()

	// When: I complete any request
	resp, err := client.Complete(context.Background(), Request{Prompt: "plan"})

	// Then: the scripted text is returned
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub_queries":["wire transfers"]}`, resp.Text)
}

func TestStaticClient_ClosedClientRejectsCalls(t *testing.T) {
	client := NewStaticClient()
	require.NoError(t, client.Close())

	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
	assert.False(t, client.Available(context.Background()))
}

func TestExtractiveResponse_CutsAtSentenceBoundary(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "The deposit was returned on time. "
	}

	text := extractiveResponse(Request{Prompt: long})
	assert.LessOrEqual(t, len(text), 400)
	assert.True(t, text[len(text)-1] == '.', "should end at a sentence boundary")
}

// ============================================================================
// Factory
// ============================================================================

func TestNewClient_DefaultsToStaticWithoutAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	client, err := NewClient(config.LLMConfig{}, time.Minute)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, "static", client.ModelName())
}

func TestNewClient_AnthropicRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewClient(config.LLMConfig{Provider: "anthropic"}, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

func TestNewClient_AnthropicWithKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	client, err := NewClient(config.LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"}, time.Minute)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	assert.Equal(t, "claude-sonnet-4-5", client.ModelName())
	assert.True(t, client.Available(context.Background()))
}

func TestNewClient_UnknownProviderFails(t *testing.T) {
	_, err := NewClient(config.LLMConfig{Provider: "gemini"}, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}

// Package llm provides the language model client used by research activities
// for planning, analysis and synthesis. Two implementations exist: an
// Anthropic-backed client for production and a deterministic static client
// for offline use and hermetic tests.
package llm

import (
	"context"
)

// Default generation settings.
const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 4096
)

// Request describes a single completion call.
type Request struct {
	// System is the system prompt. Optional.
	System string
	// Prompt is the user content.
	Prompt string
	// MaxTokens caps generation length. Zero uses the client default.
	MaxTokens int
	// Temperature in [0,1]. Zero means provider default.
	Temperature float64
}

// Response is the completion result.
type Response struct {
	// Text is the generated completion.
	Text string
	// Model is the model that produced the text.
	Model string
	// InputTokens and OutputTokens are usage counts when the provider
	// reports them, zero otherwise.
	InputTokens  int64
	OutputTokens int64
}

// Client generates text completions.
type Client interface {
	// Complete runs a single completion call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Available reports whether the client can serve requests.
	Available(ctx context.Context) bool

	// ModelName returns the model identifier for logging and diagnostics.
	ModelName() string

	// Close releases any held resources.
	Close() error
}

package llm

import (
	"context"
	"strings"
	"sync"

	"github.com/caseweave/caseweave/internal/errors"
)

// Responder maps a request to a canned completion. Used to script the static
// client in tests.
type Responder func(req Request) string

// StaticClient is a deterministic offline completion client. The same request
// always yields the same response, which keeps research pipelines reproducible
// when no API key is configured and makes workflow tests hermetic.
type StaticClient struct {
	mu        sync.RWMutex
	responder Responder
	closed    bool
}

// StaticOption configures a StaticClient.
type StaticOption func(*StaticClient)

// WithResponder overrides the default extractive responder.
func WithResponder(r Responder) StaticOption {
	return func(c *StaticClient) { c.responder = r }
}

// NewStaticClient creates a deterministic offline client.
func NewStaticClient(opts ...StaticOption) *StaticClient {
	c := &StaticClient{responder: extractiveResponse}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns the responder output for the request.
func (c *StaticClient) Complete(_ context.Context, req Request) (*Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errors.FatalBackend("llm client is closed", nil)
	}
	if req.Prompt == "" {
		return nil, errors.Validation("llm prompt must not be empty")
	}

	text := c.responder(req)
	return &Response{Text: text, Model: c.ModelName()}, nil
}

// Available reports whether the client is open.
func (c *StaticClient) Available(_ context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// ModelName returns the static model identifier.
func (c *StaticClient) ModelName() string { return "static" }

// Close marks the client closed.
func (c *StaticClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// extractiveResponse produces a short extractive summary of the prompt: the
// first sentences up to a fixed budget. Callers that expect structured output
// must treat unparseable text as "no model contribution" and fall back to
// their heuristics.
func extractiveResponse(req Request) string {
	const budget = 400

	text := strings.TrimSpace(req.Prompt)
	if len(text) <= budget {
		return text
	}

	// Cut at a sentence boundary inside the budget when one exists.
	cut := text[:budget]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > budget/2 {
		return cut[:idx+1]
	}
	return cut
}

var _ Client = (*StaticClient)(nil)

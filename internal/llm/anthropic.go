package llm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/caseweave/caseweave/internal/errors"
)

// AnthropicClient calls the Anthropic Messages API. A circuit breaker sheds
// calls after repeated API failures so research activities fall back to
// heuristic planning instead of stacking timeouts.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	timeout   time.Duration
	breaker   *errors.CircuitBreaker
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithTimeout bounds each completion call. Zero disables the bound.
func WithTimeout(d time.Duration) AnthropicOption {
	return func(c *AnthropicClient) { c.timeout = d }
}

// NewAnthropicClient creates a client for the given API key and model.
// Empty model or maxTokens fall back to package defaults.
func NewAnthropicClient(apiKey, model string, maxTokens int, opts ...AnthropicOption) *AnthropicClient {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	c := &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		breaker:   errors.NewCircuitBreaker("anthropic"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs a single completion call against the Messages API.
// Timeouts map to KindTimeout, other API failures to KindTransientBackend so
// workflow activities retry them.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, errors.Validation("llm prompt must not be empty")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	maxTokens := int64(c.maxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}

	started := time.Now()
	var msg *anthropic.Message
	err := c.breaker.Execute(func() error {
		m, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrCircuitOpen) {
			return nil, errors.TransientBackend("llm", err)
		}
		if ctx.Err() != nil {
			return nil, errors.Timeout("llm completion timed out", err)
		}
		return nil, errors.TransientBackend("llm", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	slog.Debug("llm_completion",
		"model", c.model,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"duration_ms", time.Since(started).Milliseconds())

	return &Response{
		Text:         text,
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// Available reports false while the circuit breaker is open; other
// reachability problems surface as completion errors.
func (c *AnthropicClient) Available(_ context.Context) bool { return c.breaker.Allow() }

// ModelName returns the configured model identifier.
func (c *AnthropicClient) ModelName() string { return c.model }

// Close releases resources. The underlying HTTP client needs no teardown.
func (c *AnthropicClient) Close() error { return nil }

var _ Client = (*AnthropicClient)(nil)

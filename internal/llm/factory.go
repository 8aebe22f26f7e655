package llm

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/config"
	"github.com/caseweave/caseweave/internal/errors"
)

// NewClient creates a completion client from configuration. The timeout
// bounds each Anthropic completion call (see Config.LLMTimeout).
//
// Provider "anthropic" requires ANTHROPIC_API_KEY. Provider "static" never
// touches the network. An empty provider auto-detects: anthropic when an API
// key is present, static otherwise.
func NewClient(cfg config.LLMConfig, timeout time.Duration) (Client, error) {
	provider := strings.ToLower(cfg.Provider)
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	if provider == "" {
		if apiKey != "" {
			provider = "anthropic"
		} else {
			provider = "static"
		}
	}

	switch provider {
	case "anthropic":
		if apiKey == "" {
			return nil, errors.Newf(errors.ErrCodeConfigInvalid,
				"llm provider %q requires ANTHROPIC_API_KEY", provider)
		}
		client := NewAnthropicClient(apiKey, cfg.Model, cfg.MaxTokens, WithTimeout(timeout))
		slog.Debug("llm_client_created", "provider", provider, "model", client.ModelName())
		return client, nil

	case "static":
		slog.Debug("llm_client_created", "provider", provider, "model", "static")
		return NewStaticClient(), nil

	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"unknown llm provider %q", provider)
	}
}

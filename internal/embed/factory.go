package embed

import (
	"log/slog"
	"os"
	"strings"

	"github.com/caseweave/caseweave/internal/config"
	"github.com/caseweave/caseweave/internal/errors"
)

// ProviderType identifies an embedding provider.
type ProviderType string

const (
	// ProviderStatic uses deterministic hash-based embeddings. No network,
	// no model download, reproducible across runs. The default.
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder from configuration. The CASEWEAVE_EMBEDDER
// environment variable overrides the configured provider.
//
// Every embedder is wrapped with an LRU query cache unless
// CASEWEAVE_EMBED_CACHE is set to a falsy value.
func NewEmbedder(cfg config.EmbeddingsConfig) (Embedder, error) {
	provider := strings.ToLower(cfg.Provider)
	if env := os.Getenv("CASEWEAVE_EMBEDDER"); env != "" {
		provider = strings.ToLower(env)
	}

	var embedder Embedder
	switch ProviderType(provider) {
	case ProviderStatic, "":
		embedder = NewStaticEmbedder(cfg.Dimensions)
	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"unknown embedding provider %q", provider)
	}

	slog.Debug("embedder_created",
		"model", embedder.ModelName(),
		"dimensions", embedder.Dimensions())

	if isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, cfg.CacheSize), nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("CASEWEAVE_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

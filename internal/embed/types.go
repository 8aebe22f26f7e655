package embed

import (
	"context"
	"math"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultDimensions is the default embedding width. All vector spaces in a
	// data directory share one width; changing it requires reindexing.
	DefaultDimensions = 384

	// DefaultCacheSize is the default query-embedding LRU capacity.
	DefaultCacheSize = 512
)

// Embedder generates vector embeddings for evidence text.
type Embedder interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector width
	Dimensions() int

	// ModelName returns the model identifier for cache keys and diagnostics
	ModelName() string

	// Available checks if the embedder is ready to serve requests
	Available(ctx context.Context) bool

	// Close releases any held resources
	Close() error
}

// normalizeVector normalizes a vector to unit length (L2 normalization).
// Returns the input unchanged if it is the zero vector.
func normalizeVector(vector []float32) []float32 {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v) * float64(v)
	}

	if sumSquares == 0 {
		return vector
	}

	norm := float32(math.Sqrt(sumSquares))
	for i := range vector {
		vector[i] /= norm
	}

	return vector
}

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// Vectors of different lengths or zero magnitude yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

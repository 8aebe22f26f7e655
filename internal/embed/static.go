package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings using a hash-based approach.
// Works without external dependencies (no network, no model download) and is
// fully deterministic: the same text always produces the same vector, which
// makes pipeline runs reproducible. Semantic quality is reduced compared to a
// learned model, but token and character-trigram features still cluster
// related legal text usefully.
type StaticEmbedder struct {
	dims   int
	mu     sync.RWMutex
	closed bool
}

// legalStopWords contains high-frequency function words and boilerplate legal
// terms that carry little discriminating signal in evidence text.
var legalStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"by": true, "with": true, "at": true, "from": true, "as": true,
	"is": true, "was": true, "are": true, "were": true, "be": true,
	"been": true, "that": true, "this": true, "it": true, "its": true,
	"herein": true, "hereby": true, "thereof": true, "whereas": true,
	"aforesaid": true, "pursuant": true, "shall": true,
}

// Feature weights for vector generation. Citation-bearing tokens get an extra
// contribution so queries like "§ 365(d)(3)" land near the cited text.
const (
	tokenWeight    = 0.7
	ngramWeight    = 0.3
	citationWeight = 0.5
	ngramSize      = 3
)

// tokenRegex matches alphanumeric sequences
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// NewStaticEmbedder creates a static embedder producing vectors of the given
// width. Widths outside a sane range fall back to DefaultDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims < 8 || dims > 4096 {
		dims = DefaultDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	// Handle empty/whitespace input
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	vector := e.generateVector(trimmed)

	return normalizeVector(vector), nil
}

// generateVector creates a hash-based vector from text.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	// Step 1: Tokenize and filter stop words
	tokens := filterStopWords(tokenize(text))

	// Step 2: Add token features
	for _, token := range tokens {
		index := hashToIndex(token, e.dims)
		vector[index] += tokenWeight
	}

	// Step 3: Character trigram features preserve phrase and citation shape
	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, e.dims)
		vector[index] += ngramWeight
	}

	// Step 4: Boost citation-like tokens (statute sections, docket numbers)
	for _, term := range citationTokens(text) {
		index := hashToIndex(term, e.dims)
		vector[index] += citationWeight
	}

	return vector
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if lower != "" {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// filterStopWords removes legal and English stop words.
func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !legalStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// citationTokens extracts tokens that look like legal citations: they contain
// a section symbol or mix digits with punctuation ("365(d)(3)", "12-cv-4581").
func citationTokens(text string) []string {
	var terms []string
	for _, field := range strings.Fields(text) {
		trimmed := strings.Trim(field, ".,;:")
		if trimmed == "" {
			continue
		}
		if strings.ContainsRune(trimmed, '§') || looksLikeCitationToken(trimmed) {
			terms = append(terms, strings.ToLower(trimmed))
		}
	}
	return terms
}

// looksLikeCitationToken reports whether a token mixes digits with internal
// punctuation, the shape of statute subsections and docket numbers.
func looksLikeCitationToken(token string) bool {
	hasDigit := false
	hasPunct := false
	for _, r := range token {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case r == '(' || r == ')' || r == '-' || r == '.' || r == '/':
			hasPunct = true
		}
	}
	return hasDigit && hasPunct
}

// normalizeForNgrams prepares text for n-gram extraction.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams extracts n-character sliding windows.
func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}

	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available checks if the embedder is ready (always true for static).
func (e *StaticEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

var _ Embedder = (*StaticEmbedder)(nil)

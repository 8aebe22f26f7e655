package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/caseweave/caseweave/internal/governor"
	"github.com/caseweave/caseweave/internal/llm"
)

// RerankResult is a single rescored document.
type RerankResult struct {
	// Index is the original position in the input documents slice.
	Index int
	// Score is the relevance score in [0, 1].
	Score float64
}

// Reranker rescores (query, document) pairs jointly. Cross-encoding is
// more accurate than the bi-encoder retrieval pass but far more expensive,
// so it only runs over the fused head.
type Reranker interface {
	// Rerank scores documents against the query and returns results
	// sorted by score descending. topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// =============================================================================
// No-Op Reranker
// =============================================================================

// NoOpReranker returns documents in their original order. Used when
// reranking is disabled.
type NoOpReranker struct{}

// Rerank assigns decreasing scores to preserve the input order.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i := range documents {
		results[i] = RerankResult{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available always returns true.
func (n *NoOpReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (n *NoOpReranker) Close() error { return nil }

var _ Reranker = (*NoOpReranker)(nil)

// =============================================================================
// LLM Cross-Encoder
// =============================================================================

const (
	// rerankExcerptChars bounds each passage sent to the model.
	rerankExcerptChars = 600

	rerankSystemPrompt = `You grade how relevant legal evidence passages are to a search query.
For each numbered passage output one line "<number>: <score>" where score is
an integer from 0 (irrelevant) to 10 (directly answers the query).
Output only the score lines, nothing else.`
)

// scoreLinePattern matches "3: 7" style score lines in reranker output.
var scoreLinePattern = regexp.MustCompile(`^\s*(\d+)\s*[:=.)-]\s*(\d+(?:\.\d+)?)`)

// LLMReranker grades passages with a completion model. Each rerank pass
// costs one model permit, acquired from the governor when one is set.
type LLMReranker struct {
	client llm.Client
	gov    *governor.Governor
}

// NewLLMReranker wires a cross-encoder over an LLM client. gov may be nil,
// in which case calls run without a permit.
func NewLLMReranker(client llm.Client, gov *governor.Governor) *LLMReranker {
	return &LLMReranker{client: client, gov: gov}
}

// Rerank grades all documents against the query in one completion call.
func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return []RerankResult{}, nil
	}

	if r.gov != nil {
		lease, err := r.gov.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire rerank permit: %w", err)
		}
		defer lease.Release()
	}

	resp, err := r.client.Complete(ctx, llm.Request{
		System:      rerankSystemPrompt,
		Prompt:      buildRerankPrompt(query, documents),
		MaxTokens:   16 * len(documents),
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank completion: %w", err)
	}

	results, err := parseRerankScores(resp.Text, len(documents))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Available reports whether the underlying model answers.
func (r *LLMReranker) Available(ctx context.Context) bool {
	return r.client.Available(ctx)
}

// Close releases the underlying client.
func (r *LLMReranker) Close() error {
	return r.client.Close()
}

var _ Reranker = (*LLMReranker)(nil)

func buildRerankPrompt(query string, documents []string) string {
	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nPassages:\n")
	for i, doc := range documents {
		excerpt := doc
		if len(excerpt) > rerankExcerptChars {
			excerpt = excerpt[:rerankExcerptChars]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.ReplaceAll(excerpt, "\n", " "))
	}
	return b.String()
}

// parseRerankScores reads "<number>: <score>" lines. Documents the model
// skipped keep score 0 and their original relative order.
func parseRerankScores(text string, docCount int) ([]RerankResult, error) {
	results := make([]RerankResult, docCount)
	for i := range results {
		results[i] = RerankResult{Index: i}
	}

	matched := 0
	for _, line := range strings.Split(text, "\n") {
		m := scoreLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil || num < 1 || num > docCount {
			continue
		}
		score, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		if score > 10 {
			score = 10
		}
		results[num-1].Score = score / 10
		matched++
	}

	if matched == 0 {
		return nil, fmt.Errorf("no scores in reranker output")
	}
	return results, nil
}

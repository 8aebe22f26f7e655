// Package search provides hybrid evidence retrieval combining lexical and
// dense rankers. Fused ranking uses Reciprocal Rank Fusion by default, with
// an optional linear z-score combination and a cross-encoder rerank pass.
package search

import (
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/store"
)

// Mode selects which rankers participate in a search.
type Mode string

const (
	ModeHybrid      Mode = "HYBRID"
	ModeDenseOnly   Mode = "DENSE_ONLY"
	ModeLexicalOnly Mode = "LEXICAL_ONLY"
)

// Valid reports whether the mode is one of the supported values.
func (m Mode) Valid() bool {
	switch m {
	case ModeHybrid, ModeDenseOnly, ModeLexicalOnly:
		return true
	}
	return false
}

// FusionKind selects the rank-combination strategy for hybrid searches.
type FusionKind string

const (
	FusionRRF    FusionKind = "RRF"
	FusionLinear FusionKind = "LINEAR"
)

// Defaults for search requests.
const (
	DefaultTopK        = 10
	MaxTopK            = 1000
	DefaultRRFK        = 60
	DefaultLinearAlpha = 0.65
	DefaultRerankTopN  = 100
	DefaultCacheSize   = 512

	// candidateMultiplier widens per-ranker retrieval so fusion and
	// post-filters still fill top_k.
	candidateMultiplier = 2
)

// Filters narrows a search to a slice of the corpus.
type Filters struct {
	// CaseIDs scopes results to specific cases. Empty means all cases.
	CaseIDs []string

	// Classes restricts which evidence collections are searched.
	// Empty means documents, transcripts, and communications.
	Classes []domain.EvidenceClass

	// ChunkTypes restricts granularity (summary, section, microblock).
	ChunkTypes []domain.ChunkType

	// DateFrom/DateTo bound evidence ingestion time when set.
	DateFrom *time.Time
	DateTo   *time.Time
}

// Options tunes ranking behavior for a single search.
type Options struct {
	// Fusion selects RRF or LINEAR combination. Defaults to RRF.
	Fusion FusionKind

	// RRFK is the rank-smoothing constant for RRF. Defaults to 60.
	RRFK int

	// LinearAlpha weights the dense ranker in LINEAR fusion. Defaults to 0.65.
	LinearAlpha float64

	// ScoreThreshold drops fused results scoring below it when > 0.
	ScoreThreshold float64

	// UseRerank enables the cross-encoder pass over the fused head.
	UseRerank bool

	// RerankTopN bounds how many fused results are rescored.
	// 0 bypasses reranking even when UseRerank is set.
	RerankTopN int

	// Highlight requests matched-term offsets on lexical hits.
	Highlight bool
}

// Request is a single retrieval request.
type Request struct {
	Query   string
	TopK    int
	Mode    Mode
	Filters Filters
	Options Options
}

// Result is one enriched, ranked chunk.
type Result struct {
	ChunkID    string
	EvidenceID string
	CaseID     string
	ChunkType  domain.ChunkType
	Position   int

	// Text is the full chunk content; Snippet is a short excerpt
	// centered on the first highlight.
	Text    string
	Snippet string

	// Score is the final ranking score. PreRerankScore preserves the
	// fused score when the cross-encoder pass rescored this result.
	Score          float64
	PreRerankScore float64
	Reranked       bool

	// Per-ranker provenance. Ranks are 1-based; 0 means the result did
	// not appear in that ranker's list.
	LexicalScore float64
	VectorScore  float64
	LexicalRank  int
	VectorRank   int
	InBothLists  bool

	MatchedTerms []string
	Highlights   []store.HighlightSpan

	// Evidence metadata attached during enrichment.
	EvidenceFilename string
	EvidenceClass    domain.EvidenceClass
}

// Response carries ranked results plus degradation diagnostics.
type Response struct {
	Results []*Result
	Mode    Mode

	// Degraded is set when one ranker failed and the other answered.
	Degraded bool

	// Warnings describes degradations in operator-readable form.
	Warnings []string

	Took time.Duration
}

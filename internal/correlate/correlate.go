// Package correlate turns per-branch analysis findings into the
// case-level picture: a knowledge graph of entities and relationships, a
// chronological timeline, contradiction pairs, and recurring patterns.
package correlate

import (
	"context"
	"log/slog"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/errors"
)

// Default thresholds. All are config-tunable via options.
const (
	// DefaultContradictionCosine is the minimum claim-text similarity for
	// a pair to be considered the same assertion said two ways.
	DefaultContradictionCosine = 0.72

	// DefaultSeverityHigh and DefaultSeverityMedium grade a contradiction
	// by the citation count of the better-supported claim.
	DefaultSeverityHigh   = 5
	DefaultSeverityMedium = 2

	// DefaultTemporalWindow bounds a temporal cluster.
	DefaultTemporalWindow = 24 * time.Hour

	// DefaultMinPatternCount is the repetition floor for a pattern.
	DefaultMinPatternCount = 2
)

// AnalysisResult is one fan-out branch's output.
type AnalysisResult struct {
	Class    domain.EvidenceClass
	Findings []*domain.Finding
}

// Input is everything one correlation pass consumes.
type Input struct {
	CaseID  string
	RunID   string
	Results []AnalysisResult
	// EvidenceLabels maps evidence IDs to display names for document
	// nodes; missing entries fall back to the ID.
	EvidenceLabels map[string]string
}

// Result is the correlation output.
type Result struct {
	AllFindings        []*domain.Finding
	AllCitations       []domain.Citation
	GraphNodes         []*domain.GraphNode
	GraphRelationships []*domain.GraphRelationship
	Timeline           []*domain.TimelineEvent
	Contradictions     []*domain.Contradiction
	KeyPatterns        []*domain.Pattern
}

// Engine runs correlation. Construct with New.
type Engine struct {
	embedder embed.Embedder
	logger   *slog.Logger

	cosineThreshold float64
	severityHigh    int
	severityMedium  int
	temporalWindow  time.Duration
	minPatternCount int
	aliases         map[string]string
}

// Option configures the engine.
type Option func(*Engine)

// WithContradictionCosine overrides the similarity threshold.
func WithContradictionCosine(threshold float64) Option {
	return func(e *Engine) {
		if threshold > 0 {
			e.cosineThreshold = threshold
		}
	}
}

// WithSeverityBands overrides the citation-count severity bands.
func WithSeverityBands(high, medium int) Option {
	return func(e *Engine) {
		if high > 0 {
			e.severityHigh = high
		}
		if medium > 0 {
			e.severityMedium = medium
		}
	}
}

// WithTemporalWindow overrides the temporal cluster window.
func WithTemporalWindow(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.temporalWindow = window
		}
	}
}

// WithAliases adds entries to the alias table. Keys and values are
// canonicalized before matching.
func WithAliases(aliases map[string]string) Option {
	return func(e *Engine) {
		for from, to := range aliases {
			e.aliases[domain.CanonicalLabel(from)] = domain.CanonicalLabel(to)
		}
	}
}

// New returns a correlation engine. The embedder scores claim-pair
// similarity for contradiction detection.
func New(embedder embed.Embedder, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if embedder == nil {
		return nil, errors.Validation("correlation engine requires an embedder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		embedder:        embedder,
		logger:          logger,
		cosineThreshold: DefaultContradictionCosine,
		severityHigh:    DefaultSeverityHigh,
		severityMedium:  DefaultSeverityMedium,
		temporalWindow:  DefaultTemporalWindow,
		minPatternCount: DefaultMinPatternCount,
		aliases:         map[string]string{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Correlate runs the four analyses over the branch results.
func (e *Engine) Correlate(ctx context.Context, in *Input) (*Result, error) {
	if in == nil || in.CaseID == "" {
		return nil, errors.Validation("case_id is required")
	}
	start := time.Now()

	res := &Result{}
	for _, branch := range in.Results {
		res.AllFindings = append(res.AllFindings, branch.Findings...)
	}
	for _, f := range res.AllFindings {
		res.AllCitations = append(res.AllCitations, f.Citations...)
	}

	timeline := e.assembleTimeline(in.CaseID, res.AllFindings)
	res.Timeline = timeline

	nodes, rels, err := e.buildGraph(in, res.AllFindings, timeline)
	if err != nil {
		return nil, err
	}

	contradictions, err := e.detectContradictions(ctx, in.CaseID, res.AllFindings)
	if err != nil {
		return nil, err
	}
	res.Contradictions = contradictions

	// Contradiction pairs also surface as graph edges when both sides
	// resolve to nodes.
	rels = append(rels, e.contradictionEdges(in.CaseID, res.AllFindings, contradictions, nodes)...)

	res.GraphNodes = nodeList(nodes)
	res.GraphRelationships = dedupeRelationships(rels)
	res.KeyPatterns = e.detectPatterns(in.CaseID, res.AllFindings, timeline)

	e.logger.Info("correlation_complete",
		"case_id", in.CaseID,
		"findings", len(res.AllFindings),
		"nodes", len(res.GraphNodes),
		"relationships", len(res.GraphRelationships),
		"timeline_events", len(res.Timeline),
		"contradictions", len(res.Contradictions),
		"patterns", len(res.KeyPatterns),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

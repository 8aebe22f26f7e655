package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// FindingType classifies a finding. The set is open: analyzers may emit
// additional types, but these are the ones the platform acts on.
type FindingType string

const (
	FindingFact          FindingType = "FACT"
	FindingQuote         FindingType = "QUOTE"
	FindingTimelineEvent FindingType = "TIMELINE_EVENT"
	FindingContradiction FindingType = "CONTRADICTION"
	FindingPattern       FindingType = "PATTERN"
)

// Finding is a typed, citation-backed atomic claim produced during
// research. Confidence and relevance are bounded to [0,1] on construction.
type Finding struct {
	ID            string
	ResearchRunID string
	FindingType   FindingType
	Text          string
	Entities      []string
	Citations     []Citation
	Confidence    float64
	Relevance     float64
	Tags          []string
	CreatedAt     time.Time
}

// Citation is an immutable reference from a finding back to a specific
// chunk, with character offsets into the chunk text. A citation to a
// transcript may carry the segment ID instead of offsets.
type Citation struct {
	ID          string
	ChunkID     string
	EvidenceID  string
	SegmentID   string
	StartOffset int
	EndOffset   int
	Quote       string
}

// NewFinding validates bounds and creates a finding with a fresh ID.
func NewFinding(runID string, ft FindingType, text string, confidence, relevance float64) (*Finding, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.Validation("research_run_id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.Validation("finding text is required")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.Validationf("confidence must be in [0,1], got %f", confidence)
	}
	if relevance < 0 || relevance > 1 {
		return nil, errors.Validationf("relevance must be in [0,1], got %f", relevance)
	}

	return &Finding{
		ID:            NewID(),
		ResearchRunID: runID,
		FindingType:   ft,
		Text:          text,
		Confidence:    confidence,
		Relevance:     relevance,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// NewCitation creates a citation with validated offsets.
func NewCitation(chunkID, evidenceID string, startOffset, endOffset int, quote string) (*Citation, error) {
	if strings.TrimSpace(chunkID) == "" {
		return nil, errors.Validation("chunk_id is required")
	}
	if strings.TrimSpace(evidenceID) == "" {
		return nil, errors.Validation("evidence_id is required")
	}
	if startOffset < 0 || endOffset < startOffset {
		return nil, errors.Validationf("invalid offsets [%d, %d]", startOffset, endOffset)
	}

	return &Citation{
		ID:          NewID(),
		ChunkID:     chunkID,
		EvidenceID:  evidenceID,
		StartOffset: startOffset,
		EndOffset:   endOffset,
		Quote:       quote,
	}, nil
}

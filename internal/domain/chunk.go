package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// ChunkType identifies the granularity of a chunk. Each type maps to a
// named vector space in the vector store; paragraph chunks share the
// section space.
type ChunkType string

const (
	ChunkSummary    ChunkType = "summary"
	ChunkSection    ChunkType = "section"
	ChunkMicroblock ChunkType = "microblock"
	ChunkParagraph  ChunkType = "paragraph"
)

// Valid reports whether the chunk type is known.
func (t ChunkType) Valid() bool {
	switch t {
	case ChunkSummary, ChunkSection, ChunkMicroblock, ChunkParagraph:
		return true
	}
	return false
}

// VectorSpace returns the named vector space this chunk type is embedded
// into. Paragraphs use the section space.
func (t ChunkType) VectorSpace() string {
	if t == ChunkParagraph {
		return string(ChunkSection)
	}
	return string(t)
}

// Chunk is a retrievable unit of evidence text. Immutable once written;
// its ID is deterministic so re-indexing the same evidence overwrites
// rather than accumulates.
type Chunk struct {
	ID         string
	EvidenceID string
	CaseID     string
	Text       string
	ChunkType  ChunkType
	Position   int
	Page       int // 0 means unknown
	Metadata   map[string]any
	CreatedAt  time.Time
}

// NewChunk creates a chunk with its deterministic ID.
func NewChunk(caseID, evidenceID string, chunkType ChunkType, position int, text string) (*Chunk, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation("case_id is required")
	}
	if strings.TrimSpace(evidenceID) == "" {
		return nil, errors.Validation("evidence_id is required")
	}
	if !chunkType.Valid() {
		return nil, errors.Validationf("unknown chunk type: %s", chunkType)
	}
	if position < 0 {
		return nil, errors.Validationf("position must be non-negative, got %d", position)
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.Validation("chunk text is required")
	}

	return &Chunk{
		ID:         ChunkID(evidenceID, chunkType, position, text),
		EvidenceID: evidenceID,
		CaseID:     caseID,
		Text:       text,
		ChunkType:  chunkType,
		Position:   position,
		Metadata:   map[string]any{},
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// EmbeddingSet holds the dense vector triple for a batch of chunks,
// one vector per chunk per space. Lifecycle is bound to the chunks.
type EmbeddingSet struct {
	Summary    [][]float32
	Section    [][]float32
	Microblock [][]float32
}

// Len returns the number of chunks the set covers.
func (e *EmbeddingSet) Len() int {
	return len(e.Section)
}

// Validate checks that all three spaces cover the same chunk count.
func (e *EmbeddingSet) Validate(chunks int) error {
	if len(e.Summary) != chunks || len(e.Section) != chunks || len(e.Microblock) != chunks {
		return errors.Validationf(
			"embedding set mismatch: %d chunks but summary=%d section=%d microblock=%d",
			chunks, len(e.Summary), len(e.Section), len(e.Microblock))
	}
	return nil
}

// VectorFor returns the embedding for chunk index i in the named space.
func (e *EmbeddingSet) VectorFor(space string, i int) []float32 {
	switch space {
	case string(ChunkSummary):
		return e.Summary[i]
	case string(ChunkMicroblock):
		return e.Microblock[i]
	default:
		return e.Section[i]
	}
}

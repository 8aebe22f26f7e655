// Package store provides the persistence layer: the SQLite system of
// record, per-collection lexical indexes (bleve, BM25), and per-collection
// multi-space vector indexes (HNSW).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
)

// Collection names. Evidence classes map one-to-one; findings get their
// own collection populated during correlation.
const (
	CollectionDocuments      = "documents"
	CollectionTranscripts    = "transcripts"
	CollectionCommunications = "communications"
	CollectionFindings       = "findings"
)

// Collections lists all collections in a stable order.
var Collections = []string{
	CollectionDocuments,
	CollectionTranscripts,
	CollectionCommunications,
	CollectionFindings,
}

// CollectionFor maps an evidence class to its collection name.
func CollectionFor(class domain.EvidenceClass) string {
	switch class {
	case domain.EvidenceDocument:
		return CollectionDocuments
	case domain.EvidenceTranscript:
		return CollectionTranscripts
	case domain.EvidenceCommunication:
		return CollectionCommunications
	}
	return ""
}

// VectorSpaces lists the named dense vector spaces in every collection.
var VectorSpaces = []string{"summary", "section", "microblock"}

// State keys for the metadata store's key-value table.
const (
	// StateKeyEmbeddingDimension records the dimension the vector
	// collections were built with, to detect embedder changes.
	StateKeyEmbeddingDimension = "embedding_dimension"

	// Ingest checkpoint keys for resumable ingestion.
	StateKeyIngestStage     = "ingest_stage"
	StateKeyIngestEvidence  = "ingest_evidence_id"
	StateKeyIngestTotal     = "ingest_total"
	StateKeyIngestWritten   = "ingest_written"
	StateKeyIngestTimestamp = "ingest_timestamp"
)

// FindingFilter narrows a findings query.
type FindingFilter struct {
	Types         []domain.FindingType
	MinConfidence *float64
	MinRelevance  *float64
	Tags          []string
	Limit         int
	Offset        int
}

// RunFilter narrows a research run listing.
type RunFilter struct {
	Status domain.RunStatus // empty matches all
	Limit  int
	Offset int
}

// TimelineFilter narrows a timeline query.
type TimelineFilter struct {
	Start      *time.Time
	End        *time.Time
	EntityID   string
	EventTypes []string
	Limit      int
}

// GraphFilter narrows a knowledge graph traversal.
type GraphFilter struct {
	Entity       string // label substring, case-insensitive
	NodeType     domain.NodeType
	Relationship domain.RelationshipType
	Depth        int
}

// MetadataStore is the system of record for all domain entities.
// Implementations own their schema.
type MetadataStore interface {
	// Cases
	SaveCase(ctx context.Context, c *domain.Case) error
	GetCase(ctx context.Context, id string) (*domain.Case, error)
	GetCaseByNumber(ctx context.Context, caseNumber string) (*domain.Case, error)
	ListCases(ctx context.Context, status domain.CaseStatus, limit, offset int) ([]*domain.Case, error)
	DeleteCase(ctx context.Context, id string) error

	// Evidence
	SaveEvidence(ctx context.Context, ev *domain.Evidence) error
	GetEvidence(ctx context.Context, id string) (*domain.Evidence, error)
	ListEvidenceByCase(ctx context.Context, caseID string, class domain.EvidenceClass) ([]*domain.Evidence, error)
	UpdateEvidenceStatus(ctx context.Context, id string, status domain.EvidenceStatus) error
	EvidenceExists(ctx context.Context, ids []string) (map[string]bool, error)
	DeleteEvidence(ctx context.Context, id string) error

	// Chunks (registry entries carry the authoritative text and metadata)
	SaveChunks(ctx context.Context, chunks []*domain.Chunk) error
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)
	GetChunks(ctx context.Context, ids []string) ([]*domain.Chunk, error)
	ListChunkIDsByEvidence(ctx context.Context, evidenceID string) ([]string, error)
	ChunkEvidenceIDs(ctx context.Context, chunkIDs []string) (map[string]string, error)
	DeleteChunksByEvidence(ctx context.Context, evidenceID string) error
	DeleteChunks(ctx context.Context, ids []string) error

	// Research runs
	SaveResearchRun(ctx context.Context, run *domain.ResearchRun) error
	GetResearchRun(ctx context.Context, id string) (*domain.ResearchRun, error)
	ListResearchRuns(ctx context.Context, caseID string, filter RunFilter) ([]*domain.ResearchRun, int, error)
	UpdateRunPhase(ctx context.Context, id string, status domain.RunStatus, phase domain.RunPhase) error
	HeartbeatRun(ctx context.Context, id string, at time.Time) error

	// Findings and citations
	SaveFindings(ctx context.Context, findings []*domain.Finding) error
	GetFindings(ctx context.Context, runID string, filter FindingFilter) ([]*domain.Finding, int, error)
	CountFindings(ctx context.Context, runID string) (findings, citations int, err error)

	// Knowledge graph
	SaveGraphNodes(ctx context.Context, nodes []*domain.GraphNode) error
	SaveGraphRelationships(ctx context.Context, rels []*domain.GraphRelationship) error
	QueryGraph(ctx context.Context, caseID string, filter GraphFilter) ([]*domain.GraphNode, []*domain.GraphRelationship, error)

	// Timeline
	SaveTimelineEvents(ctx context.Context, events []*domain.TimelineEvent) error
	GetTimeline(ctx context.Context, caseID string, filter TimelineFilter) ([]*domain.TimelineEvent, error)

	// Contradictions and patterns
	SaveContradictions(ctx context.Context, contradictions []*domain.Contradiction) error
	SavePatterns(ctx context.Context, patterns []*domain.Pattern) error

	// Dossiers
	SaveDossier(ctx context.Context, d *domain.Dossier) error
	GetDossier(ctx context.Context, runID string) (*domain.Dossier, error)

	// State (key-value store for runtime state and ingest checkpoints)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	ClearState(ctx context.Context, keys ...string) error

	// Lifecycle
	Close() error
}

// LexicalDoc is a document to be indexed in a lexical collection.
// Text is indexed three ways: the legal analyzer, the shingle analyzer,
// and the citation analyzer.
type LexicalDoc struct {
	ChunkID    string
	CaseID     string
	EvidenceID string
	ChunkType  string
	Text       string
	CreatedAt  time.Time
}

// LexicalSearchRequest is a BM25 query over one or more collections.
type LexicalSearchRequest struct {
	Query string
	// Collections to search; nil searches all via the alias.
	Collections []string
	// CaseIDs restricts hits to the given cases.
	CaseIDs []string
	// ChunkTypes restricts hits to the given chunk types.
	ChunkTypes []string
	// CitationTerms are case-preserved citation tokens extracted during
	// query preprocessing, matched against the citation subfield.
	CitationTerms []string
	Limit         int
	// Highlight requests character-offset highlight spans.
	Highlight bool
}

// HighlightSpan is a matched region in the chunk text, in byte offsets.
type HighlightSpan struct {
	Start int
	End   int
	Term  string
}

// LexicalHit is a single BM25 result.
type LexicalHit struct {
	ChunkID      string
	EvidenceID   string
	CaseID       string
	Score        float64
	MatchedTerms []string
	Highlights   []HighlightSpan
}

// LexicalIndex provides BM25 search over the per-collection indexes.
type LexicalIndex interface {
	Index(ctx context.Context, collection string, docs []*LexicalDoc) error
	Search(ctx context.Context, req *LexicalSearchRequest) ([]*LexicalHit, error)
	Delete(ctx context.Context, collection string, chunkIDs []string) error
	DeleteByEvidence(ctx context.Context, collection, evidenceID string) error
	AllIDs(collection string) ([]string, error)
	DocCount(collection string) (uint64, error)
	Close() error
}

// VectorHit is a single dense retrieval result.
type VectorHit struct {
	ChunkID  string
	Distance float32 // cosine distance, lower is more similar
	Score    float32 // normalized similarity in [0,1]
}

// VectorIndex provides k-NN search over per-collection named spaces.
type VectorIndex interface {
	Add(ctx context.Context, collection, space string, ids []string, vectors [][]float32) error
	Search(ctx context.Context, collection, space string, query []float32, k int) ([]*VectorHit, error)
	// Delete removes the IDs from every space of the collection.
	Delete(ctx context.Context, collection string, ids []string) error
	AllIDs(collection string) []string
	Contains(collection, id string) bool
	Count(collection string) int
	Save() error
	Close() error
}

// IndexHealth describes one collection's state in one store.
type IndexHealth struct {
	Exists   bool    `json:"exists"`
	DocCount uint64  `json:"doc_count"`
	SizeMB   float64 `json:"size_mb"`
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// configured embedder and an existing collection.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'caseweave indexes create --recreate')", e.Expected, e.Got)
}

package query

import (
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/search"
)

// DTOs returned by the handlers. These are the wire shapes consumed by
// the MCP and CLI transports; domain entities never leave the read side.

// SearchHitDTO is one ranked chunk.
type SearchHitDTO struct {
	ChunkID     string         `json:"chunk_id"`
	EvidenceID  string         `json:"evidence_id"`
	Text        string         `json:"text"`
	Snippet     string         `json:"snippet,omitempty"`
	Score       float64        `json:"score"`
	RerankScore *float64       `json:"rerank_score,omitempty"`
	Highlights  []string       `json:"highlights,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SearchResponseDTO carries ranked hits plus degradation diagnostics.
type SearchResponseDTO struct {
	Results  []SearchHitDTO `json:"results"`
	TookMs   int64          `json:"took_ms"`
	Total    int            `json:"total"`
	Mode     string         `json:"mode"`
	Degraded bool           `json:"degraded,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// CitationDTO is one citation of a finding.
type CitationDTO struct {
	ID          string `json:"id"`
	ChunkID     string `json:"chunk_id"`
	EvidenceID  string `json:"evidence_id"`
	SegmentID   string `json:"segment_id,omitempty"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Quote       string `json:"quote,omitempty"`
}

// FindingDTO is one citation-backed finding.
type FindingDTO struct {
	ID            string        `json:"id"`
	ResearchRunID string        `json:"research_run_id"`
	FindingType   string        `json:"finding_type"`
	Text          string        `json:"text"`
	Entities      []string      `json:"entities,omitempty"`
	Citations     []CitationDTO `json:"citations,omitempty"`
	Confidence    float64       `json:"confidence"`
	Relevance     float64       `json:"relevance"`
	Tags          []string      `json:"tags,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// FindingsPageDTO is a filtered, paginated findings listing.
type FindingsPageDTO struct {
	Findings []FindingDTO `json:"findings"`
	Total    int          `json:"total"`
}

// ResearchStatusDTO reports a run's lifecycle state and progress.
type ResearchStatusDTO struct {
	ResearchRunID  string         `json:"research_run_id"`
	CaseID         string         `json:"case_id"`
	Status         string         `json:"status"`
	Phase          string         `json:"phase"`
	ProgressPct    float64        `json:"progress_pct"`
	Message        string         `json:"message,omitempty"`
	Query          string         `json:"query,omitempty"`
	FindingsCount  int            `json:"findings_count"`
	CitationsCount int            `json:"citations_count"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	WorkflowID     string         `json:"workflow_id,omitempty"`
	Errors         []string       `json:"errors,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RunsPageDTO is a case-scoped run listing.
type RunsPageDTO struct {
	Runs  []ResearchStatusDTO `json:"runs"`
	Total int                 `json:"total"`
}

// EntityDTO is one knowledge graph node.
type EntityDTO struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties,omitempty"`
}

// RelationshipDTO is one directed, typed graph edge.
type RelationshipDTO struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EventDTO is an event node surfaced by a graph query.
type EventDTO struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	EventType  string         `json:"event_type,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphDTO is the result of a knowledge graph traversal. Event nodes are
// split out of entities so callers can render chronology separately.
type GraphDTO struct {
	Entities      []EntityDTO       `json:"entities"`
	Relationships []RelationshipDTO `json:"relationships"`
	Events        []EventDTO        `json:"events"`
}

// TimelineEventDTO is one dated occurrence in a case timeline.
type TimelineEventDTO struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	EventType       string    `json:"event_type"`
	Description     string    `json:"description"`
	Participants    []string  `json:"participants,omitempty"`
	SourceCitations []string  `json:"source_citations,omitempty"`
}

// TimelineDTO is a bounded slice of a case timeline. StartDate and
// EndDate span the returned events.
type TimelineDTO struct {
	Events      []TimelineEventDTO `json:"events"`
	StartDate   *time.Time         `json:"start_date,omitempty"`
	EndDate     *time.Time         `json:"end_date,omitempty"`
	TotalEvents int                `json:"total_events"`
}

// DossierSectionDTO is one ordered dossier section.
type DossierSectionDTO struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Order    int            `json:"order"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DossierDTO is the synthesized report of a research run.
type DossierDTO struct {
	ID                string              `json:"id"`
	ResearchRunID     string              `json:"research_run_id"`
	ExecutiveSummary  string              `json:"executive_summary"`
	Sections          []DossierSectionDTO `json:"sections"`
	CitationsAppendix string              `json:"citations_appendix,omitempty"`
	FilePaths         []string            `json:"file_paths,omitempty"`
	GeneratedAt       time.Time           `json:"generated_at"`
	WordCount         int                 `json:"word_count"`
	Metadata          map[string]any      `json:"metadata,omitempty"`
}

func searchHitDTO(r *search.Result) SearchHitDTO {
	dto := SearchHitDTO{
		ChunkID:    r.ChunkID,
		EvidenceID: r.EvidenceID,
		Text:       r.Text,
		Snippet:    r.Snippet,
		Score:      r.Score,
		Metadata: map[string]any{
			"case_id":           r.CaseID,
			"chunk_type":        string(r.ChunkType),
			"position":          r.Position,
			"evidence_filename": r.EvidenceFilename,
			"evidence_class":    string(r.EvidenceClass),
			"lexical_rank":      r.LexicalRank,
			"vector_rank":       r.VectorRank,
			"in_both_lists":     r.InBothLists,
		},
	}
	if r.Reranked {
		dto.Score = r.PreRerankScore
		score := r.Score
		dto.RerankScore = &score
	}
	for _, span := range r.Highlights {
		if span.Term != "" {
			dto.Highlights = append(dto.Highlights, span.Term)
		}
	}
	if len(dto.Highlights) == 0 && len(r.MatchedTerms) > 0 {
		dto.Highlights = append(dto.Highlights, r.MatchedTerms...)
	}
	return dto
}

func findingDTO(f *domain.Finding) FindingDTO {
	dto := FindingDTO{
		ID:            f.ID,
		ResearchRunID: f.ResearchRunID,
		FindingType:   string(f.FindingType),
		Text:          f.Text,
		Entities:      f.Entities,
		Confidence:    f.Confidence,
		Relevance:     f.Relevance,
		Tags:          f.Tags,
		CreatedAt:     f.CreatedAt,
	}
	for _, c := range f.Citations {
		dto.Citations = append(dto.Citations, CitationDTO{
			ID:          c.ID,
			ChunkID:     c.ChunkID,
			EvidenceID:  c.EvidenceID,
			SegmentID:   c.SegmentID,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			Quote:       c.Quote,
		})
	}
	return dto
}

func timelineEventDTO(ev *domain.TimelineEvent) TimelineEventDTO {
	return TimelineEventDTO{
		ID:              ev.ID,
		Timestamp:       ev.Timestamp,
		EventType:       ev.EventType,
		Description:     ev.Description,
		Participants:    ev.Participants,
		SourceCitations: ev.SourceCitations,
	}
}

func runStatusDTO(run *domain.ResearchRun, findings, citations int) ResearchStatusDTO {
	return ResearchStatusDTO{
		ResearchRunID:  run.ID,
		CaseID:         run.CaseID,
		Status:         string(run.Status),
		Phase:          string(run.Phase),
		ProgressPct:    run.Progress(),
		Query:          run.Query,
		FindingsCount:  findings,
		CitationsCount: citations,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		WorkflowID:     run.WorkflowID,
		Errors:         run.Errors,
		Metadata:       run.Metadata,
	}
}

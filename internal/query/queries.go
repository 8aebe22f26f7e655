package query

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/search"
)

// Query kinds, used for registration and dispatch.
const (
	KindSearchEvidence    = "SearchEvidence"
	KindGetFindings       = "GetFindings"
	KindGetResearchStatus = "GetResearchStatus"
	KindQueryGraph        = "QueryGraph"
	KindGetTimeline       = "GetTimeline"
	KindGetDossier        = "GetDossier"
	KindListResearchRuns  = "ListResearchRuns"
)

// Bounds shared by the list-shaped queries.
const (
	MaxResultLimit = 1000
	MaxRunLimit    = 100
	MaxGraphDepth  = 5

	DefaultFindingLimit  = 100
	DefaultTimelineLimit = 100
	DefaultRunLimit      = 20
	DefaultGraphDepth    = 1
)

// SearchEvidence runs a hybrid retrieval over the evidence corpus.
// A zero TopK uses the engine default; an empty Mode means HYBRID.
type SearchEvidence struct {
	Query      string
	CaseIDs    []string
	Classes    []domain.EvidenceClass
	ChunkTypes []domain.ChunkType
	TopK       int
	Mode       search.Mode
	Rerank     bool
	DateFrom   *time.Time
	DateTo     *time.Time
}

func (q *SearchEvidence) Kind() string { return KindSearchEvidence }

func (q *SearchEvidence) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return errors.New(errors.ErrCodeQueryEmpty, "search query is required", nil)
	}
	if q.TopK < 0 || q.TopK > MaxResultLimit {
		return errors.Validationf("top_k must be in [1, %d], got %d", MaxResultLimit, q.TopK)
	}
	if q.Mode != "" && !q.Mode.Valid() {
		return errors.Validationf("unknown search mode %q", q.Mode)
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateTo.Before(*q.DateFrom) {
		return errors.Validation("date_to precedes date_from")
	}
	return nil
}

// GetFindings lists a run's findings with optional filters.
type GetFindings struct {
	ResearchRunID string
	FindingTypes  []domain.FindingType
	MinConfidence *float64
	MinRelevance  *float64
	Tags          []string
	Limit         int
	Offset        int
}

func (q *GetFindings) Kind() string { return KindGetFindings }

func (q *GetFindings) Validate() error {
	if strings.TrimSpace(q.ResearchRunID) == "" {
		return errors.Validation("research_run_id is required")
	}
	if err := checkLimit(q.Limit, MaxResultLimit); err != nil {
		return err
	}
	if q.Offset < 0 {
		return errors.Validationf("offset must be >= 0, got %d", q.Offset)
	}
	if err := checkUnitRange("min_confidence", q.MinConfidence); err != nil {
		return err
	}
	return checkUnitRange("min_relevance", q.MinRelevance)
}

// GetResearchStatus reports a run's phase and progress, merged with live
// workflow heartbeats while the run is executing.
type GetResearchStatus struct {
	ResearchRunID string
}

func (q *GetResearchStatus) Kind() string { return KindGetResearchStatus }

func (q *GetResearchStatus) Validate() error {
	if strings.TrimSpace(q.ResearchRunID) == "" {
		return errors.Validation("research_run_id is required")
	}
	return nil
}

// QueryGraph traverses a case's knowledge graph from matching entities.
type QueryGraph struct {
	CaseID       string
	Entity       string
	NodeType     domain.NodeType
	Relationship domain.RelationshipType
	Depth        int
}

func (q *QueryGraph) Kind() string { return KindQueryGraph }

func (q *QueryGraph) Validate() error {
	if strings.TrimSpace(q.CaseID) == "" {
		return errors.Validation("case_id is required")
	}
	if q.Depth < 0 || q.Depth > MaxGraphDepth {
		return errors.Validationf("depth must be in [1, %d], got %d", MaxGraphDepth, q.Depth)
	}
	return nil
}

// GetTimeline lists a case's timeline events within optional bounds.
type GetTimeline struct {
	CaseID     string
	StartDate  *time.Time
	EndDate    *time.Time
	EntityID   string
	EventTypes []string
	Limit      int
}

func (q *GetTimeline) Kind() string { return KindGetTimeline }

func (q *GetTimeline) Validate() error {
	if strings.TrimSpace(q.CaseID) == "" {
		return errors.Validation("case_id is required")
	}
	if err := checkLimit(q.Limit, MaxResultLimit); err != nil {
		return err
	}
	if q.StartDate != nil && q.EndDate != nil && q.EndDate.Before(*q.StartDate) {
		return errors.Validation("end_date precedes start_date")
	}
	return nil
}

// GetDossier fetches the synthesized report of a completed run.
type GetDossier struct {
	ResearchRunID string
}

func (q *GetDossier) Kind() string { return KindGetDossier }

func (q *GetDossier) Validate() error {
	if strings.TrimSpace(q.ResearchRunID) == "" {
		return errors.Validation("research_run_id is required")
	}
	return nil
}

// ListResearchRuns lists a case's runs, newest first.
type ListResearchRuns struct {
	CaseID string
	Status domain.RunStatus
	Limit  int
	Offset int
}

func (q *ListResearchRuns) Kind() string { return KindListResearchRuns }

func (q *ListResearchRuns) Validate() error {
	if strings.TrimSpace(q.CaseID) == "" {
		return errors.Validation("case_id is required")
	}
	if err := checkLimit(q.Limit, MaxRunLimit); err != nil {
		return err
	}
	if q.Offset < 0 {
		return errors.Validationf("offset must be >= 0, got %d", q.Offset)
	}
	return nil
}

// checkLimit accepts 0 (meaning "use the default") or a value in [1, max].
func checkLimit(limit, max int) error {
	if limit < 0 || limit > max {
		return errors.Validationf("limit must be in [1, %d], got %d", max, limit)
	}
	return nil
}

func checkUnitRange(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return errors.Validationf("%s must be in [0, 1], got %g", field, *v)
	}
	return nil
}

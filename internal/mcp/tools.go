package mcp

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/query"
	"github.com/caseweave/caseweave/internal/search"
)

// Input schemas for the MCP tools. Each converts itself to the typed
// query it dispatches; range and consistency checks stay in the query's
// own Validate, not here.

// SearchEvidenceInput defines the input schema for the search_evidence tool.
type SearchEvidenceInput struct {
	Query      string   `json:"query" jsonschema:"the evidence search query"`
	CaseIDs    []string `json:"case_ids,omitempty" jsonschema:"restrict the search to these case IDs"`
	Classes    []string `json:"classes,omitempty" jsonschema:"evidence classes to search: document, transcript, communication"`
	ChunkTypes []string `json:"chunk_types,omitempty" jsonschema:"chunk granularity: summary, section, microblock"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Mode       string   `json:"mode,omitempty" jsonschema:"retrieval mode: HYBRID, DENSE_ONLY, or LEXICAL_ONLY"`
	Rerank     bool     `json:"rerank,omitempty" jsonschema:"rescore the fused head with the cross-encoder"`
	DateFrom   string   `json:"date_from,omitempty" jsonschema:"only evidence ingested on or after this RFC3339 timestamp"`
	DateTo     string   `json:"date_to,omitempty" jsonschema:"only evidence ingested on or before this RFC3339 timestamp"`
}

func (in *SearchEvidenceInput) toQuery() (*query.SearchEvidence, error) {
	q := &query.SearchEvidence{
		Query:   in.Query,
		CaseIDs: in.CaseIDs,
		TopK:    in.TopK,
		Mode:    search.Mode(strings.ToUpper(in.Mode)),
		Rerank:  in.Rerank,
	}
	for _, c := range in.Classes {
		q.Classes = append(q.Classes, domain.EvidenceClass(strings.ToLower(c)))
	}
	for _, ct := range in.ChunkTypes {
		q.ChunkTypes = append(q.ChunkTypes, domain.ChunkType(strings.ToLower(ct)))
	}
	var err error
	if q.DateFrom, err = parseTimestamp("date_from", in.DateFrom); err != nil {
		return nil, err
	}
	if q.DateTo, err = parseTimestamp("date_to", in.DateTo); err != nil {
		return nil, err
	}
	return q, nil
}

// GetFindingsInput defines the input schema for the get_findings tool.
type GetFindingsInput struct {
	ResearchRunID string   `json:"research_run_id" jsonschema:"the research run whose findings to list"`
	FindingTypes  []string `json:"finding_types,omitempty" jsonschema:"filter by finding type: FACT, QUOTE, TIMELINE_EVENT, CONTRADICTION, PATTERN"`
	MinConfidence *float64 `json:"min_confidence,omitempty" jsonschema:"minimum confidence in [0,1]"`
	MinRelevance  *float64 `json:"min_relevance,omitempty" jsonschema:"minimum relevance in [0,1]"`
	Tags          []string `json:"tags,omitempty" jsonschema:"require all of these tags"`
	Limit         int      `json:"limit,omitempty" jsonschema:"page size, default 100"`
	Offset        int      `json:"offset,omitempty" jsonschema:"page offset"`
}

func (in *GetFindingsInput) toQuery() *query.GetFindings {
	q := &query.GetFindings{
		ResearchRunID: in.ResearchRunID,
		MinConfidence: in.MinConfidence,
		MinRelevance:  in.MinRelevance,
		Tags:          in.Tags,
		Limit:         in.Limit,
		Offset:        in.Offset,
	}
	for _, t := range in.FindingTypes {
		q.FindingTypes = append(q.FindingTypes, domain.FindingType(strings.ToUpper(t)))
	}
	return q
}

// ResearchStatusInput defines the input schema for the get_research_status tool.
type ResearchStatusInput struct {
	ResearchRunID string `json:"research_run_id" jsonschema:"the research run to report on"`
}

// QueryGraphInput defines the input schema for the query_graph tool.
type QueryGraphInput struct {
	CaseID       string `json:"case_id" jsonschema:"the case whose knowledge graph to traverse"`
	Entity       string `json:"entity,omitempty" jsonschema:"case-insensitive label substring to start from"`
	NodeType     string `json:"node_type,omitempty" jsonschema:"filter start nodes by type: person, organization, document, event, location"`
	Relationship string `json:"relationship,omitempty" jsonschema:"follow only this relationship type, e.g. mentioned_in, participated_in, contradicts"`
	Depth        int    `json:"depth,omitempty" jsonschema:"traversal depth from the start set, default 1, max 5"`
}

func (in *QueryGraphInput) toQuery() *query.QueryGraph {
	return &query.QueryGraph{
		CaseID:       in.CaseID,
		Entity:       in.Entity,
		NodeType:     domain.NodeType(strings.ToLower(in.NodeType)),
		Relationship: domain.RelationshipType(strings.ToLower(in.Relationship)),
		Depth:        in.Depth,
	}
}

// GetTimelineInput defines the input schema for the get_timeline tool.
type GetTimelineInput struct {
	CaseID     string   `json:"case_id" jsonschema:"the case whose timeline to list"`
	StartDate  string   `json:"start_date,omitempty" jsonschema:"earliest event timestamp, RFC3339 or YYYY-MM-DD"`
	EndDate    string   `json:"end_date,omitempty" jsonschema:"latest event timestamp, RFC3339 or YYYY-MM-DD"`
	EntityID   string   `json:"entity_id,omitempty" jsonschema:"only events naming this participant"`
	EventTypes []string `json:"event_types,omitempty" jsonschema:"filter by event type"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum events, default 100"`
}

func (in *GetTimelineInput) toQuery() (*query.GetTimeline, error) {
	q := &query.GetTimeline{
		CaseID:     in.CaseID,
		EntityID:   in.EntityID,
		EventTypes: in.EventTypes,
		Limit:      in.Limit,
	}
	var err error
	if q.StartDate, err = parseTimestamp("start_date", in.StartDate); err != nil {
		return nil, err
	}
	if q.EndDate, err = parseTimestamp("end_date", in.EndDate); err != nil {
		return nil, err
	}
	return q, nil
}

// GetDossierInput defines the input schema for the get_dossier tool.
type GetDossierInput struct {
	ResearchRunID string `json:"research_run_id" jsonschema:"the research run whose dossier to fetch"`
}

// ListRunsInput defines the input schema for the list_research_runs tool.
type ListRunsInput struct {
	CaseID string `json:"case_id" jsonschema:"the case whose research runs to list"`
	Status string `json:"status,omitempty" jsonschema:"filter by status: PENDING, RUNNING, PAUSED, COMPLETED, FAILED, CANCELLED"`
	Limit  int    `json:"limit,omitempty" jsonschema:"page size, default 20"`
	Offset int    `json:"offset,omitempty" jsonschema:"page offset"`
}

// StartResearchInput defines the input schema for the start_deep_research tool.
type StartResearchInput struct {
	CaseID        string `json:"case_id" jsonschema:"the case to research"`
	Query         string `json:"query" jsonschema:"the research question"`
	DefenseTheory string `json:"defense_theory,omitempty" jsonschema:"working defense theory to test against the evidence"`
}

// StartResearchOutput defines the output schema for the start_deep_research tool.
type StartResearchOutput struct {
	ResearchRunID string `json:"research_run_id" jsonschema:"identifier for status and findings queries"`
	WorkflowID    string `json:"workflow_id" jsonschema:"durable workflow identity backing the run"`
	Status        string `json:"status" jsonschema:"initial run status"`
}

// ControlResearchInput defines the input schema for the control_research tool.
type ControlResearchInput struct {
	ResearchRunID string `json:"research_run_id" jsonschema:"the run to signal"`
	Action        string `json:"action" jsonschema:"control action: cancel, pause, or resume"`
}

// ControlResearchOutput defines the output schema for the control_research tool.
type ControlResearchOutput struct {
	ResearchRunID string `json:"research_run_id"`
	Action        string `json:"action"`
	// Accepted means the signal was queued; it takes effect at the
	// workflow's next checkpoint, not immediately.
	Accepted bool `json:"accepted"`
}

// parseTimestamp accepts RFC3339 or a bare date. Empty returns nil.
func parseTimestamp(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return &ts, nil
		}
	}
	return nil, NewInvalidParamsError(field + " must be RFC3339 or YYYY-MM-DD")
}

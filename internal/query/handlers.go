package query

import (
	"context"
	"log/slog"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/search"
	"github.com/caseweave/caseweave/internal/store"
)

// Searcher is the retrieval dependency of the SearchEvidence handler.
// *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// LiveStatus reports in-flight workflow progress. The research service
// implements it from activity heartbeats; nil is allowed when no
// workflow engine runs in this process.
type LiveStatus interface {
	LiveProgress(runID string) (phase domain.RunPhase, pct float64, message string, ok bool)
}

// HandlerDeps carries the read-side dependencies.
type HandlerDeps struct {
	Metadata store.MetadataStore
	Searcher Searcher
	Live     LiveStatus // optional
	Logger   *slog.Logger
}

// Handlers implements the read operations behind the bus.
type Handlers struct {
	metadata store.MetadataStore
	searcher Searcher
	live     LiveStatus
	logger   *slog.Logger
}

// NewHandlers validates dependencies and creates the handler set.
func NewHandlers(deps HandlerDeps) (*Handlers, error) {
	if deps.Metadata == nil {
		return nil, errors.Validation("query handlers require a metadata store")
	}
	if deps.Searcher == nil {
		return nil, errors.Validation("query handlers require a searcher")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		metadata: deps.Metadata,
		searcher: deps.Searcher,
		live:     deps.Live,
		logger:   logger,
	}, nil
}

// RegisterAll binds every handler to its kind on the bus.
func (h *Handlers) RegisterAll(bus *Bus) error {
	bindings := map[string]HandlerFunc{
		KindSearchEvidence:    h.searchEvidence,
		KindGetFindings:       h.getFindings,
		KindGetResearchStatus: h.getResearchStatus,
		KindQueryGraph:        h.queryGraph,
		KindGetTimeline:       h.getTimeline,
		KindGetDossier:        h.getDossier,
		KindListResearchRuns:  h.listResearchRuns,
	}
	for kind, fn := range bindings {
		if err := bus.Register(kind, fn); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) searchEvidence(ctx context.Context, q Query) (any, error) {
	sq, ok := q.(*SearchEvidence)
	if !ok {
		return nil, errors.Validationf("expected *SearchEvidence, got %T", q)
	}

	opts := search.Options{Highlight: true}
	if sq.Rerank {
		opts.UseRerank = true
		opts.RerankTopN = search.DefaultRerankTopN
	}
	resp, err := h.searcher.Search(ctx, search.Request{
		Query: sq.Query,
		TopK:  sq.TopK,
		Mode:  sq.Mode,
		Filters: search.Filters{
			CaseIDs:    sq.CaseIDs,
			Classes:    sq.Classes,
			ChunkTypes: sq.ChunkTypes,
			DateFrom:   sq.DateFrom,
			DateTo:     sq.DateTo,
		},
		Options: opts,
	})
	if err != nil {
		return nil, err
	}

	out := &SearchResponseDTO{
		Results:  make([]SearchHitDTO, 0, len(resp.Results)),
		TookMs:   resp.Took.Milliseconds(),
		Total:    len(resp.Results),
		Mode:     string(resp.Mode),
		Degraded: resp.Degraded,
		Warnings: resp.Warnings,
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchHitDTO(r))
	}
	return out, nil
}

func (h *Handlers) getFindings(ctx context.Context, q Query) (any, error) {
	fq, ok := q.(*GetFindings)
	if !ok {
		return nil, errors.Validationf("expected *GetFindings, got %T", q)
	}
	if _, err := h.metadata.GetResearchRun(ctx, fq.ResearchRunID); err != nil {
		return nil, err
	}

	limit := fq.Limit
	if limit == 0 {
		limit = DefaultFindingLimit
	}
	findings, total, err := h.metadata.GetFindings(ctx, fq.ResearchRunID, store.FindingFilter{
		Types:         fq.FindingTypes,
		MinConfidence: fq.MinConfidence,
		MinRelevance:  fq.MinRelevance,
		Tags:          fq.Tags,
		Limit:         limit,
		Offset:        fq.Offset,
	})
	if err != nil {
		return nil, err
	}

	page := &FindingsPageDTO{Findings: make([]FindingDTO, 0, len(findings)), Total: total}
	for _, f := range findings {
		page.Findings = append(page.Findings, findingDTO(f))
	}
	return page, nil
}

func (h *Handlers) getResearchStatus(ctx context.Context, q Query) (any, error) {
	sq, ok := q.(*GetResearchStatus)
	if !ok {
		return nil, errors.Validationf("expected *GetResearchStatus, got %T", q)
	}

	run, err := h.metadata.GetResearchRun(ctx, sq.ResearchRunID)
	if err != nil {
		return nil, err
	}
	findings, citations, err := h.metadata.CountFindings(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	dto := runStatusDTO(run, findings, citations)

	// A running workflow's heartbeat is fresher than the persisted phase.
	if h.live != nil && run.Status == domain.RunRunning {
		if phase, pct, message, ok := h.live.LiveProgress(run.ID); ok {
			dto.Phase = string(phase)
			dto.ProgressPct = pct
			dto.Message = message
		}
	}
	return &dto, nil
}

func (h *Handlers) queryGraph(ctx context.Context, q Query) (any, error) {
	gq, ok := q.(*QueryGraph)
	if !ok {
		return nil, errors.Validationf("expected *QueryGraph, got %T", q)
	}

	depth := gq.Depth
	if depth == 0 {
		depth = DefaultGraphDepth
	}
	nodes, rels, err := h.metadata.QueryGraph(ctx, gq.CaseID, store.GraphFilter{
		Entity:       gq.Entity,
		NodeType:     gq.NodeType,
		Relationship: gq.Relationship,
		Depth:        depth,
	})
	if err != nil {
		return nil, err
	}

	out := &GraphDTO{
		Entities:      []EntityDTO{},
		Relationships: []RelationshipDTO{},
		Events:        []EventDTO{},
	}
	for _, n := range nodes {
		if n.Type == domain.NodeEvent {
			out.Events = append(out.Events, eventDTO(n))
			continue
		}
		out.Entities = append(out.Entities, EntityDTO{
			ID:         n.ID,
			Type:       string(n.Type),
			Label:      n.Label,
			Properties: n.Properties,
		})
	}
	for _, rel := range rels {
		out.Relationships = append(out.Relationships, RelationshipDTO{
			ID:         rel.ID,
			SourceID:   rel.SourceID,
			TargetID:   rel.TargetID,
			Type:       string(rel.Type),
			Properties: rel.Properties,
		})
	}
	return out, nil
}

func eventDTO(n *domain.GraphNode) EventDTO {
	dto := EventDTO{
		ID:         n.ID,
		Label:      n.Label,
		Properties: n.Properties,
	}
	if t, ok := n.Properties["event_type"].(string); ok {
		dto.EventType = t
	}
	if ts, ok := n.Properties["timestamp"].(string); ok {
		dto.Timestamp = ts
	}
	return dto
}

func (h *Handlers) getTimeline(ctx context.Context, q Query) (any, error) {
	tq, ok := q.(*GetTimeline)
	if !ok {
		return nil, errors.Validationf("expected *GetTimeline, got %T", q)
	}

	limit := tq.Limit
	if limit == 0 {
		limit = DefaultTimelineLimit
	}
	events, err := h.metadata.GetTimeline(ctx, tq.CaseID, store.TimelineFilter{
		Start:      tq.StartDate,
		End:        tq.EndDate,
		EntityID:   tq.EntityID,
		EventTypes: tq.EventTypes,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	dto := &TimelineDTO{Events: make([]TimelineEventDTO, 0, len(events)), TotalEvents: len(events)}
	for _, ev := range events {
		dto.Events = append(dto.Events, timelineEventDTO(ev))
	}
	if len(events) > 0 {
		first, last := events[0].Timestamp, events[len(events)-1].Timestamp
		dto.StartDate = &first
		dto.EndDate = &last
	}
	return dto, nil
}

func (h *Handlers) getDossier(ctx context.Context, q Query) (any, error) {
	dq, ok := q.(*GetDossier)
	if !ok {
		return nil, errors.Validationf("expected *GetDossier, got %T", q)
	}

	d, err := h.metadata.GetDossier(ctx, dq.ResearchRunID)
	if err != nil {
		return nil, err
	}

	dto := &DossierDTO{
		ID:                d.ID,
		ResearchRunID:     d.ResearchRunID,
		ExecutiveSummary:  d.ExecutiveSummary,
		Sections:          make([]DossierSectionDTO, 0, len(d.Sections)),
		CitationsAppendix: d.CitationsAppendix,
		FilePaths:         d.FilePaths,
		GeneratedAt:       d.GeneratedAt,
		WordCount:         d.WordCount,
		Metadata:          d.Metadata,
	}
	for _, s := range d.Sections {
		dto.Sections = append(dto.Sections, DossierSectionDTO{
			Title:    s.Title,
			Content:  s.Content,
			Order:    s.Order,
			Metadata: s.Metadata,
		})
	}
	return dto, nil
}

func (h *Handlers) listResearchRuns(ctx context.Context, q Query) (any, error) {
	lq, ok := q.(*ListResearchRuns)
	if !ok {
		return nil, errors.Validationf("expected *ListResearchRuns, got %T", q)
	}
	if _, err := h.metadata.GetCase(ctx, lq.CaseID); err != nil {
		return nil, err
	}

	limit := lq.Limit
	if limit == 0 {
		limit = DefaultRunLimit
	}
	runs, total, err := h.metadata.ListResearchRuns(ctx, lq.CaseID, store.RunFilter{
		Status: lq.Status,
		Limit:  limit,
		Offset: lq.Offset,
	})
	if err != nil {
		return nil, err
	}

	page := &RunsPageDTO{Runs: make([]ResearchStatusDTO, 0, len(runs)), Total: total}
	for _, run := range runs {
		findings, citations, err := h.metadata.CountFindings(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		page.Runs = append(page.Runs, runStatusDTO(run, findings, citations))
	}
	return page, nil
}

package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/query"
	"github.com/caseweave/caseweave/internal/research"
	"github.com/caseweave/caseweave/pkg/version"
)

// Server bridges MCP clients with the evidence platform. Read tools
// dispatch typed queries through the bus; start_deep_research and
// control_research go to the research service.
type Server struct {
	mcp      *mcp.Server
	bus      *query.Bus
	research *research.Service
	logger   *slog.Logger
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates the MCP server and registers all tools.
func NewServer(bus *query.Bus, svc *research.Service, logger *slog.Logger) (*Server, error) {
	if bus == nil {
		return nil, errors.Validation("mcp server requires a query bus")
	}
	if svc == nil {
		return nil, errors.Validation("mcp server requires a research service")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		bus:      bus,
		research: svc,
		logger:   logger,
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "CaseWeave",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "CaseWeave", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	infos := make([]ToolInfo, len(toolDefs))
	for i, d := range toolDefs {
		infos[i] = ToolInfo{Name: d.name, Description: d.description}
	}
	return infos
}

type toolDef struct {
	name        string
	description string
}

// toolDefs is the registration order and the ListTools order.
var toolDefs = []toolDef{
	{"search_evidence", "Hybrid search over a case's evidence corpus, combining keyword and semantic ranking. Filter by case, evidence class, chunk granularity, and ingestion date; optionally rerank the head with a cross-encoder."},
	{"get_findings", "List the citation-backed findings of a research run, filtered by type, confidence, relevance, or tags."},
	{"get_research_status", "Report a research run's status, phase, and progress percentage, including live workflow progress while it executes."},
	{"query_graph", "Traverse a case's knowledge graph from entities matching a label, following typed relationships to a bounded depth."},
	{"get_timeline", "List a case's reconstructed timeline of dated events, bounded by date range, participant, or event type."},
	{"get_dossier", "Fetch the synthesized dossier of a completed research run: executive summary, ordered sections, and citations appendix."},
	{"list_research_runs", "List a case's research runs newest first, optionally filtered by status."},
	{"start_deep_research", "Start a durable deep-research run over a case's evidence. Returns immediately; poll get_research_status for progress."},
	{"control_research", "Signal a running research run: cancel, pause, or resume. Signals take effect at the workflow's next checkpoint."},
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, tool("search_evidence"), s.searchEvidenceHandler)
	mcp.AddTool(s.mcp, tool("get_findings"), s.getFindingsHandler)
	mcp.AddTool(s.mcp, tool("get_research_status"), s.getResearchStatusHandler)
	mcp.AddTool(s.mcp, tool("query_graph"), s.queryGraphHandler)
	mcp.AddTool(s.mcp, tool("get_timeline"), s.getTimelineHandler)
	mcp.AddTool(s.mcp, tool("get_dossier"), s.getDossierHandler)
	mcp.AddTool(s.mcp, tool("list_research_runs"), s.listResearchRunsHandler)
	mcp.AddTool(s.mcp, tool("start_deep_research"), s.startDeepResearchHandler)
	mcp.AddTool(s.mcp, tool("control_research"), s.controlResearchHandler)
	s.logger.Info("MCP tools registered", slog.Int("count", len(toolDefs)))
}

func tool(name string) *mcp.Tool {
	for _, d := range toolDefs {
		if d.name == name {
			return &mcp.Tool{Name: d.name, Description: d.description}
		}
	}
	panic("unregistered tool name: " + name)
}

// execute dispatches a query and asserts its DTO type.
func execute[T any](ctx context.Context, s *Server, q query.Query) (T, error) {
	var zero T
	out, err := s.bus.Execute(ctx, q)
	if err != nil {
		return zero, MapError(err)
	}
	typed, ok := out.(T)
	if !ok {
		s.logger.Error("unexpected query result type",
			slog.String("kind", q.Kind()),
			slog.String("got", fmt.Sprintf("%T", out)))
		return zero, &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
	return typed, nil
}

func (s *Server) searchEvidenceHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchEvidenceInput) (
	*mcp.CallToolResult,
	*query.SearchResponseDTO,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}
	q, err := input.toQuery()
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("search_evidence started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("top_k", input.TopK))

	dto, err := execute[*query.SearchResponseDTO](ctx, s, q)
	if err != nil {
		s.logger.Error("search_evidence failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, nil, err
	}
	s.logger.Info("search_evidence completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(dto.Results)))

	return textResult(FormatSearchResults(input.Query, dto)), dto, nil
}

func (s *Server) getFindingsHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetFindingsInput) (
	*mcp.CallToolResult,
	*query.FindingsPageDTO,
	error,
) {
	dto, err := execute[*query.FindingsPageDTO](ctx, s, input.toQuery())
	if err != nil {
		return nil, nil, err
	}
	return nil, dto, nil
}

func (s *Server) getResearchStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, input ResearchStatusInput) (
	*mcp.CallToolResult,
	*query.ResearchStatusDTO,
	error,
) {
	dto, err := execute[*query.ResearchStatusDTO](ctx, s, &query.GetResearchStatus{ResearchRunID: input.ResearchRunID})
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatResearchStatus(dto)), dto, nil
}

func (s *Server) queryGraphHandler(ctx context.Context, _ *mcp.CallToolRequest, input QueryGraphInput) (
	*mcp.CallToolResult,
	*query.GraphDTO,
	error,
) {
	dto, err := execute[*query.GraphDTO](ctx, s, input.toQuery())
	if err != nil {
		return nil, nil, err
	}
	return nil, dto, nil
}

func (s *Server) getTimelineHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetTimelineInput) (
	*mcp.CallToolResult,
	*query.TimelineDTO,
	error,
) {
	q, err := input.toQuery()
	if err != nil {
		return nil, nil, err
	}
	dto, err := execute[*query.TimelineDTO](ctx, s, q)
	if err != nil {
		return nil, nil, err
	}
	return nil, dto, nil
}

func (s *Server) getDossierHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetDossierInput) (
	*mcp.CallToolResult,
	*query.DossierDTO,
	error,
) {
	dto, err := execute[*query.DossierDTO](ctx, s, &query.GetDossier{ResearchRunID: input.ResearchRunID})
	if err != nil {
		return nil, nil, err
	}
	return textResult(FormatDossier(dto)), dto, nil
}

func (s *Server) listResearchRunsHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListRunsInput) (
	*mcp.CallToolResult,
	*query.RunsPageDTO,
	error,
) {
	q := &query.ListResearchRuns{
		CaseID: input.CaseID,
		Status: domain.RunStatus(strings.ToUpper(input.Status)),
		Limit:  input.Limit,
		Offset: input.Offset,
	}
	dto, err := execute[*query.RunsPageDTO](ctx, s, q)
	if err != nil {
		return nil, nil, err
	}
	return nil, dto, nil
}

func (s *Server) startDeepResearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input StartResearchInput) (
	*mcp.CallToolResult,
	*StartResearchOutput,
	error,
) {
	if strings.TrimSpace(input.CaseID) == "" {
		return nil, nil, NewInvalidParamsError("case_id parameter is required")
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, nil, NewInvalidParamsError("query parameter is required")
	}

	requestID := generateRequestID()
	s.logger.Info("start_deep_research requested",
		slog.String("request_id", requestID),
		slog.String("case_id", input.CaseID))

	run, err := s.research.StartDeepResearch(ctx, input.CaseID, input.Query, input.DefenseTheory)
	if err != nil {
		s.logger.Error("start_deep_research failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, nil, MapError(err)
	}
	return nil, &StartResearchOutput{
		ResearchRunID: run.ID,
		WorkflowID:    run.WorkflowID,
		Status:        string(run.Status),
	}, nil
}

func (s *Server) controlResearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input ControlResearchInput) (
	*mcp.CallToolResult,
	*ControlResearchOutput,
	error,
) {
	if strings.TrimSpace(input.ResearchRunID) == "" {
		return nil, nil, NewInvalidParamsError("research_run_id parameter is required")
	}
	action := strings.ToLower(strings.TrimSpace(input.Action))
	switch action {
	case research.SignalCancel, research.SignalPause, research.SignalResume:
	default:
		return nil, nil, NewInvalidParamsError("action must be cancel, pause, or resume")
	}

	if err := s.research.Signal(ctx, input.ResearchRunID, action); err != nil {
		return nil, nil, MapError(err)
	}
	s.logger.Info("control_research accepted",
		slog.String("run_id", input.ResearchRunID),
		slog.String("action", action))
	return nil, &ControlResearchOutput{
		ResearchRunID: input.ResearchRunID,
		Action:        action,
		Accepted:      true,
	}, nil
}

// Serve starts the server on the given transport. Only stdio is
// supported: stdout carries JSON-RPC exclusively, so nothing else may
// write to it once this is called.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources. The MCP server itself stops when its
// context is canceled.
func (s *Server) Close() error {
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

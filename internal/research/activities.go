package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caseweave/caseweave/internal/correlate"
	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/governor"
	"github.com/caseweave/caseweave/internal/llm"
	"github.com/caseweave/caseweave/internal/search"
	"github.com/caseweave/caseweave/internal/store"
)

// Searcher is the retrieval dependency. *search.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Deps wires the workflow's collaborators. Governor is optional and
// ReportsDir may be empty to skip artifact rendering; everything else
// is required.
type Deps struct {
	Metadata   store.MetadataStore
	Journal    store.WorkflowJournal
	Searcher   Searcher
	LLM        llm.Client
	Correlator *correlate.Engine
	// Governor throttles model calls; nil runs unthrottled.
	Governor *governor.Governor
	Logger   *slog.Logger

	// ReportsDir is where dossier artifacts are rendered, one
	// subdirectory per run. Empty skips file generation.
	ReportsDir string

	// MaxSearchTerms caps the planner's sub-queries.
	MaxSearchTerms int

	// HeartbeatInterval drives the background liveness ticker.
	HeartbeatInterval time.Duration

	// SignalPoll overrides how often a paused run re-checks its signal
	// queue. Zero uses the default.
	SignalPoll time.Duration
}

func (d *Deps) validate() error {
	if d.Metadata == nil {
		return errors.Validation("research requires a metadata store")
	}
	if d.Journal == nil {
		return errors.Validation("research requires a workflow journal")
	}
	if d.Searcher == nil {
		return errors.Validation("research requires a search engine")
	}
	if d.LLM == nil {
		return errors.Validation("research requires a model client")
	}
	if d.Correlator == nil {
		return errors.Validation("research requires a correlation engine")
	}
	return nil
}

// Activity names. The journal keys completions by these, so renaming
// one orphans recorded outputs for in-flight runs.
const (
	actInitialize  = "initialize_research_run"
	actDiscovery   = "run_discovery_phase"
	actPlanning    = "run_planning_phase"
	actCorrelation = "run_correlation_phase"
	actSynthesis   = "run_synthesis_phase"
	actReport      = "generate_report_files"
)

func analysisActivity(class domain.EvidenceClass) string {
	return fmt.Sprintf("run_%s_analysis", class)
}

// Analysis tuning. Findings are excerpts, not exhaustive extractions:
// each branch keeps the best-scoring chunks across all planned terms.
const (
	analysisTopK          = 8
	maxFindingsPerBranch  = 24
	maxEntitiesPerFinding = 8
	defaultMaxSearchTerms = 8
)

// Journaled activity outputs. These are replayed across process
// restarts, so fields must stay JSON-stable.

type initOutput struct {
	RunID      string `json:"run_id"`
	CaseID     string `json:"case_id"`
	CaseNumber string `json:"case_number"`
}

type discoveryOutput struct {
	CountsByClass  map[string]int    `json:"counts_by_class"`
	EvidenceLabels map[string]string `json:"evidence_labels"`
	Total          int               `json:"total"`
}

type planOutput struct {
	SearchTerms []string `json:"search_terms"`
	Planner     string   `json:"planner"` // "llm" or "heuristic"
}

type analysisOutput struct {
	Class     string `json:"class"`
	Findings  int    `json:"findings"`
	Citations int    `json:"citations"`
	Summary   string `json:"summary,omitempty"`
}

type contradictionNote struct {
	FindingA  string `json:"finding_a"`
	FindingB  string `json:"finding_b"`
	Predicate string `json:"predicate"`
	Severity  string `json:"severity"`
	Detail    string `json:"detail"`
}

type patternNote struct {
	Type        string `json:"type"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

type correlationOutput struct {
	Nodes          int                 `json:"nodes"`
	Relationships  int                 `json:"relationships"`
	TimelineEvents int                 `json:"timeline_events"`
	Contradictions []contradictionNote `json:"contradictions,omitempty"`
	Patterns       []patternNote       `json:"patterns,omitempty"`
}

type synthesisOutput struct {
	DossierID string `json:"dossier_id"`
	Sections  int    `json:"sections"`
	WordCount int    `json:"word_count"`
}

type reportOutput struct {
	Files []string `json:"files,omitempty"`
}

// activities holds the side-effecting workflow steps. Each method is
// idempotent: persistence uses deterministic IDs and upserts so a
// retried or re-driven activity converges instead of duplicating.
type activities struct {
	deps Deps
	log  *slog.Logger
}

// initialize re-verifies the case before any expensive work. The run
// row itself was persisted when the run was accepted.
func (a *activities) initialize(ctx context.Context, run *domain.ResearchRun) (initOutput, error) {
	c, err := a.deps.Metadata.GetCase(ctx, run.CaseID)
	if err != nil {
		return initOutput{}, err
	}
	return initOutput{RunID: run.ID, CaseID: c.ID, CaseNumber: c.CaseNumber}, nil
}

// discovery inventories the case's evidence per class. The labels feed
// graph node naming and the citations appendix.
func (a *activities) discovery(ctx context.Context, run *domain.ResearchRun) (discoveryOutput, error) {
	out := discoveryOutput{
		CountsByClass:  make(map[string]int, len(domain.EvidenceClasses)),
		EvidenceLabels: make(map[string]string),
	}
	for _, class := range domain.EvidenceClasses {
		items, err := a.deps.Metadata.ListEvidenceByCase(ctx, run.CaseID, class)
		if err != nil {
			return discoveryOutput{}, err
		}
		out.CountsByClass[string(class)] = len(items)
		out.Total += len(items)
		for _, ev := range items {
			out.EvidenceLabels[ev.ID] = ev.Filename
		}
	}
	if out.Total == 0 {
		return discoveryOutput{}, errors.Validationf("case %s has no evidence to research", run.CaseID)
	}
	return out, nil
}

// plan derives the sub-queries the analysis branches will search for.
// The model plans when it produces usable terms; otherwise the terms
// come from the question itself. The raw query is always term one.
func (a *activities) plan(ctx context.Context, run *domain.ResearchRun, disc discoveryOutput) (planOutput, error) {
	max := a.deps.MaxSearchTerms
	if max <= 0 {
		max = defaultMaxSearchTerms
	}

	terms := []string{strings.ToLower(strings.TrimSpace(run.Query))}
	planner := "heuristic"

	text, err := a.complete(ctx, plannerSystem, planPrompt(run, disc, max))
	if err != nil {
		a.log.Warn("planner_model_unavailable", "run_id", run.ID, "error", err)
	} else if planned := parsePlannedTerms(text, max); len(planned) >= 2 {
		terms = append(terms, planned...)
		planner = "llm"
	}
	if planner == "heuristic" {
		terms = append(terms, heuristicTerms(run.Query, run.DefenseTheory, max)...)
	}

	terms = dedupeTerms(terms, max)
	a.log.Info("research_plan",
		"run_id", run.ID,
		"planner", planner,
		"terms", len(terms))
	return planOutput{SearchTerms: terms, Planner: planner}, nil
}

// analyze searches one evidence class for every planned term, keeps the
// best chunks, and persists citation-backed findings. Finding IDs hash
// the run, class, and chunk, so a re-driven branch upserts rather than
// duplicates.
func (a *activities) analyze(ctx context.Context, run *domain.ResearchRun, class domain.EvidenceClass, terms []string, evidenceCount int) (analysisOutput, error) {
	out := analysisOutput{Class: string(class)}
	if evidenceCount == 0 {
		a.log.Debug("analysis_skipped", "run_id", run.ID, "class", string(class), "reason", "no evidence")
		return out, nil
	}

	best := make(map[string]*search.Result)
	failed := 0
	var lastErr error
	for _, term := range terms {
		resp, err := a.deps.Searcher.Search(ctx, search.Request{
			Query: term,
			TopK:  analysisTopK,
			Mode:  search.ModeHybrid,
			Filters: search.Filters{
				CaseIDs: []string{run.CaseID},
				Classes: []domain.EvidenceClass{class},
			},
		})
		if err != nil {
			// One failed term degrades the branch; all of them failing
			// fails it so the retry policy gets a say.
			failed++
			lastErr = err
			a.log.Warn("analysis_search_failed",
				"run_id", run.ID, "class", string(class), "term", term, "error", err)
			continue
		}
		for _, r := range resp.Results {
			if cur, ok := best[r.ChunkID]; !ok || r.Score > cur.Score {
				best[r.ChunkID] = r
			}
		}
	}
	if failed == len(terms) && lastErr != nil {
		return analysisOutput{}, lastErr
	}

	ordered := make([]*search.Result, 0, len(best))
	for _, r := range best {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].ChunkID < ordered[j].ChunkID
	})
	if len(ordered) > maxFindingsPerBranch {
		ordered = ordered[:maxFindingsPerBranch]
	}

	findings := make([]*domain.Finding, 0, len(ordered))
	for rank, r := range ordered {
		f, err := a.buildFinding(run, class, r, rank)
		if err != nil {
			a.log.Warn("finding_rejected", "run_id", run.ID, "chunk_id", r.ChunkID, "error", err)
			continue
		}
		findings = append(findings, f)
	}

	if summary, err := a.complete(ctx, summarizerSystem, branchSummaryPrompt(run, class, findings)); err != nil {
		a.log.Warn("branch_summary_unavailable", "run_id", run.ID, "class", string(class), "error", err)
	} else {
		out.Summary = clipText(summary, 800)
	}

	if err := a.deps.Metadata.SaveFindings(ctx, findings); err != nil {
		return analysisOutput{}, err
	}
	out.Findings = len(findings)
	for _, f := range findings {
		out.Citations += len(f.Citations)
	}
	a.log.Info("analysis_complete",
		"run_id", run.ID,
		"class", string(class),
		"findings", out.Findings,
		"citations", out.Citations)
	return out, nil
}

// buildFinding turns one ranked chunk into a typed finding with a
// single citation back to the chunk. Dated text becomes a timeline
// event, quoted speech a quote, everything else a fact.
func (a *activities) buildFinding(run *domain.ResearchRun, class domain.EvidenceClass, r *search.Result, rank int) (*domain.Finding, error) {
	text := strings.TrimSpace(r.Text)
	if text == "" {
		text = strings.TrimSpace(r.Snippet)
	}
	if text == "" {
		return nil, errors.Validation("chunk has no text")
	}
	text = clipText(text, 600)

	ft := domain.FindingFact
	var tags []string
	if ts, ok := correlate.FirstDate(text); ok {
		ft = domain.FindingTimelineEvent
		tags = append(tags, "date:"+ts.Format("2006-01-02"))
	} else if quotePattern.MatchString(text) {
		ft = domain.FindingQuote
	}
	tags = append(tags, "class:"+string(class))

	// Rank-derived scores: retrieval order is the evidence of strength,
	// fused scores are not comparable across modes.
	confidence := clampScore(0.9-0.05*float64(rank), 0.3, 0.9)
	relevance := clampScore(1.0-0.04*float64(rank), 0.4, 1.0)

	f, err := domain.NewFinding(run.ID, ft, text, confidence, relevance)
	if err != nil {
		return nil, err
	}
	f.ID = domain.HashID(run.ID, string(class), r.ChunkID, "finding")
	f.Entities = extractEntities(text, maxEntitiesPerFinding)
	f.Tags = tags

	quote := strings.TrimSpace(r.Snippet)
	if quote == "" {
		quote = clipText(text, 240)
	}
	start, end := 0, len(quote)
	if len(r.Highlights) > 0 {
		start, end = r.Highlights[0].Start, r.Highlights[0].End
	}
	f.Citations = []domain.Citation{{
		ID:          domain.HashID(f.ID, r.ChunkID, "citation"),
		ChunkID:     r.ChunkID,
		EvidenceID:  r.EvidenceID,
		StartOffset: start,
		EndOffset:   end,
		Quote:       quote,
	}}
	return f, nil
}

// correlateFindings runs the correlation engine over everything the
// branches persisted and stores the derived structures. The output
// carries the contradictions and patterns forward so synthesis does not
// need its own read path for them.
func (a *activities) correlateFindings(ctx context.Context, run *domain.ResearchRun, disc discoveryOutput) (correlationOutput, error) {
	results := make([]correlate.AnalysisResult, 0, len(domain.EvidenceClasses))
	for _, class := range domain.EvidenceClasses {
		findings, _, err := a.deps.Metadata.GetFindings(ctx, run.ID, store.FindingFilter{
			Tags:  []string{"class:" + string(class)},
			Limit: 10_000,
		})
		if err != nil {
			return correlationOutput{}, err
		}
		results = append(results, correlate.AnalysisResult{Class: class, Findings: findings})
	}

	res, err := a.deps.Correlator.Correlate(ctx, &correlate.Input{
		CaseID:         run.CaseID,
		RunID:          run.ID,
		Results:        results,
		EvidenceLabels: disc.EvidenceLabels,
	})
	if err != nil {
		return correlationOutput{}, err
	}

	if err := a.deps.Metadata.SaveGraphNodes(ctx, res.GraphNodes); err != nil {
		return correlationOutput{}, err
	}
	if err := a.deps.Metadata.SaveGraphRelationships(ctx, res.GraphRelationships); err != nil {
		return correlationOutput{}, err
	}
	if err := a.deps.Metadata.SaveTimelineEvents(ctx, res.Timeline); err != nil {
		return correlationOutput{}, err
	}
	if err := a.deps.Metadata.SaveContradictions(ctx, res.Contradictions); err != nil {
		return correlationOutput{}, err
	}
	if err := a.deps.Metadata.SavePatterns(ctx, res.KeyPatterns); err != nil {
		return correlationOutput{}, err
	}

	out := correlationOutput{
		Nodes:          len(res.GraphNodes),
		Relationships:  len(res.GraphRelationships),
		TimelineEvents: len(res.Timeline),
	}
	for _, c := range res.Contradictions {
		out.Contradictions = append(out.Contradictions, contradictionNote{
			FindingA:  c.FindingA,
			FindingB:  c.FindingB,
			Predicate: c.Predicate,
			Severity:  string(c.Severity),
			Detail:    c.Detail,
		})
	}
	for _, p := range res.KeyPatterns {
		out.Patterns = append(out.Patterns, patternNote{
			Type:        p.PatternType,
			Count:       p.Count,
			Description: p.Description,
		})
	}
	return out, nil
}

// synthesize assembles the dossier from the run's strongest findings,
// the case timeline, and the correlation output, then upserts it.
func (a *activities) synthesize(ctx context.Context, run *domain.ResearchRun, disc discoveryOutput, plan planOutput, branches []analysisOutput, corr correlationOutput) (synthesisOutput, error) {
	top, total, err := a.deps.Metadata.GetFindings(ctx, run.ID, store.FindingFilter{Limit: 12})
	if err != nil {
		return synthesisOutput{}, err
	}
	timeline, err := a.deps.Metadata.GetTimeline(ctx, run.CaseID, store.TimelineFilter{Limit: 20})
	if err != nil {
		return synthesisOutput{}, err
	}

	var sections []domain.DossierSection
	order := 1
	add := func(title, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		sections = append(sections, domain.DossierSection{Title: title, Content: content, Order: order})
		order++
	}

	add("Key Findings", renderFindings(top))
	add("Timeline", renderTimeline(timeline))
	add("Contradictions", renderContradictions(corr.Contradictions))
	add("Patterns", renderPatterns(corr.Patterns))
	add("Evidence Review", renderBranchSummaries(branches))

	summary := fallbackSummary(run, disc, corr, total, len(timeline))
	if text, err := a.complete(ctx, synthesisSystem, execSummaryPrompt(run, branches, summary)); err != nil {
		a.log.Warn("executive_summary_unavailable", "run_id", run.ID, "error", err)
	} else if text = strings.TrimSpace(text); text != "" {
		summary = clipText(text, 2000)
	}

	d, err := domain.NewDossier(run.ID, summary, sections)
	if err != nil {
		return synthesisOutput{}, err
	}
	d.CitationsAppendix = citationsAppendix(top, disc.EvidenceLabels)
	d.Metadata = map[string]any{
		"model":        a.deps.LLM.ModelName(),
		"planner":      plan.Planner,
		"search_terms": plan.SearchTerms,
	}
	if err := a.deps.Metadata.SaveDossier(ctx, d); err != nil {
		return synthesisOutput{}, err
	}
	return synthesisOutput{DossierID: d.ID, Sections: len(sections), WordCount: d.WordCount}, nil
}

// generateReports renders the dossier to disk, one directory per run,
// and records the paths on the dossier row.
func (a *activities) generateReports(ctx context.Context, run *domain.ResearchRun) (reportOutput, error) {
	if a.deps.ReportsDir == "" {
		return reportOutput{}, nil
	}
	d, err := a.deps.Metadata.GetDossier(ctx, run.ID)
	if err != nil {
		return reportOutput{}, err
	}
	findings, _, err := a.deps.Metadata.GetFindings(ctx, run.ID, store.FindingFilter{Limit: 10_000})
	if err != nil {
		return reportOutput{}, err
	}

	dir := filepath.Join(a.deps.ReportsDir, run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return reportOutput{}, errors.New(errors.ErrCodeStoreIO, "create reports directory", err)
	}

	dossierPath := filepath.Join(dir, "dossier.md")
	if err := os.WriteFile(dossierPath, []byte(renderDossierMarkdown(run, d)), 0o644); err != nil {
		return reportOutput{}, errors.New(errors.ErrCodeStoreIO, "write dossier report", err)
	}

	findingsPath := filepath.Join(dir, "findings.json")
	raw, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return reportOutput{}, errors.New(errors.ErrCodeInternal, "encode findings export", err)
	}
	if err := os.WriteFile(findingsPath, raw, 0o644); err != nil {
		return reportOutput{}, errors.New(errors.ErrCodeStoreIO, "write findings export", err)
	}

	d.FilePaths = []string{dossierPath, findingsPath}
	if err := a.deps.Metadata.SaveDossier(ctx, d); err != nil {
		return reportOutput{}, err
	}
	return reportOutput{Files: d.FilePaths}, nil
}

// complete runs one model call under a governor permit when one is
// configured. Callers treat errors as "no model contribution" and fall
// back to their heuristics.
func (a *activities) complete(ctx context.Context, system, prompt string) (string, error) {
	if a.deps.Governor != nil {
		lease, err := a.deps.Governor.Acquire(ctx)
		if err != nil {
			return "", err
		}
		defer lease.Release()
	}
	resp, err := a.deps.LLM.Complete(ctx, llm.Request{System: system, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Prompts put the material first and the ask last: the local static
// client answers extractively from the head of the prompt, so leading
// with data keeps its output grounded in the evidence.
const (
	plannerSystem    = "You plan legal evidence research. Respond with one short search query per line and nothing else."
	summarizerSystem = "You summarize legal evidence. State only what the excerpts support."
	synthesisSystem  = "You write executive summaries of legal research. Be factual and concise."
)

func planPrompt(run *domain.ResearchRun, disc discoveryOutput, max int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", run.Query)
	if run.DefenseTheory != "" {
		fmt.Fprintf(&b, "Defense theory: %s\n", run.DefenseTheory)
	}
	fmt.Fprintf(&b, "Evidence on file: %d documents, %d transcripts, %d communications.\n",
		disc.CountsByClass[string(domain.EvidenceDocument)],
		disc.CountsByClass[string(domain.EvidenceTranscript)],
		disc.CountsByClass[string(domain.EvidenceCommunication)])
	fmt.Fprintf(&b, "\nList up to %d search queries that would surface the strongest evidence.", max)
	return b.String()
}

func branchSummaryPrompt(run *domain.ResearchRun, class domain.EvidenceClass, findings []*domain.Finding) string {
	var b strings.Builder
	for i, f := range findings {
		if i == 12 {
			break
		}
		fmt.Fprintf(&b, "- %s\n", clipText(f.Text, 300))
	}
	fmt.Fprintf(&b, "\nSummarize what this %s evidence shows about: %s", class, run.Query)
	return b.String()
}

func execSummaryPrompt(run *domain.ResearchRun, branches []analysisOutput, fallback string) string {
	var b strings.Builder
	b.WriteString(fallback)
	b.WriteString("\n")
	for _, br := range branches {
		if br.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "\n%s evidence: %s\n", br.Class, br.Summary)
	}
	fmt.Fprintf(&b, "\nWrite a short executive summary of this research into: %s", run.Query)
	return b.String()
}

// parsePlannedTerms pulls short, one-per-line queries out of a model
// response and discards prose. Sentence-shaped lines are rejected so an
// extractive local model falls through to the heuristic planner.
func parsePlannedTerms(text string, max int) []string {
	var terms []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. \t")
		line = strings.TrimSpace(strings.Trim(line, `"`))
		if line == "" || len(line) > 60 {
			continue
		}
		if strings.ContainsAny(line, ".?!:;,") {
			continue
		}
		if n := len(strings.Fields(line)); n < 1 || n > 6 {
			continue
		}
		terms = append(terms, strings.ToLower(line))
		if len(terms) == max {
			break
		}
	}
	return terms
}

// heuristicTerms derives sub-queries from the question itself: quoted
// phrases verbatim, then content-word pairs.
func heuristicTerms(query, theory string, max int) []string {
	var terms []string
	for _, m := range quotePattern.FindAllStringSubmatch(query+" "+theory, -1) {
		terms = append(terms, strings.ToLower(m[1]))
	}
	for _, source := range []string{query, theory} {
		words := contentWords(source)
		for i := 0; i+1 < len(words) && len(terms) < max; i += 2 {
			terms = append(terms, words[i]+" "+words[i+1])
		}
	}
	return terms
}

func dedupeTerms(terms []string, max int) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == max {
			break
		}
	}
	return out
}

func contentWords(s string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, `.,;:!?"'()[]`)
		if len(w) < 3 || promptStopwords[w] {
			continue
		}
		words = append(words, w)
	}
	return words
}

var quotePattern = regexp.MustCompile(`"([^"]{8,400})"`)

var entityPattern = regexp.MustCompile(`(?:[A-Z][A-Za-z'&.-]*)(?:\s+[A-Z][A-Za-z'&.-]*)*`)

// extractEntities pulls capitalized runs out of prose. Sentence-leading
// words slip through alone, so single-word matches are dropped when
// they are common openers or too short to name anything.
func extractEntities(text string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range entityPattern.FindAllString(text, -1) {
		m = strings.Trim(m, ".,;:'\" ")
		if m == "" {
			continue
		}
		if words := strings.Fields(m); len(words) == 1 {
			if len(m) < 3 || promptStopwords[strings.ToLower(m)] {
				continue
			}
		}
		key := strings.ToLower(m)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
		if len(out) == max {
			break
		}
	}
	return out
}

// promptStopwords filters sentence scaffolding out of both heuristic
// search terms and entity candidates.
var promptStopwords = map[string]bool{
	"a": true, "about": true, "after": true, "all": true, "an": true,
	"and": true, "any": true, "are": true, "as": true, "at": true,
	"because": true, "been": true, "before": true, "between": true,
	"but": true, "by": true, "did": true, "does": true, "during": true,
	"for": true, "from": true, "had": true, "has": true, "have": true,
	"he": true, "her": true, "his": true, "how": true, "however": true,
	"if": true, "in": true, "into": true, "it": true, "its": true,
	"no": true, "not": true, "of": true, "on": true, "or": true,
	"our": true, "over": true, "she": true, "so": true, "some": true,
	"such": true, "that": true, "the": true, "their": true, "then": true,
	"there": true, "these": true, "they": true, "this": true,
	"those": true, "to": true, "under": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "where": true,
	"while": true, "who": true, "why": true, "with": true, "you": true,
}

func clampScore(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clipText crops s to max runes at a word boundary.
func clipText(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func renderFindings(findings []*domain.Finding) string {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s (confidence %.2f, %d citations)\n",
			f.FindingType, clipText(f.Text, 240), f.Confidence, len(f.Citations))
	}
	return b.String()
}

func renderTimeline(events []*domain.TimelineEvent) string {
	var b strings.Builder
	for _, ev := range events {
		fmt.Fprintf(&b, "- %s: %s\n", ev.Timestamp.Format("2006-01-02"), clipText(ev.Description, 200))
	}
	return b.String()
}

func renderContradictions(notes []contradictionNote) string {
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "- [%s] %s disagreement between findings %s and %s: %s\n",
			n.Severity, n.Predicate, n.FindingA, n.FindingB, n.Detail)
	}
	return b.String()
}

func renderPatterns(notes []patternNote) string {
	var b strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s (%d): %s\n", n.Type, n.Count, n.Description)
	}
	return b.String()
}

func renderBranchSummaries(branches []analysisOutput) string {
	var b strings.Builder
	for _, br := range branches {
		if br.Summary == "" {
			continue
		}
		fmt.Fprintf(&b, "%s (%d findings): %s\n\n", br.Class, br.Findings, br.Summary)
	}
	return strings.TrimSpace(b.String())
}

func fallbackSummary(run *domain.ResearchRun, disc discoveryOutput, corr correlationOutput, findings, timelineEvents int) string {
	return fmt.Sprintf(
		"Research into %q reviewed %d evidence items and produced %d findings, %d timeline events, %d contradictions, and %d recurring patterns.",
		run.Query, disc.Total, findings, timelineEvents, len(corr.Contradictions), len(corr.Patterns))
}

// citationsAppendix lists every citation behind the dossier's findings,
// labeled with the evidence it came from.
func citationsAppendix(findings []*domain.Finding, labels map[string]string) string {
	var b strings.Builder
	n := 0
	seen := make(map[string]bool)
	for _, f := range findings {
		for i := range f.Citations {
			c := &f.Citations[i]
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			n++
			label := labels[c.EvidenceID]
			if label == "" {
				label = c.EvidenceID
			}
			fmt.Fprintf(&b, "[%d] %s, chunk %s: %q\n", n, label, c.ChunkID, clipText(c.Quote, 160))
		}
	}
	return b.String()
}

func renderDossierMarkdown(run *domain.ResearchRun, d *domain.Dossier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Dossier\n\n")
	fmt.Fprintf(&b, "**Question:** %s\n\n", run.Query)
	if run.DefenseTheory != "" {
		fmt.Fprintf(&b, "**Defense theory:** %s\n\n", run.DefenseTheory)
	}
	fmt.Fprintf(&b, "**Generated:** %s\n\n", d.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", d.ExecutiveSummary)
	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, s.Content)
	}
	if d.CitationsAppendix != "" {
		fmt.Fprintf(&b, "## Citations\n\n%s\n", d.CitationsAppendix)
	}
	return b.String()
}

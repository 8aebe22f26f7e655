package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/store"
	"github.com/caseweave/caseweave/internal/telemetry"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = stderrors.New("nil dependency")

// Engine executes retrieval over the lexical and dense indexes. The two
// rankers run in parallel for hybrid searches; either one failing degrades
// the response instead of failing it.
type Engine struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	metadata store.MetadataStore

	reranker   Reranker
	metrics    *telemetry.SearchMetrics
	embedCache *lru.Cache[string, []float32]
	cacheSize  int
	logger     *slog.Logger
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithReranker sets the cross-encoder used when a request asks for
// reranking. Without one, rerank requests fall back to fused order.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithMetrics sets the search telemetry collector.
func WithMetrics(m *telemetry.SearchMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEmbeddingCacheSize sizes the query-embedding LRU. n <= 0 disables
// the cache.
func WithEmbeddingCacheSize(n int) EngineOption {
	return func(e *Engine) { e.cacheSize = n }
}

// NewEngine creates a search engine. All four store dependencies are
// required; the reranker and metrics collector are optional.
func NewEngine(
	lexical store.LexicalIndex,
	vector store.VectorIndex,
	embedder embed.Embedder,
	metadata store.MetadataStore,
	opts ...EngineOption,
) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store is required", ErrNilDependency)
	}

	e := &Engine{
		lexical:   lexical,
		vector:    vector,
		embedder:  embedder,
		metadata:  metadata,
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.cacheSize > 0 {
		cache, err := lru.New[string, []float32](e.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create embedding cache: %w", err)
		}
		e.embedCache = cache
	}
	return e, nil
}

// Search runs the retrieval pipeline: preprocess, parallel rankers, fuse,
// threshold, enrich, optional rerank, cut to top_k.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New(errors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if !mode.Valid() {
		return nil, errors.Validationf("unknown search mode %q", req.Mode)
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	pre := PreprocessQuery(query)
	candidates := candidateCount(topK, req.Options)

	lex, vec, warnings, err := e.retrieve(ctx, pre, req, mode, candidates)
	if err != nil {
		return nil, errors.Correlate(ctx, err)
	}

	fused := NewFusion(req.Options).Fuse(lex, vec)
	if t := req.Options.ScoreThreshold; t > 0 {
		fused = filterThreshold(fused, t)
	}

	results, err := e.enrich(ctx, fused, req.Filters)
	if err != nil {
		return nil, errors.Correlate(ctx, err)
	}
	sortResults(results)

	results, rerankWarning := e.rerankHead(ctx, query, results, req.Options)
	if rerankWarning != "" {
		warnings = append(warnings, rerankWarning)
	}

	if len(results) > topK {
		results = results[:topK]
	}
	enforceMonotonic(results)

	took := time.Since(start)
	e.record(query, mode, req.Filters, len(results), len(warnings) > 0, took)
	e.logger.Debug("search_complete",
		slog.String("mode", string(mode)),
		slog.Int("results", len(results)),
		slog.Int("lexical_hits", len(lex)),
		slog.Int("dense_hits", len(vec)),
		slog.Bool("degraded", len(warnings) > 0),
		slog.Duration("took", took))

	return &Response{
		Results:  results,
		Mode:     mode,
		Degraded: len(warnings) > 0,
		Warnings: warnings,
		Took:     took,
	}, nil
}

// candidateCount sizes per-ranker retrieval so fusion, post-filters, and
// the rerank head stay filled.
func candidateCount(topK int, opts Options) int {
	n := topK
	if opts.UseRerank && opts.RerankTopN > n {
		n = opts.RerankTopN
	}
	n *= candidateMultiplier
	if n > MaxTopK*candidateMultiplier {
		n = MaxTopK * candidateMultiplier
	}
	return n
}

// retrieve runs the rankers the mode selects. A single ranker failing in
// HYBRID degrades with a warning; both failing is fatal.
func (e *Engine) retrieve(ctx context.Context, pre Preprocessed, req Request, mode Mode, candidates int) (
	lex []*store.LexicalHit,
	vec []*store.VectorHit,
	warnings []string,
	err error,
) {
	collections := collectionsFor(req.Filters.Classes)
	space := denseSpaceFor(req.Filters.ChunkTypes)
	lexReq := lexicalRequest(pre, req, collections, candidates)

	switch mode {
	case ModeLexicalOnly:
		lex, err = e.lexical.Search(ctx, lexReq)
		if err != nil {
			return nil, nil, nil, errors.New(errors.ErrCodeSearch, "lexical search failed", err)
		}
		return lex, nil, nil, nil

	case ModeDenseOnly:
		vec, err = e.denseSearch(ctx, pre.Dense, collections, space, candidates)
		if err != nil {
			return nil, nil, nil, errors.New(errors.ErrCodeSearch, "dense search failed", err)
		}
		return nil, vec, nil, nil
	}

	var lexErr, vecErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lex, lexErr = e.lexical.Search(gctx, lexReq)
		return nil
	})
	g.Go(func() error {
		vec, vecErr = e.denseSearch(gctx, pre.Dense, collections, space, candidates)
		return nil
	})
	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, nil, waitErr
	}

	if lexErr != nil && vecErr != nil {
		return nil, nil, nil, errors.FatalBackend("lexical and dense rankers both failed", stderrors.Join(lexErr, vecErr))
	}
	if lexErr != nil {
		warnings = append(warnings, "lexical ranker unavailable, dense results only")
		e.logger.Warn("search_degraded",
			slog.String("ranker", "lexical"),
			slog.String("error", lexErr.Error()))
		lex = nil
	}
	if vecErr != nil {
		warnings = append(warnings, "dense ranker unavailable, lexical results only")
		e.logger.Warn("search_degraded",
			slog.String("ranker", "dense"),
			slog.String("error", vecErr.Error()))
		vec = nil
	}
	return lex, vec, warnings, nil
}

// denseSearch embeds the query and searches every selected collection in
// the chosen space, merging by similarity.
func (e *Engine) denseSearch(ctx context.Context, query string, collections []string, space string, k int) ([]*store.VectorHit, error) {
	embedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var hits []*store.VectorHit
	for _, coll := range collections {
		collHits, err := e.vector.Search(ctx, coll, space, embedding, k)
		if err != nil {
			return nil, fmt.Errorf("vector search %s: %w", coll, err)
		}
		hits = append(hits, collHits...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// embedQuery embeds through the LRU cache, keyed by model and query text
// so a model swap never serves stale vectors.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	key := e.embedder.ModelName() + "\x00" + query
	if e.embedCache != nil {
		if v, ok := e.embedCache.Get(key); ok {
			return v, nil
		}
	}
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if e.embedCache != nil {
		e.embedCache.Add(key, embedding)
	}
	return embedding, nil
}

func lexicalRequest(pre Preprocessed, req Request, collections []string, candidates int) *store.LexicalSearchRequest {
	chunkTypes := make([]string, 0, len(req.Filters.ChunkTypes))
	for _, t := range req.Filters.ChunkTypes {
		chunkTypes = append(chunkTypes, string(t))
	}
	return &store.LexicalSearchRequest{
		Query:         pre.Lexical,
		Collections:   collections,
		CaseIDs:       req.Filters.CaseIDs,
		ChunkTypes:    chunkTypes,
		CitationTerms: pre.Citations,
		Limit:         candidates,
		Highlight:     req.Options.Highlight,
	}
}

// collectionsFor maps class filters to collection names. Empty means all
// three evidence collections; findings are searched through C5, not here.
func collectionsFor(classes []domain.EvidenceClass) []string {
	if len(classes) == 0 {
		return []string{
			store.CollectionDocuments,
			store.CollectionTranscripts,
			store.CollectionCommunications,
		}
	}
	seen := make(map[string]bool, len(classes))
	out := make([]string, 0, len(classes))
	for _, class := range classes {
		coll := store.CollectionFor(class)
		if coll == "" || seen[coll] {
			continue
		}
		seen[coll] = true
		out = append(out, coll)
	}
	return out
}

// denseSpaceFor picks the vector space to query. A chunk_types filter that
// resolves to a single space selects it; anything else searches the
// section space, the default granularity.
func denseSpaceFor(types []domain.ChunkType) string {
	spaces := make(map[string]bool)
	for _, t := range types {
		spaces[t.VectorSpace()] = true
	}
	if len(spaces) == 1 {
		for s := range spaces {
			return s
		}
	}
	return string(domain.ChunkSection)
}

func filterThreshold(hits []*fusedHit, threshold float64) []*fusedHit {
	kept := hits[:0]
	for _, h := range hits {
		if h.score >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}

// enrich resolves fused hits into full results. Hits whose chunk or
// evidence rows are gone are dropped as orphans; dense hits that escaped
// the request's case or type scope are filtered here.
func (e *Engine) enrich(ctx context.Context, fused []*fusedHit, filters Filters) ([]*Result, error) {
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	ids := make([]string, len(fused))
	for i, h := range fused {
		ids[i] = h.chunkID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	chunkByID := make(map[string]*domain.Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	evidenceByID := make(map[string]*domain.Evidence)
	results := make([]*Result, 0, len(fused))
	for _, h := range fused {
		chunk, ok := chunkByID[h.chunkID]
		if !ok {
			continue
		}
		if !matchStringFilter(filters.CaseIDs, chunk.CaseID) {
			continue
		}
		if !matchChunkType(filters.ChunkTypes, chunk.ChunkType) {
			continue
		}

		ev, seen := evidenceByID[chunk.EvidenceID]
		if !seen {
			ev, err = e.metadata.GetEvidence(ctx, chunk.EvidenceID)
			if err != nil {
				if errors.IsKind(err, errors.KindNotFound) {
					evidenceByID[chunk.EvidenceID] = nil
					continue
				}
				return nil, fmt.Errorf("fetch evidence %s: %w", chunk.EvidenceID, err)
			}
			evidenceByID[chunk.EvidenceID] = ev
		}
		if ev == nil {
			continue
		}
		if !matchDateRange(filters, ev.CreatedAt) {
			continue
		}

		results = append(results, &Result{
			ChunkID:          chunk.ID,
			EvidenceID:       chunk.EvidenceID,
			CaseID:           chunk.CaseID,
			ChunkType:        chunk.ChunkType,
			Position:         chunk.Position,
			Text:             chunk.Text,
			Snippet:          buildSnippet(chunk.Text, h.highlights),
			Score:            h.score,
			PreRerankScore:   h.score,
			LexicalScore:     h.lexScore,
			VectorScore:      h.vecScore,
			LexicalRank:      h.lexRank,
			VectorRank:       h.vecRank,
			InBothLists:      h.inBoth,
			MatchedTerms:     h.matchedTerms,
			Highlights:       h.highlights,
			EvidenceFilename: ev.Filename,
			EvidenceClass:    ev.Class,
		})
	}
	return results, nil
}

func matchStringFilter(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func matchChunkType(allowed []domain.ChunkType, value domain.ChunkType) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

func matchDateRange(filters Filters, t time.Time) bool {
	if filters.DateFrom != nil && t.Before(*filters.DateFrom) {
		return false
	}
	if filters.DateTo != nil && t.After(*filters.DateTo) {
		return false
	}
	return true
}

// rerankHead rescores the head of the list with the cross-encoder. Any
// failure keeps the fused order and reports a warning; rerank never fails
// a search.
func (e *Engine) rerankHead(ctx context.Context, query string, results []*Result, opts Options) ([]*Result, string) {
	if !opts.UseRerank || opts.RerankTopN <= 0 || e.reranker == nil || len(results) < 2 {
		return results, ""
	}
	n := opts.RerankTopN
	if n > len(results) {
		n = len(results)
	}
	if !e.reranker.Available(ctx) {
		return results, "reranker unavailable, fused order kept"
	}

	docs := make([]string, n)
	for i := 0; i < n; i++ {
		docs[i] = results[i].Text
	}
	scored, err := e.reranker.Rerank(ctx, query, docs, 0)
	if err != nil {
		e.logger.Warn("rerank_failed", slog.String("error", err.Error()))
		return results, "rerank failed, fused order kept"
	}

	head := make([]*Result, 0, n)
	for _, rr := range scored {
		if rr.Index < 0 || rr.Index >= n {
			continue
		}
		r := results[rr.Index]
		r.Score = rr.Score
		r.Reranked = true
		head = append(head, r)
	}
	if len(head) != n {
		for i := 0; i < n; i++ {
			results[i].Score = results[i].PreRerankScore
			results[i].Reranked = false
		}
		return results, "rerank returned partial scores, fused order kept"
	}
	return append(head, results[n:]...), ""
}

// sortResults orders by score descending, ties broken by evidence_id,
// then position, then chunk_id.
func sortResults(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.EvidenceID != b.EvidenceID {
			return a.EvidenceID < b.EvidenceID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ChunkID < b.ChunkID
	})
}

// enforceMonotonic caps scores so the returned list never increases.
// Only the rerank head/tail boundary can violate this: reranker scores and
// fused scores sit on different scales.
func enforceMonotonic(results []*Result) {
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			results[i].Score = results[i-1].Score
		}
	}
}

func (e *Engine) record(query string, mode Mode, filters Filters, count int, degraded bool, took time.Duration) {
	if e.metrics == nil {
		return
	}
	caseID := ""
	if len(filters.CaseIDs) == 1 {
		caseID = filters.CaseIDs[0]
	}
	e.metrics.Record(telemetry.SearchEvent{
		Query:       query,
		Mode:        telemetry.SearchMode(mode),
		CaseID:      caseID,
		ResultCount: count,
		Degraded:    degraded,
		Latency:     took,
		Timestamp:   time.Now(),
	})
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
)

// LexicalStore is the Bleve-backed BM25 store: one index per collection
// plus an alias for cross-collection search.
type LexicalStore struct {
	mu      sync.RWMutex
	root    string
	indexes map[string]bleve.Index
	closed  bool
}

// bleveDoc duplicates chunk text into three differently analyzed fields.
// Bleve has no copy_to, so duplication happens at index time.
type bleveDoc struct {
	CaseID        string    `json:"case_id"`
	EvidenceID    string    `json:"evidence_id"`
	ChunkType     string    `json:"chunk_type"`
	Text          string    `json:"text"`
	TextShingles  string    `json:"text_shingles"`
	TextCitations string    `json:"text_citations"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewLexicalStore opens (or creates) one index per collection under root.
// Empty root builds in-memory indexes for tests.
func NewLexicalStore(root string) (*LexicalStore, error) {
	s := &LexicalStore{
		root:    root,
		indexes: make(map[string]bleve.Index, len(Collections)),
	}

	for _, collection := range Collections {
		idx, err := openCollectionIndex(root, collection)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("open lexical collection %s: %w", collection, err)
		}
		s.indexes[collection] = idx
	}

	return s, nil
}

func openCollectionIndex(root, collection string) (bleve.Index, error) {
	indexMapping, err := buildIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	if root == "" {
		return bleve.NewMemOnly(indexMapping)
	}

	path := filepath.Join(root, collection+".bleve")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("lexical_index_corrupted",
			slog.String("collection", collection),
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, removeErr, validErr)
		}
		slog.Info("lexical_index_cleared",
			slog.String("collection", collection),
			slog.String("reason", "corruption detected, reindex required"))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, indexMapping)
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("lexical_index_open_failed",
			slog.String("collection", collection),
			slog.String("error", err.Error()))
		if removeErr := os.RemoveAll(path); removeErr != nil {
			return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", removeErr, err)
		}
		idx, err = bleve.New(path, indexMapping)
	}
	return idx, err
}

// validateIndexIntegrity checks a Bleve index directory before opening.
// A missing directory is fine (the index will be created).
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}

	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func (s *LexicalStore) collection(name string) (bleve.Index, error) {
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", name)
	}
	return idx, nil
}

// Index adds documents to a collection. Chunk IDs are the document keys,
// so re-indexing a chunk replaces it.
func (s *LexicalStore) Index(ctx context.Context, collection string, docs []*LexicalDoc) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical store is closed")
	}
	idx, err := s.collection(collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		bd := bleveDoc{
			CaseID:        doc.CaseID,
			EvidenceID:    doc.EvidenceID,
			ChunkType:     doc.ChunkType,
			Text:          doc.Text,
			TextShingles:  doc.Text,
			TextCitations: doc.Text,
			CreatedAt:     doc.CreatedAt,
		}
		if err := batch.Index(doc.ChunkID, bd); err != nil {
			return fmt.Errorf("index document %s: %w", doc.ChunkID, err)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("execute index batch: %w", err)
	}
	return nil
}

// Search runs a BM25 query across the requested collections. Scoring is
// a disjunction over the stemmed text field, a boosted shingle field for
// phrase proximity, and a boosted citation field for exact references.
func (s *LexicalStore) Search(ctx context.Context, req *LexicalSearchRequest) ([]*LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical store is closed")
	}
	if strings.TrimSpace(req.Query) == "" {
		return []*LexicalHit{}, nil
	}

	collections := req.Collections
	if len(collections) == 0 {
		collections = Collections
	}
	targets := make([]bleve.Index, 0, len(collections))
	for _, name := range collections {
		idx, err := s.collection(name)
		if err != nil {
			return nil, err
		}
		targets = append(targets, idx)
	}

	q := buildLexicalQuery(req)

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	sr := bleve.NewSearchRequest(q)
	sr.Size = limit
	sr.Fields = []string{"case_id", "evidence_id"}
	sr.IncludeLocations = true

	var result *bleve.SearchResult
	var err error
	if len(targets) == 1 {
		result, err = targets[0].SearchInContext(ctx, sr)
	} else {
		alias := bleve.NewIndexAlias(targets...)
		result, err = alias.SearchInContext(ctx, sr)
	}
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	hits := make([]*LexicalHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		lh := &LexicalHit{
			ChunkID:      hit.ID,
			EvidenceID:   fieldString(hit.Fields, "evidence_id"),
			CaseID:       fieldString(hit.Fields, "case_id"),
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		}
		if req.Highlight {
			lh.Highlights = highlightSpans(hit)
		}
		hits = append(hits, lh)
	}
	return hits, nil
}

func buildLexicalQuery(req *LexicalSearchRequest) query.Query {
	text := bleve.NewMatchQuery(req.Query)
	text.SetField("text")

	shingles := bleve.NewMatchQuery(req.Query)
	shingles.SetField("text_shingles")
	shingles.SetBoost(1.5)

	parts := []query.Query{text, shingles}
	for _, term := range req.CitationTerms {
		cq := bleve.NewMatchQuery(term)
		cq.SetField("text_citations")
		cq.SetBoost(2.0)
		parts = append(parts, cq)
	}
	textQuery := bleve.NewDisjunctionQuery(parts...)

	var filters []query.Query
	if len(req.CaseIDs) > 0 {
		filters = append(filters, termsFilter("case_id", req.CaseIDs))
	}
	if len(req.ChunkTypes) > 0 {
		filters = append(filters, termsFilter("chunk_type", req.ChunkTypes))
	}
	if len(filters) == 0 {
		return textQuery
	}

	boolean := bleve.NewBooleanQuery()
	boolean.AddMust(textQuery)
	for _, f := range filters {
		boolean.AddMust(f)
	}
	return boolean
}

func termsFilter(field string, values []string) query.Query {
	terms := make([]query.Query, len(values))
	for i, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms[i] = tq
	}
	return bleve.NewDisjunctionQuery(terms...)
}

func fieldString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// matchedTerms collects the analyzed terms that matched in either text
// field, deduplicated.
func matchedTerms(hit *search.DocumentMatch) []string {
	seen := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "text" && field != "text_citations" {
			continue
		}
		for term := range locations {
			seen[term] = struct{}{}
		}
	}
	terms := make([]string, 0, len(seen))
	for term := range seen {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}

// highlightSpans converts term locations on the primary text field into
// character offset spans, ordered by start.
func highlightSpans(hit *search.DocumentMatch) []HighlightSpan {
	locations, ok := hit.Locations["text"]
	if !ok {
		return nil
	}
	var spans []HighlightSpan
	for term, locs := range locations {
		for _, loc := range locs {
			spans = append(spans, HighlightSpan{
				Start: int(loc.Start),
				End:   int(loc.End),
				Term:  term,
			})
		}
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	return spans
}

// Delete removes documents from a collection by chunk ID.
func (s *LexicalStore) Delete(ctx context.Context, collection string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical store is closed")
	}
	idx, err := s.collection(collection)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("execute delete batch: %w", err)
	}
	return nil
}

// DeleteByEvidence removes every chunk of the given evidence from the
// collection, paging through matches until none remain.
func (s *LexicalStore) DeleteByEvidence(ctx context.Context, collection, evidenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("lexical store is closed")
	}
	idx, err := s.collection(collection)
	if err != nil {
		return err
	}

	tq := bleve.NewTermQuery(evidenceID)
	tq.SetField("evidence_id")

	for {
		sr := bleve.NewSearchRequest(tq)
		sr.Size = 1000
		result, err := idx.SearchInContext(ctx, sr)
		if err != nil {
			return fmt.Errorf("find evidence documents: %w", err)
		}
		if len(result.Hits) == 0 {
			return nil
		}

		batch := idx.NewBatch()
		for _, hit := range result.Hits {
			batch.Delete(hit.ID)
		}
		if err := idx.Batch(batch); err != nil {
			return fmt.Errorf("execute delete batch: %w", err)
		}
	}
}

// AllIDs returns every document ID in a collection. Used by the orphan
// reaper for consistency sweeps.
func (s *LexicalStore) AllIDs(collection string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("lexical store is closed")
	}
	idx, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	docCount, _ := idx.DocCount()
	if docCount == 0 {
		return nil, nil
	}

	sr := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	sr.Size = int(docCount)
	sr.Fields = []string{}

	result, err := idx.Search(sr)
	if err != nil {
		return nil, fmt.Errorf("list all ids: %w", err)
	}

	ids := make([]string, len(result.Hits))
	for i, hit := range result.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// DocCount returns the number of documents in a collection.
func (s *LexicalStore) DocCount(collection string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("lexical store is closed")
	}
	idx, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

// Health reports a collection's on-disk state.
func (s *LexicalStore) Health(collection string) IndexHealth {
	s.mu.RLock()
	defer s.mu.RUnlock()

	health := IndexHealth{}
	idx, err := s.collection(collection)
	if err != nil || s.closed {
		return health
	}

	health.Exists = true
	health.DocCount, _ = idx.DocCount()
	if s.root != "" {
		health.SizeMB = dirSizeMB(filepath.Join(s.root, collection+".bleve"))
	}
	return health
}

func dirSizeMB(path string) float64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return float64(size) / (1024 * 1024)
}

// Close closes all collection indexes.
func (s *LexicalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for name, idx := range s.indexes {
		if idx == nil {
			continue
		}
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close collection %s: %w", name, err)
		}
	}
	return firstErr
}

// Verify interface implementation
var _ LexicalIndex = (*LexicalStore)(nil)

package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorStore implements VectorIndex with coder/hnsw graphs, one per
// (collection, space) pair. Pure Go, no CGO.
//
// Every chunk carries a vector in all three spaces of its collection;
// search picks one space per query.
type VectorStore struct {
	mu         sync.RWMutex
	root       string
	dimensions int
	spaces     map[string]*vectorSpace
	closed     bool
}

// vectorSpace is a single HNSW graph with its string-to-key mappings.
type vectorSpace struct {
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64
}

// vectorMetadata stores ID mappings for persistence, one gob file per space.
type vectorMetadata struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
}

func spaceKey(collection, space string) string {
	return collection + "/" + space
}

func newVectorSpace() *vectorSpace {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &vectorSpace{
		graph:  graph,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// NewVectorStore creates or loads the per-collection vector spaces under
// root. Empty root keeps everything in memory (tests). Loading a space
// persisted with a different dimension fails with ErrDimensionMismatch.
func NewVectorStore(root string, dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	s := &VectorStore{
		root:       root,
		dimensions: dimensions,
		spaces:     make(map[string]*vectorSpace, len(Collections)*len(VectorSpaces)),
	}

	for _, collection := range Collections {
		for _, space := range VectorSpaces {
			vs := newVectorSpace()
			if root != "" {
				path := s.spacePath(collection, space)
				if _, err := os.Stat(path); err == nil {
					if err := loadSpace(vs, path, dimensions); err != nil {
						return nil, fmt.Errorf("load vector space %s/%s: %w", collection, space, err)
					}
				}
			}
			s.spaces[spaceKey(collection, space)] = vs
		}
	}

	return s, nil
}

func (s *VectorStore) spacePath(collection, space string) string {
	return filepath.Join(s.root, collection, space+".hnsw")
}

func (s *VectorStore) space(collection, space string) (*vectorSpace, error) {
	vs, ok := s.spaces[spaceKey(collection, space)]
	if !ok {
		return nil, fmt.Errorf("unknown vector space: %s/%s", collection, space)
	}
	return vs, nil
}

// Add inserts vectors into one space of a collection. Existing IDs are
// replaced via lazy deletion: the old graph node is orphaned rather than
// removed, because deleting nodes destabilizes coder/hnsw graphs.
func (s *VectorStore) Add(ctx context.Context, collection, space string, ids []string, vectors [][]float32) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	vs, err := s.space(collection, space)
	if err != nil {
		return err
	}

	for _, v := range vectors {
		if len(v) != s.dimensions {
			return ErrDimensionMismatch{Expected: s.dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if existingKey, exists := vs.idMap[id]; exists {
			delete(vs.keyMap, existingKey)
			delete(vs.idMap, id)
		}

		key := vs.nextKey
		vs.nextKey++

		// Normalize for cosine distance.
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		vs.graph.Add(hnsw.MakeNode(key, vec))
		vs.idMap[id] = key
		vs.keyMap[key] = id
	}

	return nil
}

// Search finds the k nearest chunks in one space of a collection.
// Over-fetches by the orphan count so lazy-deleted nodes cannot crowd
// out live results.
func (s *VectorStore) Search(ctx context.Context, collection, space string, query []float32, k int) ([]*VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	vs, err := s.space(collection, space)
	if err != nil {
		return nil, err
	}
	if len(query) != s.dimensions {
		return nil, ErrDimensionMismatch{Expected: s.dimensions, Got: len(query)}
	}

	graphLen := vs.graph.Len()
	if graphLen == 0 {
		return []*VectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	fetch := k + (graphLen - len(vs.idMap))
	if fetch > graphLen {
		fetch = graphLen
	}

	nodes := vs.graph.Search(normalized, fetch)

	results := make([]*VectorHit, 0, k)
	for _, node := range nodes {
		id, live := vs.keyMap[node.Key]
		if !live {
			continue // lazy-deleted
		}
		distance := vs.graph.Distance(normalized, node.Value)
		results = append(results, &VectorHit{
			ChunkID:  id,
			Distance: distance,
			Score:    distanceToScore(distance),
		})
		if len(results) == k {
			break
		}
	}

	return results, nil
}

// Delete removes the IDs from every space of the collection.
func (s *VectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, space := range VectorSpaces {
		vs, err := s.space(collection, space)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if key, exists := vs.idMap[id]; exists {
				delete(vs.keyMap, key)
				delete(vs.idMap, id)
			}
		}
	}

	return nil
}

// AllIDs returns the union of chunk IDs across the collection's spaces.
// Spaces normally hold identical ID sets; the union surfaces stragglers
// from interrupted writes so the reaper can sweep them.
func (s *VectorStore) AllIDs(collection string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	seen := make(map[string]struct{})
	for _, space := range VectorSpaces {
		vs, err := s.space(collection, space)
		if err != nil {
			return nil
		}
		for id := range vs.idMap {
			seen[id] = struct{}{}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether the ID is present in any space of the collection.
func (s *VectorStore) Contains(collection, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	for _, space := range VectorSpaces {
		vs, err := s.space(collection, space)
		if err != nil {
			return false
		}
		if _, exists := vs.idMap[id]; exists {
			return true
		}
	}
	return false
}

// Count returns the number of distinct chunk IDs in the collection.
func (s *VectorStore) Count(collection string) int {
	return len(s.AllIDs(collection))
}

// SpaceStats describes one space's live and orphaned node counts.
// Orphans accumulate through lazy deletion until a rebuild.
type SpaceStats struct {
	ValidIDs   int
	GraphNodes int
	Orphans    int
}

// Stats returns per-space statistics for a collection, keyed by space name.
func (s *VectorStore) Stats(collection string) map[string]SpaceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	stats := make(map[string]SpaceStats, len(VectorSpaces))
	for _, space := range VectorSpaces {
		vs, err := s.space(collection, space)
		if err != nil {
			continue
		}
		valid := len(vs.idMap)
		nodes := vs.graph.Len()
		stats[space] = SpaceStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
	}
	return stats
}

// Health reports a collection's state for the indexes health command.
func (s *VectorStore) Health(collection string) IndexHealth {
	health := IndexHealth{}

	count := s.Count(collection)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return health
	}
	if _, err := s.space(collection, VectorSpaces[0]); err != nil {
		return health
	}

	health.Exists = true
	health.DocCount = uint64(count)
	if s.root != "" {
		health.SizeMB = dirSizeMB(filepath.Join(s.root, collection))
	}
	return health
}

// Save persists every space atomically (temp file + rename). No-op for
// in-memory stores.
func (s *VectorStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}
	if s.root == "" {
		return nil
	}

	for _, collection := range Collections {
		for _, space := range VectorSpaces {
			vs, err := s.space(collection, space)
			if err != nil {
				return err
			}
			if err := saveSpace(vs, s.spacePath(collection, space), s.dimensions); err != nil {
				return fmt.Errorf("save vector space %s/%s: %w", collection, space, err)
			}
		}
	}

	return nil
}

func saveSpace(vs *vectorSpace, path string, dimensions int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	if err := vs.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	return saveSpaceMetadata(vs, path+".meta", dimensions)
}

func saveSpaceMetadata(vs *vectorSpace, path string, dimensions int) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorMetadata{
		IDMap:      vs.idMap,
		NextKey:    vs.nextKey,
		Dimensions: dimensions,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

func loadSpace(vs *vectorSpace, path string, dimensions int) error {
	meta, err := readSpaceMetadata(path + ".meta")
	if err != nil {
		return err
	}
	if meta.Dimensions != dimensions {
		return ErrDimensionMismatch{Expected: dimensions, Got: meta.Dimensions}
	}

	vs.idMap = meta.IDMap
	vs.nextKey = meta.NextKey
	vs.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range vs.idMap {
		vs.keyMap[key] = id
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close vector index file", slog.String("error", err.Error()))
		}
	}()

	// coder/hnsw Import requires an io.ByteReader.
	if err := vs.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}

	return nil
}

func readSpaceMetadata(path string) (*vectorMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close vector metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta vectorMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}
	return &meta, nil
}

// ReadVectorStoreDimensions reads the persisted dimension from an existing
// store under root. Returns 0 when no space has been persisted yet.
func ReadVectorStoreDimensions(root string) (int, error) {
	for _, collection := range Collections {
		for _, space := range VectorSpaces {
			metaPath := filepath.Join(root, collection, space+".hnsw.meta")
			if _, err := os.Stat(metaPath); os.IsNotExist(err) {
				continue
			}
			meta, err := readSpaceMetadata(metaPath)
			if err != nil {
				return 0, err
			}
			return meta.Dimensions, nil
		}
	}
	return 0, nil
}

// Close releases the graphs. Callers save first if persistence matters.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.spaces = nil

	return nil
}

// Verify interface implementation
var _ VectorIndex = (*VectorStore)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance (0 to 2) to similarity in [0,1].
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Vector Store Tests
// ============================================================================

const testDims = 4

func newMemVectors(t *testing.T) *VectorStore {
	t.Helper()
	s, err := NewVectorStore("", testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func vec(vals ...float32) []float32 {
	v := make([]float32, testDims)
	copy(v, vals)
	return v
}

func TestVectorStore_AddAndSearch(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	ids := []string{"a", "b", "c"}
	vectors := [][]float32{vec(1, 0, 0), vec(0, 1, 0), vec(0, 0, 1)}
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", ids, vectors))

	hits, err := s.Search(ctx, CollectionDocuments, "section", vec(0.9, 0.1, 0), 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	// An exact match scores ~1.0.
	exact, err := s.Search(ctx, CollectionDocuments, "section", vec(1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.InDelta(t, 1.0, float64(exact[0].Score), 1e-5)
}

func TestVectorStore_Search_EmptySpace(t *testing.T) {
	s := newMemVectors(t)

	hits, err := s.Search(context.Background(), CollectionDocuments, "summary", vec(1), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorStore_UnknownSpace(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	err := s.Add(ctx, CollectionDocuments, "sentence", []string{"a"}, [][]float32{vec(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown vector space")

	_, err = s.Search(ctx, "emails", "section", vec(1), 1)
	require.Error(t, err)
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	var dimErr ErrDimensionMismatch

	err := s.Add(ctx, CollectionDocuments, "section", []string{"a"}, [][]float32{{1, 0}})
	require.Error(t, err)
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, testDims, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	_, err = s.Search(ctx, CollectionDocuments, "section", []float32{1, 0}, 1)
	require.Error(t, err)
	assert.ErrorAs(t, err, &dimErr)
}

func TestVectorStore_ReAdd_ReplacesVector(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"a"}, [][]float32{vec(1, 0, 0)}))
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"a"}, [][]float32{vec(0, 1, 0)}))

	assert.Equal(t, 1, s.Count(CollectionDocuments))

	// The replaced vector wins; the orphaned node never surfaces.
	hits, err := s.Search(ctx, CollectionDocuments, "section", vec(0, 1, 0), 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-5)

	stats := s.Stats(CollectionDocuments)["section"]
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestVectorStore_Delete_RemovesFromAllSpaces(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	for _, space := range VectorSpaces {
		require.NoError(t, s.Add(ctx, CollectionDocuments, space, []string{"a", "b"},
			[][]float32{vec(1, 0, 0), vec(0, 1, 0)}))
	}
	require.Equal(t, 2, s.Count(CollectionDocuments))

	require.NoError(t, s.Delete(ctx, CollectionDocuments, []string{"a"}))

	assert.False(t, s.Contains(CollectionDocuments, "a"))
	assert.True(t, s.Contains(CollectionDocuments, "b"))
	assert.Equal(t, 1, s.Count(CollectionDocuments))

	for _, space := range VectorSpaces {
		hits, err := s.Search(ctx, CollectionDocuments, space, vec(1, 0, 0), 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "b", hits[0].ChunkID)
	}
}

func TestVectorStore_Search_OverfetchesPastTombstones(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	vectors := [][]float32{
		vec(1, 0, 0), vec(0.9, 0.1, 0), vec(0.8, 0.2, 0),
		vec(0, 1, 0), vec(0, 0, 1),
	}
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", ids, vectors))
	require.NoError(t, s.Delete(ctx, CollectionDocuments, []string{"a", "b", "c"}))

	// The three nearest neighbors are tombstones; the live ones still
	// come back.
	hits, err := s.Search(ctx, CollectionDocuments, "section", vec(1, 0, 0), 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, []string{"d", "e"}, h.ChunkID)
	}
}

func TestVectorStore_AllIDs_UnionAcrossSpaces(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, CollectionDocuments, "summary", []string{"a"}, [][]float32{vec(1)}))
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"a", "straggler"},
		[][]float32{vec(1), vec(0, 1)}))

	ids := s.AllIDs(CollectionDocuments)
	assert.ElementsMatch(t, []string{"a", "straggler"}, ids)
}

func TestVectorStore_CollectionsAreIsolated(t *testing.T) {
	s := newMemVectors(t)
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"doc-chunk"}, [][]float32{vec(1)}))
	require.NoError(t, s.Add(ctx, CollectionTranscripts, "section", []string{"tr-chunk"}, [][]float32{vec(1)}))

	hits, err := s.Search(ctx, CollectionTranscripts, "section", vec(1), 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "tr-chunk", hits[0].ChunkID)

	assert.False(t, s.Contains(CollectionTranscripts, "doc-chunk"))
}

func TestVectorStore_SaveAndReload(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := NewVectorStore(root, testDims)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"a", "b"},
		[][]float32{vec(1, 0, 0), vec(0, 1, 0)}))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	reopened, err := NewVectorStore(root, testDims)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, 2, reopened.Count(CollectionDocuments))

	hits, err := reopened.Search(ctx, CollectionDocuments, "section", vec(1, 0, 0), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)

	health := reopened.Health(CollectionDocuments)
	assert.True(t, health.Exists)
	assert.Equal(t, uint64(2), health.DocCount)
	assert.Greater(t, health.SizeMB, 0.0)
}

func TestVectorStore_ReloadWithDifferentDimensions(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := NewVectorStore(root, testDims)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, CollectionDocuments, "section", []string{"a"}, [][]float32{vec(1)}))
	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	dims, err := ReadVectorStoreDimensions(root)
	require.NoError(t, err)
	assert.Equal(t, testDims, dims)

	_, err = NewVectorStore(root, testDims*2)
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	assert.ErrorAs(t, err, &dimErr)
}

func TestReadVectorStoreDimensions_FreshRoot(t *testing.T) {
	dims, err := ReadVectorStoreDimensions(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

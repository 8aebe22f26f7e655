package indexing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/store"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, string, string) {
	t.Helper()
	root := t.TempDir()
	lexicalRoot := filepath.Join(root, "lexical")
	vectorRoot := filepath.Join(root, "vector")
	return NewLifecycle(lexicalRoot, vectorRoot, testDims, nil), lexicalRoot, vectorRoot
}

func TestLifecycle_CreateAllIsIdempotent(t *testing.T) {
	l, _, _ := newTestLifecycle(t)
	ctx := context.Background()

	statuses, err := l.CreateAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, statuses, len(store.Collections))
	for collection, status := range statuses {
		assert.Equal(t, StatusCreated, status, collection)
	}

	statuses, err = l.CreateAll(ctx, false)
	require.NoError(t, err)
	for collection, status := range statuses {
		assert.Equal(t, StatusExisted, status, collection)
	}

	health, err := l.Health(ctx)
	require.NoError(t, err)
	for collection, h := range health {
		assert.True(t, h.Lexical.Exists, collection)
		assert.True(t, h.Vector.Exists, collection)
		assert.Zero(t, h.Lexical.DocCount, collection)
	}
}

func TestLifecycle_RecreateDropsData(t *testing.T) {
	l, lexicalRoot, vectorRoot := newTestLifecycle(t)
	ctx := context.Background()

	_, err := l.CreateAll(ctx, false)
	require.NoError(t, err)

	// Put a document into one collection.
	lexical, err := store.NewLexicalStore(lexicalRoot)
	require.NoError(t, err)
	require.NoError(t, lexical.Index(ctx, store.CollectionDocuments, []*store.LexicalDoc{
		{ChunkID: "c1", CaseID: "case-1", EvidenceID: "ev-1", ChunkType: "section", Text: "the deposit was wired"},
	}))
	require.NoError(t, lexical.Close())

	vector, err := store.NewVectorStore(vectorRoot, testDims)
	require.NoError(t, err)
	vec := make([]float32, testDims)
	vec[0] = 1
	require.NoError(t, vector.Add(ctx, store.CollectionDocuments, "section", []string{"c1"}, [][]float32{vec}))
	require.NoError(t, vector.Save())
	require.NoError(t, vector.Close())

	statuses, err := l.CreateAll(ctx, true)
	require.NoError(t, err)
	for collection, status := range statuses {
		assert.Equal(t, StatusRecreated, status, collection)
	}

	health, err := l.Health(ctx)
	require.NoError(t, err)
	assert.Zero(t, health[store.CollectionDocuments].Lexical.DocCount)
	assert.Zero(t, health[store.CollectionDocuments].Vector.DocCount)
}

func TestLifecycle_HealthOnEmptyDirLeavesNoTrace(t *testing.T) {
	l, lexicalRoot, _ := newTestLifecycle(t)

	health, err := l.Health(context.Background())
	require.NoError(t, err)
	for collection, h := range health {
		assert.False(t, h.Lexical.Exists, collection)
		assert.False(t, h.Vector.Exists, collection)
	}

	// The probe must not materialize indexes as a side effect.
	for _, collection := range store.Collections {
		_, err := os.Stat(filepath.Join(lexicalRoot, collection+".bleve"))
		assert.True(t, os.IsNotExist(err), collection)
	}
}

package integration

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/indexing"
	"github.com/caseweave/caseweave/internal/search"
	"github.com/caseweave/caseweave/internal/store"
)

const testDims = 64

// env wires real stores, the pipeline, and the search engine against a
// temp directory, the same way the serve command assembles them.
type env struct {
	metadata *store.SQLiteStore
	lexical  *store.LexicalStore
	vector   *store.VectorStore
	embedder embed.Embedder
	engine   *search.Engine
	pipeline *indexing.Pipeline
	logger   *slog.Logger

	evidenceDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	metadata, err := store.NewSQLiteStore(filepath.Join(root, "caseweave.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	lexical, err := store.NewLexicalStore(filepath.Join(root, "lexical"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })

	embedder := embed.NewStaticEmbedder(testDims)

	vector, err := store.NewVectorStore(filepath.Join(root, "vectors"), embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })

	writer, err := indexing.NewDualWriter(vector, lexical, metadata, logger)
	require.NoError(t, err)

	pipeline, err := indexing.NewPipeline(indexing.PipelineDeps{
		Metadata: metadata,
		Writer:   writer,
		Embedder: embedder,
		Logger:   logger,
	})
	require.NoError(t, err)

	engine, err := search.NewEngine(lexical, vector, embedder, metadata,
		search.WithLogger(logger))
	require.NoError(t, err)

	return &env{
		metadata:    metadata,
		lexical:     lexical,
		vector:      vector,
		embedder:    embedder,
		engine:      engine,
		pipeline:    pipeline,
		logger:      logger,
		evidenceDir: filepath.Join(root, "evidence"),
	}
}

// writeEvidence drops an evidence file into the env's evidence directory.
func (e *env) writeEvidence(t *testing.T, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(e.evidenceDir, 0o755))
	path := filepath.Join(e.evidenceDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// ingest runs the pipeline over the evidence directory for the given case.
func (e *env) ingest(t *testing.T, caseNumber string) *indexing.IngestReport {
	t.Helper()
	report, err := e.pipeline.Ingest(context.Background(), &indexing.IngestRequest{
		CaseNumber: caseNumber,
		Client:     "Meridian Holdings",
		MatterType: "contract",
		Paths:      []string{e.evidenceDir},
	})
	require.NoError(t, err)
	return report
}

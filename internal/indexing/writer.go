// Package indexing owns write-side index management: the dual-store
// writer that keeps the vector and lexical stores consistent, the index
// lifecycle manager, the orphan reaper, and the checkpointed ingestion
// pipeline.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/store"
)

// WriteRequest is one evidence item's chunks plus their embeddings.
// Embeddings cover every chunk in all three spaces; the writer routes
// each chunk's vector to the space its chunk type maps to.
type WriteRequest struct {
	Class      domain.EvidenceClass
	CaseID     string
	EvidenceID string
	Chunks     []*domain.Chunk
	Embeddings *domain.EmbeddingSet
}

// WriteResult reports the outcome of a dual-store write.
type WriteResult struct {
	Success          bool
	DocumentsWritten int
	Errors           []string
}

// DualWriter writes chunks to the vector store (primary) and the lexical
// store (secondary) with a compensating delete when the secondary write
// fails, so a partial write never leaves the vector store holding
// documents the lexical store does not.
type DualWriter struct {
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	metadata store.MetadataStore
	logger   *slog.Logger

	// Serializes writes per process. Writes for the same evidence from
	// two goroutines would interleave delete/add phases.
	mu sync.Mutex
}

// NewDualWriter returns a writer over the three stores.
func NewDualWriter(vector store.VectorIndex, lexical store.LexicalIndex, metadata store.MetadataStore, logger *slog.Logger) (*DualWriter, error) {
	if vector == nil || lexical == nil || metadata == nil {
		return nil, errors.Validation("dual writer requires vector, lexical and metadata stores")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DualWriter{vector: vector, lexical: lexical, metadata: metadata, logger: logger}, nil
}

// Write indexes the request's chunks in both stores. Re-writing the same
// evidence overwrites: prior chunks are deleted from both stores before
// the new ones are added, and chunk IDs are deterministic, so replays
// converge on the same state.
func (w *DualWriter) Write(ctx context.Context, req *WriteRequest) (*WriteResult, error) {
	if err := w.validate(req); err != nil {
		return &WriteResult{Errors: []string{err.Error()}}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	collection := store.CollectionFor(req.Class)
	start := time.Now()

	// Drop any prior generation of this evidence from both stores.
	if err := w.deleteEvidence(ctx, collection, req.EvidenceID); err != nil {
		return &WriteResult{Errors: []string{err.Error()}}, err
	}

	// Primary: vector store, one add per named space.
	written, err := w.writeVectors(ctx, collection, req)
	if err != nil {
		wrapped := errors.New(errors.ErrCodeBackendUnavailable, "vector write failed", err)
		return &WriteResult{Errors: []string{wrapped.Error()}}, wrapped
	}

	// Secondary: lexical store. On failure, compensate by removing the
	// vectors written above so the stores stay consistent.
	if err := w.lexical.Index(ctx, collection, lexicalDocs(req)); err != nil {
		w.logger.Warn("dual_write_rollback",
			"collection", collection,
			"evidence_id", req.EvidenceID,
			"chunks", len(req.Chunks),
			"cause", err.Error(),
		)
		if compErr := w.vector.Delete(ctx, collection, chunkIDs(req.Chunks)); compErr != nil {
			consistency := errors.Consistency(
				fmt.Sprintf("lexical write failed and vector compensation failed (%v)", compErr), err)
			return &WriteResult{Errors: []string{err.Error(), compErr.Error()}}, consistency
		}
		wrapped := errors.New(errors.ErrCodeBackendUnavailable, "lexical write failed, vector write rolled back", err)
		return &WriteResult{Errors: []string{wrapped.Error()}}, wrapped
	}

	// Registry entries carry the authoritative text for enrichment.
	if err := w.metadata.SaveChunks(ctx, req.Chunks); err != nil {
		wrapped := errors.New(errors.ErrCodeStoreIO, "chunk registry write failed", err)
		return &WriteResult{Success: true, DocumentsWritten: written, Errors: []string{wrapped.Error()}}, wrapped
	}

	w.logger.Debug("dual_write_complete",
		"collection", collection,
		"evidence_id", req.EvidenceID,
		"chunks", len(req.Chunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &WriteResult{Success: true, DocumentsWritten: written}, nil
}

// Delete removes all of an evidence item's chunks from both stores and
// the registry. Missing entries are not an error.
func (w *DualWriter) Delete(ctx context.Context, class domain.EvidenceClass, evidenceID string) error {
	collection := store.CollectionFor(class)
	if collection == "" {
		return errors.Validationf("unknown evidence class: %s", class)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.deleteEvidence(ctx, collection, evidenceID); err != nil {
		return err
	}
	if err := w.metadata.DeleteChunksByEvidence(ctx, evidenceID); err != nil {
		return errors.New(errors.ErrCodeStoreIO, "chunk registry delete failed", err)
	}
	return nil
}

func (w *DualWriter) validate(req *WriteRequest) error {
	if req == nil {
		return errors.Validation("write request is required")
	}
	if store.CollectionFor(req.Class) == "" {
		return errors.Validationf("unknown evidence class: %s", req.Class)
	}
	if req.CaseID == "" {
		return errors.Validation("case_id is required")
	}
	if req.EvidenceID == "" {
		return errors.Validation("evidence_id is required")
	}
	if len(req.Chunks) == 0 {
		return errors.Validation("at least one chunk is required")
	}
	if req.Embeddings == nil {
		return errors.Validation("embeddings are required")
	}
	if err := req.Embeddings.Validate(len(req.Chunks)); err != nil {
		return err
	}
	for i, c := range req.Chunks {
		if c.EvidenceID != req.EvidenceID {
			return errors.Validationf("chunk %d belongs to evidence %s, not %s", i, c.EvidenceID, req.EvidenceID)
		}
	}
	return nil
}

// deleteEvidence removes prior chunks for the evidence from both stores.
// Vector deletes are keyed by the registry's recorded chunk IDs; the
// lexical store deletes by its own evidence_id field.
func (w *DualWriter) deleteEvidence(ctx context.Context, collection, evidenceID string) error {
	priorIDs, err := w.metadata.ListChunkIDsByEvidence(ctx, evidenceID)
	if err != nil {
		return errors.New(errors.ErrCodeStoreIO, "list prior chunks failed", err)
	}
	if len(priorIDs) > 0 {
		if err := w.vector.Delete(ctx, collection, priorIDs); err != nil {
			return errors.New(errors.ErrCodeBackendUnavailable, "vector delete failed", err)
		}
	}
	if err := w.lexical.DeleteByEvidence(ctx, collection, evidenceID); err != nil {
		return errors.New(errors.ErrCodeBackendUnavailable, "lexical delete failed", err)
	}
	return nil
}

// writeVectors adds every chunk to every named space, one batched add per
// space. A query searches a single space, so each chunk must be present
// in all of them at that space's embedding granularity. Returns the number
// of chunk documents written.
func (w *DualWriter) writeVectors(ctx context.Context, collection string, req *WriteRequest) (int, error) {
	ids := chunkIDs(req.Chunks)
	for _, space := range store.VectorSpaces {
		vectors := make([][]float32, len(req.Chunks))
		for i := range req.Chunks {
			vectors[i] = req.Embeddings.VectorFor(space, i)
		}
		if err := w.vector.Add(ctx, collection, space, ids, vectors); err != nil {
			return 0, fmt.Errorf("add to %s/%s: %w", collection, space, err)
		}
	}
	return len(req.Chunks), nil
}

func lexicalDocs(req *WriteRequest) []*store.LexicalDoc {
	docs := make([]*store.LexicalDoc, len(req.Chunks))
	for i, c := range req.Chunks {
		docs[i] = &store.LexicalDoc{
			ChunkID:    c.ID,
			CaseID:     c.CaseID,
			EvidenceID: c.EvidenceID,
			ChunkType:  string(c.ChunkType),
			Text:       c.Text,
			CreatedAt:  c.CreatedAt,
		}
	}
	return docs
}

func chunkIDs(chunks []*domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

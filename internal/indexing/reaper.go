package indexing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/caseweave/caseweave/internal/store"
)

const (
	// DefaultReapBatch is how many chunk IDs are checked against the
	// system of record per round trip.
	DefaultReapBatch = 128

	// DefaultReapInterval is the scheduled sweep cadence.
	DefaultReapInterval = time.Hour
)

// SweepReport summarizes one reaper pass.
type SweepReport struct {
	// Scanned is the number of chunk IDs examined across collections.
	Scanned int
	// Orphans is the number of chunks whose evidence no longer exists.
	Orphans int
	// Deleted is the number of orphans actually removed from the stores.
	Deleted int
	// PerCollection maps collection name to orphans found there.
	PerCollection map[string]int
	// Skipped is true when the sweep yielded to a running ingest.
	Skipped bool
	Took    time.Duration
}

// Reaper removes index entries whose evidence has left the system of
// record: chunks from deleted evidence, and strays from interrupted
// dual writes. It sweeps the vector store (the write primary) and clears
// matches from the lexical store and the chunk registry in the same pass.
type Reaper struct {
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	metadata store.MetadataStore
	logger   *slog.Logger

	batchSize int
	interval  time.Duration
	// lock is the ingest file lock; a held lock means chunks may be
	// mid-write and must not be judged orphaned.
	lock *flock.Flock

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithReapBatch sets the per-round-trip batch size.
func WithReapBatch(n int) ReaperOption {
	return func(r *Reaper) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithReapInterval sets the scheduled sweep cadence.
func WithReapInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithIngestLock makes sweeps yield while an ingest holds the lock.
func WithIngestLock(lock *flock.Flock) ReaperOption {
	return func(r *Reaper) { r.lock = lock }
}

// NewReaper returns a reaper over the three stores.
func NewReaper(vector store.VectorIndex, lexical store.LexicalIndex, metadata store.MetadataStore, logger *slog.Logger, opts ...ReaperOption) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reaper{
		vector:    vector,
		lexical:   lexical,
		metadata:  metadata,
		logger:    logger,
		batchSize: DefaultReapBatch,
		interval:  DefaultReapInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sweep runs one full pass over all collections. Deletions are
// best-effort: a failed delete is logged and counted but does not abort
// the sweep; the next pass retries it.
func (r *Reaper) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{PerCollection: make(map[string]int)}

	if r.lock != nil {
		held, err := r.lock.TryLock()
		if err != nil || !held {
			r.logger.Debug("reap_skipped", "reason", "ingest lock held")
			report.Skipped = true
			report.Took = time.Since(start)
			return report, nil
		}
		defer func() { _ = r.lock.Unlock() }()
	}

	for _, collection := range store.Collections {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids := r.vector.AllIDs(collection)
		report.Scanned += len(ids)

		for off := 0; off < len(ids); off += r.batchSize {
			end := off + r.batchSize
			if end > len(ids) {
				end = len(ids)
			}
			orphans, err := r.findOrphans(ctx, ids[off:end])
			if err != nil {
				return report, err
			}
			if len(orphans) == 0 {
				continue
			}
			report.Orphans += len(orphans)
			report.PerCollection[collection] += len(orphans)
			report.Deleted += r.deleteOrphans(ctx, collection, orphans)
		}
	}

	report.Took = time.Since(start)
	if report.Orphans > 0 {
		r.logger.Info("reap_complete",
			"scanned", report.Scanned,
			"orphans", report.Orphans,
			"deleted", report.Deleted,
			"duration_ms", report.Took.Milliseconds(),
		)
	} else {
		r.logger.Debug("reap_complete", "scanned", report.Scanned, "orphans", 0)
	}
	return report, nil
}

// findOrphans returns the chunk IDs in the batch whose evidence is gone.
// A chunk with no registry entry at all is also an orphan: nothing can
// enrich it, so nothing should retrieve it.
func (r *Reaper) findOrphans(ctx context.Context, chunkIDs []string) ([]string, error) {
	evidenceByChunk, err := r.metadata.ChunkEvidenceIDs(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	evidenceIDs := make([]string, 0, len(evidenceByChunk))
	seen := make(map[string]bool, len(evidenceByChunk))
	for _, evID := range evidenceByChunk {
		if !seen[evID] {
			seen[evID] = true
			evidenceIDs = append(evidenceIDs, evID)
		}
	}
	exists, err := r.metadata.EvidenceExists(ctx, evidenceIDs)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, chunkID := range chunkIDs {
		evID, registered := evidenceByChunk[chunkID]
		if !registered || !exists[evID] {
			orphans = append(orphans, chunkID)
		}
	}
	return orphans, nil
}

// deleteOrphans removes orphans from both stores and the registry,
// returning how many were fully deleted.
func (r *Reaper) deleteOrphans(ctx context.Context, collection string, orphans []string) int {
	if err := r.vector.Delete(ctx, collection, orphans); err != nil {
		r.logger.Warn("reap_vector_delete_failed", "collection", collection, "count", len(orphans), "error", err.Error())
		return 0
	}
	if err := r.lexical.Delete(ctx, collection, orphans); err != nil {
		r.logger.Warn("reap_lexical_delete_failed", "collection", collection, "count", len(orphans), "error", err.Error())
	}
	if err := r.metadata.DeleteChunks(ctx, orphans); err != nil {
		r.logger.Warn("reap_registry_delete_failed", "collection", collection, "count", len(orphans), "error", err.Error())
	}
	return len(orphans)
}

// Start launches the scheduled sweep loop. Stop with Stop; starting an
// already running reaper is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := r.Sweep(ctx); err != nil {
					r.logger.Warn("reap_failed", "error", err.Error())
				}
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}(r.stopCh, r.doneCh)

	r.logger.Info("reaper_started", "interval", r.interval.String(), "batch", r.batchSize)
}

// Stop halts the sweep loop and waits for the in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.stopCh, r.doneCh = nil, nil
	r.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

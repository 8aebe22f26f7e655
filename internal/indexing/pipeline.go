package indexing

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/caseweave/caseweave/internal/chunk"
	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/governor"
	"github.com/caseweave/caseweave/internal/store"
)

// DefaultIngestWorkers is the per-ingest file parallelism.
const DefaultIngestWorkers = 4

// lockRetryDelay is how often a blocked ingest re-checks the file lock.
const lockRetryDelay = 250 * time.Millisecond

// PipelineDeps collects everything the ingestion pipeline needs.
type PipelineDeps struct {
	Metadata store.MetadataStore
	Writer   *DualWriter
	Embedder embed.Embedder
	// Governor throttles embedding; nil runs unthrottled.
	Governor *governor.Governor
	Logger   *slog.Logger
	// LockPath is the ingest lock file; empty disables locking (tests).
	LockPath string
	Workers  int

	// OnDiscovered and OnFileDone feed progress UIs. OnFileDone is
	// called from worker goroutines and must be safe for concurrent
	// use. Both may be nil.
	OnDiscovered func(total int)
	OnFileDone   func(res FileResult, done, total int)
}

func (d *PipelineDeps) validate() error {
	if d.Metadata == nil {
		return errors.Validation("pipeline requires a metadata store")
	}
	if d.Writer == nil {
		return errors.Validation("pipeline requires a dual writer")
	}
	if d.Embedder == nil {
		return errors.Validation("pipeline requires an embedder")
	}
	return nil
}

// IngestRequest names the case and the files to ingest. The case is
// looked up by ID or by number; an unknown number bootstraps a new case
// from the client and matter fields.
type IngestRequest struct {
	CaseID     string
	CaseNumber string
	Client     string
	MatterType string

	// Paths are evidence files or directories to walk.
	Paths []string

	// Force re-ingests files whose size is unchanged since the last run.
	Force bool
}

// FileResult is the outcome for a single evidence file.
type FileResult struct {
	Path       string
	EvidenceID string
	Class      domain.EvidenceClass
	Chunks     int
	Skipped    bool
	SkipReason string
	Err        string
}

// IngestReport summarizes one pipeline run.
type IngestReport struct {
	CaseID  string
	Files   int
	Indexed int
	Skipped int
	Failed  int
	Chunks  int
	Took    time.Duration
	Results []FileResult
}

// Pipeline turns evidence files into indexed chunks: classify, chunk,
// embed, dual-write, record. Runs are checkpointed in the system of
// record and serialized per data directory by a file lock, and they are
// idempotent: re-ingesting a file overwrites its prior chunks.
type Pipeline struct {
	deps PipelineDeps
}

// NewPipeline validates dependencies and returns a pipeline.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Workers <= 0 {
		deps.Workers = DefaultIngestWorkers
	}
	return &Pipeline{deps: deps}, nil
}

// Ingest runs the pipeline over the request's files.
func (p *Pipeline) Ingest(ctx context.Context, req *IngestRequest) (*IngestReport, error) {
	start := time.Now()
	log := p.deps.Logger

	unlock, err := p.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := p.checkDimensions(ctx); err != nil {
		return nil, err
	}

	cs, err := p.resolveCase(ctx, req)
	if err != nil {
		return nil, err
	}

	files, err := discoverFiles(req.Paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Validation("no ingestable files found (supported: .txt .md .srt .vtt .eml .mbox .chat)")
	}

	if p.deps.OnDiscovered != nil {
		p.deps.OnDiscovered(len(files))
	}

	if prior, _ := p.deps.Metadata.GetState(ctx, store.StateKeyIngestStage); prior != "" {
		written, _ := p.deps.Metadata.GetState(ctx, store.StateKeyIngestWritten)
		log.Info("ingest_resuming", "prior_stage", prior, "prior_written", written)
	}
	p.checkpoint(ctx, "indexing", "", len(files), 0)

	results := make([]FileResult, len(files))
	var mu sync.Mutex
	var written, processed int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.deps.Workers)
	for i, path := range files {
		g.Go(func() error {
			res := p.ingestFile(gctx, cs, path, req.Force)

			mu.Lock()
			results[i] = res
			if !res.Skipped && res.Err == "" {
				written++
			}
			processed++
			done := processed
			p.checkpoint(gctx, "indexing", res.EvidenceID, len(files), written)
			mu.Unlock()

			if p.deps.OnFileDone != nil {
				p.deps.OnFileDone(res, done, len(files))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &IngestReport{CaseID: cs.ID, Files: len(files), Took: time.Since(start), Results: results}
	for _, res := range results {
		switch {
		case res.Err != "":
			report.Failed++
		case res.Skipped:
			report.Skipped++
		default:
			report.Indexed++
			report.Chunks += res.Chunks
		}
	}

	_ = p.deps.Metadata.ClearState(ctx,
		store.StateKeyIngestStage,
		store.StateKeyIngestEvidence,
		store.StateKeyIngestTotal,
		store.StateKeyIngestWritten,
		store.StateKeyIngestTimestamp,
	)

	log.Info("ingest_complete",
		"case_id", cs.ID,
		"files", report.Files,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"chunks", report.Chunks,
		"duration_ms", report.Took.Milliseconds(),
	)
	return report, nil
}

// acquireLock serializes ingestion per data directory. The lock is
// polled so cancellation is honored while waiting.
func (p *Pipeline) acquireLock(ctx context.Context) (func(), error) {
	if p.deps.LockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(p.deps.LockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(p.deps.LockPath)
	held, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.ResourceExhausted("timed out waiting for the ingest lock", err)
		}
		return nil, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !held {
		return nil, errors.ResourceExhausted("another ingest holds the lock", nil)
	}
	return func() { _ = lock.Unlock() }, nil
}

// checkDimensions guards against silently mixing embedding widths in one
// data directory. The first ingest records the width; later ingests must
// match or recreate the indexes.
func (p *Pipeline) checkDimensions(ctx context.Context) error {
	want := p.deps.Embedder.Dimensions()
	recorded, err := p.deps.Metadata.GetState(ctx, store.StateKeyEmbeddingDimension)
	if err != nil {
		return err
	}
	if recorded == "" {
		return p.deps.Metadata.SetState(ctx, store.StateKeyEmbeddingDimension, strconv.Itoa(want))
	}
	got, err := strconv.Atoi(recorded)
	if err != nil || got != want {
		return errors.FatalBackend(
			fmt.Sprintf("indexes were built with %s-dimensional embeddings but the embedder produces %d; run 'caseweave indexes create --recreate'", recorded, want),
			store.ErrDimensionMismatch{Expected: got, Got: want})
	}
	return nil
}

func (p *Pipeline) resolveCase(ctx context.Context, req *IngestRequest) (*domain.Case, error) {
	if req.CaseID != "" {
		return p.deps.Metadata.GetCase(ctx, req.CaseID)
	}
	if req.CaseNumber == "" {
		return nil, errors.Validation("a case id or case number is required")
	}

	cs, err := p.deps.Metadata.GetCaseByNumber(ctx, req.CaseNumber)
	if err == nil {
		return cs, nil
	}
	if !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	cs, err = domain.NewCase(req.CaseNumber, req.Client, req.MatterType, "")
	if err != nil {
		return nil, err
	}
	if err := p.deps.Metadata.SaveCase(ctx, cs); err != nil {
		return nil, err
	}
	p.deps.Logger.Info("case_created", "case_id", cs.ID, "case_number", cs.CaseNumber)
	return cs, nil
}

// ingestFile runs one file through chunk → embed → dual write. Failures
// are recorded on the result and the evidence row, never returned, so one
// bad file does not abort the batch.
func (p *Pipeline) ingestFile(ctx context.Context, cs *domain.Case, path string, force bool) FileResult {
	res := FileResult{Path: path}

	class := classifyFile(path)
	if class == "" {
		res.Skipped = true
		res.SkipReason = "unsupported file type"
		return res
	}
	res.Class = class

	info, err := os.Stat(path)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	ev, existing, err := p.findOrCreateEvidence(ctx, cs.ID, class, filepath.Base(path), info.Size())
	if err != nil {
		res.Err = err.Error()
		return res
	}
	res.EvidenceID = ev.ID
	if existing && !force && ev.Status == domain.EvidenceCompleted && ev.Size == info.Size() {
		res.Skipped = true
		res.SkipReason = "already indexed (size unchanged)"
		return res
	}

	content, err := os.ReadFile(path)
	if err != nil {
		res.Err = err.Error()
		return res
	}

	ev.Size = info.Size()
	ev.Status = domain.EvidenceProcessing
	ev.UpdatedAt = time.Now().UTC()
	if err := p.deps.Metadata.SaveEvidence(ctx, ev); err != nil {
		res.Err = err.Error()
		return res
	}

	chunks, err := chunk.ForClass(class).Chunk(ctx, &chunk.Input{
		CaseID:     cs.ID,
		EvidenceID: ev.ID,
		Filename:   ev.Filename,
		Content:    content,
		Segments:   ev.Segments,
	})
	if err != nil {
		return p.failEvidence(ctx, ev, res, err)
	}
	if len(chunks) == 0 {
		return p.failEvidence(ctx, ev, res, errors.Validation("no extractable text"))
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return p.failEvidence(ctx, ev, res, err)
	}

	if _, err := p.deps.Writer.Write(ctx, &WriteRequest{
		Class:      class,
		CaseID:     cs.ID,
		EvidenceID: ev.ID,
		Chunks:     chunks,
		Embeddings: embeddings,
	}); err != nil {
		return p.failEvidence(ctx, ev, res, err)
	}

	// The synthesized summary chunk leads the slice; keep it on the row
	// for listings.
	ev.Summary = chunks[0].Text
	ev.Status = domain.EvidenceCompleted
	ev.UpdatedAt = time.Now().UTC()
	if err := p.deps.Metadata.SaveEvidence(ctx, ev); err != nil {
		res.Err = err.Error()
		return res
	}

	res.Chunks = len(chunks)
	p.deps.Logger.Debug("evidence_indexed",
		"evidence_id", ev.ID, "class", string(class), "chunks", len(chunks))
	return res
}

func (p *Pipeline) failEvidence(ctx context.Context, ev *domain.Evidence, res FileResult, cause error) FileResult {
	res.Err = cause.Error()
	if err := p.deps.Metadata.UpdateEvidenceStatus(ctx, ev.ID, domain.EvidenceFailed); err != nil {
		p.deps.Logger.Warn("evidence_status_update_failed", "evidence_id", ev.ID, "error", err.Error())
	}
	return res
}

// findOrCreateEvidence reuses the evidence row for a (case, class,
// filename) triple so re-ingesting a file overwrites rather than
// duplicates. Returns whether the row already existed.
func (p *Pipeline) findOrCreateEvidence(ctx context.Context, caseID string, class domain.EvidenceClass, filename string, size int64) (*domain.Evidence, bool, error) {
	existing, err := p.deps.Metadata.ListEvidenceByCase(ctx, caseID, class)
	if err != nil {
		return nil, false, err
	}
	for _, ev := range existing {
		if ev.Filename == filename {
			return ev, true, nil
		}
	}
	ev, err := domain.NewEvidence(caseID, class, filename, size)
	if err != nil {
		return nil, false, err
	}
	return ev, false, nil
}

// embedChunks builds the three-space embedding set. The section space
// embeds each chunk's full text; the summary space embeds the evidence
// summary so broad queries score chunks by their evidence's overall
// relevance; the microblock space embeds the chunk's leading window for
// precise local matches.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*domain.Chunk) (*domain.EmbeddingSet, error) {
	if p.deps.Governor != nil {
		lease, err := p.deps.Governor.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer lease.Release()
	}

	summaryText := chunks[0].Text
	sectionTexts := make([]string, len(chunks))
	summaryTexts := make([]string, len(chunks))
	microTexts := make([]string, len(chunks))
	for i, c := range chunks {
		sectionTexts[i] = c.Text
		summaryTexts[i] = summaryText
		microTexts[i] = leadingWindow(c.Text, chunk.DefaultMaxMicroblockTokens*chunk.TokensPerChar)
	}

	set := &domain.EmbeddingSet{}
	var err error
	if set.Section, err = p.embedBatched(ctx, sectionTexts); err != nil {
		return nil, err
	}
	if set.Summary, err = p.embedBatched(ctx, summaryTexts); err != nil {
		return nil, err
	}
	if set.Microblock, err = p.embedBatched(ctx, microTexts); err != nil {
		return nil, err
	}
	return set, nil
}

// embedBatched splits texts into embedder-sized batches.
func (p *Pipeline) embedBatched(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for off := 0; off < len(texts); off += embed.MaxBatchSize {
		end := off + embed.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts[off:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (p *Pipeline) checkpoint(ctx context.Context, stage, evidenceID string, total, written int) {
	m := p.deps.Metadata
	_ = m.SetState(ctx, store.StateKeyIngestStage, stage)
	if evidenceID != "" {
		_ = m.SetState(ctx, store.StateKeyIngestEvidence, evidenceID)
	}
	_ = m.SetState(ctx, store.StateKeyIngestTotal, strconv.Itoa(total))
	_ = m.SetState(ctx, store.StateKeyIngestWritten, strconv.Itoa(written))
	_ = m.SetState(ctx, store.StateKeyIngestTimestamp, time.Now().UTC().Format(time.RFC3339))
}

func leadingWindow(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if i := strings.LastIndexAny(cut, " \n\t"); i > maxChars/2 {
		cut = cut[:i]
	}
	return cut
}

// Ingestable reports whether the pipeline knows how to index the file.
// The inbox watcher uses this to filter events before they reach Ingest.
func Ingestable(path string) bool {
	return classifyFile(path) != ""
}

// classifyFile maps a path to its evidence class: extension first, with a
// parent-directory hint for plain text dropped into class-named folders.
// Unsupported types return the empty class.
func classifyFile(path string) domain.EvidenceClass {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".srt", ".vtt":
		return domain.EvidenceTranscript
	case ".eml", ".mbox", ".chat":
		return domain.EvidenceCommunication
	case ".txt", ".md", ".text":
		switch dirHint(path) {
		case "transcripts", "transcript":
			return domain.EvidenceTranscript
		case "communications", "communication", "messages", "email":
			return domain.EvidenceCommunication
		default:
			return domain.EvidenceDocument
		}
	}
	return ""
}

func dirHint(path string) string {
	return strings.ToLower(filepath.Base(filepath.Dir(path)))
}

// discoverFiles expands the request paths into a sorted list of
// ingestable files. Directories are walked recursively; hidden entries
// are skipped.
func discoverFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)

	add := func(path string) {
		if classifyFile(path) == "" || seen[path] {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if strings.HasPrefix(name, ".") && path != root {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

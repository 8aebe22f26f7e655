package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
)

// SQLiteStore is the SQLite-backed system of record.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Pass ":memory:" for an in-memory database in tests.
func NewSQLiteStore(path string, cacheMB int) (*SQLiteStore, error) {
	if cacheMB <= 0 {
		cacheMB = 64
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer prevents lock contention; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for sibling stores that share the
// database file (workflow journal, telemetry).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		case_number TEXT NOT NULL UNIQUE,
		client TEXT NOT NULL DEFAULT '',
		matter_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		class TEXT NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_case ON evidence(case_id, class);

	CREATE TABLE IF NOT EXISTS transcript_segments (
		id TEXT PRIMARY KEY,
		evidence_id TEXT NOT NULL REFERENCES evidence(id) ON DELETE CASCADE,
		start_s REAL NOT NULL,
		end_s REAL NOT NULL,
		text TEXT NOT NULL,
		speaker_id TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		highlights TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_segments_evidence ON transcript_segments(evidence_id, start_s);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		evidence_id TEXT NOT NULL REFERENCES evidence(id) ON DELETE CASCADE,
		case_id TEXT NOT NULL,
		text TEXT NOT NULL,
		chunk_type TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		page INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_evidence ON chunks(evidence_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_case ON chunks(case_id);

	CREATE TABLE IF NOT EXISTS research_runs (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		query TEXT NOT NULL,
		defense_theory TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		workflow_id TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		heartbeat_at TIMESTAMP NOT NULL,
		errors TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_runs_case ON research_runs(case_id, started_at DESC);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		research_run_id TEXT NOT NULL REFERENCES research_runs(id) ON DELETE CASCADE,
		finding_type TEXT NOT NULL,
		text TEXT NOT NULL,
		entities TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL,
		relevance REAL NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_findings_run ON findings(research_run_id, relevance DESC, confidence DESC);

	CREATE TABLE IF NOT EXISTS citations (
		id TEXT PRIMARY KEY,
		finding_id TEXT NOT NULL REFERENCES findings(id) ON DELETE CASCADE,
		chunk_id TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		segment_id TEXT NOT NULL DEFAULT '',
		start_offset INTEGER NOT NULL DEFAULT 0,
		end_offset INTEGER NOT NULL DEFAULT 0,
		quote TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_citations_finding ON citations(finding_id);

	CREATE TABLE IF NOT EXISTS graph_nodes (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		type TEXT NOT NULL,
		label TEXT NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_case ON graph_nodes(case_id, type);

	CREATE TABLE IF NOT EXISTS graph_relationships (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		type TEXT NOT NULL,
		properties TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_rels_case ON graph_relationships(case_id);
	CREATE INDEX IF NOT EXISTS idx_rels_source ON graph_relationships(source_id);
	CREATE INDEX IF NOT EXISTS idx_rels_target ON graph_relationships(target_id);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		participants TEXT NOT NULL DEFAULT '[]',
		source_citations TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_timeline_case ON timeline_events(case_id, timestamp);

	CREATE TABLE IF NOT EXISTS contradictions (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		finding_a TEXT NOT NULL,
		finding_b TEXT NOT NULL,
		similarity REAL NOT NULL DEFAULT 0,
		predicate TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_contradictions_case ON contradictions(case_id);

	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		finding_ids TEXT NOT NULL DEFAULT '[]',
		count INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_case ON patterns(case_id);

	CREATE TABLE IF NOT EXISTS dossiers (
		id TEXT PRIMARY KEY,
		research_run_id TEXT NOT NULL UNIQUE REFERENCES research_runs(id) ON DELETE CASCADE,
		executive_summary TEXT NOT NULL DEFAULT '',
		citations_appendix TEXT NOT NULL DEFAULT '',
		file_paths TEXT NOT NULL DEFAULT '[]',
		generated_at TIMESTAMP NOT NULL,
		word_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS dossier_sections (
		dossier_id TEXT NOT NULL REFERENCES dossiers(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (dossier_id, position)
	);

	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workflow_events (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		activity TEXT NOT NULL DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS workflow_signals (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		name TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		consumed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_signals_pending ON workflow_signals(run_id, created_at) WHERE consumed_at IS NULL;

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Cases
// ============================================================================

// SaveCase upserts a case. Inserting a second case with the same
// case_number but a different ID fails the UNIQUE constraint.
func (s *SQLiteStore) SaveCase(ctx context.Context, c *domain.Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, case_number, client, matter_type, status, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			case_number = excluded.case_number,
			client = excluded.client,
			matter_type = excluded.matter_type,
			status = excluded.status,
			team_id = excluded.team_id,
			updated_at = excluded.updated_at
	`, c.ID, c.CaseNumber, c.Client, c.MatterType, string(c.Status), c.TeamID,
		c.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: cases.case_number") {
			return errors.Validationf("case_number %q already exists", c.CaseNumber)
		}
		return fmt.Errorf("save case: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	return s.scanCase(s.db.QueryRowContext(ctx, `
		SELECT id, case_number, client, matter_type, status, team_id, created_at, updated_at
		FROM cases WHERE id = ?`, id), id)
}

func (s *SQLiteStore) GetCaseByNumber(ctx context.Context, caseNumber string) (*domain.Case, error) {
	return s.scanCase(s.db.QueryRowContext(ctx, `
		SELECT id, case_number, client, matter_type, status, team_id, created_at, updated_at
		FROM cases WHERE case_number = ?`, caseNumber), caseNumber)
}

func (s *SQLiteStore) scanCase(row *sql.Row, ref string) (*domain.Case, error) {
	var c domain.Case
	var status string
	err := row.Scan(&c.ID, &c.CaseNumber, &c.Client, &c.MatterType, &status, &c.TeamID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("case", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	c.Status = domain.CaseStatus(status)
	return &c, nil
}

func (s *SQLiteStore) ListCases(ctx context.Context, status domain.CaseStatus, limit, offset int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, case_number, client, matter_type, status, team_id, created_at, updated_at FROM cases`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cases []*domain.Case
	for rows.Next() {
		var c domain.Case
		var st string
		if err := rows.Scan(&c.ID, &c.CaseNumber, &c.Client, &c.MatterType, &st, &c.TeamID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Status = domain.CaseStatus(st)
		cases = append(cases, &c)
	}
	return cases, rows.Err()
}

// DeleteCase removes a case; evidence, chunks, runs, and findings cascade.
func (s *SQLiteStore) DeleteCase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("case", id)
	}
	return nil
}

// ============================================================================
// Evidence
// ============================================================================

// SaveEvidence upserts evidence and, for transcripts, replaces its segments.
func (s *SQLiteStore) SaveEvidence(ctx context.Context, ev *domain.Evidence) error {
	meta, err := marshalJSON(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal evidence metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence (id, case_id, class, filename, size, status, summary, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			summary = excluded.summary,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, ev.ID, ev.CaseID, string(ev.Class), ev.Filename, ev.Size, string(ev.Status),
		ev.Summary, meta, ev.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save evidence: %w", err)
	}

	if len(ev.Segments) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_segments WHERE evidence_id = ?`, ev.ID); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transcript_segments (id, evidence_id, start_s, end_s, text, speaker_id, confidence, highlights)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare segment insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, seg := range ev.Segments {
			hl, err := marshalJSON(seg.Highlights)
			if err != nil {
				return fmt.Errorf("marshal highlights: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, seg.ID, ev.ID, seg.StartS, seg.EndS, seg.Text, seg.SpeakerID, seg.Confidence, hl); err != nil {
				return fmt.Errorf("insert segment: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetEvidence(ctx context.Context, id string) (*domain.Evidence, error) {
	var ev domain.Evidence
	var class, status, meta string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, class, filename, size, status, summary, metadata, created_at, updated_at
		FROM evidence WHERE id = ?`, id).
		Scan(&ev.ID, &ev.CaseID, &class, &ev.Filename, &ev.Size, &status, &ev.Summary, &meta, &ev.CreatedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("evidence", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	ev.Class = domain.EvidenceClass(class)
	ev.Status = domain.EvidenceStatus(status)
	if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
		ev.Metadata = map[string]any{}
	}

	if ev.Class == domain.EvidenceTranscript {
		segments, err := s.loadSegments(ctx, id)
		if err != nil {
			return nil, err
		}
		ev.Segments = segments
	}

	return &ev, nil
}

func (s *SQLiteStore) loadSegments(ctx context.Context, evidenceID string) ([]domain.TranscriptSegment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, start_s, end_s, text, speaker_id, confidence, highlights
		FROM transcript_segments WHERE evidence_id = ? ORDER BY start_s`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var segments []domain.TranscriptSegment
	for rows.Next() {
		var seg domain.TranscriptSegment
		var hl string
		if err := rows.Scan(&seg.ID, &seg.StartS, &seg.EndS, &seg.Text, &seg.SpeakerID, &seg.Confidence, &hl); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		_ = json.Unmarshal([]byte(hl), &seg.Highlights)
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (s *SQLiteStore) ListEvidenceByCase(ctx context.Context, caseID string, class domain.EvidenceClass) ([]*domain.Evidence, error) {
	query := `
		SELECT id, case_id, class, filename, size, status, summary, metadata, created_at, updated_at
		FROM evidence WHERE case_id = ?`
	args := []any{caseID}
	if class != "" {
		query += ` AND class = ?`
		args = append(args, string(class))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		var cl, st, meta string
		if err := rows.Scan(&ev.ID, &ev.CaseID, &cl, &ev.Filename, &ev.Size, &st, &ev.Summary, &meta, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		ev.Class = domain.EvidenceClass(cl)
		ev.Status = domain.EvidenceStatus(st)
		if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
			ev.Metadata = map[string]any{}
		}
		items = append(items, &ev)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) UpdateEvidenceStatus(ctx context.Context, id string, status domain.EvidenceStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidence SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update evidence status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("evidence", id)
	}
	return nil
}

// EvidenceExists reports, for each given ID, whether the evidence row
// exists. Used by the orphan reaper in batches.
func (s *SQLiteStore) EvidenceExists(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	for _, id := range ids {
		result[id] = false
	}

	query := `SELECT id FROM evidence WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("check evidence existence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan evidence id: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteEvidence(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evidence WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete evidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("evidence", id)
	}
	return nil
}

// ============================================================================
// Chunks
// ============================================================================

// SaveChunks upserts chunk registry entries in a single transaction.
// Chunk IDs are deterministic so re-ingesting evidence overwrites.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, evidence_id, case_id, text, chunk_type, position, page, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			metadata = excluded.metadata
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		meta, err := marshalJSON(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.EvidenceID, c.CaseID, c.Text,
			string(c.ChunkType), c.Position, c.Page, meta, c.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	chunks, err := s.GetChunks(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errors.NotFound("chunk", id)
	}
	return chunks[0], nil
}

// GetChunks batch-fetches chunks by ID. Missing IDs are silently absent
// from the result; callers that care check the length.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, evidence_id, case_id, text, chunk_type, position, page, metadata, created_at
		FROM chunks WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*domain.Chunk, len(ids))
	for rows.Next() {
		var c domain.Chunk
		var ct, meta string
		if err := rows.Scan(&c.ID, &c.EvidenceID, &c.CaseID, &c.Text, &ct, &c.Position, &c.Page, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.ChunkType = domain.ChunkType(ct)
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			c.Metadata = map[string]any{}
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve request order.
	result := make([]*domain.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

func (s *SQLiteStore) ListChunkIDsByEvidence(ctx context.Context, evidenceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks WHERE evidence_id = ? ORDER BY position`, evidenceID)
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkEvidenceIDs maps chunk IDs to their evidence IDs. Chunks not in
// the registry are absent from the map; the reaper treats those as orphans.
func (s *SQLiteStore) ChunkEvidenceIDs(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	result := make(map[string]string, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return result, nil
	}

	query := `SELECT id, evidence_id FROM chunks WHERE id IN (` + placeholders(len(chunkIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("map chunk evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, evidenceID string
		if err := rows.Scan(&id, &evidenceID); err != nil {
			return nil, fmt.Errorf("scan chunk mapping: %w", err)
		}
		result[id] = evidenceID
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteChunksByEvidence(ctx context.Context, evidenceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE evidence_id = ?`, evidenceID); err != nil {
		return fmt.Errorf("delete chunks by evidence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM chunks WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, query, toAnySlice(ids)...); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// ============================================================================
// Research runs
// ============================================================================

func (s *SQLiteStore) SaveResearchRun(ctx context.Context, run *domain.ResearchRun) error {
	errsJSON, err := marshalJSON(run.Errors)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	meta, err := marshalJSON(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal run metadata: %w", err)
	}

	var completedAt any
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO research_runs (id, case_id, query, defense_theory, status, phase, workflow_id,
			started_at, completed_at, heartbeat_at, errors, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phase = excluded.phase,
			workflow_id = excluded.workflow_id,
			completed_at = excluded.completed_at,
			heartbeat_at = excluded.heartbeat_at,
			errors = excluded.errors,
			metadata = excluded.metadata
	`, run.ID, run.CaseID, run.Query, run.DefenseTheory, string(run.Status), string(run.Phase),
		run.WorkflowID, run.StartedAt.UTC(), completedAt, run.HeartbeatAt.UTC(), errsJSON, meta)
	if err != nil {
		return fmt.Errorf("save research run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResearchRun(ctx context.Context, id string) (*domain.ResearchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, query, defense_theory, status, phase, workflow_id,
			started_at, completed_at, heartbeat_at, errors, metadata
		FROM research_runs WHERE id = ?`, id)

	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("research run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get research run: %w", err)
	}
	return run, nil
}

func scanRun(scan func(dest ...any) error) (*domain.ResearchRun, error) {
	var run domain.ResearchRun
	var status, phase, errsJSON, meta string
	var completedAt sql.NullTime

	err := scan(&run.ID, &run.CaseID, &run.Query, &run.DefenseTheory, &status, &phase,
		&run.WorkflowID, &run.StartedAt, &completedAt, &run.HeartbeatAt, &errsJSON, &meta)
	if err != nil {
		return nil, err
	}

	run.Status = domain.RunStatus(status)
	run.Phase = domain.RunPhase(phase)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	_ = json.Unmarshal([]byte(errsJSON), &run.Errors)
	if err := json.Unmarshal([]byte(meta), &run.Metadata); err != nil {
		run.Metadata = map[string]any{}
	}
	return &run, nil
}

// ListResearchRuns returns a case's runs sorted by started_at descending,
// with the unpaginated total.
func (s *SQLiteStore) ListResearchRuns(ctx context.Context, caseID string, filter RunFilter) ([]*domain.ResearchRun, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	where := `WHERE case_id = ?`
	args := []any{caseID}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM research_runs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count research runs: %w", err)
	}

	query := `
		SELECT id, case_id, query, defense_theory, status, phase, workflow_id,
			started_at, completed_at, heartbeat_at, errors, metadata
		FROM research_runs ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list research runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*domain.ResearchRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan research run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) UpdateRunPhase(ctx context.Context, id string, status domain.RunStatus, phase domain.RunPhase) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE research_runs SET status = ?, phase = ?, heartbeat_at = ? WHERE id = ?`,
		string(status), string(phase), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update run phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("research run", id)
	}
	return nil
}

func (s *SQLiteStore) HeartbeatRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE research_runs SET heartbeat_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("heartbeat run: %w", err)
	}
	return nil
}

// ============================================================================
// Findings
// ============================================================================

// SaveFindings upserts findings and their citations in one transaction.
func (s *SQLiteStore) SaveFindings(ctx context.Context, findings []*domain.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (id, research_run_id, finding_type, text, entities, confidence, relevance, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			entities = excluded.entities,
			confidence = excluded.confidence,
			relevance = excluded.relevance,
			tags = excluded.tags
	`)
	if err != nil {
		return fmt.Errorf("prepare finding insert: %w", err)
	}
	defer func() { _ = fStmt.Close() }()

	cStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO citations (id, finding_id, chunk_id, evidence_id, segment_id, start_offset, end_offset, quote)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare citation insert: %w", err)
	}
	defer func() { _ = cStmt.Close() }()

	for _, f := range findings {
		entities, err := marshalJSON(f.Entities)
		if err != nil {
			return fmt.Errorf("marshal entities: %w", err)
		}
		tags, err := marshalJSON(f.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		if _, err := fStmt.ExecContext(ctx, f.ID, f.ResearchRunID, string(f.FindingType), f.Text,
			entities, f.Confidence, f.Relevance, tags, f.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert finding %s: %w", f.ID, err)
		}

		for _, cit := range f.Citations {
			if _, err := cStmt.ExecContext(ctx, cit.ID, f.ID, cit.ChunkID, cit.EvidenceID,
				cit.SegmentID, cit.StartOffset, cit.EndOffset, cit.Quote); err != nil {
				return fmt.Errorf("insert citation %s: %w", cit.ID, err)
			}
		}
	}

	return tx.Commit()
}

// GetFindings returns a filtered, sorted page of findings with citations
// attached, plus the unpaginated total.
func (s *SQLiteStore) GetFindings(ctx context.Context, runID string, filter FindingFilter) ([]*domain.Finding, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	where := `WHERE research_run_id = ?`
	args := []any{runID}

	if len(filter.Types) > 0 {
		where += ` AND finding_type IN (` + placeholders(len(filter.Types)) + `)`
		for _, t := range filter.Types {
			args = append(args, string(t))
		}
	}
	if filter.MinConfidence != nil {
		where += ` AND confidence >= ?`
		args = append(args, *filter.MinConfidence)
	}
	if filter.MinRelevance != nil {
		where += ` AND relevance >= ?`
		args = append(args, *filter.MinRelevance)
	}
	if len(filter.Tags) > 0 {
		// Tags are stored as a JSON array; match any requested tag.
		clauses := make([]string, len(filter.Tags))
		for i, tag := range filter.Tags {
			clauses[i] = `tags LIKE ?`
			args = append(args, `%"`+tag+`"%`)
		}
		where += ` AND (` + strings.Join(clauses, " OR ") + `)`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count findings: %w", err)
	}

	query := `
		SELECT id, research_run_id, finding_type, text, entities, confidence, relevance, tags, created_at
		FROM findings ` + where + `
		ORDER BY relevance DESC, confidence DESC, created_at
		LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("get findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []*domain.Finding
	var ids []string
	for rows.Next() {
		var f domain.Finding
		var ft, entities, tags string
		if err := rows.Scan(&f.ID, &f.ResearchRunID, &ft, &f.Text, &entities, &f.Confidence, &f.Relevance, &tags, &f.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan finding: %w", err)
		}
		f.FindingType = domain.FindingType(ft)
		_ = json.Unmarshal([]byte(entities), &f.Entities)
		_ = json.Unmarshal([]byte(tags), &f.Tags)
		findings = append(findings, &f)
		ids = append(ids, f.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if err := s.attachCitations(ctx, findings, ids); err != nil {
		return nil, 0, err
	}

	return findings, total, nil
}

func (s *SQLiteStore) attachCitations(ctx context.Context, findings []*domain.Finding, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		SELECT id, finding_id, chunk_id, evidence_id, segment_id, start_offset, end_offset, quote
		FROM citations WHERE finding_id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return fmt.Errorf("load citations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byFinding := make(map[string][]domain.Citation)
	for rows.Next() {
		var cit domain.Citation
		var findingID string
		if err := rows.Scan(&cit.ID, &findingID, &cit.ChunkID, &cit.EvidenceID, &cit.SegmentID,
			&cit.StartOffset, &cit.EndOffset, &cit.Quote); err != nil {
			return fmt.Errorf("scan citation: %w", err)
		}
		byFinding[findingID] = append(byFinding[findingID], cit)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, f := range findings {
		f.Citations = byFinding[f.ID]
	}
	return nil
}

func (s *SQLiteStore) CountFindings(ctx context.Context, runID string) (int, int, error) {
	var findings, citations int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE research_run_id = ?`, runID).Scan(&findings)
	if err != nil {
		return 0, 0, fmt.Errorf("count findings: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM citations c
		JOIN findings f ON f.id = c.finding_id
		WHERE f.research_run_id = ?`, runID).Scan(&citations)
	if err != nil {
		return 0, 0, fmt.Errorf("count citations: %w", err)
	}
	return findings, citations, nil
}

// ============================================================================
// Knowledge graph
// ============================================================================

func (s *SQLiteStore) SaveGraphNodes(ctx context.Context, nodes []*domain.GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_nodes (id, case_id, type, label, properties)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET properties = excluded.properties
	`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, n := range nodes {
		props, err := marshalJSON(n.Properties)
		if err != nil {
			return fmt.Errorf("marshal node properties: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.CaseID, string(n.Type), n.Label, props); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveGraphRelationships(ctx context.Context, rels []*domain.GraphRelationship) error {
	if len(rels) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO graph_relationships (id, case_id, source_id, target_id, type, properties)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET properties = excluded.properties
	`)
	if err != nil {
		return fmt.Errorf("prepare relationship insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rels {
		props, err := marshalJSON(r.Properties)
		if err != nil {
			return fmt.Errorf("marshal relationship properties: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.CaseID, r.SourceID, r.TargetID, string(r.Type), props); err != nil {
			return fmt.Errorf("insert relationship %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// QueryGraph selects seed nodes matching the filter, then expands along
// relationships breadth-first up to filter.Depth hops.
func (s *SQLiteStore) QueryGraph(ctx context.Context, caseID string, filter GraphFilter) ([]*domain.GraphNode, []*domain.GraphRelationship, error) {
	seeds, err := s.graphSeeds(ctx, caseID, filter)
	if err != nil {
		return nil, nil, err
	}
	if len(seeds) == 0 {
		return nil, nil, nil
	}

	nodes := make(map[string]*domain.GraphNode, len(seeds))
	for _, n := range seeds {
		nodes[n.ID] = n
	}
	rels := make(map[string]*domain.GraphRelationship)

	frontier := make([]string, 0, len(seeds))
	for _, n := range seeds {
		frontier = append(frontier, n.ID)
	}

	depth := filter.Depth
	if depth <= 0 {
		depth = 1
	}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		edges, err := s.edgesTouching(ctx, caseID, frontier, filter.Relationship)
		if err != nil {
			return nil, nil, err
		}

		var next []string
		for _, e := range edges {
			if _, seen := rels[e.ID]; seen {
				continue
			}
			rels[e.ID] = e
			for _, endpoint := range []string{e.SourceID, e.TargetID} {
				if _, seen := nodes[endpoint]; !seen {
					next = append(next, endpoint)
				}
			}
		}

		if len(next) > 0 {
			loaded, err := s.nodesByID(ctx, next)
			if err != nil {
				return nil, nil, err
			}
			for _, n := range loaded {
				nodes[n.ID] = n
			}
		}
		frontier = next
	}

	nodeList := make([]*domain.GraphNode, 0, len(nodes))
	for _, n := range nodes {
		nodeList = append(nodeList, n)
	}
	relList := make([]*domain.GraphRelationship, 0, len(rels))
	for _, r := range rels {
		relList = append(relList, r)
	}
	return nodeList, relList, nil
}

func (s *SQLiteStore) graphSeeds(ctx context.Context, caseID string, filter GraphFilter) ([]*domain.GraphNode, error) {
	query := `SELECT id, case_id, type, label, properties FROM graph_nodes WHERE case_id = ?`
	args := []any{caseID}
	if filter.NodeType != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.NodeType))
	}
	if filter.Entity != "" {
		query += ` AND LOWER(label) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.Entity)+"%")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query graph seeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanNodes(rows)
}

func (s *SQLiteStore) nodesByID(ctx context.Context, ids []string) ([]*domain.GraphNode, error) {
	query := `SELECT id, case_id, type, label, properties FROM graph_nodes WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, fmt.Errorf("load graph nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanNodes(rows)
}

func scanNodes(rows *sql.Rows) ([]*domain.GraphNode, error) {
	var nodes []*domain.GraphNode
	for rows.Next() {
		var n domain.GraphNode
		var nt, props string
		if err := rows.Scan(&n.ID, &n.CaseID, &nt, &n.Label, &props); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Type = domain.NodeType(nt)
		if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
			n.Properties = map[string]any{}
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

func (s *SQLiteStore) edgesTouching(ctx context.Context, caseID string, nodeIDs []string, relType domain.RelationshipType) ([]*domain.GraphRelationship, error) {
	ph := placeholders(len(nodeIDs))
	query := `
		SELECT id, case_id, source_id, target_id, type, properties
		FROM graph_relationships
		WHERE case_id = ? AND (source_id IN (` + ph + `) OR target_id IN (` + ph + `))`
	args := []any{caseID}
	args = append(args, toAnySlice(nodeIDs)...)
	args = append(args, toAnySlice(nodeIDs)...)
	if relType != "" {
		query += ` AND type = ?`
		args = append(args, string(relType))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rels []*domain.GraphRelationship
	for rows.Next() {
		var r domain.GraphRelationship
		var rt, props string
		if err := rows.Scan(&r.ID, &r.CaseID, &r.SourceID, &r.TargetID, &rt, &props); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		r.Type = domain.RelationshipType(rt)
		if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
			r.Properties = map[string]any{}
		}
		rels = append(rels, &r)
	}
	return rels, rows.Err()
}

// ============================================================================
// Timeline
// ============================================================================

func (s *SQLiteStore) SaveTimelineEvents(ctx context.Context, events []*domain.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO timeline_events (id, case_id, timestamp, event_type, description, participants, source_citations)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			participants = excluded.participants,
			source_citations = excluded.source_citations
	`)
	if err != nil {
		return fmt.Errorf("prepare event insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		participants, err := marshalJSON(e.Participants)
		if err != nil {
			return fmt.Errorf("marshal participants: %w", err)
		}
		citations, err := marshalJSON(e.SourceCitations)
		if err != nil {
			return fmt.Errorf("marshal source citations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.CaseID, e.Timestamp.UTC(), e.EventType,
			e.Description, participants, citations); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetTimeline returns chronologically ordered events for a case.
func (s *SQLiteStore) GetTimeline(ctx context.Context, caseID string, filter TimelineFilter) ([]*domain.TimelineEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = 1000
	}

	query := `
		SELECT id, case_id, timestamp, event_type, description, participants, source_citations
		FROM timeline_events WHERE case_id = ?`
	args := []any{caseID}

	if filter.Start != nil {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		query += ` AND timestamp <= ?`
		args = append(args, filter.End.UTC())
	}
	if len(filter.EventTypes) > 0 {
		query += ` AND event_type IN (` + placeholders(len(filter.EventTypes)) + `)`
		for _, et := range filter.EventTypes {
			args = append(args, et)
		}
	}
	if filter.EntityID != "" {
		query += ` AND participants LIKE ?`
		args = append(args, `%"`+filter.EntityID+`"%`)
	}
	query += ` ORDER BY timestamp LIMIT ?`
	args = append(args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		var participants, citations string
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Timestamp, &e.EventType, &e.Description, &participants, &citations); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		_ = json.Unmarshal([]byte(participants), &e.Participants)
		_ = json.Unmarshal([]byte(citations), &e.SourceCitations)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ============================================================================
// Contradictions and patterns
// ============================================================================

func (s *SQLiteStore) SaveContradictions(ctx context.Context, contradictions []*domain.Contradiction) error {
	if len(contradictions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contradictions (id, case_id, finding_a, finding_b, similarity, predicate, severity, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			similarity = excluded.similarity,
			severity = excluded.severity,
			detail = excluded.detail
	`)
	if err != nil {
		return fmt.Errorf("prepare contradiction insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range contradictions {
		if _, err := stmt.ExecContext(ctx, c.ID, c.CaseID, c.FindingA, c.FindingB,
			c.Similarity, c.Predicate, string(c.Severity), c.Detail); err != nil {
			return fmt.Errorf("insert contradiction %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) SavePatterns(ctx context.Context, patterns []*domain.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns (id, case_id, pattern_type, description, finding_ids, count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			finding_ids = excluded.finding_ids,
			count = excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare pattern insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range patterns {
		ids, err := marshalJSON(p.FindingIDs)
		if err != nil {
			return fmt.Errorf("marshal finding ids: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, p.ID, p.CaseID, p.PatternType, p.Description, ids, p.Count); err != nil {
			return fmt.Errorf("insert pattern %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

// ============================================================================
// Dossiers
// ============================================================================

// SaveDossier upserts the dossier and replaces its sections.
func (s *SQLiteStore) SaveDossier(ctx context.Context, d *domain.Dossier) error {
	filePaths, err := marshalJSON(d.FilePaths)
	if err != nil {
		return fmt.Errorf("marshal file paths: %w", err)
	}
	meta, err := marshalJSON(d.Metadata)
	if err != nil {
		return fmt.Errorf("marshal dossier metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dossiers (id, research_run_id, executive_summary, citations_appendix, file_paths, generated_at, word_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(research_run_id) DO UPDATE SET
			executive_summary = excluded.executive_summary,
			citations_appendix = excluded.citations_appendix,
			file_paths = excluded.file_paths,
			generated_at = excluded.generated_at,
			word_count = excluded.word_count,
			metadata = excluded.metadata
	`, d.ID, d.ResearchRunID, d.ExecutiveSummary, d.CitationsAppendix, filePaths,
		d.GeneratedAt.UTC(), d.WordCount, meta)
	if err != nil {
		return fmt.Errorf("save dossier: %w", err)
	}

	// Sections are replaced wholesale: the upsert may have kept the
	// original dossier row ID, so resolve it before writing sections.
	var dossierID string
	if err := tx.QueryRowContext(ctx, `SELECT id FROM dossiers WHERE research_run_id = ?`, d.ResearchRunID).Scan(&dossierID); err != nil {
		return fmt.Errorf("resolve dossier id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dossier_sections WHERE dossier_id = ?`, dossierID); err != nil {
		return fmt.Errorf("clear dossier sections: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dossier_sections (dossier_id, position, title, content, metadata)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare section insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sec := range d.Sections {
		secMeta, err := marshalJSON(sec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal section metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, dossierID, sec.Order, sec.Title, sec.Content, secMeta); err != nil {
			return fmt.Errorf("insert section %d: %w", sec.Order, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetDossier(ctx context.Context, runID string) (*domain.Dossier, error) {
	var d domain.Dossier
	var filePaths, meta string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, research_run_id, executive_summary, citations_appendix, file_paths, generated_at, word_count, metadata
		FROM dossiers WHERE research_run_id = ?`, runID).
		Scan(&d.ID, &d.ResearchRunID, &d.ExecutiveSummary, &d.CitationsAppendix, &filePaths, &d.GeneratedAt, &d.WordCount, &meta)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("dossier", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get dossier: %w", err)
	}
	_ = json.Unmarshal([]byte(filePaths), &d.FilePaths)
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		d.Metadata = map[string]any{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, title, content, metadata
		FROM dossier_sections WHERE dossier_id = ? ORDER BY position`, d.ID)
	if err != nil {
		return nil, fmt.Errorf("load dossier sections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var sec domain.DossierSection
		var secMeta string
		if err := rows.Scan(&sec.Order, &sec.Title, &sec.Content, &secMeta); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		if err := json.Unmarshal([]byte(secMeta), &sec.Metadata); err != nil {
			sec.Metadata = map[string]any{}
		}
		d.Sections = append(d.Sections, sec)
	}
	return &d, rows.Err()
}

// ============================================================================
// State
// ============================================================================

// GetState returns the value for key, or empty string if unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ClearState(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE FROM state WHERE key IN (` + placeholders(len(keys)) + `)`
	if _, err := s.db.ExecContext(ctx, query, toAnySlice(keys)...); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Verify interface implementation
var _ MetadataStore = (*SQLiteStore)(nil)

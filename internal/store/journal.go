package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowEvent is one append-only journal record for a research run.
// Seq is assigned by the store and is contiguous per run starting at 1.
type WorkflowEvent struct {
	RunID     string
	Seq       int64
	Type      string
	Activity  string // activity name for activity events, empty otherwise
	Attempt   int
	Payload   json.RawMessage
	CreatedAt time.Time
}

// WorkflowSignal is an external control message (cancel/pause/resume)
// delivered to a running workflow at its next checkpoint.
type WorkflowSignal struct {
	ID         string
	RunID      string
	Name       string
	Payload    json.RawMessage
	CreatedAt  time.Time
	ConsumedAt *time.Time
}

// WorkflowJournal persists workflow execution history and pending signals.
// The durable engine appends events as activities complete and replays
// them to resume interrupted runs without re-executing finished work.
type WorkflowJournal interface {
	// AppendEvent appends an event and returns its assigned sequence number.
	AppendEvent(ctx context.Context, ev *WorkflowEvent) (int64, error)
	// Events returns the full history for a run in sequence order.
	Events(ctx context.Context, runID string) ([]*WorkflowEvent, error)
	// SendSignal enqueues a signal for delivery at the next checkpoint.
	SendSignal(ctx context.Context, sig *WorkflowSignal) error
	// ConsumeSignal pops the oldest pending signal, marking it consumed.
	// Returns (nil, nil) when no signal is pending.
	ConsumeSignal(ctx context.Context, runID string) (*WorkflowSignal, error)
	// PendingSignals lists unconsumed signals without consuming them.
	PendingSignals(ctx context.Context, runID string) ([]*WorkflowSignal, error)
	// PurgeRun deletes all journal records for a run.
	PurgeRun(ctx context.Context, runID string) error
}

// AppendEvent appends an event to the run's journal. The sequence number
// is assigned inside a transaction; the store is single-writer so two
// appends never race on the same run.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *WorkflowEvent) (int64, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin journal append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM workflow_events WHERE run_id = ?`, ev.RunID,
	).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next journal seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_events (run_id, seq, event_type, activity, attempt, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, seq, ev.Type, ev.Activity, ev.Attempt, string(payload), ev.CreatedAt,
	); err != nil {
		return 0, fmt.Errorf("append journal event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit journal append: %w", err)
	}
	ev.Seq = seq
	return seq, nil
}

// Events returns the run's journal in sequence order.
func (s *SQLiteStore) Events(ctx context.Context, runID string) ([]*WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, event_type, activity, attempt, payload, created_at
		FROM workflow_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	defer rows.Close()

	var events []*WorkflowEvent
	for rows.Next() {
		var ev WorkflowEvent
		var payload string
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Type, &ev.Activity, &ev.Attempt, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// SendSignal enqueues a control signal for the run.
func (s *SQLiteStore) SendSignal(ctx context.Context, sig *WorkflowSignal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	payload := sig.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_signals (id, run_id, name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sig.ID, sig.RunID, sig.Name, string(payload), sig.CreatedAt)
	if err != nil {
		return fmt.Errorf("send signal: %w", err)
	}
	return nil
}

// ConsumeSignal atomically pops the oldest pending signal for the run.
func (s *SQLiteStore) ConsumeSignal(ctx context.Context, runID string) (*WorkflowSignal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin signal consume: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sig WorkflowSignal
	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT id, run_id, name, payload, created_at
		FROM workflow_signals
		WHERE run_id = ? AND consumed_at IS NULL
		ORDER BY created_at, id LIMIT 1`, runID,
	).Scan(&sig.ID, &sig.RunID, &sig.Name, &payload, &sig.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop signal: %w", err)
	}
	sig.Payload = json.RawMessage(payload)

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflow_signals SET consumed_at = ? WHERE id = ?`, now, sig.ID,
	); err != nil {
		return nil, fmt.Errorf("mark signal consumed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signal consume: %w", err)
	}
	sig.ConsumedAt = &now
	return &sig, nil
}

// PendingSignals lists unconsumed signals in delivery order.
func (s *SQLiteStore) PendingSignals(ctx context.Context, runID string) ([]*WorkflowSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, name, payload, created_at
		FROM workflow_signals
		WHERE run_id = ? AND consumed_at IS NULL
		ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	defer rows.Close()

	var signals []*WorkflowSignal
	for rows.Next() {
		var sig WorkflowSignal
		var payload string
		if err := rows.Scan(&sig.ID, &sig.RunID, &sig.Name, &payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Payload = json.RawMessage(payload)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

// PurgeRun deletes the run's journal history and signals.
func (s *SQLiteStore) PurgeRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_events WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("purge journal events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_signals WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("purge signals: %w", err)
	}
	return nil
}

var _ WorkflowJournal = (*SQLiteStore)(nil)

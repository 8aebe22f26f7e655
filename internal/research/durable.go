// Package research runs the deep-research workflow: a durable,
// journal-backed pipeline that plans searches over a case's evidence,
// fans analysis out per evidence class, correlates the findings, and
// synthesizes an attorney-ready dossier.
//
// Durability is event sourcing, not long-lived threads. Every
// activity's output is appended to the workflow journal before the
// workflow advances, so a crashed or restarted run replays the journal
// and skips straight past completed work. Control signals (pause,
// resume, cancel) are consumed at checkpoints between activities,
// never mid-activity.
package research

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/store"
)

// Journal event types. The journal is append-only; replay rebuilds the
// set of completed activities and entered phases from these.
const (
	EventActivityCompleted = "ACTIVITY_COMPLETED"
	EventActivityFailed    = "ACTIVITY_FAILED"
	EventPhaseEntered      = "PHASE_ENTERED"
	EventRunPaused         = "RUN_PAUSED"
	EventRunResumed        = "RUN_RESUMED"
	EventRunCancelled      = "RUN_CANCELLED"
	EventRunCompleted      = "RUN_COMPLETED"
	EventRunFailed         = "RUN_FAILED"
)

// Control signal names accepted by the workflow at checkpoints.
const (
	SignalCancel = "cancel"
	SignalPause  = "pause"
	SignalResume = "resume"
)

// ErrRunCancelled reports that a cancel signal stopped the run at a
// checkpoint. The workflow driver turns it into a CANCELLED terminal
// state rather than a failure.
var ErrRunCancelled = stderrors.New("research run cancelled")

// defaultSignalPoll is how often a paused run re-checks its signal
// queue. Tests shrink it.
const defaultSignalPoll = 500 * time.Millisecond

// Execution is one durable pass over a research run's workflow. It
// carries the replay caches rebuilt from the journal and serializes
// journal bookkeeping for the phases that fan out across goroutines.
type Execution struct {
	runID    string
	journal  store.WorkflowJournal
	metadata store.MetadataStore
	logger   *slog.Logger
	retry    errors.RetryConfig

	signalPoll time.Duration

	// onHeartbeat publishes live progress to the service's status map.
	// May be nil.
	onHeartbeat func(phase domain.RunPhase, pct float64, message string)

	mu        sync.Mutex
	completed map[string]json.RawMessage // activity name -> recorded output
	phases    map[domain.RunPhase]bool   // phases already journaled
	phase     domain.RunPhase
}

// newExecution loads the run's journal and rebuilds the replay caches.
func newExecution(ctx context.Context, runID string, journal store.WorkflowJournal, metadata store.MetadataStore, logger *slog.Logger, retry errors.RetryConfig, signalPoll time.Duration, onHeartbeat func(domain.RunPhase, float64, string)) (*Execution, error) {
	if signalPoll <= 0 {
		signalPoll = defaultSignalPoll
	}
	events, err := journal.Events(ctx, runID)
	if err != nil {
		return nil, errors.New(errors.ErrCodeWorkflow, "load workflow journal", err)
	}

	ex := &Execution{
		runID:       runID,
		journal:     journal,
		metadata:    metadata,
		logger:      logger,
		retry:       retry,
		signalPoll:  signalPoll,
		onHeartbeat: onHeartbeat,
		completed:   make(map[string]json.RawMessage),
		phases:      make(map[domain.RunPhase]bool),
		phase:       domain.PhaseInitializing,
	}
	for _, ev := range events {
		switch ev.Type {
		case EventActivityCompleted:
			ex.completed[ev.Activity] = ev.Payload
		case EventPhaseEntered:
			var p struct {
				Phase string `json:"phase"`
			}
			if json.Unmarshal(ev.Payload, &p) == nil && p.Phase != "" {
				ex.phases[domain.RunPhase(p.Phase)] = true
				ex.phase = domain.RunPhase(p.Phase)
			}
		}
	}
	if len(ex.completed) > 0 {
		logger.Info("workflow_replay",
			"run_id", runID,
			"completed_activities", len(ex.completed),
			"phases_entered", len(ex.phases))
	}
	return ex, nil
}

// RunActivity executes one named workflow step at most once per run.
// A previously journaled completion short-circuits to the recorded
// output; otherwise fn runs under the retry policy and its output is
// journaled before being returned. Concurrent activities may share one
// Execution: the journal keys them by name.
func RunActivity[T any](ctx context.Context, ex *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ex.mu.Lock()
	recorded, done := ex.completed[name]
	ex.mu.Unlock()
	if done {
		var out T
		if err := json.Unmarshal(recorded, &out); err != nil {
			return zero, errors.New(errors.ErrCodeWorkflow, fmt.Sprintf("decode recorded output of %s", name), err)
		}
		ex.logger.Debug("activity_replayed", "run_id", ex.runID, "activity", name)
		return out, nil
	}

	attempt := 0
	started := time.Now()
	out, err := errors.RetryWithResult(ctx, ex.retry, func() (T, error) {
		attempt++
		return fn(ctx)
	})
	if err != nil {
		// Diagnostic record only; a failed activity re-runs on resume.
		if ctx.Err() == nil {
			_ = ex.append(ctx, EventActivityFailed, name, attempt, map[string]string{"error": err.Error()})
		}
		return zero, errors.New(errors.ErrCodeWorkflow, fmt.Sprintf("activity %s failed", name), err)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return zero, errors.New(errors.ErrCodeWorkflow, fmt.Sprintf("encode output of %s", name), err)
	}
	if err := ex.append(ctx, EventActivityCompleted, name, attempt, json.RawMessage(raw)); err != nil {
		return zero, err
	}
	ex.mu.Lock()
	ex.completed[name] = raw
	ex.mu.Unlock()

	ex.logger.Info("activity_completed",
		"run_id", ex.runID,
		"activity", name,
		"attempts", attempt,
		"duration_ms", time.Since(started).Milliseconds())
	return out, nil
}

// EnterPhase journals the phase transition once and moves the run row
// to RUNNING in that phase. Replays skip the journal append but still
// converge the row, which also un-pauses a run relaunched after a
// crash while paused.
func (ex *Execution) EnterPhase(ctx context.Context, phase domain.RunPhase) error {
	ex.mu.Lock()
	seen := ex.phases[phase]
	ex.phases[phase] = true
	ex.phase = phase
	ex.mu.Unlock()

	if !seen {
		if err := ex.append(ctx, EventPhaseEntered, "", 0, map[string]string{"phase": string(phase)}); err != nil {
			return err
		}
	}
	if err := ex.metadata.UpdateRunPhase(ctx, ex.runID, domain.RunRunning, phase); err != nil {
		return errors.New(errors.ErrCodeWorkflow, "update run phase", err)
	}
	ex.notify(phase, domain.ProgressPct(domain.RunRunning, phase), "")
	ex.logger.Info("phase_entered", "run_id", ex.runID, "phase", string(phase), "replayed", seen)
	return nil
}

// Checkpoint drains pending control signals. It returns ErrRunCancelled
// on cancel, blocks on pause until a resume or cancel arrives, and
// returns ctx.Err() if the context ends while paused. A resume with no
// matching pause is stale and dropped.
func (ex *Execution) Checkpoint(ctx context.Context) error {
	for {
		sig, err := ex.journal.ConsumeSignal(ctx, ex.runID)
		if err != nil {
			return errors.New(errors.ErrCodeWorkflow, "consume control signal", err)
		}
		if sig == nil {
			return nil
		}
		switch sig.Name {
		case SignalCancel:
			return ex.cancelled(ctx)
		case SignalPause:
			if err := ex.pause(ctx); err != nil {
				return err
			}
		default:
			ex.logger.Debug("signal_ignored", "run_id", ex.runID, "signal", sig.Name)
		}
	}
}

// Heartbeat refreshes the run's liveness stamp and publishes free-form
// progress. Failures are logged, not returned: a missed heartbeat must
// never fail the work it reports on.
func (ex *Execution) Heartbeat(ctx context.Context, pct float64, message string) {
	if err := ex.metadata.HeartbeatRun(ctx, ex.runID, time.Now().UTC()); err != nil {
		ex.logger.Warn("heartbeat_failed", "run_id", ex.runID, "error", err)
	}
	ex.notify(ex.currentPhase(), pct, message)
}

func (ex *Execution) cancelled(ctx context.Context) error {
	_ = ex.append(ctx, EventRunCancelled, "", 0, nil)
	ex.logger.Info("run_cancelled", "run_id", ex.runID, "phase", string(ex.currentPhase()))
	return ErrRunCancelled
}

// pause journals the pause, parks the run, and polls the signal queue.
// Resume unparks into the same phase; cancel while paused cancels.
func (ex *Execution) pause(ctx context.Context) error {
	phase := ex.currentPhase()
	if err := ex.append(ctx, EventRunPaused, "", 0, nil); err != nil {
		return err
	}
	if err := ex.metadata.UpdateRunPhase(ctx, ex.runID, domain.RunPaused, phase); err != nil {
		return errors.New(errors.ErrCodeWorkflow, "mark run paused", err)
	}
	ex.notify(phase, domain.ProgressPct(domain.RunPaused, phase), "paused")
	ex.logger.Info("run_paused", "run_id", ex.runID, "phase", string(phase))

	ticker := time.NewTicker(ex.signalPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		sig, err := ex.journal.ConsumeSignal(ctx, ex.runID)
		if err != nil {
			return errors.New(errors.ErrCodeWorkflow, "consume control signal", err)
		}
		if sig == nil {
			continue
		}
		switch sig.Name {
		case SignalResume:
			if err := ex.append(ctx, EventRunResumed, "", 0, nil); err != nil {
				return err
			}
			if err := ex.metadata.UpdateRunPhase(ctx, ex.runID, domain.RunRunning, phase); err != nil {
				return errors.New(errors.ErrCodeWorkflow, "mark run resumed", err)
			}
			ex.notify(phase, domain.ProgressPct(domain.RunRunning, phase), "resumed")
			ex.logger.Info("run_resumed", "run_id", ex.runID, "phase", string(phase))
			return nil
		case SignalCancel:
			return ex.cancelled(ctx)
		case SignalPause:
			// Already paused.
		}
	}
}

func (ex *Execution) append(ctx context.Context, eventType, activity string, attempt int, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return errors.New(errors.ErrCodeWorkflow, "encode journal payload", err)
		}
		raw = b
	}
	_, err := ex.journal.AppendEvent(ctx, &store.WorkflowEvent{
		RunID:    ex.runID,
		Type:     eventType,
		Activity: activity,
		Attempt:  attempt,
		Payload:  raw,
	})
	if err != nil {
		return errors.New(errors.ErrCodeWorkflow, "append journal event", err)
	}
	return nil
}

func (ex *Execution) notify(phase domain.RunPhase, pct float64, message string) {
	if ex.onHeartbeat != nil {
		ex.onHeartbeat(phase, pct, message)
	}
}

func (ex *Execution) currentPhase() domain.RunPhase {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.phase
}

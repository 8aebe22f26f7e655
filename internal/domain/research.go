package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// RunStatus is the lifecycle state of a research run.
// COMPLETED, FAILED, and CANCELLED are terminal.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunPaused    RunStatus = "PAUSED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunPhase is the research pipeline phase a run is currently executing.
type RunPhase string

const (
	PhaseInitializing RunPhase = "INITIALIZING"
	PhaseIndexing     RunPhase = "INDEXING"
	PhaseSearching    RunPhase = "SEARCHING"
	PhaseAnalyzing    RunPhase = "ANALYZING"
	PhaseHypothesis   RunPhase = "HYPOTHESIS_GENERATION"
	PhaseDossier      RunPhase = "DOSSIER_GENERATION"
	PhaseCompleted    RunPhase = "COMPLETED"
)

// phaseProgress maps each phase to its nominal completion percentage.
var phaseProgress = map[RunPhase]float64{
	PhaseInitializing: 5,
	PhaseIndexing:     15,
	PhaseSearching:    35,
	PhaseAnalyzing:    60,
	PhaseHypothesis:   80,
	PhaseDossier:      95,
	PhaseCompleted:    100,
}

// ProgressPct returns the progress percentage for a run in the given
// status and phase. COMPLETED and FAILED pin to 100; CANCELLED keeps the
// value of the phase it was cancelled in.
func ProgressPct(status RunStatus, phase RunPhase) float64 {
	if status == RunCompleted || status == RunFailed {
		return 100
	}
	if pct, ok := phaseProgress[phase]; ok {
		return pct
	}
	return 0
}

// ResearchRun is one execution of the deep-research workflow for a case.
type ResearchRun struct {
	ID            string
	CaseID        string
	Query         string
	DefenseTheory string
	Status        RunStatus
	Phase         RunPhase
	WorkflowID    string
	StartedAt     time.Time
	CompletedAt   *time.Time
	HeartbeatAt   time.Time
	Errors        []string
	Metadata      map[string]any
}

// NewResearchRun creates a run in PENDING state.
func NewResearchRun(caseID, query, defenseTheory string) (*ResearchRun, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation("case_id is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.Validation("research query is required")
	}

	now := time.Now().UTC()
	return &ResearchRun{
		ID:            NewID(),
		CaseID:        caseID,
		Query:         query,
		DefenseTheory: defenseTheory,
		Status:        RunPending,
		Phase:         PhaseInitializing,
		StartedAt:     now,
		HeartbeatAt:   now,
		Metadata:      map[string]any{},
	}, nil
}

// Complete marks the run terminal with the given status, stamping
// completed_at. Completing an already-terminal run is an error.
func (r *ResearchRun) Complete(status RunStatus) error {
	if !status.Terminal() {
		return errors.Validationf("status %s is not terminal", status)
	}
	if r.Status.Terminal() {
		return errors.Validationf("run %s already terminal in status %s", r.ID, r.Status)
	}

	now := time.Now().UTC()
	if now.Before(r.StartedAt) {
		now = r.StartedAt
	}
	r.Status = status
	r.CompletedAt = &now
	if status == RunCompleted {
		r.Phase = PhaseCompleted
	}
	return nil
}

// Progress returns the current progress percentage of the run.
func (r *ResearchRun) Progress() float64 {
	return ProgressPct(r.Status, r.Phase)
}

package research

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
	"github.com/caseweave/caseweave/internal/store"
)

const defaultHeartbeatInterval = 30 * time.Second

// Service starts, signals, and resumes deep-research runs. Workflows
// execute on service-owned goroutines detached from the caller's
// request context: closing the service suspends them mid-activity, and
// Resume re-drives suspended runs from the journal after a restart.
type Service struct {
	deps   Deps
	logger *slog.Logger
	retry  errors.RetryConfig

	heartbeatInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool
	live     map[string]liveState
	closed   bool
}

type liveState struct {
	phase   domain.RunPhase
	pct     float64
	message string
}

// Option tunes the service.
type Option func(*Service)

// WithRetryConfig overrides the per-activity retry policy.
func WithRetryConfig(cfg errors.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// NewService validates the dependency set and returns a ready service.
func NewService(deps Deps, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = defaultHeartbeatInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		deps:              deps,
		logger:            deps.Logger,
		retry:             errors.DefaultRetryConfig(),
		heartbeatInterval: deps.HeartbeatInterval,
		ctx:               ctx,
		cancel:            cancel,
		inFlight:          make(map[string]bool),
		live:              make(map[string]liveState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StartDeepResearch validates the case, persists a PENDING run with its
// workflow identity, and launches the workflow. It returns as soon as
// the run is accepted; progress is observable through the query side.
func (s *Service) StartDeepResearch(ctx context.Context, caseID, query, defenseTheory string) (*domain.ResearchRun, error) {
	if _, err := s.deps.Metadata.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	run, err := domain.NewResearchRun(caseID, query, defenseTheory)
	if err != nil {
		return nil, err
	}
	run.WorkflowID = "wf-" + domain.HashID(run.ID, "workflow")
	if err := s.deps.Metadata.SaveResearchRun(ctx, run); err != nil {
		return nil, err
	}
	if err := s.launch(run); err != nil {
		return nil, err
	}
	s.logger.Info("research_started",
		"run_id", run.ID,
		"case_id", caseID,
		"workflow_id", run.WorkflowID)
	return run, nil
}

// Signal enqueues a control signal for delivery at the workflow's next
// checkpoint. A resume aimed at a run with no live executor re-drives
// it in this process.
func (s *Service) Signal(ctx context.Context, runID, name string) error {
	switch name {
	case SignalCancel, SignalPause, SignalResume:
	default:
		return errors.Validationf("unknown control signal %q", name)
	}
	run, err := s.deps.Metadata.GetResearchRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return errors.Validationf("run %s is already %s", runID, run.Status)
	}
	if err := s.deps.Journal.SendSignal(ctx, &store.WorkflowSignal{
		ID:    domain.NewID(),
		RunID: runID,
		Name:  name,
	}); err != nil {
		return errors.New(errors.ErrCodeWorkflow, "send control signal", err)
	}
	s.logger.Info("research_signal", "run_id", runID, "signal", name)

	if name == SignalResume && !s.isRunning(runID) {
		// The executor that would consume this resume is gone; the
		// relaunch replays the journal and drops the stale signal.
		if err := s.Resume(ctx, runID); err != nil && !errors.IsKind(err, errors.KindValidation) {
			return err
		}
	}
	return nil
}

// Resume re-drives a run whose executor is gone, typically after a
// process restart. The journal replay skips completed activities, so
// the run continues from its last checkpoint.
func (s *Service) Resume(ctx context.Context, runID string) error {
	run, err := s.deps.Metadata.GetResearchRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return errors.Validationf("run %s is already %s", runID, run.Status)
	}
	if s.isRunning(runID) {
		return errors.Validationf("run %s is already executing", runID)
	}
	if err := s.launch(run); err != nil {
		return err
	}
	s.logger.Info("research_resumed", "run_id", runID, "status", string(run.Status), "phase", string(run.Phase))
	return nil
}

// ResumePending re-drives every non-terminal run, across all cases
// when caseID is empty. Typically called at startup. Runs that fail to
// launch are logged and skipped.
func (s *Service) ResumePending(ctx context.Context, caseID string) (int, error) {
	caseIDs := []string{caseID}
	if caseID == "" {
		cases, err := s.deps.Metadata.ListCases(ctx, "", 1000, 0)
		if err != nil {
			return 0, err
		}
		caseIDs = caseIDs[:0]
		for _, c := range cases {
			caseIDs = append(caseIDs, c.ID)
		}
	}

	resumed := 0
	for _, id := range caseIDs {
		runs, _, err := s.deps.Metadata.ListResearchRuns(ctx, id, store.RunFilter{Limit: 1000})
		if err != nil {
			return resumed, err
		}
		for _, run := range runs {
			if run.Status.Terminal() || s.isRunning(run.ID) {
				continue
			}
			if err := s.launch(run); err != nil {
				s.logger.Warn("resume_failed", "run_id", run.ID, "error", err)
				continue
			}
			resumed++
		}
	}
	return resumed, nil
}

// LiveProgress reports in-memory progress for a run executing in this
// process. Status queries overlay it on the persisted snapshot.
func (s *Service) LiveProgress(runID string) (domain.RunPhase, float64, string, bool) {
	s.mu.Lock()
	st, ok := s.live[runID]
	s.mu.Unlock()
	return st.phase, st.pct, st.message, ok
}

// HealthCheck verifies the system of record answers. A missing model
// backend is reported in the log only: runs degrade to extractive
// output rather than refusing to start.
func (s *Service) HealthCheck(ctx context.Context) error {
	if _, err := s.deps.Metadata.GetState(ctx, "health_probe"); err != nil {
		return errors.New(errors.ErrCodeStoreIO, "metadata store unavailable", err)
	}
	if !s.deps.LLM.Available(ctx) {
		s.logger.Warn("model_backend_unavailable", "model", s.deps.LLM.ModelName())
	}
	return nil
}

// Close stops accepting runs and suspends in-flight workflows: their
// contexts cancel, progress stays journaled, and Resume picks them up
// on the next start.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Service) launch(run *domain.ResearchRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Validation("research service is closed")
	}
	if s.inFlight[run.ID] {
		return errors.Validationf("run %s is already executing", run.ID)
	}
	s.inFlight[run.ID] = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearRun(run.ID)
		s.drive(s.ctx, run)
	}()
	return nil
}

func (s *Service) clearRun(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Service) isRunning(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[runID]
}

// drive owns one run's lifetime inside this process: journal replay,
// the phase script, and terminal bookkeeping.
func (s *Service) drive(ctx context.Context, run *domain.ResearchRun) {
	ex, err := newExecution(ctx, run.ID, s.deps.Journal, s.deps.Metadata, s.logger, s.retry, s.deps.SignalPoll, s.publish(run.ID))
	if err != nil {
		s.failRun(ctx, nil, run.ID, err)
		return
	}

	// Background liveness while activities run long.
	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go s.tickHeartbeat(hbCtx, run.ID)

	err = s.runWorkflow(ctx, ex, run)
	switch {
	case err == nil:
	case stderrors.Is(err, ErrRunCancelled):
		s.cancelRun(ctx, run.ID)
	case stderrors.Is(err, context.Canceled):
		// Service shutdown: the run stays non-terminal for Resume.
		s.logger.Info("research_suspended", "run_id", run.ID)
	default:
		s.failRun(ctx, ex, run.ID, err)
	}
}

func (s *Service) publish(runID string) func(domain.RunPhase, float64, string) {
	return func(phase domain.RunPhase, pct float64, message string) {
		s.mu.Lock()
		s.live[runID] = liveState{phase: phase, pct: pct, message: message}
		s.mu.Unlock()
	}
}

func (s *Service) tickHeartbeat(ctx context.Context, runID string) {
	t := time.NewTicker(s.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.deps.Metadata.HeartbeatRun(ctx, runID, time.Now().UTC()); err != nil {
				s.logger.Warn("heartbeat_failed", "run_id", runID, "error", err)
			}
		}
	}
}

// cancelRun stamps the CANCELLED terminal state, keeping the phase the
// run was cancelled in so progress reporting stays truthful.
func (s *Service) cancelRun(ctx context.Context, runID string) {
	run, err := s.deps.Metadata.GetResearchRun(ctx, runID)
	if err != nil || run.Status.Terminal() {
		return
	}
	if err := run.Complete(domain.RunCancelled); err != nil {
		s.logger.Warn("cancel_bookkeeping_failed", "run_id", runID, "error", err)
		return
	}
	if err := s.deps.Metadata.SaveResearchRun(ctx, run); err != nil {
		s.logger.Warn("cancel_bookkeeping_failed", "run_id", runID, "error", err)
	}
}

// failRun stamps the FAILED terminal state and records the cause on the
// run row and in the journal.
func (s *Service) failRun(ctx context.Context, ex *Execution, runID string, cause error) {
	s.logger.Error("research_failed", "run_id", runID, "error", cause)
	if ex != nil {
		_ = ex.append(ctx, EventRunFailed, "", 0, map[string]string{"error": cause.Error()})
	}
	run, err := s.deps.Metadata.GetResearchRun(ctx, runID)
	if err != nil || run.Status.Terminal() {
		return
	}
	run.Errors = append(run.Errors, cause.Error())
	if err := run.Complete(domain.RunFailed); err != nil {
		s.logger.Warn("fail_bookkeeping_failed", "run_id", runID, "error", err)
		return
	}
	if err := s.deps.Metadata.SaveResearchRun(ctx, run); err != nil {
		s.logger.Warn("fail_bookkeeping_failed", "run_id", runID, "error", err)
	}
}

package research

import (
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/caseweave/caseweave/internal/domain"
)

// runWorkflow drives one run through every phase. All durable effects
// go through the execution, so re-driving a partially completed run
// replays journaled work and continues from wherever it stopped.
//
// Signals are honored at the checkpoints between activities: a cancel
// surfaces as ErrRunCancelled, a pause parks the goroutine until resume
// or cancel.
func (s *Service) runWorkflow(ctx context.Context, ex *Execution, run *domain.ResearchRun) error {
	acts := &activities{deps: s.deps, log: s.logger}

	if err := ex.EnterPhase(ctx, domain.PhaseInitializing); err != nil {
		return err
	}
	if _, err := RunActivity(ctx, ex, actInitialize, func(ctx context.Context) (initOutput, error) {
		return acts.initialize(ctx, run)
	}); err != nil {
		return err
	}
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	if err := ex.EnterPhase(ctx, domain.PhaseIndexing); err != nil {
		return err
	}
	disc, err := RunActivity(ctx, ex, actDiscovery, func(ctx context.Context) (discoveryOutput, error) {
		return acts.discovery(ctx, run)
	})
	if err != nil {
		return err
	}
	ex.Heartbeat(ctx, 15, fmt.Sprintf("%d evidence items inventoried", disc.Total))
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	if err := ex.EnterPhase(ctx, domain.PhaseSearching); err != nil {
		return err
	}
	plan, err := RunActivity(ctx, ex, actPlanning, func(ctx context.Context) (planOutput, error) {
		return acts.plan(ctx, run, disc)
	})
	if err != nil {
		return err
	}
	ex.Heartbeat(ctx, 35, fmt.Sprintf("%d search terms planned", len(plan.SearchTerms)))
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	if err := ex.EnterPhase(ctx, domain.PhaseAnalyzing); err != nil {
		return err
	}
	// Fan out one analysis branch per evidence class. Branches retry
	// independently and completed ones are journaled, so a failure here
	// fails the run without discarding sibling work. Branch errors are
	// collected, not short-circuited: every branch gets its full chance
	// before the run is judged.
	branches := make([]analysisOutput, len(domain.EvidenceClasses))
	branchErrs := make([]error, len(domain.EvidenceClasses))
	var g errgroup.Group
	for i, class := range domain.EvidenceClasses {
		g.Go(func() error {
			out, err := RunActivity(ctx, ex, analysisActivity(class), func(ctx context.Context) (analysisOutput, error) {
				return acts.analyze(ctx, run, class, plan.SearchTerms, disc.CountsByClass[string(class)])
			})
			branches[i], branchErrs[i] = out, err
			if err == nil {
				ex.Heartbeat(ctx, 50, fmt.Sprintf("%s analysis complete, %d findings", class, out.Findings))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := stderrors.Join(branchErrs...); err != nil {
		return err
	}
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	corr, err := RunActivity(ctx, ex, actCorrelation, func(ctx context.Context) (correlationOutput, error) {
		return acts.correlateFindings(ctx, run, disc)
	})
	if err != nil {
		return err
	}
	ex.Heartbeat(ctx, 60, fmt.Sprintf("correlation built %d nodes, %d timeline events", corr.Nodes, corr.TimelineEvents))
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	if err := ex.EnterPhase(ctx, domain.PhaseHypothesis); err != nil {
		return err
	}
	syn, err := RunActivity(ctx, ex, actSynthesis, func(ctx context.Context) (synthesisOutput, error) {
		return acts.synthesize(ctx, run, disc, plan, branches, corr)
	})
	if err != nil {
		return err
	}
	ex.Heartbeat(ctx, 80, fmt.Sprintf("dossier drafted, %d words", syn.WordCount))
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	if err := ex.EnterPhase(ctx, domain.PhaseDossier); err != nil {
		return err
	}
	rep, err := RunActivity(ctx, ex, actReport, func(ctx context.Context) (reportOutput, error) {
		return acts.generateReports(ctx, run)
	})
	if err != nil {
		return err
	}
	if len(rep.Files) > 0 {
		ex.Heartbeat(ctx, 95, fmt.Sprintf("%d report files rendered", len(rep.Files)))
	}
	if err := ex.Checkpoint(ctx); err != nil {
		return err
	}

	return s.completeRun(ctx, ex, run.ID)
}

// completeRun stamps the terminal COMPLETED state. Re-driving an
// already-terminal run is a no-op so replays converge.
func (s *Service) completeRun(ctx context.Context, ex *Execution, runID string) error {
	run, err := s.deps.Metadata.GetResearchRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	if err := run.Complete(domain.RunCompleted); err != nil {
		return err
	}
	if err := s.deps.Metadata.SaveResearchRun(ctx, run); err != nil {
		return err
	}
	if err := ex.append(ctx, EventRunCompleted, "", 0, nil); err != nil {
		return err
	}
	ex.notify(domain.PhaseCompleted, 100, "")
	s.logger.Info("research_complete",
		"run_id", run.ID,
		"case_id", run.CaseID,
		"duration_ms", run.CompletedAt.Sub(run.StartedAt).Milliseconds())
	return nil
}

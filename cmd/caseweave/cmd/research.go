package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/output"
	"github.com/caseweave/caseweave/internal/research"
	"github.com/caseweave/caseweave/internal/store"
)

func newResearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "research",
		Short: "Run and manage deep research workflows",
		Long: `Deep research runs a durable multi-phase workflow over a case:
plan search terms, search evidence, extract findings, correlate them
into contradictions and patterns, and render a dossier.

Runs survive process restarts: 'caseweave serve' resumes interrupted
runs from their journals, and 'research resume' re-drives one by hand.`,
	}

	cmd.AddCommand(newResearchStartCmd())
	cmd.AddCommand(newResearchStatusCmd())
	cmd.AddCommand(newResearchListCmd())
	cmd.AddCommand(newResearchSignalCmd("cancel", "Cancel a research run at its next checkpoint"))
	cmd.AddCommand(newResearchSignalCmd("pause", "Pause a research run at its next checkpoint"))
	cmd.AddCommand(newResearchSignalCmd("resume", "Resume a paused or interrupted research run"))

	return cmd
}

func newResearchStartCmd() *cobra.Command {
	var (
		caseNumber string
		theory     string
		wait       bool
	)

	cmd := &cobra.Command{
		Use:   "start <query>",
		Short: "Start a deep research run",
		Example: `  # Start research and return immediately
  caseweave research start "follow the escrow funds" \
      --case-number 2024-CV-0412

  # Block until the run finishes, reporting phase changes
  caseweave research start "follow the escrow funds" \
      --case-number 2024-CV-0412 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseNumber == "" {
				return fmt.Errorf("--case-number is required")
			}
			return runResearchStart(cmd.Context(), cmd.OutOrStdout(), caseNumber, args[0], theory, wait)
		},
	}

	cmd.Flags().StringVar(&caseNumber, "case-number", "", "Case to research")
	cmd.Flags().StringVar(&theory, "theory", "", "Defense theory guiding hypothesis generation")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the run completes")

	return cmd
}

func runResearchStart(ctx context.Context, w io.Writer, caseNumber, queryText, theory string, wait bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newResearch()
	if err != nil {
		return err
	}
	defer svc.Close()

	cs, err := a.metadata.GetCaseByNumber(ctx, caseNumber)
	if err != nil {
		return err
	}

	run, err := svc.StartDeepResearch(ctx, cs.ID, queryText, theory)
	if err != nil {
		return err
	}

	out := output.New(w)
	out.Successf("Research started: %s", run.ID)
	out.Field("Case:", cs.CaseNumber)
	out.Field("Status:", string(run.Status))

	if !wait {
		out.Newline()
		out.Statusf("💡", "Track progress with: caseweave research status %s", run.ID)
		return nil
	}
	return waitForRun(ctx, a.metadata, out, run.ID)
}

// waitForRun polls the run until it reaches a terminal status,
// reporting phase transitions as they happen.
func waitForRun(ctx context.Context, metadata store.MetadataStore, out *output.Writer, runID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastPhase domain.RunPhase
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run, err := metadata.GetResearchRun(ctx, runID)
			if err != nil {
				return err
			}
			if run.Phase != lastPhase {
				lastPhase = run.Phase
				out.Statusf("⏳", "Phase: %s", run.Phase)
			}
			if !run.Status.Terminal() {
				continue
			}
			switch run.Status {
			case domain.RunCompleted:
				out.Successf("Research completed in %s", run.HeartbeatAt.Sub(run.StartedAt).Round(time.Second))
			case domain.RunCancelled:
				out.Warning("Research cancelled")
			default:
				out.Errorf("Research failed: %v", run.Errors)
			}
			return nil
		}
	}
}

func newResearchStatusCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of a research run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearchStatus(cmd.Context(), cmd.OutOrStdout(), args[0], jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runResearchStatus(ctx context.Context, w io.Writer, runID string, jsonOut bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.metadata.GetResearchRun(ctx, runID)
	if err != nil {
		return err
	}
	findings, citations, err := a.metadata.CountFindings(ctx, runID)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run":       run,
			"findings":  findings,
			"citations": citations,
		})
	}

	out := output.New(w)
	out.Field("Run:", run.ID)
	out.Field("Case:", run.CaseID)
	out.Field("Query:", run.Query)
	out.Field("Status:", string(run.Status))
	out.Field("Phase:", string(run.Phase))
	out.Field("Started:", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		out.Field("Completed:", run.CompletedAt.Format(time.RFC3339))
	}
	out.Field("Findings:", fmt.Sprintf("%d (%d citations)", findings, citations))
	for _, msg := range run.Errors {
		out.Error(msg)
	}
	return nil
}

func newResearchListCmd() *cobra.Command {
	var (
		caseNumber string
		status     string
		limit      int
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List research runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResearchList(cmd.Context(), cmd.OutOrStdout(), caseNumber, status, limit, jsonOut)
		},
	}
	cmd.Flags().StringVar(&caseNumber, "case-number", "", "Restrict to one case")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, PAUSED, COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runResearchList(ctx context.Context, w io.Writer, caseNumber, status string, limit int, jsonOut bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	caseID := ""
	if caseNumber != "" {
		cs, err := a.metadata.GetCaseByNumber(ctx, caseNumber)
		if err != nil {
			return err
		}
		caseID = cs.ID
	}

	runs, total, err := a.metadata.ListResearchRuns(ctx, caseID, store.RunFilter{
		Status: domain.RunStatus(status),
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"runs": runs, "total": total})
	}

	out := output.New(w)
	if len(runs) == 0 {
		out.Status("🔬", "No research runs found")
		return nil
	}
	out.Statusf("🔬", "%d of %d research runs", len(runs), total)
	out.Newline()
	for _, run := range runs {
		out.Statusf("•", "%s  %-9s %-22s %s", run.ID, run.Status, run.Phase, run.Query)
	}
	return nil
}

// newResearchSignalCmd builds cancel, pause, and resume, which differ
// only in the signal they enqueue.
func newResearchSignalCmd(signalName, short string) *cobra.Command {
	return &cobra.Command{
		Use:   signalName + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearchSignal(cmd.Context(), cmd.OutOrStdout(), args[0], signalName)
		},
	}
}

func runResearchSignal(ctx context.Context, w io.Writer, runID, signalName string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.newResearch()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Signal(ctx, runID, signalName); err != nil {
		return err
	}
	out := output.New(w)
	out.Successf("Signal %q accepted for run %s", signalName, runID)
	if signalName == research.SignalCancel || signalName == research.SignalPause {
		out.Status("ℹ️ ", "The signal takes effect at the run's next checkpoint")
	}
	return nil
}

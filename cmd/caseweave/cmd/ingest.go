package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/indexing"
	"github.com/caseweave/caseweave/internal/output"
	"github.com/caseweave/caseweave/internal/ui"
	"github.com/caseweave/caseweave/internal/watcher"
)

func newIngestCmd() *cobra.Command {
	var (
		caseID     string
		caseNumber string
		client     string
		matterType string
		force      bool
		watch      bool
		plain      bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [paths...]",
		Short: "Index evidence files into a case",
		Long: `Ingest evidence files or directories into the evidence store.

Supported formats: .txt .md (documents), .srt .vtt (transcripts),
.eml .mbox .chat (communications). The case is named by --case or
--case-number; an unknown case number creates the case using --client
and --matter.

With --watch, paths are ignored and the evidence inbox is watched
instead: new or changed files are ingested as they settle, until
interrupted.`,
		Example: `  # Ingest a directory into an existing case
  caseweave ingest ./discovery --case-number 2024-CV-0412

  # Create the case on first ingest
  caseweave ingest ./discovery --case-number 2024-CV-0412 \
      --client "Hollis & Gray" --matter contract

  # Watch the inbox and ingest continuously
  caseweave ingest --watch --case-number 2024-CV-0412`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if caseID == "" && caseNumber == "" {
				return fmt.Errorf("either --case or --case-number is required")
			}
			if !watch && len(args) == 0 {
				return fmt.Errorf("at least one path is required (or use --watch)")
			}
			req := &indexing.IngestRequest{
				CaseID:     caseID,
				CaseNumber: caseNumber,
				Client:     client,
				MatterType: matterType,
				Paths:      args,
				Force:      force,
			}
			if watch {
				return runIngestWatch(cmd.Context(), cmd.OutOrStdout(), req, plain, noColor)
			}
			return runIngest(cmd.Context(), cmd.OutOrStdout(), req, plain, noColor)
		},
	}

	cmd.Flags().StringVar(&caseID, "case", "", "Case ID to ingest into")
	cmd.Flags().StringVar(&caseNumber, "case-number", "", "Case number (e.g. 2024-CV-0412)")
	cmd.Flags().StringVar(&client, "client", "", "Client name when creating a new case")
	cmd.Flags().StringVar(&matterType, "matter", "", "Matter type when creating a new case")
	cmd.Flags().BoolVar(&force, "force", false, "Re-ingest files even if unchanged")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the evidence inbox and ingest continuously")
	cmd.Flags().BoolVar(&plain, "plain", false, "Line-oriented output (no live progress bar)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runIngest(ctx context.Context, w io.Writer, req *indexing.IngestRequest, plain, noColor bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	renderer := ui.NewRenderer(ui.NewConfig(w,
		ui.WithForcePlain(plain),
		ui.WithNoColor(noColor),
		ui.WithDataDir(a.cfg.DataDir),
	))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer renderer.Stop()

	pipeline, err := a.newPipeline(renderer)
	if err != nil {
		return err
	}

	start := time.Now()
	report, err := pipeline.Ingest(ctx, req)
	if err != nil {
		return err
	}

	errCount := 0
	for _, res := range report.Results {
		if res.Err != "" {
			errCount++
		}
	}
	renderer.Complete(ui.CompletionStats{
		Files:    report.Indexed,
		Chunks:   report.Chunks,
		Duration: time.Since(start),
		Errors:   errCount,
		Warnings: report.Skipped,
		Embedder: ui.EmbedderInfo{
			Backend:    a.cfg.Embeddings.Provider,
			Dimensions: a.embedder.Dimensions(),
		},
	})
	return nil
}

// newPipeline builds the ingest pipeline, feeding progress into the
// renderer when one is given.
func (a *app) newPipeline(renderer ui.Renderer) (*indexing.Pipeline, error) {
	writer, err := indexing.NewDualWriter(a.vector, a.lexical, a.metadata, a.logger)
	if err != nil {
		return nil, err
	}

	deps := indexing.PipelineDeps{
		Metadata: a.metadata,
		Writer:   writer,
		Embedder: a.embedder,
		Governor: a.gov,
		Logger:   a.logger,
		LockPath: a.ingestLockPath(),
		Workers:  a.cfg.Ingest.Workers,
	}
	if renderer != nil {
		deps.OnDiscovered = func(total int) {
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageScanning,
				Total:   total,
				Message: fmt.Sprintf("%d evidence files found", total),
			})
		}
		deps.OnFileDone = func(res indexing.FileResult, done, total int) {
			if res.Err != "" {
				renderer.AddError(ui.ErrorEvent{File: res.Path, Err: fmt.Errorf("%s", res.Err)})
			}
			renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageWriting,
				Current:     done,
				Total:       total,
				CurrentFile: res.Path,
			})
		}
	}
	return indexing.NewPipeline(deps)
}

// runIngestWatch watches the evidence inbox and ingests each settled
// batch of created or modified files into the named case.
func runIngestWatch(ctx context.Context, w io.Writer, req *indexing.IngestRequest, plain, noColor bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := output.New(w)

	inbox := a.cfg.InboxPath()
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return fmt.Errorf("create inbox directory: %w", err)
	}

	inboxWatch, err := watcher.NewInboxWatcher(watcher.Options{
		DebounceWindow: a.cfg.WatchDebounce(),
		Accept:         indexing.Ingestable,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := inboxWatch.Start(ctx, inbox); err != nil {
		return err
	}
	defer inboxWatch.Stop()

	pipeline, err := a.newPipeline(nil)
	if err != nil {
		return err
	}

	out.Statusf("👀", "Watching %s (%s mode), Ctrl-C to stop", inbox, inboxWatch.Mode())

	for {
		select {
		case <-ctx.Done():
			out.Status("🛑", "Watch stopped")
			return nil
		case err, ok := <-inboxWatch.Errors():
			if !ok {
				return nil
			}
			out.Errorf("watch error: %v", err)
		case batch, ok := <-inboxWatch.Events():
			if !ok {
				return nil
			}
			paths := ingestablePaths(batch)
			if len(paths) == 0 {
				continue
			}
			batchReq := *req
			batchReq.Paths = paths
			report, err := pipeline.Ingest(ctx, &batchReq)
			if err != nil {
				out.Errorf("ingest failed: %v", err)
				continue
			}
			out.Successf("Indexed %d files (%d chunks) into case %s",
				report.Indexed, report.Chunks, report.CaseID)
		}
	}
}

// ingestablePaths extracts created and modified file paths from a
// watch batch. Deletes and directory events are skipped; reaping of
// removed evidence is handled separately.
func ingestablePaths(batch []watcher.FileEvent) []string {
	var paths []string
	for _, ev := range batch {
		if ev.IsDir {
			continue
		}
		switch ev.Operation {
		case watcher.OpCreate, watcher.OpModify, watcher.OpRename:
			paths = append(paths, ev.Path)
		}
	}
	return paths
}

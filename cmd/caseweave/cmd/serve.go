package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/indexing"
	"github.com/caseweave/caseweave/internal/mcp"
	"github.com/caseweave/caseweave/internal/preflight"
	"github.com/caseweave/caseweave/internal/query"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		skipCheck bool
		noResume  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evidence search and research tools over MCP",
		Long: `Start the MCP server on stdio.

Stdout carries JSON-RPC exclusively once the server starts, so all
diagnostics go to the log file. Interrupted research runs are resumed
from their journals unless --no-resume is set.`,
		Example: `  # Serve over stdio (for MCP clients)
  caseweave serve

  # Skip environment checks and workflow resumption
  caseweave serve --skip-check --no-resume`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), transport, skipCheck, noResume)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "MCP transport (stdio)")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip environment checks")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Do not resume interrupted research runs")

	return cmd
}

func runServe(ctx context.Context, transport string, skipCheck, noResume bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if transport == "" {
		transport = "stdio"
	}

	// Environment checks run silently: stdout must stay clean for
	// JSON-RPC, and results land in the log anyway.
	if !skipCheck && preflight.NeedsCheck(cfg.DataDir) {
		checker := preflight.NewChecker(cfg, preflight.WithOutput(io.Discard))
		results := checker.RunAll(ctx)
		if preflight.HasCriticalFailures(results) {
			return fmt.Errorf("environment check failed; run 'caseweave check' for details")
		}
		_ = preflight.MarkPassed(cfg.DataDir)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	svc, err := a.newResearch()
	if err != nil {
		return err
	}
	defer svc.Close()

	if !noResume {
		resumed, err := svc.ResumePending(ctx, "")
		if err != nil {
			logger.Warn("resume pending research failed", "error", err)
		} else if resumed > 0 {
			logger.Info("resumed interrupted research runs", "count", resumed)
		}
	}

	if a.cfg.Research.Reaper.Enabled {
		reaper := indexing.NewReaper(a.vector, a.lexical, a.metadata, logger,
			indexing.WithReapInterval(a.cfg.ReaperInterval()),
			indexing.WithReapBatch(a.cfg.Research.Reaper.BatchSize),
		)
		reaper.Start(ctx)
		defer reaper.Stop()
	}

	bus := query.NewBus()
	bus.Use(query.NewValidationMiddleware())
	bus.Use(query.NewLoggingMiddleware(logger))
	handlers, err := query.NewHandlers(query.HandlerDeps{
		Metadata: a.metadata,
		Searcher: a.engine,
		Live:     svc,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := handlers.RegisterAll(bus); err != nil {
		return err
	}

	server, err := mcp.NewServer(bus, svc, logger)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.Serve(ctx, transport)
}

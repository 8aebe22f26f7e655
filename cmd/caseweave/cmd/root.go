// Package cmd implements the caseweave CLI commands.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/logging"
	"github.com/caseweave/caseweave/internal/profiling"
	"github.com/caseweave/caseweave/pkg/version"
)

// Persistent flag state shared by the pre/post run hooks.
var (
	flagDataDir string
	flagDebug   bool

	profileCPU   string
	profileMem   string
	profileTrace string

	profileSession *profiling.Session
	loggingCleanup func()
)

// NewRootCmd creates the caseweave root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caseweave",
		Short: "Case-centric evidence search and research platform",
		Long: `CaseWeave indexes legal evidence (documents, transcripts,
communications) into a hybrid lexical + vector store and exposes
search, deep research, timelines, and knowledge graphs over MCP.

Typical flow:

  caseweave indexes create          # prepare the evidence store
  caseweave ingest ./evidence \
      --case-number 2024-CV-0412    # index evidence into a case
  caseweave serve                   # expose MCP tools over stdio`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("caseweave version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagDataDir, "data-dir", "", "Override the evidence store directory")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	pf.StringVar(&profileCPU, "profile-cpu", "", "Write a CPU profile to this file")
	pf.StringVar(&profileMem, "profile-mem", "", "Write a heap profile to this file on exit")
	pf.StringVar(&profileTrace, "profile-trace", "", "Write an execution trace to this file")

	cmd.PersistentPreRunE = startDiagnostics
	cmd.PersistentPostRunE = stopDiagnostics

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newResearchCmd())
	cmd.AddCommand(newIndexesCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// startDiagnostics enables debug logging and profiling when requested.
func startDiagnostics(_ *cobra.Command, _ []string) error {
	if flagDebug {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Debug("debug logging enabled", "log_file", logging.DefaultLogPath())
	}

	opts := profiling.Options{
		CPUPath:   profileCPU,
		HeapPath:  profileMem,
		TracePath: profileTrace,
	}
	if opts.Enabled() {
		session, err := profiling.Start(opts)
		if err != nil {
			return err
		}
		profileSession = session
	}
	return nil
}

// stopDiagnostics flushes profiles and closes the debug log.
func stopDiagnostics(_ *cobra.Command, _ []string) error {
	if profileSession != nil {
		if err := profileSession.Stop(); err != nil {
			return err
		}
		profileSession = nil
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

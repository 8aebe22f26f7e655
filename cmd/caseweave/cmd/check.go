package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/preflight"
)

func newCheckCmd() *cobra.Command {
	var (
		verbose    bool
		noGovernor bool
		clear      bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the environment before serving or ingesting",
		Long: `Run the environment checks: disk space, memory, write permissions,
file descriptor limits, embeddings configuration, and governor (Redis)
reachability. A passing run is remembered for 24 hours so server
startup can skip it.`,
		Example: `  # Run all checks with details
  caseweave check --verbose

  # Forget the last passing run
  caseweave check --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if clear {
				if err := preflight.ClearMarker(cfg.DataDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Check marker cleared.")
				return nil
			}

			opts := []preflight.Option{preflight.WithOutput(cmd.OutOrStdout())}
			if verbose {
				opts = append(opts, preflight.WithVerbose())
			}
			if noGovernor {
				opts = append(opts, preflight.WithoutGovernorProbe())
			}

			checker := preflight.NewChecker(cfg, opts...)
			results := checker.RunAll(cmd.Context())
			checker.PrintResults(results)

			if preflight.HasCriticalFailures(results) {
				return fmt.Errorf("environment check failed")
			}
			return preflight.MarkPassed(cfg.DataDir)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show per-check details")
	cmd.Flags().BoolVar(&noGovernor, "no-governor", false, "Skip the Redis reachability probe")
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the remembered check result")

	return cmd
}

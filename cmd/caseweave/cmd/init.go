package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/configs"
	"github.com/caseweave/caseweave/internal/output"
)

// caseConfigName is the per-case config file written into a case
// directory; config.Load picks it up from the working directory.
const caseConfigName = ".caseweave.yaml"

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Create a case configuration in a directory",
		Long: `Write a .caseweave.yaml template into a case directory. Settings in
it (search tuning, correlation thresholds, ingestion options) override
the user config whenever caseweave runs from that directory.`,
		Example: `  # Initialize the current directory
  caseweave init

  # Initialize a case directory
  caseweave init ~/cases/2024-CV-0412`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing case configuration")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create case directory: %w", err)
	}

	path := filepath.Join(dir, caseConfigName)
	if _, err := os.Stat(path); err == nil && !force {
		out.Warning("Case configuration already exists")
		out.Field("Location:", path)
		out.Status("💡", "Use --force to overwrite")
		return nil
	}

	if err := os.WriteFile(path, []byte(configs.CaseConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write case config: %w", err)
	}

	out.Success("Case configuration created")
	out.Field("Location:", path)
	out.Status("💡", "Next: caseweave ingest <evidence...> --case-number <number>")
	return nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/config"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/indexing"
	"github.com/caseweave/caseweave/internal/output"
)

func newIndexesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexes",
		Short: "Manage the per-class search indexes",
		Long: `Each evidence class (document, transcript, communication) has its
own lexical index and vector collection. These commands create them,
inspect their health, and remove orphaned chunks.`,
	}

	cmd.AddCommand(newIndexesCreateCmd())
	cmd.AddCommand(newIndexesHealthCmd())
	cmd.AddCommand(newIndexesReapCmd())

	return cmd
}

// newIndexLifecycle builds a lifecycle manager without opening the full
// stack, so create and health work on a data directory no server holds.
func newIndexLifecycle() (*indexing.Lifecycle, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	dims := cfg.Embeddings.Dimensions
	if dims <= 0 {
		dims = embed.DefaultDimensions
	}
	return indexing.NewLifecycle(cfg.LexicalPath(), cfg.VectorPath(), dims, nil), cfg, nil
}

func newIndexesCreateCmd() *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the index collections",
		Long: `Create the lexical index and vector collection for every evidence
class. The command is idempotent; --recreate drops and rebuilds
existing collections, losing their contents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexesCreate(cmd.Context(), cmd.OutOrStdout(), recreate)
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Drop and rebuild existing collections")
	return cmd
}

func runIndexesCreate(ctx context.Context, w io.Writer, recreate bool) error {
	lifecycle, cfg, err := newIndexLifecycle()
	if err != nil {
		return err
	}

	statuses, err := lifecycle.CreateAll(ctx, recreate)
	if err != nil {
		return err
	}

	out := output.New(w)
	out.Statusf("🗂 ", "Indexes under %s", cfg.DataDir)
	for _, collection := range sortedKeys(statuses) {
		out.Field(collection+":", string(statuses[collection]))
	}
	return nil
}

func newIndexesHealthCmd() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report per-collection index health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexesHealth(cmd.Context(), cmd.OutOrStdout(), jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runIndexesHealth(ctx context.Context, w io.Writer, jsonOut bool) error {
	lifecycle, cfg, err := newIndexLifecycle()
	if err != nil {
		return err
	}

	health, err := lifecycle.Health(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(health)
	}

	out := output.New(w)
	out.Statusf("🗂 ", "Index health under %s", cfg.DataDir)
	out.Newline()
	for _, collection := range sortedKeys(health) {
		h := health[collection]
		out.Status("•", collection)
		out.Field("Lexical:", describeIndex(h.Lexical.Exists, h.Lexical.DocCount, h.Lexical.SizeMB))
		out.Field("Vector:", describeIndex(h.Vector.Exists, h.Vector.DocCount, h.Vector.SizeMB))
	}
	return nil
}

func describeIndex(exists bool, docs uint64, sizeMB float64) string {
	if !exists {
		return "missing"
	}
	return fmt.Sprintf("%d docs, %.1f MB", docs, sizeMB)
}

func newIndexesReapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove orphaned chunks from the indexes",
		Long: `Sweep the indexes for chunks whose evidence no longer exists in
the system of record, and delete them. The server runs this sweep
periodically; the command forces one now.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndexesReap(cmd.Context(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runIndexesReap(ctx context.Context, w io.Writer) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	reaper := indexing.NewReaper(a.vector, a.lexical, a.metadata, a.logger,
		indexing.WithReapBatch(a.cfg.Research.Reaper.BatchSize),
	)
	report, err := reaper.Sweep(ctx)
	if err != nil {
		return err
	}

	out := output.New(w)
	if report.Skipped {
		out.Warning("Sweep skipped: an ingest is in progress")
		return nil
	}
	out.Successf("Swept %d chunks in %s", report.Scanned, report.Took.Round(time.Millisecond))
	out.Field("Orphans:", fmt.Sprintf("%d", report.Orphans))
	out.Field("Deleted:", fmt.Sprintf("%d", report.Deleted))
	for _, collection := range sortedKeys(report.PerCollection) {
		if n := report.PerCollection[collection]; n > 0 {
			out.Field(collection+":", fmt.Sprintf("%d orphans", n))
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

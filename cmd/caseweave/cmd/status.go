package cmd

import (
	"context"
	"database/sql"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/preflight"
	"github.com/caseweave/caseweave/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var (
		jsonOut bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show evidence store status",
		Long: `Report the state of the evidence store: case and evidence counts,
storage sizes, the embedding backend, and governor reachability.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), jsonOut, noColor)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, jsonOut, noColor bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.collectStatus(ctx)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(w, noColor || ui.DetectNoColor())
	if jsonOut {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func (a *app) collectStatus(ctx context.Context) (ui.StatusInfo, error) {
	cfg := a.cfg
	info := ui.StatusInfo{
		DataDir:        cfg.DataDir,
		EmbedderType:   cfg.Embeddings.Provider,
		EmbedderStatus: "ready",
		EmbedderDims:   a.embedder.Dimensions(),
	}
	if info.EmbedderType == "" {
		info.EmbedderType = "static"
	}

	db := a.metadata.DB()
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM cases", &info.Cases},
		{"SELECT COUNT(*) FROM evidence", &info.EvidenceFiles},
		{"SELECT COUNT(*) FROM chunks", &info.TotalChunks},
	}
	for _, c := range counts {
		if err := db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return info, err
		}
	}

	var last sql.NullTime
	if err := db.QueryRowContext(ctx,
		"SELECT MAX(updated_at) FROM evidence").Scan(&last); err == nil && last.Valid {
		info.LastIngested = last.Time
	}

	info.MetadataSize = fileSize(cfg.SQLitePath())
	info.LexicalSize = dirSize(cfg.LexicalPath())
	info.VectorSize = dirSize(cfg.VectorPath())
	info.TotalSize = info.MetadataSize + info.LexicalSize + info.VectorSize

	switch result := preflight.CheckGovernor(ctx, cfg.Governor); {
	case cfg.Governor.RedisAddr == "":
		info.GovernorStatus = "disabled"
	case result.Status == preflight.StatusPass:
		info.GovernorStatus = "ready"
	default:
		info.GovernorStatus = "offline"
	}
	return info, nil
}

func fileSize(path string) int64 {
	stat, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return stat.Size()
}

func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if stat, err := d.Info(); err == nil {
			total += stat.Size()
		}
		return nil
	})
	return total
}

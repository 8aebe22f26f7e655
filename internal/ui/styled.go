package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// StyledRenderer repaints a single progress line in place on an
// interactive terminal. It polls the tracker on a ticker rather than
// redrawing per event, so a fast embed loop cannot saturate the tty.
type StyledRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	styles  Styles
	tracker *ProgressTracker
	dataDir string

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopped  bool
	lineLive bool
}

const styledRefresh = 100 * time.Millisecond

// NewStyledRenderer creates the interactive renderer.
func NewStyledRenderer(cfg Config) *StyledRenderer {
	noColor := cfg.NoColor || DetectNoColor()
	return &StyledRenderer{
		out:     cfg.Output,
		styles:  GetStyles(noColor),
		tracker: NewProgressTracker(),
		dataDir: cfg.DataDir,
		done:    make(chan struct{}),
	}
}

// Start prints the header and begins the repaint loop.
func (r *StyledRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true

	header := "CaseWeave ingest"
	if r.dataDir != "" {
		header += "  " + r.styles.Label.Render(r.dataDir)
	}
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render(header))

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	go r.repaintLoop(loopCtx)
	return nil
}

func (r *StyledRenderer) repaintLoop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(styledRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.paint()
		}
	}
}

// paint redraws the progress line from the latest tracker snapshot.
func (r *StyledRenderer) paint() {
	stats := r.tracker.Stats()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	var sb strings.Builder
	sb.WriteString(r.styles.Stage.Render(fmt.Sprintf("%-9s", stats.Stage.String())))
	sb.WriteString(" ")
	sb.WriteString(r.styles.Progress.Render(renderBar(stats.Progress, 24)))

	if stats.Total > 0 {
		fmt.Fprintf(&sb, " %d/%d", stats.Current, stats.Total)
	}
	if stats.Speed.Current > 0 {
		sb.WriteString("  ")
		sb.WriteString(r.styles.Sparkline.Render(r.tracker.RenderSparkline(16)))
		fmt.Fprintf(&sb, " %.0f/s", stats.Speed.Current)
	}
	if stats.ETA > time.Second {
		sb.WriteString(r.styles.Label.Render(fmt.Sprintf("  eta %s", stats.ETA.Round(time.Second))))
	}
	if stats.ErrorCount > 0 {
		sb.WriteString("  ")
		sb.WriteString(r.styles.Error.Render(fmt.Sprintf("%d errors", stats.ErrorCount)))
	}
	if stats.CurrentFile != "" {
		sb.WriteString("  ")
		sb.WriteString(r.styles.Dim.Render(truncatePath(stats.CurrentFile, 40)))
	}

	// Clear to end of line so a shrinking status never leaves debris.
	_, _ = fmt.Fprintf(r.out, "\r\x1b[K%s", sb.String())
	r.lineLive = true
}

// UpdateProgress implements Renderer.
func (r *StyledRenderer) UpdateProgress(event ProgressEvent) {
	stats := r.tracker.Stats()
	if event.Stage != stats.Stage {
		r.tracker.SetStage(event.Stage, event.Total)
	}
	r.tracker.Update(event.Current, event.CurrentFile)
}

// AddError implements Renderer. The error is printed on its own line
// above the progress line.
func (r *StyledRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.breakLine()

	style := r.styles.Error
	prefix := "ERROR"
	if event.IsWarn {
		style = r.styles.Warning
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s %s: %v\n", style.Render(prefix), event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s %v\n", style.Render(prefix), event.Err)
	}
}

// Complete implements Renderer.
func (r *StyledRenderer) Complete(stats CompletionStats) {
	r.stopLoop()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()

	summary := fmt.Sprintf("Indexed %d evidence files (%d chunks) in %s",
		stats.Files, stats.Chunks, stats.Duration.Round(100*time.Millisecond))
	_, _ = fmt.Fprintln(r.out, r.styles.Success.Render(summary))

	if stats.Errors > 0 || stats.Warnings > 0 {
		counts := fmt.Sprintf("%d errors, %d warnings", stats.Errors, stats.Warnings)
		_, _ = fmt.Fprintln(r.out, r.styles.Warning.Render(counts))
	}
	if stats.Embedder.Backend != "" {
		_, _ = fmt.Fprintln(r.out, r.styles.Label.Render(fmt.Sprintf("embedder: %s (%s, %d dims)",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)))
	}
}

// Stop implements Renderer.
func (r *StyledRenderer) Stop() error {
	r.stopLoop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.breakLine()
	return nil
}

// stopLoop halts the repaint goroutine and waits for it.
func (r *StyledRenderer) stopLoop() {
	r.mu.Lock()
	cancel := r.cancel
	started := r.started
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started && cancel != nil {
		<-r.done
	}
}

// breakLine terminates the live progress line. Must hold r.mu.
func (r *StyledRenderer) breakLine() {
	if r.lineLive {
		_, _ = fmt.Fprint(r.out, "\r\x1b[K")
		r.lineLive = false
	}
}

// renderBar draws a fixed-width progress bar.
func renderBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// truncatePath keeps the tail of a long path, which is the part an
// operator can act on.
func truncatePath(path string, max int) string {
	if len(path) <= max {
		return path
	}
	return "…" + path[len(path)-max+1:]
}

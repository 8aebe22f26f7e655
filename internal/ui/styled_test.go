package ui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer guards the buffer against the repaint goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newStyledForTest(t *testing.T) (*StyledRenderer, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	r := NewStyledRenderer(NewConfig(buf, WithNoColor(true), WithDataDir("/tmp/cw")))
	t.Cleanup(func() { _ = r.Stop() })
	return r, buf
}

func TestStyledRenderer_HeaderOnStart(t *testing.T) {
	r, buf := newStyledForTest(t)
	require.NoError(t, r.Start(context.Background()))

	assert.Contains(t, buf.String(), "CaseWeave ingest")
	assert.Contains(t, buf.String(), "/tmp/cw")

	// Start twice is harmless.
	require.NoError(t, r.Start(context.Background()))
}

func TestStyledRenderer_PaintShowsStageAndCounts(t *testing.T) {
	r, buf := newStyledForTest(t)
	require.NoError(t, r.Start(context.Background()))

	r.UpdateProgress(ProgressEvent{Stage: StageEmbedding, Current: 7, Total: 20, CurrentFile: "exhibit.txt"})

	require.Eventually(t, func() bool {
		s := buf.String()
		return strings.Contains(s, "Embedding") && strings.Contains(s, "7/20")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, buf.String(), "exhibit.txt")
}

func TestStyledRenderer_ErrorBreaksProgressLine(t *testing.T) {
	r, buf := newStyledForTest(t)
	require.NoError(t, r.Start(context.Background()))

	r.AddError(ErrorEvent{File: "bad.txt", Err: errors.New("unreadable")})
	assert.Contains(t, buf.String(), "ERROR bad.txt: unreadable\n")

	r.AddError(ErrorEvent{Err: errors.New("behind"), IsWarn: true})
	assert.Contains(t, buf.String(), "WARN behind\n")
}

func TestStyledRenderer_CompleteSummary(t *testing.T) {
	r, buf := newStyledForTest(t)
	require.NoError(t, r.Start(context.Background()))

	r.Complete(CompletionStats{
		Files:    5,
		Chunks:   90,
		Duration: 3 * time.Second,
		Errors:   1,
		Embedder: EmbedderInfo{Backend: "static", Model: "static-64", Dimensions: 64},
	})

	out := buf.String()
	assert.Contains(t, out, "Indexed 5 evidence files (90 chunks) in 3s")
	assert.Contains(t, out, "1 errors, 0 warnings")
	assert.Contains(t, out, "embedder: static (static-64, 64 dims)")
}

func TestStyledRenderer_StopIsIdempotent(t *testing.T) {
	r, _ := newStyledForTest(t)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "░░░░", renderBar(0, 4))
	assert.Equal(t, "██░░", renderBar(0.5, 4))
	assert.Equal(t, "████", renderBar(1, 4))
	assert.Equal(t, "████", renderBar(2, 4), "overshoot clamps")
	assert.Equal(t, "░░░░", renderBar(-1, 4))
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "short.txt", truncatePath("short.txt", 20))
	long := "cases/2024-cv-100/exhibits/depositions/webb-2023-05-14.txt"
	out := truncatePath(long, 20)
	assert.Equal(t, 20, len([]rune(out)))
	assert.Equal(t, "…", string([]rune(out)[0]))
}

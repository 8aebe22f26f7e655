package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startInboxWatcher(t *testing.T, dir string, opts Options) *InboxWatcher {
	t.Helper()
	w, err := NewInboxWatcher(opts, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	go func() { _ = w.Start(ctx, dir) }()

	// Let the watch registrations land before the test mutates the tree.
	time.Sleep(100 * time.Millisecond)
	return w
}

// waitForEvent drains batches until an event matches or the deadline
// passes.
func waitForEvent(t *testing.T, w *InboxWatcher, match func(FileEvent) bool) FileEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case batch, ok := <-w.Events():
			require.True(t, ok, "event channel closed while waiting")
			for _, ev := range batch {
				if match(ev) {
					return ev
				}
			}
		case <-deadline:
			t.Fatal("expected event never arrived")
			return FileEvent{}
		}
	}
}

func TestInboxWatcher_ReportsNewEvidence(t *testing.T) {
	dir := t.TempDir()
	w := startInboxWatcher(t, dir, Options{DebounceWindow: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exhibit-a.txt"), []byte("wire records"), 0o644))

	ev := waitForEvent(t, w, func(e FileEvent) bool {
		return e.Path == "exhibit-a.txt"
	})
	assert.Equal(t, OpCreate, ev.Operation)
	assert.False(t, ev.IsDir)
}

func TestInboxWatcher_ReportsModification(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w := startInboxWatcher(t, dir, Options{DebounceWindow: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(path, []byte("v2 with more detail"), 0o644))

	ev := waitForEvent(t, w, func(e FileEvent) bool {
		return e.Path == "memo.txt" && e.Operation == OpModify
	})
	assert.Equal(t, OpModify, ev.Operation)
}

func TestInboxWatcher_ReportsDeletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stale.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w := startInboxWatcher(t, dir, Options{DebounceWindow: 50 * time.Millisecond})

	require.NoError(t, os.Remove(path))

	ev := waitForEvent(t, w, func(e FileEvent) bool {
		return e.Path == "stale.txt"
	})
	assert.Equal(t, OpDelete, ev.Operation)
}

func TestInboxWatcher_WatchesNewCaseFolders(t *testing.T) {
	dir := t.TempDir()
	w := startInboxWatcher(t, dir, Options{DebounceWindow: 50 * time.Millisecond})

	caseDir := filepath.Join(dir, "2024-cv-200")
	require.NoError(t, os.Mkdir(caseDir, 0o755))
	// Give the watcher a beat to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, "transcript.srt"), []byte("1\n"), 0o644))

	ev := waitForEvent(t, w, func(e FileEvent) bool {
		return strings.HasSuffix(e.Path, "transcript.srt")
	})
	assert.Equal(t, filepath.Join("2024-cv-200", "transcript.srt"), ev.Path)
}

func TestInboxWatcher_IgnoresStagingFiles(t *testing.T) {
	dir := t.TempDir()
	w := startInboxWatcher(t, dir, Options{DebounceWindow: 50 * time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "exhibit.pdf.part"), []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "landed.txt"), []byte("done"), 0o644))

	ev := waitForEvent(t, w, func(e FileEvent) bool { return !e.IsDir })
	assert.Equal(t, "landed.txt", ev.Path, "staging files must never surface")
}

func TestInboxWatcher_AcceptFilter(t *testing.T) {
	dir := t.TempDir()
	w := startInboxWatcher(t, dir, Options{
		DebounceWindow: 50 * time.Millisecond,
		Accept: func(rel string) bool {
			return filepath.Ext(rel) == ".txt"
		},
	})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte{0xff}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "statement.txt"), []byte("ok"), 0o644))

	ev := waitForEvent(t, w, func(e FileEvent) bool { return !e.IsDir })
	assert.Equal(t, "statement.txt", ev.Path)
}

func TestInboxWatcher_StartRejectsMissingDir(t *testing.T) {
	w, err := NewInboxWatcher(DefaultOptions(), testLogger())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestInboxWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewInboxWatcher(DefaultOptions(), testLogger())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, open := <-w.Events()
	assert.False(t, open)
}

func TestInboxWatcher_Mode(t *testing.T) {
	w, err := NewInboxWatcher(DefaultOptions(), testLogger())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Contains(t, []string{"fsnotify", "polling"}, w.Mode())
}

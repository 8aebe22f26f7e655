package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerLifecycle(t *testing.T) {
	dir := t.TempDir()

	assert.True(t, NeedsCheck(dir), "fresh directory needs a check")

	require.NoError(t, MarkPassed(dir))
	assert.False(t, NeedsCheck(dir), "recent pass skips the check")

	age, err := MarkerAge(dir)
	require.NoError(t, err)
	assert.Less(t, age, time.Minute)

	require.NoError(t, ClearMarker(dir))
	assert.True(t, NeedsCheck(dir))
}

func TestNeedsCheck_ExpiredMarker(t *testing.T) {
	dir := t.TempDir()
	stale := time.Now().UTC().Add(-48 * time.Hour).Format(time.RFC3339) + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFile), []byte(stale), 0o644))

	assert.True(t, NeedsCheck(dir))
}

func TestNeedsCheck_CorruptMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFile), []byte("not a timestamp"), 0o644))

	assert.True(t, NeedsCheck(dir))
	_, err := MarkerAge(dir)
	assert.Error(t, err)
}

func TestClearMarker_Missing(t *testing.T) {
	assert.NoError(t, ClearMarker(t.TempDir()))
}

func TestMarkPassed_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, MarkPassed(dir))
	assert.FileExists(t, filepath.Join(dir, markerFile))
}

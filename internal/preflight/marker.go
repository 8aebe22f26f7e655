package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// markerFile records the last successful preflight run under the data
// directory.
const markerFile = ".preflight-passed"

// markerGracePeriod is how long a successful run remains valid.
const markerGracePeriod = 24 * time.Hour

// NeedsCheck reports whether preflight should run: true when no marker
// exists, the marker is unreadable, or the last pass is older than the
// grace period.
func NeedsCheck(dataDir string) bool {
	age, err := MarkerAge(dataDir)
	if err != nil {
		return true
	}
	return age > markerGracePeriod
}

// MarkPassed records a successful preflight run.
func MarkPassed(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(filepath.Join(dataDir, markerFile), []byte(content), 0o644)
}

// ClearMarker removes the marker, forcing the next start to re-check.
func ClearMarker(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, markerFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MarkerAge returns the time since the last recorded pass.
func MarkerAge(dataDir string) (time.Duration, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, markerFile))
	if err != nil {
		return 0, err
	}
	stamp, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return time.Since(stamp), nil
}

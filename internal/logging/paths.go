package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default directory for log files.
// Falls back to the system temp dir when the home directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "caseweave", "logs")
	}
	return filepath.Join(home, ".caseweave", "logs")
}

// DefaultLogPath returns the default path for the server log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "caseweave.log")
}

// EnsureLogDir creates the log directory if it does not exist.
func EnsureLogDir() (string, error) {
	dir := DefaultLogDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

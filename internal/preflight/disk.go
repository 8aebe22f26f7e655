//go:build darwin || linux

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// MinDiskSpaceBytes is the minimum free space required under the data
// directory before startup proceeds: room for the SQLite store, one
// lexical index per evidence class, and vector snapshots.
const MinDiskSpaceBytes = 250 * 1024 * 1024

// CheckDiskSpace verifies free space on the filesystem holding dataDir.
func CheckDiskSpace(dataDir string) CheckResult {
	result := CheckResult{Name: "Disk space", Required: true}

	// Statfs needs an existing path; walk up until one exists so the
	// check works before the data directory has been created.
	probe := dataDir
	for probe != "" {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(probe, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = "could not determine free disk space"
		result.Details = err.Error()
		result.Required = false
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("only %s free, need at least %s",
			formatBytes(free), formatBytes(MinDiskSpaceBytes))
		result.Details = fmt.Sprintf("filesystem at %s", probe)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available", formatBytes(free))
	return result
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

//go:build darwin || linux

package preflight

import (
	"fmt"
	"syscall"
)

// MinFileDescriptors is the minimum open-file limit. Each lexical
// index holds segment files open, and a large ingest can fan out to
// hundreds of evidence files at once.
const MinFileDescriptors = 1024

// CheckFileDescriptorLimit verifies the process open-file limit.
func CheckFileDescriptorLimit() CheckResult {
	result := CheckResult{Name: "File descriptors", Required: false}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		result.Status = StatusWarn
		result.Message = "could not read file descriptor limit"
		result.Details = err.Error()
		return result
	}

	if limit.Cur < MinFileDescriptors {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("limit is %d, %d recommended", limit.Cur, MinFileDescriptors)
		result.Details = fmt.Sprintf("raise with: ulimit -n %d", MinFileDescriptors)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("limit is %d", limit.Cur)
	return result
}

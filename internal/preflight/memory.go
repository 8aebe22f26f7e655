package preflight

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MinMemoryBytes is the minimum available memory for comfortable
// operation: HNSW graphs are memory-resident and the correlation
// engine holds full embedding sets during clustering.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// CheckMemory verifies available system memory where it can be
// determined. Platforms without /proc/meminfo pass with a warning-free
// unknown result since Go offers no portable probe.
func CheckMemory() CheckResult {
	result := CheckResult{Name: "Memory", Required: false}

	avail, ok := availableMemory()
	if !ok {
		result.Status = StatusPass
		result.Message = "available memory unknown (no /proc/meminfo)"
		return result
	}

	if avail < MinMemoryBytes {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("only %s available, %s recommended",
			formatBytes(avail), formatBytes(MinMemoryBytes))
		result.Details = "vector search and correlation may be slow under memory pressure"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available", formatBytes(avail))
	return result
}

// availableMemory reads MemAvailable from /proc/meminfo.
func availableMemory() (uint64, bool) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}

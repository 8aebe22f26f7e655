package preflight

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/config"
)

func TestCheckWritePermissions(t *testing.T) {
	t.Run("writable directory passes", func(t *testing.T) {
		result := CheckWritePermissions(t.TempDir())
		assert.Equal(t, StatusPass, result.Status)
		assert.True(t, result.Required)
	})

	t.Run("creates missing data directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		result := CheckWritePermissions(dir)
		assert.Equal(t, StatusPass, result.Status)
		assert.DirExists(t, dir)
	})

	t.Run("empty path fails", func(t *testing.T) {
		result := CheckWritePermissions("")
		assert.Equal(t, StatusFail, result.Status)
		assert.True(t, result.IsCritical())
	})

	t.Run("read-only directory fails", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root bypasses permission checks")
		}
		dir := t.TempDir()
		require.NoError(t, os.Chmod(dir, 0o555))
		t.Cleanup(func() { os.Chmod(dir, 0o755) })

		result := CheckWritePermissions(dir)
		assert.Equal(t, StatusFail, result.Status)
	})

	t.Run("removes probe file", func(t *testing.T) {
		dir := t.TempDir()
		CheckWritePermissions(dir)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestCheckEmbeddings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmbeddingsConfig
		want CheckStatus
	}{
		{"defaults pass", config.EmbeddingsConfig{}, StatusPass},
		{"static provider passes", config.EmbeddingsConfig{Provider: "static", Dimensions: 384}, StatusPass},
		{"unknown provider fails", config.EmbeddingsConfig{Provider: "openai"}, StatusFail},
		{"tiny dimensions fail", config.EmbeddingsConfig{Dimensions: 4}, StatusFail},
		{"huge dimensions fail", config.EmbeddingsConfig{Dimensions: 8192}, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckEmbeddings(tt.cfg).Status)
		})
	}
}

func TestCheckDiskSpace(t *testing.T) {
	t.Run("existing directory", func(t *testing.T) {
		result := CheckDiskSpace(t.TempDir())
		// Either plenty of space or an honest failure; never a panic.
		assert.Contains(t, []CheckStatus{StatusPass, StatusFail, StatusWarn}, result.Status)
		assert.NotEmpty(t, result.Message)
	})

	t.Run("walks up to an existing parent", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "does", "not", "exist")
		result := CheckDiskSpace(dir)
		assert.NotEmpty(t, result.Message)
	})
}

func TestCheckMemory(t *testing.T) {
	result := CheckMemory()
	assert.False(t, result.Required)
	assert.NotEmpty(t, result.Message)
}

func TestCheckFileDescriptorLimit(t *testing.T) {
	result := CheckFileDescriptorLimit()
	assert.False(t, result.Required)
	assert.Contains(t, []CheckStatus{StatusPass, StatusWarn}, result.Status)
}

func TestHasCriticalFailures(t *testing.T) {
	assert.False(t, HasCriticalFailures(nil))
	assert.False(t, HasCriticalFailures([]CheckResult{
		{Status: StatusPass, Required: true},
		{Status: StatusFail, Required: false},
		{Status: StatusWarn, Required: true},
	}))
	assert.True(t, HasCriticalFailures([]CheckResult{
		{Status: StatusPass, Required: true},
		{Status: StatusFail, Required: true},
	}))
}

func TestSummaryStatus(t *testing.T) {
	assert.Equal(t, "ready", SummaryStatus([]CheckResult{
		{Status: StatusPass, Required: true},
	}))
	assert.Equal(t, "ready_with_warnings", SummaryStatus([]CheckResult{
		{Status: StatusPass, Required: true},
		{Status: StatusWarn},
	}))
	assert.Equal(t, "ready_with_warnings", SummaryStatus([]CheckResult{
		{Status: StatusFail, Required: false},
	}))
	assert.Equal(t, "failed", SummaryStatus([]CheckResult{
		{Status: StatusPass},
		{Status: StatusFail, Required: true},
	}))
}

func TestCheckerRunAll(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	checker := NewChecker(cfg, WithoutGovernorProbe())
	results := checker.RunAll(context.Background())

	require.Len(t, results, 5)
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	assert.Equal(t, []string{
		"Disk space", "Memory", "Write permissions", "File descriptors", "Embeddings",
	}, names)
	assert.False(t, HasCriticalFailures(results))
}

func TestCheckerPrintResults(t *testing.T) {
	var buf bytes.Buffer
	checker := NewChecker(config.NewConfig(), WithOutput(&buf), WithVerbose())

	checker.PrintResults([]CheckResult{
		{Name: "Disk space", Status: StatusPass, Message: "42.0 GB available"},
		{Name: "Governor", Status: StatusWarn, Message: "Redis unreachable", Details: "dial tcp: refused"},
	})

	out := buf.String()
	assert.Contains(t, out, "CaseWeave environment check")
	assert.Contains(t, out, "✅ Disk space: 42.0 GB available")
	assert.Contains(t, out, "Governor: Redis unreachable")
	assert.Contains(t, out, "dial tcp: refused")
	assert.Contains(t, out, "Ready with warnings")
}

func TestCheckResultIsCritical(t *testing.T) {
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail, Required: false}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "250.0 MB", formatBytes(250*1024*1024))
	assert.Equal(t, "1.5 GB", formatBytes(3*512*1024*1024))
}

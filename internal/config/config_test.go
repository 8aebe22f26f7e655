package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.NotEmpty(t, cfg.DataDir)

	assert.Equal(t, "rrf", cfg.Search.Fusion)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.InDelta(t, 0.65, cfg.Search.LinearAlpha, 1e-9)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, 100, cfg.Search.RerankTopN)
	assert.Equal(t, 3, cfg.Search.CandidateMultiplier)

	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimensions)

	assert.Equal(t, "localhost:6379", cfg.Governor.RedisAddr)
	assert.Equal(t, 4, cfg.Governor.MaxConcurrent)
	assert.True(t, cfg.Governor.LocalFallback)
	assert.InDelta(t, 3.5, cfg.Governor.PerTaskVRAMGB, 1e-9)

	assert.True(t, cfg.Research.Reaper.Enabled)
	assert.Equal(t, 128, cfg.Research.Reaper.BatchSize)

	assert.InDelta(t, 0.72, cfg.Correlation.ContradictionCosine, 1e-9)
	assert.Equal(t, 5, cfg.Correlation.SeverityHigh)
	assert.Equal(t, 2, cfg.Correlation.SeverityMedium)

	assert.Equal(t, "stdio", cfg.Server.Transport)

	require.NoError(t, cfg.Validate())
}

func TestConfig_DerivedPaths(t *testing.T) {
	cfg := NewConfig()
	cfg.DataDir = "/var/lib/caseweave"

	assert.Equal(t, filepath.Join("/var/lib/caseweave", "caseweave.db"), cfg.SQLitePath())
	assert.Equal(t, filepath.Join("/var/lib/caseweave", "lexical"), cfg.LexicalPath())
	assert.Equal(t, filepath.Join("/var/lib/caseweave", "vectors"), cfg.VectorPath())
	assert.Equal(t, filepath.Join("/var/lib/caseweave", "inbox"), cfg.InboxPath())
	assert.Equal(t, filepath.Join("/var/lib/caseweave", "logs", "caseweave.log"), cfg.LogFilePath())

	// Explicit overrides win over the derived default.
	cfg.Stores.SQLitePath = "/tmp/other.db"
	assert.Equal(t, "/tmp/other.db", cfg.SQLitePath())
}

func TestConfig_DurationAccessors(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 10*time.Second, cfg.SearchTimeout())
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout())
	assert.Equal(t, time.Hour, cfg.ReaperInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounce())

	cfg.Governor.AcquireTimeout = "2m"
	assert.Equal(t, 2*time.Minute, cfg.AcquireTimeout())

	// Invalid strings fall back to the default.
	cfg.Governor.AcquireTimeout = "not-a-duration"
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout())

	cfg.Governor.AcquireTimeout = "-5s"
	assert.Equal(t, 30*time.Second, cfg.AcquireTimeout())
}

func TestLoad_CaseConfigOverridesDefaults(t *testing.T) {
	// Given: a case directory with a .caseweave.yaml
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	caseYAML := `
search:
  fusion: linear
  linear_alpha: 0.8
governor:
  redis_addr: "redis.internal:6379"
  max_concurrent: 12
llm:
  provider: static
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".caseweave.yaml"), []byte(caseYAML), 0o644))

	// When: loading config for that directory
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: overridden values take effect, untouched values keep defaults
	assert.Equal(t, "linear", cfg.Search.Fusion)
	assert.InDelta(t, 0.8, cfg.Search.LinearAlpha, 1e-9)
	assert.Equal(t, "redis.internal:6379", cfg.Governor.RedisAddr)
	assert.Equal(t, 12, cfg.Governor.MaxConcurrent)
	assert.Equal(t, "static", cfg.LLM.Provider)

	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 128, cfg.Research.Reaper.BatchSize)
}

func TestLoad_UserConfigThenCaseConfig(t *testing.T) {
	// Given: a user config and a case config that disagree
	dir := t.TempDir()
	xdg := filepath.Join(dir, "xdg")
	t.Setenv("XDG_CONFIG_HOME", xdg)

	userDir := filepath.Join(xdg, "caseweave")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	userYAML := `
search:
  rrf_k: 30
  max_results: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userYAML), 0o644))

	caseYAML := `
search:
  rrf_k: 90
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".caseweave.yaml"), []byte(caseYAML), 0o644))

	// When
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: case config wins over user config, user config wins over defaults
	assert.Equal(t, 90, cfg.Search.RRFK)
	assert.Equal(t, 50, cfg.Search.MaxResults)
}

func TestLoad_EnvOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	caseYAML := `
search:
  rrf_k: 90
governor:
  redis_addr: "from-file:6379"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".caseweave.yaml"), []byte(caseYAML), 0o644))

	t.Setenv("CASEWEAVE_RRF_K", "45")
	t.Setenv("CASEWEAVE_REDIS_ADDR", "from-env:6379")
	t.Setenv("CASEWEAVE_FUSION", "linear")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 45, cfg.Search.RRFK)
	assert.Equal(t, "from-env:6379", cfg.Governor.RedisAddr)
	assert.Equal(t, "linear", cfg.Search.Fusion)
}

func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))
	t.Setenv("CASEWEAVE_RRF_K", "not-a-number")
	t.Setenv("CASEWEAVE_LINEAR_ALPHA", "7.5")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.InDelta(t, 0.65, cfg.Search.LinearAlpha, 1e-9)
}

func TestLoad_NoConfigFilesUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "rrf", cfg.Search.Fusion)
	assert.Equal(t, 60, cfg.Search.RRFK)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-empty"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".caseweave.yaml"), []byte("search: [not: a map"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown fusion method",
			mutate:  func(c *Config) { c.Search.Fusion = "bayesian" },
			wantErr: "search.fusion",
		},
		{
			name:    "zero rrf_k",
			mutate:  func(c *Config) { c.Search.RRFK = 0 },
			wantErr: "search.rrf_k",
		},
		{
			name:    "alpha above one",
			mutate:  func(c *Config) { c.Search.LinearAlpha = 1.2 },
			wantErr: "search.linear_alpha",
		},
		{
			name:    "negative rerank_top_n",
			mutate:  func(c *Config) { c.Search.RerankTopN = -1 },
			wantErr: "search.rerank_top_n",
		},
		{
			name:    "unknown embeddings provider",
			mutate:  func(c *Config) { c.Embeddings.Provider = "cloud" },
			wantErr: "embeddings.provider",
		},
		{
			name:    "zero governor cap",
			mutate:  func(c *Config) { c.Governor.MaxConcurrent = 0 },
			wantErr: "governor.max_concurrent",
		},
		{
			name:    "severity ordering inverted",
			mutate:  func(c *Config) { c.Correlation.SeverityHigh = 1 },
			wantErr: "severity_high",
		},
		{
			name:    "unknown llm provider",
			mutate:  func(c *Config) { c.LLM.Provider = "openai" },
			wantErr: "llm.provider",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Server.Transport = "sse" },
			wantErr: "server.transport",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := NewConfig()
	cfg.Search.RRFK = 42
	cfg.Governor.RedisAddr = "cache:6379"
	require.NoError(t, cfg.WriteYAML(path))

	loaded := NewConfig()
	require.NoError(t, loaded.loadYAML(path))

	assert.Equal(t, 42, loaded.Search.RRFK)
	assert.Equal(t, "cache:6379", loaded.Governor.RedisAddr)
}

func TestMergeNewDefaults_FillsMissingFields(t *testing.T) {
	// Simulate a config written before fusion tuning existed.
	cfg := &Config{Version: 1, DataDir: "/data"}

	added := cfg.MergeNewDefaults()

	assert.Contains(t, added, "search.fusion")
	assert.Contains(t, added, "search.rrf_k")
	assert.Contains(t, added, "research.reaper.batch_size")
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 128, cfg.Research.Reaper.BatchSize)

	// A second pass adds nothing.
	assert.Empty(t, cfg.MergeNewDefaults())
}

func TestFindCaseRoot_WalksUpToMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".caseweave.yaml"), []byte("version: 1\n"), 0o644))

	nested := filepath.Join(root, "evidence", "depositions")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindCaseRoot(nested)
	require.NoError(t, err)

	// TempDir may involve symlinks on some systems so compare resolved paths.
	wantResolved, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, wantResolved, gotResolved)
}

func TestFindCaseRoot_NoMarkerReturnsStart(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindCaseRoot(nested)
	require.NoError(t, err)

	wantResolved, _ := filepath.EvalSymlinks(nested)
	gotResolved, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, wantResolved, gotResolved)
}

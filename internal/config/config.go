// Package config loads and validates caseweave configuration.
//
// Configuration is layered in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/caseweave/config.yaml)
//  3. Case config (.caseweave.yaml in the working directory)
//  4. Environment variables (CASEWEAVE_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete caseweave configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	// DataDir is the root directory for all persistent state: the SQLite
	// system of record, lexical indexes, vector collections, logs, and the
	// evidence inbox. Defaults to ~/.caseweave.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Stores      StoresConfig      `yaml:"stores" json:"stores"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Governor    GovernorConfig    `yaml:"governor" json:"governor"`
	Research    ResearchConfig    `yaml:"research" json:"research"`
	Correlation CorrelationConfig `yaml:"correlation" json:"correlation"`
	LLM         LLMConfig         `yaml:"llm" json:"llm"`
	Ingest      IngestConfig      `yaml:"ingest" json:"ingest"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// FilePath overrides the log file location. Empty derives
	// <data_dir>/logs/caseweave.log.
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// StoresConfig configures storage backend locations. Empty paths are
// derived from DataDir.
type StoresConfig struct {
	// SQLitePath is the system-of-record database file.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	// LexicalPath is the directory holding one BM25 index per evidence class.
	LexicalPath string `yaml:"lexical_path" json:"lexical_path"`
	// VectorPath is the directory holding vector collection snapshots.
	VectorPath string `yaml:"vector_path" json:"vector_path"`
	// SQLiteCacheMB is the SQLite page cache size in MB (default: 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// SearchConfig configures hybrid retrieval and fusion.
//
// Fusion method and its parameters are tunable per deployment:
//   - rrf: reciprocal rank fusion, score = sum(1/(rrf_k + rank))
//   - linear: z-score normalization, alpha*dense + (1-alpha)*sparse
type SearchConfig struct {
	// Fusion selects the fusion method: "rrf" (default) or "linear".
	Fusion string `yaml:"fusion" json:"fusion"`
	// RRFK is the RRF smoothing constant k (default: 60).
	RRFK int `yaml:"rrf_k" json:"rrf_k"`
	// LinearAlpha is the dense weight for linear fusion (default: 0.65).
	LinearAlpha float64 `yaml:"linear_alpha" json:"linear_alpha"`
	// MaxResults caps returned hits when the request does not set top_k.
	MaxResults int `yaml:"max_results" json:"max_results"`
	// CandidateMultiplier scales top_k to the per-ranker candidate pool.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`
	// RerankTopN is the candidate count forwarded to the cross-encoder
	// when reranking is requested (default: 100, 0 disables).
	RerankTopN int `yaml:"rerank_top_n" json:"rerank_top_n"`
	// Timeout bounds a single search request (duration string, default "10s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "static" (deterministic, default)
	// or empty for auto-detection.
	Provider string `yaml:"provider" json:"provider"`
	// Dimensions is the embedding width (default: 384).
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// BatchSize is texts per embedding batch (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the query-embedding LRU capacity (default: 512).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// GovernorConfig configures the distributed resource governor.
type GovernorConfig struct {
	// RedisAddr is the Redis endpoint backing the counting semaphore.
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	// MaxConcurrent is the global cap on concurrent heavy operations.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// AcquireTimeout bounds a blocking acquire (duration string, default "30s").
	AcquireTimeout string `yaml:"acquire_timeout" json:"acquire_timeout"`
	// LocalFallback permits a process-local semaphore when Redis is down.
	LocalFallback bool `yaml:"local_fallback" json:"local_fallback"`
	// VRAMGB is the advertised GPU memory used for model selection.
	VRAMGB float64 `yaml:"vram_gb" json:"vram_gb"`
	// PerTaskVRAMGB sizes per-task concurrency (default: 3.5).
	PerTaskVRAMGB float64 `yaml:"per_task_vram_gb" json:"per_task_vram_gb"`
}

// ResearchConfig configures the durable research workflow engine.
type ResearchConfig struct {
	// HeartbeatInterval is how often running workflows refresh their
	// run record (duration string, default "30s").
	HeartbeatInterval string `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	// MaxSearchTerms caps LLM-planned search terms per phase (default: 8).
	MaxSearchTerms int `yaml:"max_search_terms" json:"max_search_terms"`
	// Reaper configures orphan chunk cleanup.
	Reaper ReaperConfig `yaml:"reaper" json:"reaper"`
}

// ReaperConfig configures the orphan reaper that removes chunks whose
// evidence no longer exists in the system of record.
type ReaperConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval between sweeps (duration string, default "1h").
	Interval string `yaml:"interval" json:"interval"`
	// BatchSize is chunk IDs examined per sweep step (default: 128).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
}

// CorrelationConfig tunes cross-evidence correlation thresholds.
type CorrelationConfig struct {
	// ContradictionCosine is the minimum cosine similarity for a finding
	// pair to be tested for contradiction (default: 0.72).
	ContradictionCosine float64 `yaml:"contradiction_cosine" json:"contradiction_cosine"`
	// SeverityHigh is the corroboration count for HIGH severity (default: 5).
	SeverityHigh int `yaml:"severity_high" json:"severity_high"`
	// SeverityMedium is the corroboration count for MEDIUM severity (default: 2).
	SeverityMedium int `yaml:"severity_medium" json:"severity_medium"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	// Provider selects the client: "anthropic" or "static" (offline, default
	// when no API key is present).
	Provider string `yaml:"provider" json:"provider"`
	// Model is the model identifier for analysis and synthesis calls.
	Model string `yaml:"model" json:"model"`
	// MaxTokens caps generation length (default: 4096).
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Timeout bounds a single completion (duration string, default "120s").
	Timeout string `yaml:"timeout" json:"timeout"`
}

// IngestConfig configures the evidence ingestion pipeline.
type IngestConfig struct {
	// InboxDir overrides the watched inbox directory. Empty derives
	// <data_dir>/inbox.
	InboxDir string `yaml:"inbox_dir" json:"inbox_dir"`
	// BatchSize is chunks per dual-store write batch (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Workers is the embedding worker count (default: NumCPU, capped at 8).
	Workers int `yaml:"workers" json:"workers"`
	// WatchDebounce coalesces inbox file events (duration string, default "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// ServerConfig configures the MCP server surface.
type ServerConfig struct {
	// Transport is the MCP transport: "stdio" only for now.
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// NewConfig creates a new Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
		Stores: StoresConfig{
			SQLiteCacheMB: 64,
		},
		Search: SearchConfig{
			Fusion: "rrf",
			// k=60 is the standard RRF smoothing constant
			RRFK:                60,
			LinearAlpha:         0.65,
			MaxResults:          20,
			CandidateMultiplier: 3,
			RerankTopN:          100,
			Timeout:             "10s",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Dimensions: 384,
			BatchSize:  32,
			CacheSize:  512,
		},
		Governor: GovernorConfig{
			RedisAddr:      "localhost:6379",
			MaxConcurrent:  4,
			AcquireTimeout: "30s",
			LocalFallback:  true,
			VRAMGB:         8,
			PerTaskVRAMGB:  3.5,
		},
		Research: ResearchConfig{
			HeartbeatInterval: "30s",
			MaxSearchTerms:    8,
			Reaper: ReaperConfig{
				Enabled:   true,
				Interval:  "1h",
				BatchSize: 128,
			},
		},
		Correlation: CorrelationConfig{
			ContradictionCosine: 0.72,
			SeverityHigh:        5,
			SeverityMedium:      2,
		},
		LLM: LLMConfig{
			Provider:  "", // Empty selects anthropic when ANTHROPIC_API_KEY is set, static otherwise
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
			Timeout:   "120s",
		},
		Ingest: IngestConfig{
			BatchSize:     32,
			Workers:       defaultIngestWorkers(),
			WatchDebounce: "500ms",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".caseweave")
	}
	return filepath.Join(home, ".caseweave")
}

func defaultIngestWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		return 8
	}
	if n < 1 {
		return 1
	}
	return n
}

// LogFilePath returns the configured log file or the DataDir-derived default.
func (c *Config) LogFilePath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return filepath.Join(c.DataDir, "logs", "caseweave.log")
}

// SQLitePath returns the system-of-record database path.
func (c *Config) SQLitePath() string {
	if c.Stores.SQLitePath != "" {
		return c.Stores.SQLitePath
	}
	return filepath.Join(c.DataDir, "caseweave.db")
}

// LexicalPath returns the lexical index root directory.
func (c *Config) LexicalPath() string {
	if c.Stores.LexicalPath != "" {
		return c.Stores.LexicalPath
	}
	return filepath.Join(c.DataDir, "lexical")
}

// VectorPath returns the vector collection root directory.
func (c *Config) VectorPath() string {
	if c.Stores.VectorPath != "" {
		return c.Stores.VectorPath
	}
	return filepath.Join(c.DataDir, "vectors")
}

// InboxPath returns the evidence inbox directory.
func (c *Config) InboxPath() string {
	if c.Ingest.InboxDir != "" {
		return c.Ingest.InboxDir
	}
	return filepath.Join(c.DataDir, "inbox")
}

// SearchTimeout returns the parsed search timeout.
func (c *Config) SearchTimeout() time.Duration {
	return parseDurationOr(c.Search.Timeout, 10*time.Second)
}

// AcquireTimeout returns the parsed governor acquire timeout.
func (c *Config) AcquireTimeout() time.Duration {
	return parseDurationOr(c.Governor.AcquireTimeout, 30*time.Second)
}

// HeartbeatInterval returns the parsed workflow heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDurationOr(c.Research.HeartbeatInterval, 30*time.Second)
}

// ReaperInterval returns the parsed reaper sweep interval.
func (c *Config) ReaperInterval() time.Duration {
	return parseDurationOr(c.Research.Reaper.Interval, time.Hour)
}

// LLMTimeout returns the parsed per-completion timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDurationOr(c.LLM.Timeout, 120*time.Second)
}

// WatchDebounce returns the parsed inbox debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return parseDurationOr(c.Ingest.WatchDebounce, 500*time.Millisecond)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/caseweave/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/caseweave/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "caseweave", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "caseweave", "config.yaml")
	}
	return filepath.Join(home, ".config", "caseweave", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error when the file is absent.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("load user config %s: %w", configPath, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load loads configuration for the given working directory, applying the
// full precedence chain and validating the result.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromDir attempts to load .caseweave.yaml or .caseweave.yml from dir.
func (c *Config) loadFromDir(dir string) error {
	yamlPath := filepath.Join(dir, ".caseweave.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".caseweave.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No case config is fine, defaults apply
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}

	// Stores
	if other.Stores.SQLitePath != "" {
		c.Stores.SQLitePath = other.Stores.SQLitePath
	}
	if other.Stores.LexicalPath != "" {
		c.Stores.LexicalPath = other.Stores.LexicalPath
	}
	if other.Stores.VectorPath != "" {
		c.Stores.VectorPath = other.Stores.VectorPath
	}
	if other.Stores.SQLiteCacheMB != 0 {
		c.Stores.SQLiteCacheMB = other.Stores.SQLiteCacheMB
	}

	// Search
	if other.Search.Fusion != "" {
		c.Search.Fusion = other.Search.Fusion
	}
	if other.Search.RRFK != 0 {
		c.Search.RRFK = other.Search.RRFK
	}
	if other.Search.LinearAlpha != 0 {
		c.Search.LinearAlpha = other.Search.LinearAlpha
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.CandidateMultiplier != 0 {
		c.Search.CandidateMultiplier = other.Search.CandidateMultiplier
	}
	if other.Search.RerankTopN != 0 {
		c.Search.RerankTopN = other.Search.RerankTopN
	}
	if other.Search.Timeout != "" {
		c.Search.Timeout = other.Search.Timeout
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Governor
	if other.Governor.RedisAddr != "" {
		c.Governor.RedisAddr = other.Governor.RedisAddr
	}
	if other.Governor.MaxConcurrent != 0 {
		c.Governor.MaxConcurrent = other.Governor.MaxConcurrent
	}
	if other.Governor.AcquireTimeout != "" {
		c.Governor.AcquireTimeout = other.Governor.AcquireTimeout
	}
	// LocalFallback is boolean: only adopt when some governor field was set,
	// otherwise a zero-valued section would silently disable the fallback.
	if other.Governor.RedisAddr != "" || other.Governor.MaxConcurrent != 0 {
		c.Governor.LocalFallback = other.Governor.LocalFallback
	}
	if other.Governor.VRAMGB != 0 {
		c.Governor.VRAMGB = other.Governor.VRAMGB
	}
	if other.Governor.PerTaskVRAMGB != 0 {
		c.Governor.PerTaskVRAMGB = other.Governor.PerTaskVRAMGB
	}

	// Research
	if other.Research.HeartbeatInterval != "" {
		c.Research.HeartbeatInterval = other.Research.HeartbeatInterval
	}
	if other.Research.MaxSearchTerms != 0 {
		c.Research.MaxSearchTerms = other.Research.MaxSearchTerms
	}
	if other.Research.Reaper.Interval != "" || other.Research.Reaper.BatchSize != 0 {
		c.Research.Reaper.Enabled = other.Research.Reaper.Enabled
	}
	if other.Research.Reaper.Interval != "" {
		c.Research.Reaper.Interval = other.Research.Reaper.Interval
	}
	if other.Research.Reaper.BatchSize != 0 {
		c.Research.Reaper.BatchSize = other.Research.Reaper.BatchSize
	}

	// Correlation
	if other.Correlation.ContradictionCosine != 0 {
		c.Correlation.ContradictionCosine = other.Correlation.ContradictionCosine
	}
	if other.Correlation.SeverityHigh != 0 {
		c.Correlation.SeverityHigh = other.Correlation.SeverityHigh
	}
	if other.Correlation.SeverityMedium != 0 {
		c.Correlation.SeverityMedium = other.Correlation.SeverityMedium
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Timeout != "" {
		c.LLM.Timeout = other.LLM.Timeout
	}

	// Ingest
	if other.Ingest.InboxDir != "" {
		c.Ingest.InboxDir = other.Ingest.InboxDir
	}
	if other.Ingest.BatchSize != 0 {
		c.Ingest.BatchSize = other.Ingest.BatchSize
	}
	if other.Ingest.Workers != 0 {
		c.Ingest.Workers = other.Ingest.Workers
	}
	if other.Ingest.WatchDebounce != "" {
		c.Ingest.WatchDebounce = other.Ingest.WatchDebounce
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CASEWEAVE_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CASEWEAVE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CASEWEAVE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("CASEWEAVE_FUSION"); v != "" {
		c.Search.Fusion = v
	}
	if v := os.Getenv("CASEWEAVE_RRF_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFK = k
		}
	}
	if v := os.Getenv("CASEWEAVE_LINEAR_ALPHA"); v != "" {
		if a, err := parseFloat64(v); err == nil && a >= 0 && a <= 1 {
			c.Search.LinearAlpha = a
		}
	}

	if v := os.Getenv("CASEWEAVE_REDIS_ADDR"); v != "" {
		c.Governor.RedisAddr = v
	}
	if v := os.Getenv("CASEWEAVE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Governor.MaxConcurrent = n
		}
	}

	if v := os.Getenv("CASEWEAVE_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("CASEWEAVE_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("CASEWEAVE_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Search.Fusion) {
	case "rrf", "linear":
	default:
		return fmt.Errorf("search.fusion must be 'rrf' or 'linear', got %s", c.Search.Fusion)
	}

	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Search.LinearAlpha < 0 || c.Search.LinearAlpha > 1 {
		return fmt.Errorf("search.linear_alpha must be between 0 and 1, got %f", c.Search.LinearAlpha)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Search.RerankTopN < 0 {
		return fmt.Errorf("search.rerank_top_n must be non-negative, got %d", c.Search.RerankTopN)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'static' or empty (auto-detect), got %s", c.Embeddings.Provider)
		}
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	if c.Governor.MaxConcurrent <= 0 {
		return fmt.Errorf("governor.max_concurrent must be positive, got %d", c.Governor.MaxConcurrent)
	}
	if c.Governor.PerTaskVRAMGB <= 0 {
		return fmt.Errorf("governor.per_task_vram_gb must be positive, got %f", c.Governor.PerTaskVRAMGB)
	}

	if c.Correlation.ContradictionCosine < 0 || c.Correlation.ContradictionCosine > 1 {
		return fmt.Errorf("correlation.contradiction_cosine must be between 0 and 1, got %f", c.Correlation.ContradictionCosine)
	}
	if c.Correlation.SeverityHigh < c.Correlation.SeverityMedium {
		return fmt.Errorf("correlation.severity_high (%d) must be >= severity_medium (%d)",
			c.Correlation.SeverityHigh, c.Correlation.SeverityMedium)
	}

	if c.LLM.Provider != "" {
		validLLM := map[string]bool{"anthropic": true, "static": true}
		if !validLLM[strings.ToLower(c.LLM.Provider)] {
			return fmt.Errorf("llm.provider must be 'anthropic', 'static', or empty (auto-detect), got %s", c.LLM.Provider)
		}
	}

	validTransports := map[string]bool{"stdio": true}
	if !validTransports[strings.ToLower(c.Server.Transport)] {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// FindCaseRoot finds the case root directory by walking up from startDir
// looking for a .caseweave.yaml/.yml file or a .git directory. Returns the
// absolute startDir when neither is found.
func FindCaseRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if fileExists(filepath.Join(currentDir, ".caseweave.yaml")) ||
			fileExists(filepath.Join(currentDir, ".caseweave.yml")) {
			return currentDir, nil
		}
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// MergeNewDefaults adds defaults for fields introduced after the config file
// was written, preserving existing values. Returns the added field names.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.Fusion == "" {
		c.Search.Fusion = defaults.Search.Fusion
		added = append(added, "search.fusion")
	}
	if c.Search.RRFK == 0 {
		c.Search.RRFK = defaults.Search.RRFK
		added = append(added, "search.rrf_k")
	}
	if c.Search.LinearAlpha == 0 {
		c.Search.LinearAlpha = defaults.Search.LinearAlpha
		added = append(added, "search.linear_alpha")
	}
	if c.Search.RerankTopN == 0 {
		c.Search.RerankTopN = defaults.Search.RerankTopN
		added = append(added, "search.rerank_top_n")
	}

	if c.Governor.AcquireTimeout == "" {
		c.Governor.AcquireTimeout = defaults.Governor.AcquireTimeout
		added = append(added, "governor.acquire_timeout")
	}
	if c.Governor.PerTaskVRAMGB == 0 {
		c.Governor.PerTaskVRAMGB = defaults.Governor.PerTaskVRAMGB
		added = append(added, "governor.per_task_vram_gb")
	}

	if c.Research.Reaper.Interval == "" {
		c.Research.Reaper.Interval = defaults.Research.Reaper.Interval
		added = append(added, "research.reaper.interval")
	}
	if c.Research.Reaper.BatchSize == 0 {
		c.Research.Reaper.BatchSize = defaults.Research.Reaper.BatchSize
		added = append(added, "research.reaper.batch_size")
	}

	if c.Correlation.ContradictionCosine == 0 {
		c.Correlation.ContradictionCosine = defaults.Correlation.ContradictionCosine
		added = append(added, "correlation.contradiction_cosine")
	}

	if c.Stores.SQLiteCacheMB == 0 {
		c.Stores.SQLiteCacheMB = defaults.Stores.SQLiteCacheMB
		added = append(added, "stores.sqlite_cache_mb")
	}

	return added
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

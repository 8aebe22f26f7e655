package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caseweave/caseweave/internal/config"
	"github.com/caseweave/caseweave/internal/correlate"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/governor"
	"github.com/caseweave/caseweave/internal/llm"
	"github.com/caseweave/caseweave/internal/logging"
	"github.com/caseweave/caseweave/internal/research"
	"github.com/caseweave/caseweave/internal/search"
	"github.com/caseweave/caseweave/internal/store"
)

// loadConfig builds the effective configuration: defaults, user config,
// case config in the working directory, environment, then the
// --data-dir flag on top.
func loadConfig() (*config.Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger sets up file logging per the configuration. Stderr echo is
// enabled only in debug mode so normal command output stays clean.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := cfg.Logging.Level
	if flagDebug {
		level = "debug"
	}
	return logging.Setup(logging.Config{
		Level:         level,
		FilePath:      cfg.LogFilePath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: flagDebug,
	})
}

// app bundles the storage and search stack behind every command that
// touches the evidence store.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	metadata *store.SQLiteStore
	lexical  *store.LexicalStore
	vector   *store.VectorStore
	embedder embed.Embedder
	engine   *search.Engine
	gov      *governor.Governor

	logCleanup func()
}

// openApp opens the full stack against the configured data directory.
// Callers must Close it.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCleanup, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, logCleanup: logCleanup}
	if err := a.open(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open() error {
	cfg := a.cfg

	metadata, err := store.NewSQLiteStore(cfg.SQLitePath(), cfg.Stores.SQLiteCacheMB)
	if err != nil {
		return fmt.Errorf("open system of record: %w", err)
	}
	a.metadata = metadata

	lexical, err := store.NewLexicalStore(cfg.LexicalPath())
	if err != nil {
		return fmt.Errorf("open lexical indexes: %w", err)
	}
	a.lexical = lexical

	embedder, err := embed.NewEmbedder(cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	a.embedder = embedder

	vector, err := store.NewVectorStore(cfg.VectorPath(), embedder.Dimensions())
	if err != nil {
		return fmt.Errorf("open vector collections: %w", err)
	}
	a.vector = vector

	if cfg.Governor.RedisAddr != "" {
		a.gov = governor.New(cfg.Governor.RedisAddr, cfg.Governor.MaxConcurrent,
			governor.WithAcquireTimeout(cfg.AcquireTimeout()),
			governor.WithLocalFallback(cfg.Governor.LocalFallback),
		)
	}

	engine, err := search.NewEngine(lexical, vector, embedder, metadata,
		search.WithLogger(a.logger),
		search.WithEmbeddingCacheSize(cfg.Embeddings.CacheSize),
	)
	if err != nil {
		return fmt.Errorf("create search engine: %w", err)
	}
	a.engine = engine
	return nil
}

// Close releases the stack in reverse dependency order. Vector
// snapshots are persisted first so a clean shutdown never loses writes.
func (a *app) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.vector != nil {
		record(a.vector.Save())
		record(a.vector.Close())
	}
	if a.lexical != nil {
		record(a.lexical.Close())
	}
	if a.gov != nil {
		record(a.gov.Close())
	}
	if a.metadata != nil {
		record(a.metadata.Close())
	}
	if a.logCleanup != nil {
		a.logCleanup()
	}
	return firstErr
}

// newResearch builds the durable research service on top of the stack.
func (a *app) newResearch() (*research.Service, error) {
	llmClient, err := llm.NewClient(a.cfg.LLM, a.cfg.LLMTimeout())
	if err != nil {
		return nil, err
	}
	correlator, err := correlate.New(a.embedder, a.logger,
		correlate.WithContradictionCosine(a.cfg.Correlation.ContradictionCosine),
		correlate.WithSeverityBands(a.cfg.Correlation.SeverityHigh, a.cfg.Correlation.SeverityMedium),
	)
	if err != nil {
		return nil, err
	}
	return research.NewService(research.Deps{
		Metadata:          a.metadata,
		Journal:           a.metadata,
		Searcher:          a.engine,
		LLM:               llmClient,
		Correlator:        correlator,
		Governor:          a.gov,
		Logger:            a.logger,
		ReportsDir:        a.reportsDir(),
		MaxSearchTerms:    a.cfg.Research.MaxSearchTerms,
		HeartbeatInterval: a.cfg.HeartbeatInterval(),
	})
}

// ingestLockPath is the per-data-directory ingest serialization lock.
func (a *app) ingestLockPath() string {
	return filepath.Join(a.cfg.DataDir, "ingest.lock")
}

// reportsDir is where research dossier artifacts are rendered.
func (a *app) reportsDir() string {
	return filepath.Join(a.cfg.DataDir, "reports")
}

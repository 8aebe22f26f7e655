package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/caseweave/caseweave/internal/store"
)

// CreateStatus reports what CreateAll did for one collection.
type CreateStatus string

const (
	StatusCreated   CreateStatus = "created"
	StatusExisted   CreateStatus = "existed"
	StatusRecreated CreateStatus = "recreated"
)

// CollectionHealth is one collection's state across both stores.
type CollectionHealth struct {
	Lexical store.IndexHealth `json:"lexical"`
	Vector  store.IndexHealth `json:"vector"`
}

// Lifecycle creates and inspects the per-collection indexes on disk. It
// owns the index roots; the stores themselves are opened only for the
// duration of each operation so the CLI can run against a data directory
// no server currently holds.
type Lifecycle struct {
	lexicalRoot string
	vectorRoot  string
	dimensions  int
	logger      *slog.Logger
}

// NewLifecycle returns a lifecycle manager for the given index roots.
func NewLifecycle(lexicalRoot, vectorRoot string, dimensions int, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		lexicalRoot: lexicalRoot,
		vectorRoot:  vectorRoot,
		dimensions:  dimensions,
		logger:      logger,
	}
}

func (l *Lifecycle) lexicalPath(collection string) string {
	return filepath.Join(l.lexicalRoot, collection+".bleve")
}

func (l *Lifecycle) vectorPath(collection string) string {
	return filepath.Join(l.vectorRoot, collection)
}

// CreateAll ensures every collection exists in both stores. With recreate,
// existing collections are dropped and rebuilt empty. Returns the action
// taken per collection; the call is idempotent.
func (l *Lifecycle) CreateAll(ctx context.Context, recreate bool) (map[string]CreateStatus, error) {
	statuses := make(map[string]CreateStatus, len(store.Collections))
	for _, collection := range store.Collections {
		existed := pathExists(l.lexicalPath(collection)) || pathExists(l.vectorPath(collection))
		switch {
		case existed && recreate:
			if err := os.RemoveAll(l.lexicalPath(collection)); err != nil {
				return nil, fmt.Errorf("remove lexical %s: %w", collection, err)
			}
			if err := os.RemoveAll(l.vectorPath(collection)); err != nil {
				return nil, fmt.Errorf("remove vector %s: %w", collection, err)
			}
			statuses[collection] = StatusRecreated
		case existed:
			statuses[collection] = StatusExisted
		default:
			statuses[collection] = StatusCreated
		}
	}

	// Opening the stores materializes missing collections; the two sides
	// are independent so they build in parallel.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		lexical, err := store.NewLexicalStore(l.lexicalRoot)
		if err != nil {
			return fmt.Errorf("create lexical indexes: %w", err)
		}
		return lexical.Close()
	})
	g.Go(func() error {
		vector, err := store.NewVectorStore(l.vectorRoot, l.dimensions)
		if err != nil {
			return fmt.Errorf("create vector indexes: %w", err)
		}
		if err := vector.Save(); err != nil {
			_ = vector.Close()
			return fmt.Errorf("persist vector indexes: %w", err)
		}
		return vector.Close()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	l.logger.Info("indexes_created",
		"collections", len(statuses),
		"recreate", recreate,
		"dimensions", l.dimensions,
	)
	return statuses, nil
}

// Health reports each collection's on-disk state in both stores. Existence
// is snapshotted before the stores are opened because opening materializes
// missing collections; anything the probe itself created is removed again.
func (l *Lifecycle) Health(ctx context.Context) (map[string]CollectionHealth, error) {
	existedLexical := make(map[string]bool, len(store.Collections))
	existedVector := make(map[string]bool, len(store.Collections))
	for _, collection := range store.Collections {
		existedLexical[collection] = pathExists(l.lexicalPath(collection))
		existedVector[collection] = pathExists(l.vectorPath(collection))
	}

	var lexical *store.LexicalStore
	var vector *store.VectorStore
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = store.NewLexicalStore(l.lexicalRoot)
		if err != nil {
			return fmt.Errorf("open lexical indexes: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		vector, err = store.NewVectorStore(l.vectorRoot, l.dimensions)
		if err != nil {
			return fmt.Errorf("open vector indexes: %w", err)
		}
		return nil
	})
	err := g.Wait()
	defer func() {
		if lexical != nil {
			_ = lexical.Close()
		}
		if vector != nil {
			_ = vector.Close()
		}
		for _, collection := range store.Collections {
			if !existedLexical[collection] {
				_ = os.RemoveAll(l.lexicalPath(collection))
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	health := make(map[string]CollectionHealth, len(store.Collections))
	for _, collection := range store.Collections {
		lex := lexical.Health(collection)
		lex.Exists = existedLexical[collection]
		if !lex.Exists {
			lex.DocCount = 0
			lex.SizeMB = 0
		}
		vec := vector.Health(collection)
		vec.Exists = existedVector[collection]
		if !vec.Exists {
			vec.DocCount = 0
			vec.SizeMB = 0
		}
		health[collection] = CollectionHealth{Lexical: lex, Vector: vec}
	}
	return health, nil
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Package query implements the read side of the platform: typed query
// objects dispatched through a middleware chain to registered handlers.
// Handlers return DTOs, never domain entities.
package query

import (
	"context"
	"sync"

	"github.com/caseweave/caseweave/internal/errors"
)

// Query is a read request routed by kind. Implementations are plain
// structs; Kind is a stable string used for registration and dispatch.
type Query interface {
	Kind() string
}

// Validator is implemented by queries that carry caller-supplied bounds.
// The validation middleware invokes it before dispatch.
type Validator interface {
	Validate() error
}

// Handler executes one query kind.
type Handler interface {
	Handle(ctx context.Context, q Query) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, q Query) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, q Query) (any, error) {
	return f(ctx, q)
}

// Middleware wraps query execution. Before hooks run in registration
// order and may enrich the context; After hooks run in reverse order on
// success; OnError hooks run in reverse order when any stage fails.
type Middleware interface {
	Name() string
	Before(ctx context.Context, q Query) (context.Context, error)
	After(ctx context.Context, q Query, result any)
	OnError(ctx context.Context, q Query, err error)
}

// Bus routes queries to handlers by exact kind.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string]Handler)}
}

// Register binds a handler to a query kind. Registering the same kind
// twice is a wiring bug and fails.
func (b *Bus) Register(kind string, h Handler) error {
	if kind == "" {
		return errors.Validation("query kind is required")
	}
	if h == nil {
		return errors.Validationf("nil handler for query kind %s", kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[kind]; exists {
		return errors.Validationf("handler already registered for query kind %s", kind)
	}
	b.handlers[kind] = h
	return nil
}

// Use appends middleware to the chain. Order is preserved.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// Kinds returns the registered query kinds, for diagnostics.
func (b *Bus) Kinds() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	kinds := make([]string, 0, len(b.handlers))
	for k := range b.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Execute dispatches a query to its handler. Middleware Before hooks run
// in order, After hooks in reverse; when any stage errors, OnError hooks
// run in reverse and the failure is returned as a query-execution error
// wrapping the cause, so callers can still branch on the cause's kind.
func (b *Bus) Execute(ctx context.Context, q Query) (any, error) {
	if q == nil {
		return nil, errors.Validation("query is required")
	}

	b.mu.RLock()
	h, ok := b.handlers[q.Kind()]
	chain := make([]Middleware, len(b.middleware))
	copy(chain, b.middleware)
	b.mu.RUnlock()

	if !ok {
		return nil, errors.NotFound("query handler", q.Kind())
	}

	fail := func(err error) error {
		for i := len(chain) - 1; i >= 0; i-- {
			chain[i].OnError(ctx, q, err)
		}
		return errors.New(errors.ErrCodeQueryExecution, "query "+q.Kind()+" failed", err)
	}

	for _, mw := range chain {
		next, err := mw.Before(ctx, q)
		if err != nil {
			return nil, fail(err)
		}
		if next != nil {
			ctx = next
		}
	}

	result, err := h.Handle(ctx, q)
	if err != nil {
		return nil, fail(err)
	}

	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].After(ctx, q, result)
	}
	return result, nil
}

package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

type startTimeKey struct{}

// LoggingMiddleware records query start, completion with duration, and
// failures with the structured error code.
type LoggingMiddleware struct {
	logger *slog.Logger
}

// NewLoggingMiddleware creates the standard logging middleware.
func NewLoggingMiddleware(logger *slog.Logger) *LoggingMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingMiddleware{logger: logger}
}

func (m *LoggingMiddleware) Name() string { return "logging" }

func (m *LoggingMiddleware) Before(ctx context.Context, q Query) (context.Context, error) {
	ctx, correlationID := errors.EnsureCorrelationID(ctx)
	m.logger.Debug("query_started", "kind", q.Kind(), "correlation_id", correlationID)
	return context.WithValue(ctx, startTimeKey{}, time.Now()), nil
}

func (m *LoggingMiddleware) After(ctx context.Context, q Query, _ any) {
	m.logger.Info("query_completed",
		"kind", q.Kind(),
		"correlation_id", errors.CorrelationID(ctx),
		"duration_ms", m.elapsed(ctx).Milliseconds(),
	)
}

func (m *LoggingMiddleware) OnError(ctx context.Context, q Query, err error) {
	m.logger.Error("query_failed",
		"kind", q.Kind(),
		"correlation_id", errors.CorrelationID(ctx),
		"duration_ms", m.elapsed(ctx).Milliseconds(),
		"code", errors.CodeOf(err),
		"error", err,
	)
}

func (m *LoggingMiddleware) elapsed(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(startTimeKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}

// ValidationMiddleware invokes the query's optional Validate method
// before dispatch, so handlers only ever see well-formed queries.
type ValidationMiddleware struct{}

// NewValidationMiddleware creates the standard validation middleware.
func NewValidationMiddleware() *ValidationMiddleware {
	return &ValidationMiddleware{}
}

func (m *ValidationMiddleware) Name() string { return "validation" }

func (m *ValidationMiddleware) Before(ctx context.Context, q Query) (context.Context, error) {
	if v, ok := q.(Validator); ok {
		if err := v.Validate(); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func (m *ValidationMiddleware) After(context.Context, Query, any) {}

func (m *ValidationMiddleware) OnError(context.Context, Query, error) {}

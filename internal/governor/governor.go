// Package governor throttles GPU- and LLM-bound work with a distributed
// counting semaphore backed by Redis. Every heavy operation (LLM completion,
// reranking, diarization) acquires a permit before running; the cap bounds
// aggregate VRAM pressure across all caseweave processes sharing the Redis
// endpoint.
//
// When Redis is unreachable the governor degrades to a process-local counter
// with the same cap semantics rather than blocking callers on an infra
// outage. A circuit breaker sheds further Redis dials after repeated
// failures; once its cooldown admits a successful probe, degraded mode ends.
package governor

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caseweave/caseweave/internal/errors"
)

const (
	// DefaultCounterKey is the Redis key holding the permit counter.
	DefaultCounterKey = "caseweave:governor:permits"

	// DefaultRetryInterval is the sleep between blocking acquisition attempts.
	DefaultRetryInterval = 1 * time.Second

	// DefaultAcquireTimeout bounds a blocking acquire when the caller's
	// context carries no deadline of its own.
	DefaultAcquireTimeout = 30 * time.Second
)

// Governor is a distributed counting semaphore of fixed capacity.
type Governor struct {
	client        *redis.Client
	key           string
	capacity      int
	retryInterval time.Duration
	timeout       time.Duration
	localFallback bool
	breaker       *errors.CircuitBreaker

	// degraded is set while Redis is unreachable and permits are tracked
	// by the local counter instead.
	degraded atomic.Bool
	localMu  sync.Mutex
	local    int
}

// Option configures a Governor.
type Option func(*Governor)

// WithCounterKey overrides the Redis key. Separate keys isolate pools.
func WithCounterKey(key string) Option {
	return func(g *Governor) { g.key = key }
}

// WithRetryInterval overrides the blocking-acquire retry interval.
func WithRetryInterval(d time.Duration) Option {
	return func(g *Governor) { g.retryInterval = d }
}

// WithAcquireTimeout overrides the default blocking-acquire budget.
func WithAcquireTimeout(d time.Duration) Option {
	return func(g *Governor) { g.timeout = d }
}

// WithLocalFallback enables or disables the degraded-mode local counter.
// With fallback disabled, acquisition fails fast when Redis is down.
func WithLocalFallback(enabled bool) Option {
	return func(g *Governor) { g.localFallback = enabled }
}

// WithBreaker overrides the Redis circuit breaker. Tests shorten its cooldown.
func WithBreaker(b *errors.CircuitBreaker) Option {
	return func(g *Governor) { g.breaker = b }
}

// New creates a governor with the given capacity on the Redis endpoint.
// Capacity below zero is clamped to zero; a zero-capacity governor rejects
// every acquisition, which is the guardrail for misconfigured deployments.
func New(addr string, capacity int, opts ...Option) *Governor {
	if capacity < 0 {
		capacity = 0
	}

	g := &Governor{
		client:        redis.NewClient(&redis.Options{Addr: addr}),
		key:           DefaultCounterKey,
		capacity:      capacity,
		retryInterval: DefaultRetryInterval,
		timeout:       DefaultAcquireTimeout,
		localFallback: true,
		breaker:       errors.NewCircuitBreaker("governor-redis"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Capacity returns the permit cap.
func (g *Governor) Capacity() int { return g.capacity }

// Degraded reports whether the governor is currently on the local fallback.
func (g *Governor) Degraded() bool { return g.degraded.Load() }

// CircuitState reports the Redis breaker position for status surfaces.
func (g *Governor) CircuitState() errors.State { return g.breaker.State() }

// Acquire obtains one permit, blocking up to the configured timeout.
// The returned lease must be released; Release is idempotent and defer-safe.
// Budget exhaustion surfaces as a RESOURCE_EXHAUSTED error.
func (g *Governor) Acquire(ctx context.Context) (*Lease, error) {
	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		lease, ok, err := g.tryOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return lease, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.ResourceExhausted("governor acquisition timed out", nil).
				WithDetail("capacity", strconv.Itoa(g.capacity))
		}

		wait := g.retryInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, errors.Timeout("governor acquire cancelled", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// TryAcquire obtains one permit without blocking. Over-cap fails immediately
// with a RESOURCE_EXHAUSTED error.
func (g *Governor) TryAcquire(ctx context.Context) (*Lease, error) {
	lease, ok, err := g.tryOnce(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.ResourceExhausted("governor at capacity", nil).
			WithDetail("capacity", strconv.Itoa(g.capacity))
	}
	return lease, nil
}

// tryOnce attempts a single INCR-based acquisition. Returns (lease, true) on
// success, (nil, false) when at capacity, or an error when Redis is down and
// local fallback is disabled.
func (g *Governor) tryOnce(ctx context.Context) (*Lease, bool, error) {
	// An open breaker means Redis failed repeatedly; skip the dial and go
	// straight to the local counter until the cooldown admits a probe.
	if !g.breaker.Allow() {
		return g.tryLocal(errors.ErrCircuitOpen)
	}

	n, err := g.client.Incr(ctx, g.key).Result()
	if err != nil {
		g.breaker.RecordFailure()
		if g.breaker.State() == errors.StateOpen {
			slog.Warn("governor_circuit_open", "breaker", g.breaker.Name())
		}
		return g.tryLocal(err)
	}
	g.breaker.RecordSuccess()

	// A successful round trip ends degraded mode. Local permits still
	// release against the local counter via their own release funcs.
	if g.degraded.CompareAndSwap(true, false) {
		slog.Info("governor_degraded_mode_exit")
	}

	if n > int64(g.capacity) {
		// Overshot the cap (or cap is zero): undo and report at-capacity.
		if err := g.client.Decr(ctx, g.key).Err(); err != nil {
			slog.Warn("governor_decr_failed", "error", err)
		}
		return nil, false, nil
	}

	return newLease(func() {
		// Release against Redis; on outage the counter self-heals via Reset.
		if err := g.client.Decr(context.Background(), g.key).Err(); err != nil {
			slog.Warn("governor_release_failed", "error", err)
		}
	}), true, nil
}

// tryLocal handles acquisition while Redis is unreachable.
func (g *Governor) tryLocal(cause error) (*Lease, bool, error) {
	if !g.localFallback {
		return nil, false, errors.TransientBackend("governor", cause)
	}

	if g.degraded.CompareAndSwap(false, true) {
		slog.Warn("governor_degraded_mode_enter", "error", cause)
	}

	g.localMu.Lock()
	defer g.localMu.Unlock()
	if g.local >= g.capacity {
		return nil, false, nil
	}
	g.local++

	return newLease(func() {
		g.localMu.Lock()
		defer g.localMu.Unlock()
		if g.local > 0 {
			g.local--
		}
	}), true, nil
}

// CurrentUsage returns the number of permits currently held. In degraded mode
// it reports the local counter.
func (g *Governor) CurrentUsage(ctx context.Context) (int, error) {
	if g.degraded.Load() {
		g.localMu.Lock()
		defer g.localMu.Unlock()
		return g.local, nil
	}

	n, err := g.client.Get(ctx, g.key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.TransientBackend("governor", err)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}

// Reset zeroes the counter. Emergency use only: leases held at reset time
// will decrement below zero on release, which the acquisition path treats
// the same as zero.
func (g *Governor) Reset(ctx context.Context) error {
	g.localMu.Lock()
	g.local = 0
	g.localMu.Unlock()

	if err := g.client.Set(ctx, g.key, 0, 0).Err(); err != nil {
		return errors.TransientBackend("governor", err)
	}
	slog.Warn("governor_reset")
	return nil
}

// Close releases the Redis connection.
func (g *Governor) Close() error {
	return g.client.Close()
}

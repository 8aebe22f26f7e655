package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
)

// ============================================================================
// Workflow Journal Tests
// ============================================================================

func TestJournal_AppendAssignsContiguousSeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		seq, err := s.AppendEvent(ctx, &WorkflowEvent{
			RunID:    "run-1",
			Type:     "ACTIVITY_COMPLETED",
			Activity: "run_discovery_phase",
			Attempt:  1,
			Payload:  json.RawMessage(`{"terms":3}`),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	// Sequences are per-run, not global.
	seq, err := s.AppendEvent(ctx, &WorkflowEvent{RunID: "run-2", Type: "RUN_STARTED"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestJournal_EventsReturnHistoryInOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	types := []string{"RUN_STARTED", "PHASE_ENTERED", "ACTIVITY_COMPLETED"}
	for _, typ := range types {
		_, err := s.AppendEvent(ctx, &WorkflowEvent{RunID: "run-1", Type: typ})
		require.NoError(t, err)
	}

	events, err := s.Events(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, types[i], ev.Type)
		assert.False(t, ev.CreatedAt.IsZero())
	}

	// Unknown run has an empty history, not an error.
	events, err = s.Events(ctx, "run-none")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestJournal_SignalQueueFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	require.NoError(t, s.SendSignal(ctx, &WorkflowSignal{
		ID: domain.NewID(), RunID: "run-1", Name: "pause", CreatedAt: base,
	}))
	require.NoError(t, s.SendSignal(ctx, &WorkflowSignal{
		ID: domain.NewID(), RunID: "run-1", Name: "resume", CreatedAt: base.Add(time.Second),
	}))

	pending, err := s.PendingSignals(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "pause", pending[0].Name)

	first, err := s.ConsumeSignal(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "pause", first.Name)
	require.NotNil(t, first.ConsumedAt)

	second, err := s.ConsumeSignal(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "resume", second.Name)

	// Queue drained.
	third, err := s.ConsumeSignal(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, third)

	pending, err = s.PendingSignals(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestJournal_ConsumeScopedToRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SendSignal(ctx, &WorkflowSignal{
		ID: domain.NewID(), RunID: "run-other", Name: "cancel",
	}))

	sig, err := s.ConsumeSignal(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestJournal_PurgeRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendEvent(ctx, &WorkflowEvent{RunID: "run-1", Type: "RUN_STARTED"})
	require.NoError(t, err)
	require.NoError(t, s.SendSignal(ctx, &WorkflowSignal{ID: domain.NewID(), RunID: "run-1", Name: "cancel"}))

	require.NoError(t, s.PurgeRun(ctx, "run-1"))

	events, err := s.Events(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, events)

	sig, err := s.ConsumeSignal(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, sig)

	// Purged run's sequence restarts at 1.
	seq, err := s.AppendEvent(ctx, &WorkflowEvent{RunID: "run-1", Type: "RUN_STARTED"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

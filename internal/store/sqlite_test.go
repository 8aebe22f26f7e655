package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/errors"
)

// ============================================================================
// SQLite System of Record Tests
// ============================================================================

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "caseweave.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mkCase(t *testing.T, s *SQLiteStore, caseNumber string) *domain.Case {
	t.Helper()
	c, err := domain.NewCase(caseNumber, "Acme Corp", "civil", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.SaveCase(context.Background(), c))
	return c
}

func mkEvidence(t *testing.T, s *SQLiteStore, caseID string, class domain.EvidenceClass) *domain.Evidence {
	t.Helper()
	ev, err := domain.NewEvidence(caseID, class, "exhibit-a.pdf", 2048)
	require.NoError(t, err)
	require.NoError(t, s.SaveEvidence(context.Background(), ev))
	return ev
}

// ============================================================================
// Cases
// ============================================================================

func TestSQLiteStore_SaveAndGetCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.CaseNumber, got.CaseNumber)
	assert.Equal(t, domain.CaseStatusActive, got.Status)
	assert.Equal(t, "Acme Corp", got.Client)

	byNumber, err := s.GetCaseByNumber(ctx, "2024-CV-1001")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byNumber.ID)
}

func TestSQLiteStore_GetCase_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCase(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSQLiteStore_SaveCase_DuplicateCaseNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkCase(t, s, "2024-CV-1001")

	// Same case number under a different ID violates uniqueness.
	dup, err := domain.NewCase("2024-CV-1001", "Other Client", "criminal", "")
	require.NoError(t, err)
	err = s.SaveCase(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestSQLiteStore_SaveCase_UpsertSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	c.Status = domain.CaseStatusClosed
	require.NoError(t, s.SaveCase(ctx, c))

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CaseStatusClosed, got.Status)
}

func TestSQLiteStore_ListCases_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mkCase(t, s, "2024-CV-1001")
	closed := mkCase(t, s, "2024-CV-1002")
	closed.Status = domain.CaseStatusClosed
	require.NoError(t, s.SaveCase(ctx, closed))

	active, err := s.ListCases(ctx, domain.CaseStatusActive, 10, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "2024-CV-1001", active[0].CaseNumber)

	all, err := s.ListCases(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_DeleteCase_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)

	require.NoError(t, s.DeleteCase(ctx, c.ID))

	_, err := s.GetCase(ctx, c.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	_, err = s.GetEvidence(ctx, ev.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

// ============================================================================
// Evidence
// ============================================================================

func TestSQLiteStore_EvidenceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	assert.Equal(t, domain.EvidencePending, ev.Status)

	require.NoError(t, s.UpdateEvidenceStatus(ctx, ev.ID, domain.EvidenceProcessing))
	require.NoError(t, s.UpdateEvidenceStatus(ctx, ev.ID, domain.EvidenceCompleted))

	got, err := s.GetEvidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EvidenceCompleted, got.Status)
	assert.Equal(t, int64(2048), got.Size)
}

func TestSQLiteStore_Evidence_TranscriptSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev, err := domain.NewEvidence(c.ID, domain.EvidenceTranscript, "deposition.wav", 1<<20)
	require.NoError(t, err)
	ev.Segments = []domain.TranscriptSegment{
		{ID: "seg-2", StartS: 5.0, EndS: 9.5, Text: "I was not there", SpeakerID: "SPEAKER_01", Confidence: 0.92},
		{ID: "seg-1", StartS: 0.0, EndS: 4.8, Text: "State your name", SpeakerID: "SPEAKER_00", Confidence: 0.97},
	}
	require.NoError(t, s.SaveEvidence(ctx, ev))

	got, err := s.GetEvidence(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, got.Segments, 2)

	// Segments come back ordered by start time.
	assert.Equal(t, "seg-1", got.Segments[0].ID)
	assert.Equal(t, "seg-2", got.Segments[1].ID)
	assert.Equal(t, "SPEAKER_01", got.Segments[1].SpeakerID)
	assert.InDelta(t, 0.92, got.Segments[1].Confidence, 1e-9)
}

func TestSQLiteStore_ListEvidenceByCase_ClassFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	mkEvidence(t, s, c.ID, domain.EvidenceCommunication)

	docs, err := s.ListEvidenceByCase(ctx, c.ID, domain.EvidenceDocument)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	all, err := s.ListEvidenceByCase(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_EvidenceExists_Batch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)

	exists, err := s.EvidenceExists(ctx, []string{ev.ID, "ghost-1", "ghost-2"})
	require.NoError(t, err)
	assert.True(t, exists[ev.ID])
	assert.False(t, exists["ghost-1"])
	assert.False(t, exists["ghost-2"])
}

// ============================================================================
// Chunks
// ============================================================================

func mkChunks(t *testing.T, caseID, evidenceID string, texts ...string) []*domain.Chunk {
	t.Helper()
	chunks := make([]*domain.Chunk, len(texts))
	for i, text := range texts {
		c, err := domain.NewChunk(caseID, evidenceID, domain.ChunkParagraph, i, text)
		require.NoError(t, err)
		chunks[i] = c
	}
	return chunks
}

func TestSQLiteStore_Chunks_SaveAndBatchGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	chunks := mkChunks(t, c.ID, ev.ID, "first paragraph", "second paragraph", "third paragraph")
	require.NoError(t, s.SaveChunks(ctx, chunks))

	// Request out of order, with one unknown ID mixed in.
	got, err := s.GetChunks(ctx, []string{chunks[2].ID, "missing", chunks[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, chunks[2].ID, got[0].ID)
	assert.Equal(t, chunks[0].ID, got[1].ID)

	ids, err := s.ListChunkIDsByEvidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{chunks[0].ID, chunks[1].ID, chunks[2].ID}, ids)
}

func TestSQLiteStore_Chunks_ReingestOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	chunks := mkChunks(t, c.ID, ev.ID, "original text")
	require.NoError(t, s.SaveChunks(ctx, chunks))

	// Same deterministic ID, updated metadata.
	chunks[0].Metadata = map[string]any{"page": float64(3)}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	got, err := s.GetChunk(ctx, chunks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, float64(3), got.Metadata["page"])
}

func TestSQLiteStore_ChunkEvidenceIDs_OrphanDetection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	chunks := mkChunks(t, c.ID, ev.ID, "registered chunk")
	require.NoError(t, s.SaveChunks(ctx, chunks))

	mapping, err := s.ChunkEvidenceIDs(ctx, []string{chunks[0].ID, "orphan-chunk"})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, mapping[chunks[0].ID])

	// Unregistered chunk IDs are simply absent.
	_, ok := mapping["orphan-chunk"]
	assert.False(t, ok)
}

func TestSQLiteStore_DeleteChunksByEvidence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	ev := mkEvidence(t, s, c.ID, domain.EvidenceDocument)
	chunks := mkChunks(t, c.ID, ev.ID, "one", "two")
	require.NoError(t, s.SaveChunks(ctx, chunks))

	require.NoError(t, s.DeleteChunksByEvidence(ctx, ev.ID))

	ids, err := s.ListChunkIDsByEvidence(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// ============================================================================
// Research runs
// ============================================================================

func TestSQLiteStore_ResearchRun_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "locate alibi witnesses", "mistaken identity")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	got, err := s.GetResearchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, got.Status)
	assert.Equal(t, "mistaken identity", got.DefenseTheory)
	assert.Nil(t, got.CompletedAt)

	// Complete and persist.
	require.NoError(t, run.Complete(domain.RunCompleted))
	require.NoError(t, s.SaveResearchRun(ctx, run))

	got, err = s.GetResearchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CompletedAt.Before(got.StartedAt))
}

func TestSQLiteStore_ListResearchRuns_FilterAndTotal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	for i := 0; i < 3; i++ {
		run, err := domain.NewResearchRun(c.ID, "query", "")
		require.NoError(t, err)
		if i == 0 {
			require.NoError(t, run.Complete(domain.RunCompleted))
		}
		require.NoError(t, s.SaveResearchRun(ctx, run))
	}

	runs, total, err := s.ListResearchRuns(ctx, c.ID, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, runs, 2)

	completed, total, err := s.ListResearchRuns(ctx, c.ID, RunFilter{Status: domain.RunCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, completed, 1)
}

func TestSQLiteStore_UpdateRunPhase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	require.NoError(t, s.UpdateRunPhase(ctx, run.ID, domain.RunRunning, domain.PhaseSearching))

	got, err := s.GetResearchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, got.Status)
	assert.Equal(t, domain.PhaseSearching, got.Phase)

	err = s.UpdateRunPhase(ctx, "missing", domain.RunRunning, domain.PhaseSearching)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestSQLiteStore_HeartbeatRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	beat := time.Now().Add(10 * time.Second).UTC()
	require.NoError(t, s.HeartbeatRun(ctx, run.ID, beat))

	got, err := s.GetResearchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, beat, got.HeartbeatAt, time.Second)
}

// ============================================================================
// Findings
// ============================================================================

func mkFinding(t *testing.T, runID string, ft domain.FindingType, text string, confidence, relevance float64, tags ...string) *domain.Finding {
	t.Helper()
	f, err := domain.NewFinding(runID, ft, text, confidence, relevance)
	require.NoError(t, err)
	f.Tags = tags
	return f
}

func TestSQLiteStore_Findings_SaveWithCitations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	f := mkFinding(t, run.ID, domain.FindingContradiction, "witness statements conflict on date", 0.9, 0.85)
	cit, err := domain.NewCitation("chunk-1", "ev-1", 10, 48, "on the night of March 5th")
	require.NoError(t, err)
	f.Citations = []domain.Citation{*cit}
	require.NoError(t, s.SaveFindings(ctx, []*domain.Finding{f}))

	got, total, err := s.GetFindings(ctx, run.ID, FindingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, got, 1)
	require.Len(t, got[0].Citations, 1)
	assert.Equal(t, "chunk-1", got[0].Citations[0].ChunkID)
	assert.Equal(t, "on the night of March 5th", got[0].Citations[0].Quote)
}

func TestSQLiteStore_GetFindings_SortAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	findings := []*domain.Finding{
		mkFinding(t, run.ID, domain.FindingFact, "low relevance", 0.9, 0.2, "minor"),
		mkFinding(t, run.ID, domain.FindingContradiction, "high relevance", 0.7, 0.95, "key"),
		mkFinding(t, run.ID, domain.FindingFact, "mid relevance", 0.8, 0.5, "key"),
	}
	require.NoError(t, s.SaveFindings(ctx, findings))

	// Sorted by relevance descending.
	got, total, err := s.GetFindings(ctx, run.ID, FindingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, got, 3)
	assert.Equal(t, "high relevance", got[0].Text)
	assert.Equal(t, "mid relevance", got[1].Text)

	// Type filter.
	facts, total, err := s.GetFindings(ctx, run.ID, FindingFilter{Types: []domain.FindingType{domain.FindingFact}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, facts, 2)

	// Confidence floor.
	minConf := 0.85
	confident, _, err := s.GetFindings(ctx, run.ID, FindingFilter{MinConfidence: &minConf})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	assert.Equal(t, "low relevance", confident[0].Text)

	// Tag filter matches any tag.
	tagged, total, err := s.GetFindings(ctx, run.ID, FindingFilter{Tags: []string{"key"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, tagged, 2)

	// Pagination keeps the unpaginated total.
	page, total, err := s.GetFindings(ctx, run.ID, FindingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "mid relevance", page[0].Text)
}

func TestSQLiteStore_CountFindings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	f := mkFinding(t, run.ID, domain.FindingFact, "finding with two citations", 0.9, 0.9)
	cit1, err := domain.NewCitation("chunk-1", "ev-1", 0, 5, "quote")
	require.NoError(t, err)
	cit2, err := domain.NewCitation("chunk-2", "ev-1", 0, 5, "quote")
	require.NoError(t, err)
	f.Citations = []domain.Citation{*cit1, *cit2}
	require.NoError(t, s.SaveFindings(ctx, []*domain.Finding{f}))

	findings, citations, err := s.CountFindings(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, findings)
	assert.Equal(t, 2, citations)
}

// ============================================================================
// Knowledge graph
// ============================================================================

func TestSQLiteStore_QueryGraph_DepthExpansion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")

	alice, err := domain.NewGraphNode(c.ID, domain.NodePerson, "Alice Smith")
	require.NoError(t, err)
	bob, err := domain.NewGraphNode(c.ID, domain.NodePerson, "Bob Jones")
	require.NoError(t, err)
	meeting, err := domain.NewGraphNode(c.ID, domain.NodeEvent, "March 5 meeting")
	require.NoError(t, err)
	require.NoError(t, s.SaveGraphNodes(ctx, []*domain.GraphNode{alice, bob, meeting}))

	r1, err := domain.NewGraphRelationship(c.ID, alice.ID, meeting.ID, domain.RelParticipatedIn)
	require.NoError(t, err)
	r2, err := domain.NewGraphRelationship(c.ID, bob.ID, meeting.ID, domain.RelParticipatedIn)
	require.NoError(t, err)
	require.NoError(t, s.SaveGraphRelationships(ctx, []*domain.GraphRelationship{r1, r2}))

	// Depth 1 from Alice reaches the meeting but not Bob.
	nodes, rels, err := s.QueryGraph(ctx, c.ID, GraphFilter{Entity: "alice", Depth: 1})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Len(t, rels, 1)

	// Depth 2 reaches Bob through the shared event.
	nodes, rels, err = s.QueryGraph(ctx, c.ID, GraphFilter{Entity: "alice", Depth: 2})
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	assert.Len(t, rels, 2)
}

func TestSQLiteStore_QueryGraph_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	alice, err := domain.NewGraphNode(c.ID, domain.NodePerson, "Alice Smith")
	require.NoError(t, err)
	org, err := domain.NewGraphNode(c.ID, domain.NodeOrganization, "Acme Corp")
	require.NoError(t, err)
	require.NoError(t, s.SaveGraphNodes(ctx, []*domain.GraphNode{alice, org}))

	// Node type filter selects only matching seeds.
	nodes, _, err := s.QueryGraph(ctx, c.ID, GraphFilter{NodeType: domain.NodeOrganization, Depth: 1})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Acme Corp", nodes[0].Label)

	// Unmatched entity returns nothing.
	nodes, rels, err := s.QueryGraph(ctx, c.ID, GraphFilter{Entity: "nobody", Depth: 1})
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.Empty(t, rels)
}

func TestSQLiteStore_GraphNodes_DeterministicUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")

	// Same canonical label saved twice produces a single node.
	n1, err := domain.NewGraphNode(c.ID, domain.NodePerson, "Alice Smith")
	require.NoError(t, err)
	n2, err := domain.NewGraphNode(c.ID, domain.NodePerson, "  alice   SMITH ")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n2.ID)
	require.NoError(t, s.SaveGraphNodes(ctx, []*domain.GraphNode{n1, n2}))

	nodes, _, err := s.QueryGraph(ctx, c.ID, GraphFilter{Entity: "alice", Depth: 1})
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

// ============================================================================
// Timeline
// ============================================================================

func TestSQLiteStore_Timeline_OrderAndRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	base := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	events := []*domain.TimelineEvent{
		{ID: "e2", CaseID: c.ID, Timestamp: base.Add(2 * time.Hour), EventType: "meeting", Description: "second", Participants: []string{"Alice"}},
		{ID: "e1", CaseID: c.ID, Timestamp: base, EventType: "call", Description: "first", Participants: []string{"Bob"}},
		{ID: "e3", CaseID: c.ID, Timestamp: base.Add(48 * time.Hour), EventType: "email", Description: "third", Participants: []string{"Alice", "Bob"}},
	}
	require.NoError(t, s.SaveTimelineEvents(ctx, events))

	// Chronological order regardless of insert order.
	all, err := s.GetTimeline(ctx, c.ID, TimelineFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e1", all[0].ID)
	assert.Equal(t, "e3", all[2].ID)

	// Time range filter.
	end := base.Add(3 * time.Hour)
	ranged, err := s.GetTimeline(ctx, c.ID, TimelineFilter{Start: &base, End: &end})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	// Participant filter.
	alice, err := s.GetTimeline(ctx, c.ID, TimelineFilter{EntityID: "Alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)

	// Event type filter.
	calls, err := s.GetTimeline(ctx, c.ID, TimelineFilter{EventTypes: []string{"call"}})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "e1", calls[0].ID)
}

// ============================================================================
// Dossiers
// ============================================================================

func TestSQLiteStore_Dossier_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	d, err := domain.NewDossier(run.ID, "Executive summary of the case.", []domain.DossierSection{
		{Title: "Key Findings", Content: "Two contradictions were identified.", Order: 1},
		{Title: "Timeline", Content: "Events span March 2024.", Order: 2},
	})
	require.NoError(t, err)
	d.CitationsAppendix = "[1] exhibit-a.pdf"
	require.NoError(t, s.SaveDossier(ctx, d))

	got, err := s.GetDossier(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ExecutiveSummary, got.ExecutiveSummary)
	assert.Equal(t, "[1] exhibit-a.pdf", got.CitationsAppendix)
	require.Len(t, got.Sections, 2)
	assert.Equal(t, "Key Findings", got.Sections[0].Title)
	assert.Greater(t, got.WordCount, 0)
}

func TestSQLiteStore_Dossier_RegenerateReplacesSections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")
	run, err := domain.NewResearchRun(c.ID, "query", "")
	require.NoError(t, err)
	require.NoError(t, s.SaveResearchRun(ctx, run))

	first, err := domain.NewDossier(run.ID, "v1", []domain.DossierSection{{Title: "Old", Content: "old content", Order: 1}})
	require.NoError(t, err)
	require.NoError(t, s.SaveDossier(ctx, first))

	// Regeneration carries a fresh dossier ID but the same run ID.
	second, err := domain.NewDossier(run.ID, "v2", []domain.DossierSection{
		{Title: "New A", Content: "new content", Order: 1},
		{Title: "New B", Content: "more content", Order: 2},
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveDossier(ctx, second))

	got, err := s.GetDossier(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ExecutiveSummary)
	require.Len(t, got.Sections, 2)
	assert.Equal(t, "New A", got.Sections[0].Title)
}

// ============================================================================
// Contradictions, patterns, state
// ============================================================================

func TestSQLiteStore_ContradictionsAndPatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := mkCase(t, s, "2024-CV-1001")

	contradictions := []*domain.Contradiction{{
		ID:         domain.HashID(c.ID, "f1", "f2"),
		CaseID:     c.ID,
		FindingA:   "f1",
		FindingB:   "f2",
		Similarity: 0.81,
		Predicate:  "date",
		Severity:   domain.SeverityHigh,
		Detail:     "statements disagree on meeting date",
	}}
	require.NoError(t, s.SaveContradictions(ctx, contradictions))
	// Deterministic IDs make re-detection idempotent.
	require.NoError(t, s.SaveContradictions(ctx, contradictions))

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM contradictions`).Scan(&count))
	assert.Equal(t, 1, count)

	patterns := []*domain.Pattern{{
		ID:          domain.HashID(c.ID, "repeated_type", "contradiction"),
		CaseID:      c.ID,
		PatternType: "repeated_type",
		Description: "3 contradiction findings",
		FindingIDs:  []string{"f1", "f2", "f3"},
		Count:       3,
	}}
	require.NoError(t, s.SavePatterns(ctx, patterns))

	require.NoError(t, s.DB().QueryRow(`SELECT count FROM patterns WHERE id = ?`, patterns[0].ID).Scan(&count))
	assert.Equal(t, 3, count)
}

func TestSQLiteStore_State_KV(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Unset keys read as empty.
	v, err := s.GetState(ctx, StateKeyEmbeddingDimension)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingDimension, "384"))
	v, err = s.GetState(ctx, StateKeyEmbeddingDimension)
	require.NoError(t, err)
	assert.Equal(t, "384", v)

	// Overwrite.
	require.NoError(t, s.SetState(ctx, StateKeyEmbeddingDimension, "768"))
	v, err = s.GetState(ctx, StateKeyEmbeddingDimension)
	require.NoError(t, err)
	assert.Equal(t, "768", v)

	require.NoError(t, s.ClearState(ctx, StateKeyEmbeddingDimension))
	v, err = s.GetState(ctx, StateKeyEmbeddingDimension)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/errors"
)

// ============================================================================
// IDs
// ============================================================================

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("ev-1", ChunkSection, 3, "the same text")
	b := ChunkID("ev-1", ChunkSection, 3, "the same text")

	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
}

func TestChunkID_VariesByInput(t *testing.T) {
	base := ChunkID("ev-1", ChunkSection, 3, "text")

	assert.NotEqual(t, base, ChunkID("ev-2", ChunkSection, 3, "text"))
	assert.NotEqual(t, base, ChunkID("ev-1", ChunkSummary, 3, "text"))
	assert.NotEqual(t, base, ChunkID("ev-1", ChunkSection, 4, "text"))
	assert.NotEqual(t, base, ChunkID("ev-1", ChunkSection, 3, "other"))
}

func TestHashID_SeparatorPreventsCollisions(t *testing.T) {
	// "ab" + "c" must not collide with "a" + "bc".
	assert.NotEqual(t, HashID("ab", "c"), HashID("a", "bc"))
}

// ============================================================================
// Constructors
// ============================================================================

func TestNewCase_RequiresCaseNumber(t *testing.T) {
	_, err := NewCase("  ", "Acme Corp", "contract_dispute", "team-1")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	c, err := NewCase("2024-CV-1042", "Acme Corp", "contract_dispute", "team-1")
	require.NoError(t, err)
	assert.Equal(t, CaseStatusActive, c.Status)
	assert.NotEmpty(t, c.ID)
}

func TestNewEvidence_ValidatesClassAndSize(t *testing.T) {
	_, err := NewEvidence("case-1", EvidenceClass("audio"), "call.wav", 10)
	require.Error(t, err)

	_, err = NewEvidence("case-1", EvidenceDocument, "contract.pdf", -1)
	require.Error(t, err)

	ev, err := NewEvidence("case-1", EvidenceDocument, "contract.pdf", 2048)
	require.NoError(t, err)
	assert.Equal(t, EvidencePending, ev.Status)
	assert.Equal(t, EvidenceDocument, ev.Class)
}

func TestNewChunk_DerivesDeterministicID(t *testing.T) {
	c1, err := NewChunk("case-1", "ev-1", ChunkSection, 0, "A contract dated Jan 15")
	require.NoError(t, err)
	c2, err := NewChunk("case-1", "ev-1", ChunkSection, 0, "A contract dated Jan 15")
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)
}

func TestNewChunk_RejectsEmptyText(t *testing.T) {
	_, err := NewChunk("case-1", "ev-1", ChunkSection, 0, "   ")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestNewFinding_BoundsConfidenceAndRelevance(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		relevance  float64
		wantErr    bool
	}{
		{"both valid", 0.9, 0.8, false},
		{"zero bounds", 0, 0, false},
		{"one bounds", 1, 1, false},
		{"confidence above one", 1.1, 0.5, true},
		{"negative relevance", 0.5, -0.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFinding("run-1", FindingFact, "the contract was signed", tt.confidence, tt.relevance)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindValidation))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewCitation_ValidatesOffsets(t *testing.T) {
	_, err := NewCitation("chunk-1", "ev-1", 10, 5, "quote")
	require.Error(t, err)

	_, err = NewCitation("chunk-1", "ev-1", -1, 5, "quote")
	require.Error(t, err)

	cit, err := NewCitation("chunk-1", "ev-1", 0, 24, "A contract dated Jan 15")
	require.NoError(t, err)
	assert.Equal(t, "chunk-1", cit.ChunkID)
}

// ============================================================================
// Research run state machine
// ============================================================================

func TestResearchRun_CompleteStampsTerminalState(t *testing.T) {
	run, err := NewResearchRun("case-1", "find contract breaches", "")
	require.NoError(t, err)
	assert.Equal(t, RunPending, run.Status)

	require.NoError(t, run.Complete(RunCompleted))

	assert.Equal(t, RunCompleted, run.Status)
	assert.Equal(t, PhaseCompleted, run.Phase)
	require.NotNil(t, run.CompletedAt)
	assert.False(t, run.CompletedAt.Before(run.StartedAt), "completed_at must be >= started_at")
}

func TestResearchRun_TerminalIsTerminal(t *testing.T) {
	run, err := NewResearchRun("case-1", "query", "")
	require.NoError(t, err)

	require.NoError(t, run.Complete(RunFailed))
	err = run.Complete(RunCompleted)
	require.Error(t, err, "terminal run must reject further transitions")
}

func TestResearchRun_CompleteRejectsNonTerminalStatus(t *testing.T) {
	run, err := NewResearchRun("case-1", "query", "")
	require.NoError(t, err)

	err = run.Complete(RunRunning)
	require.Error(t, err)
}

func TestProgressPct_PhaseMap(t *testing.T) {
	tests := []struct {
		status RunStatus
		phase  RunPhase
		want   float64
	}{
		{RunRunning, PhaseInitializing, 5},
		{RunRunning, PhaseIndexing, 15},
		{RunRunning, PhaseSearching, 35},
		{RunRunning, PhaseAnalyzing, 60},
		{RunRunning, PhaseHypothesis, 80},
		{RunRunning, PhaseDossier, 95},
		{RunCompleted, PhaseCompleted, 100},
		// Terminal failures pin to 100 regardless of phase.
		{RunFailed, PhaseSearching, 100},
		// Cancelled keeps the phase value at the cancellation checkpoint.
		{RunCancelled, PhaseAnalyzing, 60},
		{RunCancelled, PhaseDossier, 95},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressPct(tt.status, tt.phase),
			"status=%s phase=%s", tt.status, tt.phase)
	}
}

// ============================================================================
// Graph
// ============================================================================

func TestNewGraphNode_DeduplicatesByCanonicalLabel(t *testing.T) {
	a, err := NewGraphNode("case-1", NodePerson, "Bob Smith")
	require.NoError(t, err)
	b, err := NewGraphNode("case-1", NodePerson, "  bob   SMITH ")
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID, "same canonical label must yield same node ID")

	c, err := NewGraphNode("case-1", NodeOrganization, "Bob Smith")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID, "different node type must yield different ID")
}

func TestNewGraphRelationship_RejectsSelfEdge(t *testing.T) {
	_, err := NewGraphRelationship("case-1", "n1", "n1", RelRelatedTo)
	require.Error(t, err)

	rel, err := NewGraphRelationship("case-1", "n1", "n2", RelPrecedes)
	require.NoError(t, err)
	assert.Equal(t, RelPrecedes, rel.Type)
}

func TestCanonicalLabel(t *testing.T) {
	assert.Equal(t, "acme corporation", CanonicalLabel("  Acme   CORPORATION "))
	assert.Equal(t, "", CanonicalLabel("   "))
}

// ============================================================================
// Dossier
// ============================================================================

func TestNewDossier_CountsWords(t *testing.T) {
	sections := []DossierSection{
		{Title: "Key Evidence", Content: "three words here", Order: 1},
		{Title: "Timeline", Content: "two words", Order: 2},
	}

	d, err := NewDossier("run-1", "summary of four words", sections)
	require.NoError(t, err)

	assert.Equal(t, 4+3+2, d.WordCount)
	assert.False(t, d.GeneratedAt.After(time.Now().UTC()))
}

// ============================================================================
// Embedding set
// ============================================================================

func TestEmbeddingSet_ValidateMismatch(t *testing.T) {
	set := &EmbeddingSet{
		Summary:    [][]float32{{0.1}},
		Section:    [][]float32{{0.1}, {0.2}},
		Microblock: [][]float32{{0.1}, {0.2}},
	}

	err := set.Validate(2)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestChunkType_VectorSpace(t *testing.T) {
	assert.Equal(t, "summary", ChunkSummary.VectorSpace())
	assert.Equal(t, "section", ChunkSection.VectorSpace())
	assert.Equal(t, "microblock", ChunkMicroblock.VectorSpace())
	// Paragraph chunks share the section space.
	assert.Equal(t, "section", ChunkParagraph.VectorSpace())
}

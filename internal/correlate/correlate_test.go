package correlate

import (
	"context"
	"fmt"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/embed"
	"github.com/caseweave/caseweave/internal/errors"
)

const testDims = 16

// pinnedEmbedder returns unit vectors on chosen axes so tests control
// which claim pairs look similar. Unpinned texts hash to an axis.
type pinnedEmbedder struct {
	dims    int
	vectors map[string][]float32
}

var _ embed.Embedder = (*pinnedEmbedder)(nil)

func newPinnedEmbedder() *pinnedEmbedder {
	return &pinnedEmbedder{dims: testDims, vectors: map[string][]float32{}}
}

func (p *pinnedEmbedder) pin(text string, axis int) *pinnedEmbedder {
	v := make([]float32, p.dims)
	v[axis%p.dims] = 1
	p.vectors[text] = v
	return p
}

func (p *pinnedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	h := fnv.New32a()
	h.Write([]byte(text))
	v := make([]float32, p.dims)
	v[int(h.Sum32()%uint32(p.dims))] = 1
	return v, nil
}

func (p *pinnedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (p *pinnedEmbedder) Dimensions() int                { return p.dims }
func (p *pinnedEmbedder) ModelName() string              { return "pinned-test" }
func (p *pinnedEmbedder) Available(context.Context) bool { return true }
func (p *pinnedEmbedder) Close() error                   { return nil }

func newFinding(t *testing.T, ft domain.FindingType, text string, entities []string, citations int) *domain.Finding {
	t.Helper()
	f, err := domain.NewFinding("run-1", ft, text, 0.8, 0.7)
	require.NoError(t, err)
	f.Entities = entities
	for i := range citations {
		f.Citations = append(f.Citations, domain.Citation{
			ID:         fmt.Sprintf("cit-%s-%d", f.ID, i),
			ChunkID:    fmt.Sprintf("chunk-%d", i),
			EvidenceID: "ev-1",
		})
	}
	return f
}

func newEngine(t *testing.T, embedder embed.Embedder, opts ...Option) *Engine {
	t.Helper()
	e, err := New(embedder, nil, opts...)
	require.NoError(t, err)
	return e
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestCorrelate_ValidatesCaseID(t *testing.T) {
	e := newEngine(t, newPinnedEmbedder())
	_, err := e.Correlate(context.Background(), &Input{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestCorrelate_EndToEnd(t *testing.T) {
	const caseID = "case-e2e"
	textA := "The merger closed on 2021-06-14."
	textB := "The merger closed on 2021-09-02."
	textEvent1 := "Board approved the merger at the morning session."
	textEvent2 := "Escrow funds were released to the seller."
	textQuote := "We stand behind every term of the agreement."

	embedder := newPinnedEmbedder().
		pin(textA, 0).
		pin(textB, 0). // same axis: the conflicting pair reads as the same claim
		pin(textEvent1, 1).
		pin(textEvent2, 2).
		pin(textQuote, 3)

	a := newFinding(t, domain.FindingFact, textA, []string{"Bob Smith", "Acme Corp"}, 5)
	b := newFinding(t, domain.FindingFact, textB, []string{"Robert Smith"}, 1)

	ev1 := newFinding(t, domain.FindingTimelineEvent, textEvent1, []string{"Robert Smith"}, 1)
	ev1.Tags = []string{"date:2021-03-01", "event:meeting"}
	ev2 := newFinding(t, domain.FindingTimelineEvent, textEvent2, []string{"Acme Corporation"}, 1)
	ev2.Tags = []string{"date:2021-03-02", "event:payment"}

	quote := newFinding(t, domain.FindingQuote, textQuote, []string{"Bob Smith"}, 2)

	engine := newEngine(t, embedder)
	res, err := engine.Correlate(context.Background(), &Input{
		CaseID: caseID,
		RunID:  "run-1",
		Results: []AnalysisResult{
			{Class: domain.EvidenceDocument, Findings: []*domain.Finding{a, b, quote}},
			{Class: domain.EvidenceTranscript, Findings: []*domain.Finding{ev1, ev2}},
		},
		EvidenceLabels: map[string]string{"ev-1": "Merger Agreement"},
	})
	require.NoError(t, err)

	assert.Len(t, res.AllFindings, 5)
	assert.Len(t, res.AllCitations, 10)

	// Timeline: both dated events, ascending.
	require.Len(t, res.Timeline, 2)
	assert.Equal(t, "meeting", res.Timeline[0].EventType)
	assert.Equal(t, "payment", res.Timeline[1].EventType)
	assert.True(t, res.Timeline[0].Timestamp.Before(res.Timeline[1].Timestamp))

	// Bob Smith and Robert Smith merge into one person node keeping the
	// longer display label.
	var person *domain.GraphNode
	for _, n := range res.GraphNodes {
		if n.Type == domain.NodePerson {
			person = n
		}
	}
	require.NotNil(t, person)
	assert.Equal(t, "Robert Smith", person.Label)
	mentions, _ := person.Properties["mentions"].(int)
	assert.GreaterOrEqual(t, mentions, 2)

	// The cited evidence surfaces as a labeled document node.
	var doc bool
	for _, n := range res.GraphNodes {
		if n.Type == domain.NodeDocument && n.Label == "Merger Agreement" {
			doc = true
		}
	}
	assert.True(t, doc, "evidence label should become a document node")

	relTypes := map[domain.RelationshipType]bool{}
	ids := map[string]bool{}
	for _, rel := range res.GraphRelationships {
		relTypes[rel.Type] = true
		assert.False(t, ids[rel.ID], "duplicate relationship %s", rel.ID)
		ids[rel.ID] = true
	}
	for _, want := range []domain.RelationshipType{
		domain.RelMentionedIn, domain.RelRelatedTo,
		domain.RelParticipatedIn, domain.RelPrecedes, domain.RelContradicts,
	} {
		assert.True(t, relTypes[want], "missing relationship type %s", want)
	}

	// The date conflict between a and b is detected, graded by the
	// better-supported side's five citations.
	require.Len(t, res.Contradictions, 1)
	c := res.Contradictions[0]
	assert.Equal(t, "date", c.Predicate)
	assert.Equal(t, domain.SeverityHigh, c.Severity)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{c.FindingA, c.FindingB})

	patternTypes := map[string]bool{}
	for _, p := range res.KeyPatterns {
		patternTypes[p.PatternType] = true
	}
	assert.True(t, patternTypes["temporal_cluster"], "events a day apart should cluster")
	assert.True(t, patternTypes["shared_participant"], "robert smith spans findings")
	assert.True(t, patternTypes["repeated_fact"], "two FACT findings repeat")
}

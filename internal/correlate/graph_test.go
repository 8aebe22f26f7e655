package correlate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
)

func TestResolveAlias(t *testing.T) {
	engine := newEngine(t, newPinnedEmbedder(),
		WithAliases(map[string]string{"The Debtor": "Robert Smith"}))

	tests := []struct {
		label string
		want  string
	}{
		{"Bob Smith", "robert smith"},
		{"Robert Smith", "robert smith"},
		{"BOB   SMITH", "robert smith"},
		{"Bob", "bob"}, // single tokens are never expanded
		{"Acme Corp", "acme corporation"},
		{"Acme Corp.", "acme corporation"},
		{"Acme Corporation", "acme corporation"},
		{"The Debtor", "robert smith"}, // configured table
		{"Will Turner", "william turner"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.resolveAlias(tt.label), "label %q", tt.label)
	}
}

func TestClassifyEntity(t *testing.T) {
	tests := []struct {
		label string
		want  domain.NodeType
	}{
		{"Acme Corporation", domain.NodeOrganization},
		{"Acme Corp.", domain.NodeOrganization},
		{"First National Bank", domain.NodeOrganization},
		{"Main Street Warehouse", domain.NodeLocation},
		{"Hennepin County Courthouse", domain.NodeLocation},
		{"Exhibit 14", domain.NodeDocument},
		{"Agreement of Sale", domain.NodeDocument},
		{"Memo to file", domain.NodeDocument},
		{"Jane Doe", domain.NodePerson},
		{"Sal Maroni", domain.NodePerson}, // unmarked labels default to person
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyEntity(tt.label), "label %q", tt.label)
	}
}

func TestBuildGraph_MergesAliasedMentions(t *testing.T) {
	engine := newEngine(t, newPinnedEmbedder())

	a := newFinding(t, domain.FindingFact, "Bob Smith met the auditors.", []string{"Bob Smith", "Acme Corp"}, 1)
	b := newFinding(t, domain.FindingFact, "Robert Smith signed the ledger.", []string{"Robert Smith"}, 1)

	in := &Input{CaseID: "case-1", EvidenceLabels: map[string]string{"ev-1": "Audit Report"}}
	nodes, edges, err := engine.buildGraph(in, []*domain.Finding{a, b}, nil)
	require.NoError(t, err)

	person := nodes[nodeKey{nodeType: domain.NodePerson, label: "robert smith"}]
	require.NotNil(t, person)
	assert.Equal(t, "Robert Smith", person.Label, "longest mention wins the display label")
	assert.Equal(t, 2, person.Properties["mentions"])

	org := nodes[nodeKey{nodeType: domain.NodeOrganization, label: "acme corporation"}]
	require.NotNil(t, org)

	// Both entities cite ev-1, so both get mentioned_in edges to the
	// labeled document node.
	var mentionedIn, relatedTo int
	for _, rel := range edges {
		switch rel.Type {
		case domain.RelMentionedIn:
			mentionedIn++
		case domain.RelRelatedTo:
			relatedTo++
		}
	}
	assert.Equal(t, 3, mentionedIn, "two entities from a plus one from b")
	assert.Equal(t, 1, relatedTo)
}

func TestBuildGraph_TimelineChronology(t *testing.T) {
	engine := newEngine(t, newPinnedEmbedder())

	mkEvent := func(text, date string, participants ...string) *domain.Finding {
		f := newFinding(t, domain.FindingTimelineEvent, text, participants, 0)
		f.Tags = []string{"date:" + date}
		return f
	}
	findings := []*domain.Finding{
		mkEvent("Demand letter sent to the borrower.", "2021-03-01", "Jane Doe"),
		mkEvent("Collateral seized from the warehouse.", "2021-04-01", "Jane Doe"),
	}
	timeline := engine.assembleTimeline("case-1", findings)
	require.Len(t, timeline, 2)

	nodes, edges, err := engine.buildGraph(&Input{CaseID: "case-1"}, findings, timeline)
	require.NoError(t, err)

	var precedes, participated int
	for _, rel := range edges {
		switch rel.Type {
		case domain.RelPrecedes:
			precedes++
		case domain.RelParticipatedIn:
			participated++
		}
	}
	assert.Equal(t, 1, precedes, "consecutive events chain once")
	assert.Equal(t, 2, participated)

	var events int
	for key, n := range nodes {
		if key.nodeType == domain.NodeEvent {
			events++
			assert.NotEmpty(t, n.Properties["timestamp"])
			assert.Equal(t, "event", n.Properties["event_type"])
		}
	}
	assert.Equal(t, 2, events)
}

func TestDedupeRelationships(t *testing.T) {
	r1, err := domain.NewGraphRelationship("case-1", "a", "b", domain.RelRelatedTo)
	require.NoError(t, err)
	r2, err := domain.NewGraphRelationship("case-1", "a", "b", domain.RelRelatedTo)
	require.NoError(t, err)
	r3, err := domain.NewGraphRelationship("case-1", "b", "a", domain.RelRelatedTo)
	require.NoError(t, err)

	out := dedupeRelationships([]*domain.GraphRelationship{r1, r2, r3})
	assert.Len(t, out, 2, "repeated extraction deduplicates; direction still matters")
}

func TestDescribeEvent(t *testing.T) {
	short := "Funds wired to escrow."
	assert.Equal(t, short, describeEvent(short))

	long := strings.Repeat("collateral ", 12) // 132 chars
	label := describeEvent(long)
	assert.LessOrEqual(t, len(label), 84)
	assert.True(t, strings.HasSuffix(label, "..."))
	assert.NotContains(t, label, "  ")
}

package correlate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
)

func TestExtractDates(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"iso", "The parties met on 2021-06-14 downtown.", []string{"2021-06-14"}},
		{"slash", "Delivered on 6/14/21 at noon.", []string{"2021-06-14"}},
		{"slash four digit year", "Delivered on 06/14/2021.", []string{"2021-06-14"}},
		{"month day year", "Signed June 14, 2021 in counterpart.", []string{"2021-06-14"}},
		{"day month year", "Signed 14 June 2021 in counterpart.", []string{"2021-06-14"}},
		{"month year only", "Sometime in June 2021.", []string{"2021-06-01"}},
		{"multiple", "Between 2021-06-14 and 2021-09-02.", []string{"2021-06-14", "2021-09-02"}},
		{"invalid day dropped", "Logged 12/45/2021 by mistake.", nil},
		{"none", "No calendar references here.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractDates(tt.text)
			assert.Len(t, got, len(tt.want))
			for _, d := range tt.want {
				assert.True(t, got[d], "missing date %s", d)
			}
		})
	}
}

func TestExtractAmounts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"plain dollars", "An invoice for $250,000 was issued.", []string{"250000"}},
		{"cents", "A wire of $1,200.50 cleared.", []string{"1200.5"}},
		{"usd prefix", "USD 40,000 held in escrow.", []string{"40000"}},
		{"k suffix", "Roughly $250k changed hands.", []string{"250000"}},
		{"million suffix", "A $3 million facility.", []string{"3000000"}},
		{"dollars word", "He demanded 500 dollars.", []string{"500"}},
		{"version number ignored", "See version 2.5 of the draft.", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractAmounts(tt.text)
			assert.Len(t, got, len(tt.want))
			for _, a := range tt.want {
				assert.True(t, got[a], "missing amount %s", a)
			}
		})
	}
}

func TestHasNegation(t *testing.T) {
	assert.False(t, hasNegation("The transfer was approved."))
	assert.True(t, hasNegation("The transfer was never approved."))
	assert.True(t, hasNegation("He didn't sign it."))
	assert.True(t, hasNegation("She denied receiving the funds."))
	assert.False(t, hasNegation("A notable contract."))
}

func TestIncompatiblePredicates(t *testing.T) {
	tests := []struct {
		name      string
		a, b      string
		predicate string
		conflict  bool
	}{
		{
			name: "date conflict",
			a:    "Signed on 2021-06-14.", b: "Signed on 2021-09-02.",
			predicate: "date", conflict: true,
		},
		{
			name: "same date is agreement",
			a:    "Signed on 2021-06-14.", b: "Executed 2021-06-14 at the office.",
			conflict: false,
		},
		{
			name: "polarity conflict",
			a:    "She approved the transfer.", b: "She never approved the transfer.",
			predicate: "polarity", conflict: true,
		},
		{
			name: "amount conflict",
			a:    "The invoice totaled $250,000.", b: "The invoice totaled $400,000.",
			predicate: "amount", conflict: true,
		},
		{
			name: "restatement",
			a:    "Payment of $250,000 arrived on 2021-06-14.", b: "On 2021-06-14 payment of $250,000 arrived.",
			conflict: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			predicate, conflict := incompatiblePredicates(extractFeatures(tt.a), extractFeatures(tt.b))
			assert.Equal(t, tt.conflict, conflict)
			if tt.conflict {
				assert.Equal(t, tt.predicate, predicate)
			}
		})
	}
}

func TestDetectContradictions_RequiresSharedEntity(t *testing.T) {
	textA := "The shipment left on 2021-06-14."
	textB := "The shipment left on 2021-09-02."
	embedder := newPinnedEmbedder().pin(textA, 0).pin(textB, 0)

	a := newFinding(t, domain.FindingFact, textA, []string{"Alice Jones"}, 1)
	b := newFinding(t, domain.FindingFact, textB, []string{"Mark Webb"}, 1)

	engine := newEngine(t, embedder)
	out, err := engine.detectContradictions(context.Background(), "case-1", []*domain.Finding{a, b})
	require.NoError(t, err)
	assert.Empty(t, out, "disjoint entities cannot contradict")
}

func TestDetectContradictions_RequiresSimilarity(t *testing.T) {
	textA := "The shipment left on 2021-06-14."
	textB := "The shipment left on 2021-09-02."
	embedder := newPinnedEmbedder().pin(textA, 0).pin(textB, 1) // orthogonal

	a := newFinding(t, domain.FindingFact, textA, []string{"Alice Jones"}, 1)
	b := newFinding(t, domain.FindingFact, textB, []string{"Alice Jones"}, 1)

	engine := newEngine(t, embedder)
	out, err := engine.detectContradictions(context.Background(), "case-1", []*domain.Finding{a, b})
	require.NoError(t, err)
	assert.Empty(t, out, "dissimilar claims are different assertions, not conflicts")
}

func TestDetectContradictions_AliasResolvedEntities(t *testing.T) {
	textA := "Bob Smith approved the payment."
	textB := "Robert Smith never approved the payment."
	embedder := newPinnedEmbedder().pin(textA, 0).pin(textB, 0)

	a := newFinding(t, domain.FindingFact, textA, []string{"Bob Smith"}, 0)
	b := newFinding(t, domain.FindingFact, textB, []string{"Robert Smith"}, 2)

	engine := newEngine(t, embedder)
	out, err := engine.detectContradictions(context.Background(), "case-1", []*domain.Finding{a, b})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "polarity", out[0].Predicate)
	assert.Equal(t, domain.SeverityMedium, out[0].Severity)
	assert.NotEmpty(t, out[0].Detail)
}

func TestDetectContradictions_SeverityBands(t *testing.T) {
	textA := "The escrow released $100,000."
	textB := "The escrow released $900,000."
	embedder := newPinnedEmbedder().pin(textA, 0).pin(textB, 0)

	a := newFinding(t, domain.FindingFact, textA, []string{"First National Bank"}, 0)
	b := newFinding(t, domain.FindingFact, textB, []string{"First National Bank"}, 0)

	engine := newEngine(t, embedder)
	out, err := engine.detectContradictions(context.Background(), "case-1", []*domain.Finding{a, b})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "amount", out[0].Predicate)
	assert.Equal(t, domain.SeverityLow, out[0].Severity, "uncited claims grade low")

	// Deterministic ID: the same pair always hashes to the same
	// contradiction.
	again, err := engine.detectContradictions(context.Background(), "case-1", []*domain.Finding{a, b})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, out[0].ID, again[0].ID)
}

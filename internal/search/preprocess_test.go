package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessQuery_SectionCitation(t *testing.T) {
	p := PreprocessQuery("lease obligations under Section 365")

	assert.Contains(t, p.Citations, "Section 365")
	assert.Equal(t, "lease obligations under Section 365", p.Dense)
}

func TestPreprocessQuery_StatuteCitation(t *testing.T) {
	p := PreprocessQuery("false statements 18 U.S.C. § 1001")

	require.NotEmpty(t, p.Citations)
	assert.Contains(t, p.Citations, "18 U.S.C. § 1001")
}

func TestPreprocessQuery_ReporterCitation(t *testing.T) {
	p := PreprocessQuery("holding in 123 F.3d 456 on damages")

	assert.Contains(t, p.Citations, "123 F.3d 456")
}

func TestPreprocessQuery_RuleCitation(t *testing.T) {
	p := PreprocessQuery("motion to dismiss under Rule 12(b)(6)")

	assert.Contains(t, p.Citations, "Rule 12(b)(6)")
}

func TestPreprocessQuery_NoCitations(t *testing.T) {
	p := PreprocessQuery("employment discrimination complaint")

	assert.Empty(t, p.Citations)
}

func TestPreprocessQuery_AbbreviationExpansion(t *testing.T) {
	p := PreprocessQuery("Acme Corp. breach of agmt")

	// Originals survive, long forms are appended.
	assert.Contains(t, p.Lexical, "Corp.")
	assert.Contains(t, p.Lexical, "corporation")
	assert.Contains(t, p.Lexical, "agmt")
	assert.Contains(t, p.Lexical, "agreement")

	// The dense query is never expanded.
	assert.Equal(t, "Acme Corp. breach of agmt", p.Dense)
}

func TestPreprocessQuery_NoExpansionNeeded(t *testing.T) {
	p := PreprocessQuery("deposition transcript inconsistencies")

	assert.Equal(t, "deposition transcript inconsistencies", p.Lexical)
}

func TestPreprocessQuery_CaseNameVersus(t *testing.T) {
	p := PreprocessQuery("Smith v. Jones settlement")

	assert.Contains(t, p.Lexical, "versus")
	assert.Contains(t, p.Lexical, "v.")
}

func TestPreprocessQuery_Whitespace(t *testing.T) {
	p := PreprocessQuery("   ")

	assert.Empty(t, p.Lexical)
	assert.Empty(t, p.Dense)
	assert.Empty(t, p.Citations)
}

func TestPreprocessQuery_DuplicateCitationsCollapse(t *testing.T) {
	p := PreprocessQuery("Section 365 and again Section 365")

	count := 0
	for _, c := range p.Citations {
		if c == "Section 365" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

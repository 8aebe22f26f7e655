package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
)

func docInput(filename, content string) *Input {
	return &Input{
		CaseID:     "case-001",
		EvidenceID: "ev-001",
		Filename:   filename,
		Content:    []byte(content),
	}
}

// Summary chunk comes first, carries the filename title and section outline.
func TestDocumentChunker_SummaryChunkFirst(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `# Lease Agreement

This lease is entered into between Marsh Properties LLC and Gallo Imports.

## Rent

Tenant shall pay $12,000 per month, due on the first business day.

## Termination

Either party may terminate with 90 days written notice.
`

	chunks, err := chunker.Chunk(context.Background(), docInput("lease_agreement.md", content))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 3)

	summary := chunks[0]
	assert.Equal(t, domain.ChunkSummary, summary.ChunkType)
	assert.Equal(t, 0, summary.Position)
	assert.Equal(t, true, summary.Metadata["synthesized"])
	assert.Contains(t, summary.Text, "lease agreement")
	assert.Contains(t, summary.Text, "Sections:")
	assert.Contains(t, summary.Text, "Rent")
}

// Markdown headings open sections and build the heading path.
func TestDocumentChunker_HeadingPathTracking(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `# Master Agreement

Preamble text.

## Payment Terms

Invoices are due net 30.

### Late Fees

A 1.5% monthly fee applies to overdue balances.
`

	chunks, err := chunker.Chunk(context.Background(), docInput("msa.md", content))
	require.NoError(t, err)

	var paths []string
	for _, c := range chunks {
		if c.ChunkType == domain.ChunkSection {
			paths = append(paths, c.Metadata["heading_path"].(string))
		}
	}
	assert.Contains(t, paths, "Master Agreement")
	assert.Contains(t, paths, "Master Agreement > Payment Terms")
	assert.Contains(t, paths, "Master Agreement > Payment Terms > Late Fees")
}

// Contract caption lines are recognized without markdown markers.
func TestDocumentChunker_LegalCaptionHeadings(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `ARTICLE IV - Remedies

Upon default, the non-breaching party may pursue all remedies at law.

Section 2.1 Cure Period

The breaching party has thirty days to cure after written notice.

DEFINITIONS

"Confidential Information" means all non-public information.
`

	chunks, err := chunker.Chunk(context.Background(), docInput("contract.txt", content))
	require.NoError(t, err)

	var titles []string
	for _, c := range chunks {
		if c.ChunkType == domain.ChunkSection {
			titles = append(titles, c.Metadata["section_title"].(string))
		}
	}
	assert.Contains(t, titles, "ARTICLE IV: Remedies")
	assert.Contains(t, titles, "Section 2.1: Cure Period")
	assert.Contains(t, titles, "DEFINITIONS")
}

// Content before the first heading still becomes a section chunk.
func TestDocumentChunker_PreambleBeforeFirstHeading(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `This memorandum summarizes the deposition of the warehouse manager.

## Findings

The manager confirmed the shipment left on June 14.
`

	chunks, err := chunker.Chunk(context.Background(), docInput("memo.md", content))
	require.NoError(t, err)

	found := false
	for _, c := range chunks {
		if c.ChunkType == domain.ChunkSection && strings.Contains(c.Text, "memorandum summarizes") {
			found = true
			assert.Equal(t, "", c.Metadata["heading_path"])
		}
	}
	assert.True(t, found, "preamble should be chunked as an untitled section")
}

// Sections over the token budget split into paragraph chunks that keep the
// section's heading path.
func TestDocumentChunker_OversizedSectionSplitsIntoParagraphs(t *testing.T) {
	chunker := NewDocumentChunker()

	para := strings.Repeat("The carrier failed to maintain the agreed temperature range during transit. ", 12)
	var b strings.Builder
	b.WriteString("# Breach Analysis\n\n")
	for i := 0; i < 5; i++ {
		b.WriteString(para)
		b.WriteString("\n\n")
	}

	chunks, err := chunker.Chunk(context.Background(), docInput("analysis.md", b.String()))
	require.NoError(t, err)

	var paragraphs []*domain.Chunk
	for _, c := range chunks {
		if c.ChunkType == domain.ChunkParagraph {
			paragraphs = append(paragraphs, c)
		}
	}
	require.GreaterOrEqual(t, len(paragraphs), 2, "oversized section should split")

	for _, c := range paragraphs {
		assert.Equal(t, "Breach Analysis", c.Metadata["heading_path"])
		assert.LessOrEqual(t, estimateTokens(c.Text), DefaultMaxSectionTokens)
	}
}

// Form feeds advance the page counter carried on section chunks.
func TestDocumentChunker_PageTracking(t *testing.T) {
	chunker := NewDocumentChunker()

	content := "# Page One Heading\n\nFirst page body.\n\f\n# Page Two Heading\n\nSecond page body.\n"

	chunks, err := chunker.Chunk(context.Background(), docInput("scan.txt", content))
	require.NoError(t, err)

	pages := map[string]int{}
	for _, c := range chunks {
		if c.ChunkType == domain.ChunkSection {
			pages[c.Metadata["section_title"].(string)] = c.Page
		}
	}
	assert.Equal(t, 1, pages["Page One Heading"])
	assert.Equal(t, 2, pages["Page Two Heading"])
}

// Positions are a single sequence across all chunk types, and IDs are
// deterministic for identical input.
func TestDocumentChunker_DeterministicPositionsAndIDs(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `# Invoice Dispute

The invoice dated March 3 was never paid.

## Evidence

Bank records show no matching transfer.
`

	first, err := chunker.Chunk(context.Background(), docInput("dispute.md", content))
	require.NoError(t, err)
	second, err := chunker.Chunk(context.Background(), docInput("dispute.md", content))
	require.NoError(t, err)
	require.Equal(t, len(first), len(second))

	for i, c := range first {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, second[i].ID, c.ID)
	}
}

// Empty and whitespace-only content produce no chunks and no error.
func TestDocumentChunker_EmptyContent(t *testing.T) {
	chunker := NewDocumentChunker()

	chunks, err := chunker.Chunk(context.Background(), docInput("empty.txt", "   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// Prose sentences that happen to start with a number are not headings.
func TestDocumentChunker_NumberedProseNotHeading(t *testing.T) {
	chunker := NewDocumentChunker()

	content := `# Damages

12 pallets were lost in transit, which the plaintiff values at $48,000 based on the supplier invoices attached as Exhibit C to the complaint.
`

	chunks, err := chunker.Chunk(context.Background(), docInput("damages.md", content))
	require.NoError(t, err)

	for _, c := range chunks {
		if c.ChunkType == domain.ChunkSection {
			assert.Equal(t, "Damages", c.Metadata["section_title"])
		}
	}
}

// Package chunk splits evidence into retrievable units. Each evidence class
// has its own chunker aware of that class's structure: documents split on
// legal headings, transcripts on diarized segments, communications on
// messages. Every chunker also synthesizes one summary chunk per evidence so
// broad queries can land on an evidence-level overview.
package chunk

import (
	"context"
	"strings"

	"github.com/caseweave/caseweave/internal/domain"
)

// Chunk size defaults. Token counts are estimated at ~4 characters per token.
const (
	// DefaultMaxSectionTokens caps a section chunk before it is split into
	// paragraph chunks.
	DefaultMaxSectionTokens = 400

	// DefaultMaxMicroblockTokens caps a microblock (transcript turn window,
	// communication message).
	DefaultMaxMicroblockTokens = 120

	// MinChunkTokens is the merge floor: fragments below it are merged with
	// their neighbor rather than emitted alone.
	MinChunkTokens = 24

	// TokensPerChar is the rough chars-per-token approximation.
	TokensPerChar = 4

	// summaryBudgetChars caps the synthesized summary chunk.
	summaryBudgetChars = 600
)

// Input is one evidence item to split.
type Input struct {
	CaseID     string
	EvidenceID string
	Filename   string
	// Content is the raw evidence text.
	Content []byte
	// Segments carries pre-parsed diarized segments for transcripts.
	// When empty, the transcript chunker parses Content itself.
	Segments []domain.TranscriptSegment
}

// Chunker splits one evidence class into chunks.
type Chunker interface {
	// Chunk splits the evidence. Chunk positions are a single running
	// ordinal in reading order (summary first), and every chunk carries
	// the deterministic ID derived from its evidence, type, position and
	// text.
	Chunk(ctx context.Context, in *Input) ([]*domain.Chunk, error)

	// Class returns the evidence class this chunker handles.
	Class() domain.EvidenceClass
}

// ForClass returns the chunker for an evidence class.
func ForClass(class domain.EvidenceClass) Chunker {
	switch class {
	case domain.EvidenceTranscript:
		return NewTranscriptChunker()
	case domain.EvidenceCommunication:
		return NewCommunicationChunker()
	default:
		return NewDocumentChunker()
	}
}

// estimateTokens approximates the token count of text.
func estimateTokens(text string) int {
	return (len(text) + TokensPerChar - 1) / TokensPerChar
}

// splitParagraphs splits text on blank lines, trimming and dropping empties.
func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// firstSentences returns leading sentences of text up to the char budget.
func firstSentences(text string, budget int) string {
	text = strings.TrimSpace(text)
	if len(text) <= budget {
		return text
	}
	cut := text[:budget]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > budget/2 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx]
	}
	return cut
}

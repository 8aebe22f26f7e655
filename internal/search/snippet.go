package search

import (
	"unicode/utf8"

	"github.com/caseweave/caseweave/internal/store"
)

// snippetLength bounds excerpt size in bytes before rune adjustment.
const snippetLength = 240

// buildSnippet excerpts around the first highlight, or the head of the
// chunk when nothing matched (dense-only hits). Offsets snap outward to
// rune boundaries so multi-byte text never splits.
func buildSnippet(text string, highlights []store.HighlightSpan) string {
	if len(text) <= snippetLength {
		return text
	}

	start := 0
	if len(highlights) > 0 {
		start = highlights[0].Start - snippetLength/3
		if start < 0 {
			start = 0
		}
	}
	end := start + snippetLength
	if end > len(text) {
		end = len(text)
		start = end - snippetLength
	}

	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	snippet := text[start:end]
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

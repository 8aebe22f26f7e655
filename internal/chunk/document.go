package chunk

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/caseweave/caseweave/internal/domain"
)

// DocumentChunker splits legal documents on structural headings: markdown
// headers, numbered sections ("7.", "3.2"), article/section/exhibit captions
// and ALL-CAPS caption lines. Oversized sections are split further into
// paragraph chunks. Form feeds mark page boundaries so citations can carry
// page numbers.
type DocumentChunker struct {
	maxSectionTokens int
}

// Heading patterns checked per line, most specific first.
var (
	// # Title through ###### Title
	markdownHeadingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	// 7. Termination / 3.2 Payment Terms / 4) Remedies
	numberedHeadingPattern = regexp.MustCompile(`^(\d+(?:\.\d+)*)[.)]?\s+(\S.*)$`)

	// ARTICLE IV / Section 3.2 / Exhibit A / SCHEDULE 2
	captionHeadingPattern = regexp.MustCompile(`^(?i)(article|section|exhibit|appendix|schedule)\s+([IVXLC\d][IVXLC\d.]*)\b\s*[-–—:.]?\s*(.*)$`)
)

// NewDocumentChunker creates a document chunker with default limits.
func NewDocumentChunker() *DocumentChunker {
	return &DocumentChunker{maxSectionTokens: DefaultMaxSectionTokens}
}

// Class returns the evidence class this chunker handles.
func (c *DocumentChunker) Class() domain.EvidenceClass { return domain.EvidenceDocument }

// docSection is a heading-bounded span of the document.
type docSection struct {
	level int
	title string
	path  string
	page  int
	body  []string
}

// Chunk splits a document into a summary chunk followed by section and
// paragraph chunks in reading order.
func (c *DocumentChunker) Chunk(_ context.Context, in *Input) ([]*domain.Chunk, error) {
	content := string(in.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	sections := parseDocSections(content)

	var chunks []*domain.Chunk
	position := 0

	appendChunk := func(chunkType domain.ChunkType, text string, meta map[string]any) error {
		ch, err := domain.NewChunk(in.CaseID, in.EvidenceID, chunkType, position, text)
		if err != nil {
			return err
		}
		for k, v := range meta {
			ch.Metadata[k] = v
		}
		if page, ok := meta["page"].(int); ok {
			ch.Page = page
		}
		chunks = append(chunks, ch)
		position++
		return nil
	}

	// Summary chunk first: title, lead text, heading outline.
	summary := c.synthesizeSummary(in.Filename, content, sections)
	if err := appendChunk(domain.ChunkSummary, summary, map[string]any{"synthesized": true}); err != nil {
		return nil, err
	}

	for _, sec := range sections {
		body := strings.TrimSpace(strings.Join(sec.body, "\n"))
		if body == "" {
			continue
		}

		meta := map[string]any{
			"section_title": sec.title,
			"heading_path":  sec.path,
			"page":          sec.page,
		}

		if estimateTokens(body) <= c.maxSectionTokens {
			if err := appendChunk(domain.ChunkSection, body, meta); err != nil {
				return nil, err
			}
			continue
		}

		// Oversized: emit paragraph chunks under the same heading path.
		for _, para := range packParagraphs(splitParagraphs(body), c.maxSectionTokens) {
			if err := appendChunk(domain.ChunkParagraph, para, meta); err != nil {
				return nil, err
			}
		}
	}

	return chunks, nil
}

// parseDocSections walks lines, opening a new section at each heading and
// tracking the heading path and page number. Content before the first
// heading becomes an untitled level-0 section.
func parseDocSections(content string) []*docSection {
	lines := strings.Split(content, "\n")

	var sections []*docSection
	current := &docSection{level: 0, title: "", path: "", page: 1}
	page := 1
	pathStack := make([]string, 7)

	flush := func() {
		if len(current.body) > 0 {
			sections = append(sections, current)
		}
	}

	for _, line := range lines {
		page += strings.Count(line, "\f")
		clean := strings.TrimSpace(strings.ReplaceAll(line, "\f", ""))

		level, title, ok := matchHeading(clean)
		if !ok {
			current.body = append(current.body, line)
			continue
		}

		flush()

		pathStack[level] = title
		for i := level + 1; i < len(pathStack); i++ {
			pathStack[i] = ""
		}
		var parts []string
		for i := 1; i <= level; i++ {
			if pathStack[i] != "" {
				parts = append(parts, pathStack[i])
			}
		}

		current = &docSection{
			level: level,
			title: title,
			path:  strings.Join(parts, " > "),
			page:  page,
			body:  []string{clean},
		}
	}
	flush()

	return sections
}

// matchHeading classifies a line as a heading and returns its level (1-6).
func matchHeading(line string) (int, string, bool) {
	if line == "" || len(line) > 120 {
		return 0, "", false
	}

	if m := markdownHeadingPattern.FindStringSubmatch(line); m != nil {
		return len(m[1]), strings.TrimSpace(m[2]), true
	}

	if m := captionHeadingPattern.FindStringSubmatch(line); m != nil {
		title := strings.TrimSpace(m[1] + " " + m[2])
		if rest := strings.TrimSpace(m[3]); rest != "" {
			title += ": " + rest
		}
		return 1, title, true
	}

	if m := numberedHeadingPattern.FindStringSubmatch(line); m != nil {
		// Numbered headings are short caption lines, not list prose.
		if len(line) <= 80 && !strings.HasSuffix(line, ".") {
			depth := strings.Count(m[1], ".") + 1
			if depth > 6 {
				depth = 6
			}
			return depth, strings.TrimSpace(line), true
		}
	}

	if isAllCapsCaption(line) {
		return 1, line, true
	}

	return 0, "", false
}

// isAllCapsCaption reports short lines written entirely in capitals, the
// convention for top-level captions in pleadings and contracts.
func isAllCapsCaption(line string) bool {
	if len(line) < 4 || len(line) > 80 {
		return false
	}
	letters := 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return letters >= 4
}

// packParagraphs merges paragraphs into chunks up to the token cap, never
// splitting a single paragraph. Tiny fragments merge with their neighbor.
func packParagraphs(paragraphs []string, maxTokens int) []string {
	var out []string
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
		}
	}

	for _, para := range paragraphs {
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > maxTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
	}
	flush()

	// Merge a trailing fragment below the floor into its predecessor.
	if n := len(out); n >= 2 && estimateTokens(out[n-1]) < MinChunkTokens {
		out[n-2] = out[n-2] + "\n\n" + out[n-1]
		out = out[:n-1]
	}

	return out
}

// synthesizeSummary builds the evidence-level summary chunk text: the
// filename as title, the lead paragraph, and the heading outline.
func (c *DocumentChunker) synthesizeSummary(filename, content string, sections []*docSection) string {
	var b strings.Builder
	b.WriteString(titleFromFilename(filename))

	if paragraphs := splitParagraphs(content); len(paragraphs) > 0 {
		lead := paragraphs[0]
		// Skip a lead that is itself just a heading line.
		if _, _, isHeading := matchHeading(strings.TrimSpace(lead)); isHeading && len(paragraphs) > 1 {
			lead = paragraphs[1]
		}
		b.WriteString(". ")
		b.WriteString(firstSentences(lead, summaryBudgetChars/2))
	}

	var titles []string
	for _, sec := range sections {
		if sec.title != "" {
			titles = append(titles, sec.title)
		}
		if len(titles) == 8 {
			break
		}
	}
	if len(titles) > 0 {
		b.WriteString(" Sections: ")
		b.WriteString(strings.Join(titles, "; "))
		b.WriteString(".")
	}

	return firstSentences(b.String(), summaryBudgetChars)
}

// titleFromFilename strips the extension and normalizes separators.
func titleFromFilename(filename string) string {
	name := filename
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	if idx := strings.LastIndex(name, "."); idx > 0 {
		name = name[:idx]
	}
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	if name == "" {
		return "Untitled evidence"
	}
	return name
}

var _ Chunker = (*DocumentChunker)(nil)

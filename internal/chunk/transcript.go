package chunk

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/caseweave/caseweave/internal/domain"
)

// TranscriptChunker splits diarized transcripts. Pre-parsed segments are
// preferred; otherwise it parses SRT blocks or "Speaker: text" lines with an
// optional [hh:mm:ss] prefix. Consecutive same-speaker segments merge into
// microblocks; microblocks pack into section-sized passages; one summary
// chunk covers the whole transcript.
type TranscriptChunker struct {
	maxSectionTokens    int
	maxMicroblockTokens int
}

var (
	// [00:12:34] WITNESS: I never saw the invoice.
	speakerLinePattern = regexp.MustCompile(`^(?:\[(\d{1,2}:\d{2}(?::\d{2})?)\]\s*)?([A-Za-z][A-Za-z0-9 ._'-]{0,40}):\s+(.*)$`)

	// 00:00:01,000 --> 00:00:04,000
	srtTimecodePattern = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2})[,.](\d{3})\s+-->\s+(\d{2}:\d{2}:\d{2})[,.](\d{3})`)
)

// NewTranscriptChunker creates a transcript chunker with default limits.
func NewTranscriptChunker() *TranscriptChunker {
	return &TranscriptChunker{
		maxSectionTokens:    DefaultMaxSectionTokens,
		maxMicroblockTokens: DefaultMaxMicroblockTokens,
	}
}

// Class returns the evidence class this chunker handles.
func (c *TranscriptChunker) Class() domain.EvidenceClass { return domain.EvidenceTranscript }

// Chunk splits a transcript into summary, section and microblock chunks.
func (c *TranscriptChunker) Chunk(_ context.Context, in *Input) ([]*domain.Chunk, error) {
	segments := in.Segments
	if len(segments) == 0 {
		segments = parseTranscriptSegments(string(in.Content))
	}
	if len(segments) == 0 {
		return nil, nil
	}

	sort.SliceStable(segments, func(i, j int) bool { return segments[i].StartS < segments[j].StartS })

	micro := c.mergeIntoMicroblocks(segments)
	passages := c.packIntoPassages(micro)

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
		chunks = append(chunks, ch)
		position++
		return nil
	}

	summary := c.synthesizeSummary(in.Filename, segments)
	if err := appendChunk(domain.ChunkSummary, summary, map[string]any{"synthesized": true}); err != nil {
		return nil, err
	}

	for _, p := range passages {
		meta := map[string]any{
			"start_s":  p.startS,
			"end_s":    p.endS,
			"speakers": strings.Join(p.speakers, ","),
		}
		if err := appendChunk(domain.ChunkSection, p.text, meta); err != nil {
			return nil, err
		}
	}

	for _, m := range micro {
		meta := map[string]any{
			"start_s":    m.startS,
			"end_s":      m.endS,
			"speaker_id": m.speaker,
		}
		if err := appendChunk(domain.ChunkMicroblock, m.text, meta); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

// microblock is a merged run of same-speaker segments.
type microblock struct {
	speaker string
	startS  float64
	endS    float64
	text    string
}

// passage is a section-sized window of consecutive microblocks.
type passage struct {
	startS   float64
	endS     float64
	speakers []string
	text     string
}

// mergeIntoMicroblocks merges consecutive same-speaker segments up to the
// microblock token cap, labeling each with its speaker.
func (c *TranscriptChunker) mergeIntoMicroblocks(segments []domain.TranscriptSegment) []microblock {
	var blocks []microblock
	var cur *microblock

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.text) != "" {
			cur.text = strings.TrimSpace(cur.text)
			blocks = append(blocks, *cur)
		}
		cur = nil
	}

	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}

		if cur == nil ||
			cur.speaker != seg.SpeakerID ||
			estimateTokens(cur.text)+estimateTokens(text) > c.maxMicroblockTokens {
			flush()
			cur = &microblock{speaker: seg.SpeakerID, startS: seg.StartS, endS: seg.EndS}
			if seg.SpeakerID != "" {
				cur.text = seg.SpeakerID + ": " + text
			} else {
				cur.text = text
			}
			continue
		}

		cur.text += " " + text
		cur.endS = seg.EndS
	}
	flush()

	return blocks
}

// packIntoPassages windows consecutive microblocks into section chunks.
func (c *TranscriptChunker) packIntoPassages(blocks []microblock) []passage {
	var passages []passage
	var cur *passage
	seen := map[string]bool{}

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.text) != "" {
			cur.text = strings.TrimSpace(cur.text)
			passages = append(passages, *cur)
		}
		cur = nil
		seen = map[string]bool{}
	}

	for _, b := range blocks {
		if cur != nil && estimateTokens(cur.text)+estimateTokens(b.text) > c.maxSectionTokens {
			flush()
		}
		if cur == nil {
			cur = &passage{startS: b.startS, endS: b.endS}
		}
		if cur.text != "" {
			cur.text += "\n"
		}
		cur.text += b.text
		cur.endS = b.endS
		if b.speaker != "" && !seen[b.speaker] {
			seen[b.speaker] = true
			cur.speakers = append(cur.speakers, b.speaker)
		}
	}
	flush()

	return passages
}

// synthesizeSummary builds the transcript summary chunk: title, speakers,
// duration and the opening exchange.
func (c *TranscriptChunker) synthesizeSummary(filename string, segments []domain.TranscriptSegment) string {
	speakers := map[string]bool{}
	var order []string
	for _, seg := range segments {
		if seg.SpeakerID != "" && !speakers[seg.SpeakerID] {
			speakers[seg.SpeakerID] = true
			order = append(order, seg.SpeakerID)
		}
	}

	duration := segments[len(segments)-1].EndS - segments[0].StartS

	var b strings.Builder
	b.WriteString(titleFromFilename(filename))
	b.WriteString(". Transcript")
	if len(order) > 0 {
		b.WriteString(" with ")
		b.WriteString(strings.Join(order, ", "))
	}
	if duration > 0 {
		b.WriteString(fmt.Sprintf(", %s", formatDuration(duration)))
	}
	b.WriteString(". ")

	var opening []string
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			opening = append(opening, t)
		}
		if len(opening) == 3 {
			break
		}
	}
	b.WriteString(firstSentences(strings.Join(opening, " "), summaryBudgetChars/2))

	return firstSentences(b.String(), summaryBudgetChars)
}

// formatDuration renders seconds as "7m05s" or "1h02m".
func formatDuration(seconds float64) string {
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// parseTranscriptSegments parses raw transcript text: SRT blocks when
// timecode lines are present, otherwise speaker-prefixed lines.
func parseTranscriptSegments(content string) []domain.TranscriptSegment {
	if strings.Contains(content, "-->") {
		if segs := parseSRT(content); len(segs) > 0 {
			return segs
		}
	}
	return parseSpeakerLines(content)
}

// parseSRT parses SubRip blocks: index line, timecode line, text lines.
func parseSRT(content string) []domain.TranscriptSegment {
	var segments []domain.TranscriptSegment
	blocks := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n")

	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}

		// Timecode on line 1 (after the numeric index) or line 0.
		tcIdx := -1
		for i := 0; i < len(lines) && i < 2; i++ {
			if srtTimecodePattern.MatchString(lines[i]) {
				tcIdx = i
				break
			}
		}
		if tcIdx == -1 || tcIdx+1 >= len(lines) {
			continue
		}

		m := srtTimecodePattern.FindStringSubmatch(lines[tcIdx])
		start := parseClock(m[1]) + mustAtof(m[2])/1000
		end := parseClock(m[3]) + mustAtof(m[4])/1000

		text := strings.TrimSpace(strings.Join(lines[tcIdx+1:], " "))
		speaker := ""
		if sm := speakerLinePattern.FindStringSubmatch(text); sm != nil {
			speaker, text = sm[2], sm[3]
		}

		if text != "" {
			segments = append(segments, domain.TranscriptSegment{
				StartS:    start,
				EndS:      end,
				Text:      text,
				SpeakerID: speaker,
			})
		}
	}

	return segments
}

// parseSpeakerLines parses "[hh:mm:ss] Speaker: text" lines. Lines without a
// speaker prefix continue the previous segment.
func parseSpeakerLines(content string) []domain.TranscriptSegment {
	var segments []domain.TranscriptSegment

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := speakerLinePattern.FindStringSubmatch(line); m != nil {
			seg := domain.TranscriptSegment{
				SpeakerID: strings.TrimSpace(m[2]),
				Text:      strings.TrimSpace(m[3]),
			}
			if m[1] != "" {
				seg.StartS = parseClock(m[1])
				seg.EndS = seg.StartS
			} else {
				// No timestamps: preserve order with a synthetic clock.
				seg.StartS = float64(len(segments))
				seg.EndS = seg.StartS
			}
			segments = append(segments, seg)
			continue
		}

		if len(segments) > 0 {
			segments[len(segments)-1].Text += " " + line
		}
	}

	return segments
}

// parseClock parses "mm:ss" or "hh:mm:ss" into seconds.
func parseClock(clock string) float64 {
	parts := strings.Split(clock, ":")
	var seconds float64
	for _, part := range parts {
		seconds = seconds*60 + mustAtof(part)
	}
	return seconds
}

func mustAtof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ Chunker = (*TranscriptChunker)(nil)

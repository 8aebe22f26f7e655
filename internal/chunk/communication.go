package chunk

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
)

// CommunicationChunker splits message streams: chat exports with
// "[timestamp] Sender: body" lines, or email text with From/To/Subject/Date
// header blocks. Each message becomes a microblock; same-day runs of messages
// pack into section chunks; one summary chunk covers the whole stream.
type CommunicationChunker struct {
	maxSectionTokens int
}

var (
	// [2021-06-14 09:42] Alice Marsh: the wire went out this morning
	chatLinePattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}(?::\d{2})?)\]\s*([^:]{1,60}):\s+(.*)$`)

	// From: alice@marshlaw.com
	emailHeaderPattern = regexp.MustCompile(`^(From|To|Cc|Subject|Date):\s*(.*)$`)
)

// NewCommunicationChunker creates a communication chunker with defaults.
func NewCommunicationChunker() *CommunicationChunker {
	return &CommunicationChunker{maxSectionTokens: DefaultMaxSectionTokens}
}

// Class returns the evidence class this chunker handles.
func (c *CommunicationChunker) Class() domain.EvidenceClass { return domain.EvidenceCommunication }

// message is one parsed communication.
type message struct {
	sender     string
	recipients string
	subject    string
	sentAt     time.Time
	body       string
}

// Chunk splits a communication stream into summary, section and microblock
// chunks.
func (c *CommunicationChunker) Chunk(_ context.Context, in *Input) ([]*domain.Chunk, error) {
	content := string(in.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	messages := parseMessages(content)
	if len(messages) == 0 {
		return nil, nil
	}

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

	summary := c.synthesizeSummary(in.Filename, messages)
	if err := appendChunk(domain.ChunkSummary, summary, map[string]any{"synthesized": true}); err != nil {
		return nil, err
	}

	for _, group := range c.groupByDay(messages) {
		meta := map[string]any{
			"participants": strings.Join(group.participants, ","),
		}
		if !group.day.IsZero() {
			meta["day"] = group.day.Format("2006-01-02")
		}
		if err := appendChunk(domain.ChunkSection, group.text, meta); err != nil {
			return nil, err
		}
	}

	for _, m := range messages {
		meta := map[string]any{}
		if m.sender != "" {
			meta["sender"] = m.sender
		}
		if m.recipients != "" {
			meta["recipients"] = m.recipients
		}
		if m.subject != "" {
			meta["subject"] = m.subject
		}
		if !m.sentAt.IsZero() {
			meta["sent_at"] = m.sentAt.UTC().Format(time.RFC3339)
		}
		if err := appendChunk(domain.ChunkMicroblock, renderMessage(m), meta); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

// renderMessage formats one message as retrievable text.
func renderMessage(m message) string {
	var b strings.Builder
	if m.sender != "" {
		b.WriteString(m.sender)
		if !m.sentAt.IsZero() {
			b.WriteString(" (")
			b.WriteString(m.sentAt.Format("2006-01-02 15:04"))
			b.WriteString(")")
		}
		b.WriteString(": ")
	}
	if m.subject != "" {
		b.WriteString("[")
		b.WriteString(m.subject)
		b.WriteString("] ")
	}
	b.WriteString(m.body)
	return strings.TrimSpace(b.String())
}

// dayGroup is a section-sized run of same-day messages.
type dayGroup struct {
	day          time.Time
	participants []string
	text         string
}

// groupByDay packs consecutive same-day messages into section chunks capped
// by the section token budget.
func (c *CommunicationChunker) groupByDay(messages []message) []dayGroup {
	var groups []dayGroup
	var cur *dayGroup
	seen := map[string]bool{}

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.text) != "" {
			cur.text = strings.TrimSpace(cur.text)
			groups = append(groups, *cur)
		}
		cur = nil
		seen = map[string]bool{}
	}

	for _, m := range messages {
		day := time.Time{}
		if !m.sentAt.IsZero() {
			day = m.sentAt.Truncate(24 * time.Hour)
		}
		text := renderMessage(m)

		if cur != nil &&
			(!cur.day.Equal(day) || estimateTokens(cur.text)+estimateTokens(text) > c.maxSectionTokens) {
			flush()
		}
		if cur == nil {
			cur = &dayGroup{day: day}
		}
		if cur.text != "" {
			cur.text += "\n"
		}
		cur.text += text
		if m.sender != "" && !seen[m.sender] {
			seen[m.sender] = true
			cur.participants = append(cur.participants, m.sender)
		}
	}
	flush()

	return groups
}

// synthesizeSummary builds the stream-level summary chunk.
func (c *CommunicationChunker) synthesizeSummary(filename string, messages []message) string {
	participants := map[string]bool{}
	var order []string
	var first, last time.Time
	var subjects []string
	seenSubject := map[string]bool{}

	for _, m := range messages {
		if m.sender != "" && !participants[m.sender] {
			participants[m.sender] = true
			order = append(order, m.sender)
		}
		if m.subject != "" && !seenSubject[m.subject] {
			seenSubject[m.subject] = true
			subjects = append(subjects, m.subject)
		}
		if !m.sentAt.IsZero() {
			if first.IsZero() || m.sentAt.Before(first) {
				first = m.sentAt
			}
			if m.sentAt.After(last) {
				last = m.sentAt
			}
		}
	}

	var b strings.Builder
	b.WriteString(titleFromFilename(filename))
	b.WriteString(fmt.Sprintf(". %d messages", len(messages)))
	if len(order) > 0 {
		b.WriteString(" between ")
		b.WriteString(strings.Join(order, ", "))
	}
	if !first.IsZero() {
		if first.Format("2006-01-02") == last.Format("2006-01-02") {
			b.WriteString(" on " + first.Format("2006-01-02"))
		} else {
			b.WriteString(fmt.Sprintf(" from %s to %s",
				first.Format("2006-01-02"), last.Format("2006-01-02")))
		}
	}
	if len(subjects) > 0 {
		b.WriteString(". Subjects: ")
		b.WriteString(strings.Join(subjects, "; "))
	}
	b.WriteString(". ")
	b.WriteString(firstSentences(messages[0].body, summaryBudgetChars/3))

	return firstSentences(b.String(), summaryBudgetChars)
}

// parseMessages parses chat lines when present, else email header blocks,
// else the whole content as a single message.
func parseMessages(content string) []message {
	if msgs := parseChatLines(content); len(msgs) > 0 {
		return msgs
	}
	if msgs := parseEmailBlocks(content); len(msgs) > 0 {
		return msgs
	}

	body := strings.TrimSpace(content)
	if body == "" {
		return nil
	}
	return []message{{body: body}}
}

// parseChatLines parses "[date time] Sender: body" lines. Unprefixed lines
// continue the previous message body.
func parseChatLines(content string) []message {
	var messages []message

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if m := chatLinePattern.FindStringSubmatch(line); m != nil {
			sentAt := parseChatTimestamp(m[1], m[2])
			messages = append(messages, message{
				sender: strings.TrimSpace(m[3]),
				sentAt: sentAt,
				body:   strings.TrimSpace(m[4]),
			})
			continue
		}

		if len(messages) > 0 {
			messages[len(messages)-1].body += " " + strings.TrimSpace(line)
		}
	}

	return messages
}

func parseChatTimestamp(day, clock string) time.Time {
	layout := "2006-01-02 15:04"
	if strings.Count(clock, ":") == 2 {
		layout = "2006-01-02 15:04:05"
	}
	t, err := time.Parse(layout, day+" "+clock)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// emailDateLayouts are tried in order for Date: headers.
var emailDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseEmailBlocks parses a stream of emails: header lines, a blank line,
// then body until the next From: header block or a "---" separator.
func parseEmailBlocks(content string) []message {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var messages []message
	var cur *message
	var body []string
	inHeaders := false

	flush := func() {
		if cur == nil {
			return
		}
		cur.body = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.body != "" || cur.subject != "" {
			messages = append(messages, *cur)
		}
		cur, body = nil, nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		// A From: header opens a new message when we are not mid-headers.
		if m := emailHeaderPattern.FindStringSubmatch(trimmed); m != nil {
			if strings.EqualFold(m[1], "From") && !inHeaders {
				flush()
				cur = &message{sender: strings.TrimSpace(m[2])}
				inHeaders = true
				continue
			}
			if inHeaders && cur != nil {
				switch strings.ToLower(m[1]) {
				case "to", "cc":
					if cur.recipients != "" {
						cur.recipients += ", "
					}
					cur.recipients += strings.TrimSpace(m[2])
				case "subject":
					cur.subject = strings.TrimSpace(m[2])
				case "date":
					cur.sentAt = parseEmailDate(strings.TrimSpace(m[2]))
				}
				continue
			}
		}

		if trimmed == "" && inHeaders {
			inHeaders = false
			continue
		}
		if strings.HasPrefix(trimmed, "---") && cur != nil {
			flush()
			inHeaders = false
			continue
		}
		if cur != nil && !inHeaders {
			body = append(body, line)
		}
	}
	flush()

	return messages
}

func parseEmailDate(value string) time.Time {
	for _, layout := range emailDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var _ Chunker = (*CommunicationChunker)(nil)

package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/domain"
)

func transcriptInput(filename, content string) *Input {
	return &Input{
		CaseID:     "case-001",
		EvidenceID: "ev-dep-001",
		Filename:   filename,
		Content:    []byte(content),
	}
}

func chunksOfType(chunks []*domain.Chunk, t domain.ChunkType) []*domain.Chunk {
	var out []*domain.Chunk
	for _, c := range chunks {
		if c.ChunkType == t {
			out = append(out, c)
		}
	}
	return out
}

// Speaker-prefixed lines parse into segments; chunk order is summary,
// sections, then microblocks with one running position sequence.
func TestTranscriptChunker_SpeakerLines(t *testing.T) {
	chunker := NewTranscriptChunker()

	content := `[00:05] MR. GALLO: We never received the corrected invoice.
[00:12] MS. MARSH: It was sent on June 3rd by courier.
[00:20] MR. GALLO: Our mailroom has no record of it.
`

	chunks, err := chunker.Chunk(context.Background(), transcriptInput("deposition_gallo.txt", content))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, domain.ChunkSummary, chunks[0].ChunkType)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Contains(t, chunks[0].Text, "Transcript with MR. GALLO, MS. MARSH")

	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
	}

	micro := chunksOfType(chunks, domain.ChunkMicroblock)
	require.Len(t, micro, 3, "each speaker turn should be a microblock")
	assert.Equal(t, "MR. GALLO", micro[0].Metadata["speaker_id"])
	assert.Contains(t, micro[0].Text, "MR. GALLO: We never received")
	assert.Equal(t, 5.0, micro[0].Metadata["start_s"])

	sections := chunksOfType(chunks, domain.ChunkSection)
	require.NotEmpty(t, sections)
	assert.Equal(t, "MR. GALLO,MS. MARSH", sections[0].Metadata["speakers"])
}

// Consecutive same-speaker segments merge into one microblock.
func TestTranscriptChunker_MergesSameSpeakerRuns(t *testing.T) {
	chunker := NewTranscriptChunker()

	content := `WITNESS: I saw the truck arrive at the loading dock.
WITNESS: It was around noon, maybe a little after.
COUNSEL: Did you see who was driving?
WITNESS: No, the cab was too far away.
`

	chunks, err := chunker.Chunk(context.Background(), transcriptInput("dep.txt", content))
	require.NoError(t, err)

	micro := chunksOfType(chunks, domain.ChunkMicroblock)
	require.Len(t, micro, 3, "same-speaker run should merge")

	assert.Contains(t, micro[0].Text, "I saw the truck arrive")
	assert.Contains(t, micro[0].Text, "maybe a little after")
	assert.Equal(t, "WITNESS", micro[0].Metadata["speaker_id"])
	assert.Equal(t, "COUNSEL", micro[1].Metadata["speaker_id"])
	assert.Equal(t, "WITNESS", micro[2].Metadata["speaker_id"])
}

// Same-speaker runs still split when they exceed the microblock token cap.
func TestTranscriptChunker_MicroblockTokenCap(t *testing.T) {
	chunker := NewTranscriptChunker()

	line := "WITNESS: The temperature logs were checked every morning before the trucks were loaded for delivery.\n"
	content := strings.Repeat(line, 12)

	chunks, err := chunker.Chunk(context.Background(), transcriptInput("dep.txt", content))
	require.NoError(t, err)

	micro := chunksOfType(chunks, domain.ChunkMicroblock)
	require.GreaterOrEqual(t, len(micro), 2, "long run should split at the token cap")

	for _, c := range micro {
		assert.LessOrEqual(t, estimateTokens(c.Text), DefaultMaxMicroblockTokens+DefaultMaxMicroblockTokens/2)
		assert.Equal(t, "WITNESS", c.Metadata["speaker_id"])
	}
}

// SRT blocks parse timecodes and speaker prefixes.
func TestTranscriptChunker_SRT(t *testing.T) {
	chunker := NewTranscriptChunker()

	content := `1
00:00:01,000 --> 00:00:04,000
MR. GALLO: The shipment was already spoiled on arrival.

2
00:00:05,500 --> 00:00:09,000
MS. MARSH: Our cold-chain logs show otherwise.
`

	chunks, err := chunker.Chunk(context.Background(), transcriptInput("hearing.srt", content))
	require.NoError(t, err)

	micro := chunksOfType(chunks, domain.ChunkMicroblock)
	require.Len(t, micro, 2)

	assert.Equal(t, "MR. GALLO", micro[0].Metadata["speaker_id"])
	assert.Equal(t, 1.0, micro[0].Metadata["start_s"])
	assert.Equal(t, 4.0, micro[0].Metadata["end_s"])
	assert.Equal(t, 5.5, micro[1].Metadata["start_s"])
}

// Pre-parsed segments are used directly and sorted by start time.
func TestTranscriptChunker_PreparsedSegments(t *testing.T) {
	chunker := NewTranscriptChunker()

	in := &Input{
		CaseID:     "case-001",
		EvidenceID: "ev-audio-001",
		Filename:   "call_recording.wav",
		Segments: []domain.TranscriptSegment{
			{SpeakerID: "SPEAKER_01", Text: "Then we agreed to split the difference.", StartS: 42.0, EndS: 47.5},
			{SpeakerID: "SPEAKER_00", Text: "Let's talk about the January order.", StartS: 3.0, EndS: 8.0},
		},
	}

	chunks, err := chunker.Chunk(context.Background(), in)
	require.NoError(t, err)

	micro := chunksOfType(chunks, domain.ChunkMicroblock)
	require.Len(t, micro, 2)
	assert.Equal(t, "SPEAKER_00", micro[0].Metadata["speaker_id"], "segments should sort by start time")
	assert.Equal(t, "SPEAKER_01", micro[1].Metadata["speaker_id"])
}

// Section passages carry the time span of the microblocks they cover.
func TestTranscriptChunker_SectionTimeSpan(t *testing.T) {
	chunker := NewTranscriptChunker()

	in := &Input{
		CaseID:     "case-001",
		EvidenceID: "ev-audio-002",
		Filename:   "interview.wav",
		Segments: []domain.TranscriptSegment{
			{SpeakerID: "A", Text: "Opening remarks about the case background.", StartS: 0, EndS: 10},
			{SpeakerID: "B", Text: "Questions about the disputed delivery date.", StartS: 12, EndS: 30},
		},
	}

	chunks, err := chunker.Chunk(context.Background(), in)
	require.NoError(t, err)

	sections := chunksOfType(chunks, domain.ChunkSection)
	require.Len(t, sections, 1)
	assert.Equal(t, 0.0, sections[0].Metadata["start_s"])
	assert.Equal(t, 30.0, sections[0].Metadata["end_s"])
	assert.Equal(t, "A,B", sections[0].Metadata["speakers"])
}

// The summary names the recording, speakers and duration.
func TestTranscriptChunker_SummaryContent(t *testing.T) {
	chunker := NewTranscriptChunker()

	in := &Input{
		CaseID:     "case-001",
		EvidenceID: "ev-audio-003",
		Filename:   "dispatch-call.mp3",
		Segments: []domain.TranscriptSegment{
			{SpeakerID: "DISPATCHER", Text: "Truck twelve, confirm your reefer setpoint.", StartS: 0, EndS: 6},
			{SpeakerID: "DRIVER", Text: "Setpoint is thirty-four degrees, holding steady.", StartS: 7, EndS: 425},
		},
	}

	chunks, err := chunker.Chunk(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	summary := chunks[0]
	assert.Equal(t, domain.ChunkSummary, summary.ChunkType)
	assert.Contains(t, summary.Text, "dispatch call")
	assert.Contains(t, summary.Text, "DISPATCHER, DRIVER")
	assert.Contains(t, summary.Text, "7m05s")
}

// Content with no parseable segments yields no chunks.
func TestTranscriptChunker_EmptyContent(t *testing.T) {
	chunker := NewTranscriptChunker()

	chunks, err := chunker.Chunk(context.Background(), transcriptInput("blank.txt", "\n\n"))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

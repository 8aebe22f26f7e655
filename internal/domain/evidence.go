package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// EvidenceClass distinguishes the three evidence variants. Each class has
// its own lexical index and vector collection.
type EvidenceClass string

const (
	EvidenceDocument      EvidenceClass = "document"
	EvidenceTranscript    EvidenceClass = "transcript"
	EvidenceCommunication EvidenceClass = "communication"
)

// EvidenceClasses lists all indexable evidence classes in a stable order.
var EvidenceClasses = []EvidenceClass{
	EvidenceDocument,
	EvidenceTranscript,
	EvidenceCommunication,
}

// Valid reports whether the class is one of the known variants.
func (c EvidenceClass) Valid() bool {
	switch c {
	case EvidenceDocument, EvidenceTranscript, EvidenceCommunication:
		return true
	}
	return false
}

// EvidenceStatus is the processing state of an evidence item.
type EvidenceStatus string

const (
	EvidencePending    EvidenceStatus = "PENDING"
	EvidenceProcessing EvidenceStatus = "PROCESSING"
	EvidenceCompleted  EvidenceStatus = "COMPLETED"
	EvidenceFailed     EvidenceStatus = "FAILED"
)

// Evidence is a single item of case material: a document, a transcript,
// or a communication record. Chunks reference their evidence by ID and
// are deleted when the evidence is deleted.
type Evidence struct {
	ID       string
	CaseID   string
	Class    EvidenceClass
	Filename string
	Size     int64
	Status   EvidenceStatus
	// Segments is populated for transcripts only, ordered by start time.
	Segments []TranscriptSegment
	// Summary holds an optional synthesized summary artifact.
	Summary   string
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TranscriptSegment is one diarized span of a transcript.
type TranscriptSegment struct {
	ID         string
	StartS     float64
	EndS       float64
	Text       string
	SpeakerID  string
	Confidence float64
	Highlights []string
}

// NewEvidence creates evidence in PENDING state with a fresh ID.
func NewEvidence(caseID string, class EvidenceClass, filename string, size int64) (*Evidence, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation("case_id is required")
	}
	if !class.Valid() {
		return nil, errors.Validationf("unknown evidence class: %s", class)
	}
	if strings.TrimSpace(filename) == "" {
		return nil, errors.Validation("filename is required")
	}
	if size < 0 {
		return nil, errors.Validationf("size must be non-negative, got %d", size)
	}

	now := time.Now().UTC()
	return &Evidence{
		ID:        NewID(),
		CaseID:    caseID,
		Class:     class,
		Filename:  filename,
		Size:      size,
		Status:    EvidencePending,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// NodeType is the entity class of a knowledge graph node.
type NodeType string

const (
	NodePerson       NodeType = "person"
	NodeOrganization NodeType = "organization"
	NodeDocument     NodeType = "document"
	NodeEvent        NodeType = "event"
	NodeLocation     NodeType = "location"
)

// RelationshipType classifies an edge between two graph nodes.
type RelationshipType string

const (
	RelMentionedIn    RelationshipType = "mentioned_in"
	RelParticipatedIn RelationshipType = "participated_in"
	RelContradicts    RelationshipType = "contradicts"
	RelPrecedes       RelationshipType = "precedes"
	RelRelatedTo      RelationshipType = "related_to"
)

// GraphNode is a case-scoped knowledge graph entity. Nodes are
// deduplicated by (type, canonical label); the ID is derived from both
// so merging repeated mentions is a natural overwrite.
type GraphNode struct {
	ID         string
	CaseID     string
	Type       NodeType
	Label      string
	Properties map[string]any
}

// CanonicalLabel normalizes an entity label for deduplication:
// lowercased, whitespace collapsed.
func CanonicalLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// NewGraphNode creates a node with a deterministic ID keyed by
// (case, type, canonical label).
func NewGraphNode(caseID string, nodeType NodeType, label string) (*GraphNode, error) {
	if strings.TrimSpace(caseID) == "" {
		return nil, errors.Validation("case_id is required")
	}
	canonical := CanonicalLabel(label)
	if canonical == "" {
		return nil, errors.Validation("node label is required")
	}

	return &GraphNode{
		ID:         HashID(caseID, string(nodeType), canonical),
		CaseID:     caseID,
		Type:       nodeType,
		Label:      strings.TrimSpace(label),
		Properties: map[string]any{},
	}, nil
}

// GraphRelationship is a directed, typed edge between two nodes.
type GraphRelationship struct {
	ID         string
	CaseID     string
	SourceID   string
	TargetID   string
	Type       RelationshipType
	Properties map[string]any
}

// NewGraphRelationship creates an edge with a deterministic ID so
// repeated extraction of the same relationship deduplicates.
func NewGraphRelationship(caseID, sourceID, targetID string, relType RelationshipType) (*GraphRelationship, error) {
	if sourceID == "" || targetID == "" {
		return nil, errors.Validation("relationship endpoints are required")
	}
	if sourceID == targetID {
		return nil, errors.Validation("relationship endpoints must differ")
	}

	return &GraphRelationship{
		ID:         HashID(caseID, sourceID, string(relType), targetID),
		CaseID:     caseID,
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       relType,
		Properties: map[string]any{},
	}, nil
}

// TimelineEvent is a dated occurrence assembled from findings, ordered
// chronologically within a case.
type TimelineEvent struct {
	ID              string
	CaseID          string
	Timestamp       time.Time
	EventType       string
	Description     string
	Participants    []string
	SourceCitations []string // citation IDs
}

// Severity grades how central a contradicted claim is.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Contradiction records a pair of findings asserting incompatible claims
// about overlapping entities.
type Contradiction struct {
	ID         string
	CaseID     string
	FindingA   string // finding IDs
	FindingB   string
	Similarity float64
	Predicate  string // what disagrees: date, polarity, amount
	Severity   Severity
	Detail     string
}

// Pattern is a recurring structure across findings: repeated finding
// types, temporal clusters, or shared participants.
type Pattern struct {
	ID          string
	CaseID      string
	PatternType string
	Description string
	FindingIDs  []string
	Count       int
}

// Package domain defines the core entities of the evidence platform:
// cases, evidence, chunks, findings, research runs, and the knowledge
// graph artifacts produced by correlation.
//
// Ownership is top-down: a Case owns Evidence, Evidence owns Chunks,
// a ResearchRun owns Findings. Children reference parents by ID only.
// Constructors validate their inputs and return validation errors for
// out-of-range values; entities are never constructed in an invalid state.
package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// CaseStatus is the lifecycle state of a case.
type CaseStatus string

const (
	CaseStatusActive   CaseStatus = "ACTIVE"
	CaseStatusClosed   CaseStatus = "CLOSED"
	CaseStatusArchived CaseStatus = "ARCHIVED"
)

// Case is the root aggregate. All evidence, research runs, and graph
// artifacts are scoped to exactly one case.
type Case struct {
	ID         string
	CaseNumber string // globally unique
	Client     string
	MatterType string
	Status     CaseStatus
	TeamID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewCase creates a case with a fresh ID. The case number is required
// and uniqueness is enforced by the system of record on insert.
func NewCase(caseNumber, client, matterType, teamID string) (*Case, error) {
	caseNumber = strings.TrimSpace(caseNumber)
	if caseNumber == "" {
		return nil, errors.Validation("case_number is required")
	}

	now := time.Now().UTC()
	return &Case{
		ID:         NewID(),
		CaseNumber: caseNumber,
		Client:     client,
		MatterType: matterType,
		Status:     CaseStatusActive,
		TeamID:     teamID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

package domain

import (
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/errors"
)

// Dossier is the final synthesized report of a research run.
type Dossier struct {
	ID                string
	ResearchRunID     string
	ExecutiveSummary  string
	Sections          []DossierSection // ordered by Order
	CitationsAppendix string
	FilePaths         []string
	GeneratedAt       time.Time
	WordCount         int
	Metadata          map[string]any
}

// DossierSection is one ordered section of a dossier.
type DossierSection struct {
	Title    string
	Content  string
	Order    int
	Metadata map[string]any
}

// NewDossier assembles a dossier, computing the word count across the
// executive summary and all sections.
func NewDossier(runID, executiveSummary string, sections []DossierSection) (*Dossier, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.Validation("research_run_id is required")
	}

	words := len(strings.Fields(executiveSummary))
	for _, s := range sections {
		words += len(strings.Fields(s.Content))
	}

	return &Dossier{
		ID:               NewID(),
		ResearchRunID:    runID,
		ExecutiveSummary: executiveSummary,
		Sections:         sections,
		GeneratedAt:      time.Now().UTC(),
		WordCount:        words,
		Metadata:         map[string]any{},
	}, nil
}

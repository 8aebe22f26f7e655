package mcp

import (
	"fmt"
	"strings"

	"github.com/caseweave/caseweave/internal/query"
)

// FormatSearchResults formats a search response as markdown. The text
// content mirrors the structured output for clients that only render
// text blocks.
func FormatSearchResults(q string, dto *query.SearchResponseDTO) string {
	if dto == nil || len(dto.Results) == 0 {
		return fmt.Sprintf("No evidence found for %q", q)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Evidence Results for %q\n\n", q)
	fmt.Fprintf(&sb, "Found %d result%s (%s, %dms)\n\n",
		len(dto.Results), plural(len(dto.Results)), dto.Mode, dto.TookMs)
	if dto.Degraded {
		sb.WriteString("> Partial results: ")
		sb.WriteString(strings.Join(dto.Warnings, "; "))
		sb.WriteString("\n\n")
	}

	for i, r := range dto.Results {
		formatHit(&sb, i+1, r)
	}
	return sb.String()
}

func formatHit(sb *strings.Builder, rank int, r query.SearchHitDTO) {
	filename, _ := r.Metadata["evidence_filename"].(string)
	class, _ := r.Metadata["evidence_class"].(string)
	title := filename
	if title == "" {
		title = r.EvidenceID
	}

	fmt.Fprintf(sb, "### %d. %s", rank, title)
	if class != "" {
		fmt.Fprintf(sb, " (%s)", class)
	}
	sb.WriteString("\n\n")

	score := r.Score
	if r.RerankScore != nil {
		score = *r.RerankScore
	}
	fmt.Fprintf(sb, "**Score:** %.3f", score)
	if r.RerankScore != nil {
		sb.WriteString(" (reranked)")
	}
	sb.WriteString("\n\n")

	text := r.Snippet
	if text == "" {
		text = r.Text
	}
	if text != "" {
		sb.WriteString("> ")
		sb.WriteString(strings.ReplaceAll(strings.TrimSpace(text), "\n", "\n> "))
		sb.WriteString("\n\n")
	}
	if len(r.Highlights) > 0 {
		fmt.Fprintf(sb, "Matched: `%s`\n\n", strings.Join(r.Highlights, "`, `"))
	}
}

// FormatResearchStatus formats a run status as a short markdown summary.
func FormatResearchStatus(dto *query.ResearchStatusDTO) string {
	if dto == nil {
		return "No status available."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Research Run %s\n\n", dto.ResearchRunID)
	fmt.Fprintf(&sb, "**Status:** %s\n", dto.Status)
	fmt.Fprintf(&sb, "**Phase:** %s\n", dto.Phase)
	fmt.Fprintf(&sb, "**Progress:** %.0f%%\n", dto.ProgressPct)
	if dto.Message != "" {
		fmt.Fprintf(&sb, "**Activity:** %s\n", dto.Message)
	}
	if dto.FindingsCount > 0 {
		fmt.Fprintf(&sb, "**Findings:** %d (%d citations)\n", dto.FindingsCount, dto.CitationsCount)
	}
	if len(dto.Errors) > 0 {
		sb.WriteString("\n**Errors:**\n")
		for _, e := range dto.Errors {
			fmt.Fprintf(&sb, "- %s\n", e)
		}
	}
	return sb.String()
}

// FormatDossier renders the dossier as markdown, sections in order.
func FormatDossier(dto *query.DossierDTO) string {
	if dto == nil {
		return "No dossier available."
	}

	var sb strings.Builder
	sb.WriteString("# Research Dossier\n\n")
	fmt.Fprintf(&sb, "## Executive Summary\n\n%s\n\n", dto.ExecutiveSummary)
	for _, s := range dto.Sections {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", s.Title, s.Content)
	}
	if dto.CitationsAppendix != "" {
		fmt.Fprintf(&sb, "## Citations\n\n%s\n", dto.CitationsAppendix)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

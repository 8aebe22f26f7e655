package correlate

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/embed"
)

// Claim-text feature extractors. Dates and amounts are compared as sets;
// polarity as a boolean.
var (
	// 2021-06-14, 06/14/2021, 6/14/21
	numericDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b|\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)

	// June 14, 2021 / 14 June 2021 / June 2021
	monthNamePattern = regexp.MustCompile(`(?i)\b(?:(\d{1,2})\s+)?(january|february|march|april|may|june|july|august|september|october|november|december)\s+(?:(\d{1,2})(?:st|nd|rd|th)?,?\s+)?(\d{4})\b`)

	// $250,000 / $1,200.50 / $250k / USD 40,000 / 500 dollars. The suffix
	// needs a word boundary so "$5 more" does not read as five million.
	amountPattern = regexp.MustCompile(`(?i)(?:\$|usd\s*)(\d[\d,]*(?:\.\d+)?)(?:\s*(k|m|million|thousand)\b)?|\b(\d[\d,]*(?:\.\d+)?)\s*(?:dollars)\b`)
)

// negationMarkers flip a claim's polarity.
var negationMarkers = []string{
	"never", " not ", "n't", " no ", "denied", "denies", "refused",
	"without", "failed to", "did not", "was not", "were not",
	"nobody", "none of",
}

var monthIndex = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// claimFeatures caches the extracted predicates of one finding's text.
type claimFeatures struct {
	dates   map[string]bool // YYYY-MM-DD, day precision
	amounts map[string]bool // normalized numeric strings
	negated bool
}

func extractFeatures(text string) claimFeatures {
	return claimFeatures{
		dates:   extractDates(text),
		amounts: extractAmounts(text),
		negated: hasNegation(text),
	}
}

func extractDates(text string) map[string]bool {
	dates := make(map[string]bool)

	for _, m := range numericDatePattern.FindAllStringSubmatch(text, -1) {
		if m[1] != "" { // ISO form
			dates[fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])] = true
			continue
		}
		month, _ := strconv.Atoi(m[4])
		day, _ := strconv.Atoi(m[5])
		year, _ := strconv.Atoi(m[6])
		if year < 100 {
			year += 2000
		}
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			dates[fmt.Sprintf("%04d-%02d-%02d", year, month, day)] = true
		}
	}

	for _, m := range monthNamePattern.FindAllStringSubmatch(text, -1) {
		month := monthIndex[strings.ToLower(m[2])]
		year, _ := strconv.Atoi(m[4])
		day := 1
		if m[1] != "" {
			day, _ = strconv.Atoi(m[1])
		} else if m[3] != "" {
			day, _ = strconv.Atoi(m[3])
		}
		if day >= 1 && day <= 31 && year > 0 {
			dates[fmt.Sprintf("%04d-%02d-%02d", year, month, day)] = true
		}
	}
	return dates
}

func extractAmounts(text string) map[string]bool {
	amounts := make(map[string]bool)
	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		raw, suffix := m[1], strings.ToLower(m[2])
		if raw == "" {
			raw = m[3]
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}
		switch suffix {
		case "k", "thousand":
			value *= 1_000
		case "m", "million":
			value *= 1_000_000
		}
		amounts[strconv.FormatFloat(value, 'f', -1, 64)] = true
	}
	return amounts
}

func hasNegation(text string) bool {
	padded := " " + strings.ToLower(text) + " "
	for _, marker := range negationMarkers {
		if strings.Contains(padded, marker) {
			return true
		}
	}
	return false
}

// incompatiblePredicates reports whether two claims disagree on a
// concrete predicate, and which one. High text similarity alone is not a
// contradiction: restatements agree on everything, so a pair must differ
// on dates for the same assertion, polarity, or amounts.
func incompatiblePredicates(a, b claimFeatures) (string, bool) {
	if len(a.dates) > 0 && len(b.dates) > 0 && disjoint(a.dates, b.dates) {
		return "date", true
	}
	if a.negated != b.negated {
		return "polarity", true
	}
	if len(a.amounts) > 0 && len(b.amounts) > 0 && disjoint(a.amounts, b.amounts) {
		return "amount", true
	}
	return "", false
}

func disjoint(a, b map[string]bool) bool {
	for k := range a {
		if b[k] {
			return false
		}
	}
	return true
}

// detectContradictions finds finding pairs that assert the same thing
// about the same entities with incompatible predicates. Candidate pairs
// must share at least one alias-resolved entity; similarity is claim-text
// cosine over the embedder.
func (e *Engine) detectContradictions(ctx context.Context, caseID string, findings []*domain.Finding) ([]*domain.Contradiction, error) {
	// Only claim-bearing findings participate.
	candidates := make([]*domain.Finding, 0, len(findings))
	for _, f := range findings {
		if len(f.Entities) > 0 && strings.TrimSpace(f.Text) != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	vectors, err := e.embedClaims(ctx, candidates)
	if err != nil {
		return nil, err
	}
	features := make([]claimFeatures, len(candidates))
	for i, f := range candidates {
		features[i] = extractFeatures(f.Text)
	}
	entitySets := make([]map[string]bool, len(candidates))
	for i, f := range candidates {
		set := make(map[string]bool, len(f.Entities))
		for _, mention := range f.Entities {
			set[e.resolveAlias(mention)] = true
		}
		entitySets[i] = set
	}

	var out []*domain.Contradiction
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if disjoint(entitySets[i], entitySets[j]) {
				continue
			}
			similarity := embed.Cosine(vectors[i], vectors[j])
			if similarity < e.cosineThreshold {
				continue
			}
			predicate, incompatible := incompatiblePredicates(features[i], features[j])
			if !incompatible {
				continue
			}

			a, b := candidates[i], candidates[j]
			out = append(out, &domain.Contradiction{
				ID:         domain.HashID(caseID, a.ID, b.ID, "contradiction"),
				CaseID:     caseID,
				FindingA:   a.ID,
				FindingB:   b.ID,
				Similarity: similarity,
				Predicate:  predicate,
				Severity:   e.gradeSeverity(a, b),
				Detail:     contradictionDetail(predicate, a, b),
			})
		}
	}
	return out, nil
}

// embedClaims embeds every candidate's text in one batch.
func (e *Engine) embedClaims(ctx context.Context, findings []*domain.Finding) ([][]float32, error) {
	texts := make([]string, len(findings))
	for i, f := range findings {
		texts[i] = f.Text
	}

	vectors := make([][]float32, 0, len(texts))
	for off := 0; off < len(texts); off += embed.MaxBatchSize {
		end := off + embed.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := e.embedder.EmbedBatch(ctx, texts[off:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// gradeSeverity grades by the citation count of the better-supported
// claim: contradicting a heavily cited claim matters more than two
// thinly sourced statements disagreeing.
func (e *Engine) gradeSeverity(a, b *domain.Finding) domain.Severity {
	citations := len(a.Citations)
	if len(b.Citations) > citations {
		citations = len(b.Citations)
	}
	switch {
	case citations >= e.severityHigh:
		return domain.SeverityHigh
	case citations >= e.severityMedium:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func contradictionDetail(predicate string, a, b *domain.Finding) string {
	return fmt.Sprintf("%s conflict: %q vs %q", predicate, truncate(a.Text, 120), truncate(b.Text, 120))
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

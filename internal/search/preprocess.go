package search

import (
	"regexp"
	"strings"

	"github.com/caseweave/caseweave/internal/store"
)

// Preprocessed is a query after legal-domain normalization.
type Preprocessed struct {
	// Lexical is the abbreviation-expanded text sent to the lexical ranker.
	Lexical string

	// Dense is the trimmed original sent to the embedder. Embedding models
	// handle surface variants natively, so expansion there only adds noise.
	Dense string

	// Citations are case-preserved statute, reporter, and exhibit
	// references lifted from the query for exact-match boosting.
	Citations []string
}

// legalAbbreviations maps short forms to their expansions. Expansion
// appends, never replaces, so exact forms keep matching.
var legalAbbreviations = map[string]string{
	"corp": "corporation",
	"inc":  "incorporated",
	"ltd":  "limited",
	"llc":  "limited liability company",
	"llp":  "limited liability partnership",
	"assn": "association",
	"dept": "department",
	"atty": "attorney",
	"govt": "government",
	"intl": "international",
	"natl": "national",
	"mfg":  "manufacturing",
	"agmt": "agreement",
	"pltf": "plaintiff",
	"deft": "defendant",
	"stmt": "statement",
	"v":    "versus",
	"vs":   "versus",
}

// Citation shapes that must survive tokenization as written.
var citationPatterns = []*regexp.Regexp{
	// statute references: 18 U.S.C. § 1001, 42 USC 1983
	regexp.MustCompile(`\d+\s+U\.?\s?S\.?\s?C\.?(?:\s*§+)?\s*\d+[\w().-]*`),
	// reporter citations: 123 F.3d 456, 550 U.S. 544
	regexp.MustCompile(`\d+\s+[A-Z][\w.]*\s+\d+`),
	// keyword references: Section 365, Rule 12(b)(6), Exhibit 14
	regexp.MustCompile(`(?i)(?:§+|\bsection\b|\bsec\.?|\brule\b|\barticle\b|\bexhibit\b|\bclause\b|\bpara(?:graph)?\b\.?)\s*\d+[\w().-]*`),
}

// PreprocessQuery normalizes a raw query for retrieval. It lifts citation
// references before expansion so they reach the citation field verbatim,
// then appends abbreviation expansions for the lexical ranker.
func PreprocessQuery(raw string) Preprocessed {
	trimmed := strings.TrimSpace(raw)
	p := Preprocessed{
		Lexical: trimmed,
		Dense:   trimmed,
	}
	if trimmed == "" {
		return p
	}

	p.Citations = extractCitations(trimmed)
	p.Lexical = expandAbbreviations(trimmed)
	return p
}

// extractCitations collects multi-token citation phrases first, then
// single-token references the phrase patterns missed.
func extractCitations(query string) []string {
	seen := make(map[string]bool)
	var citations []string

	add := func(term string) {
		term = strings.TrimSpace(term)
		if term == "" || seen[term] {
			return
		}
		seen[term] = true
		citations = append(citations, term)
	}

	for _, pattern := range citationPatterns {
		for _, match := range pattern.FindAllString(query, -1) {
			add(match)
		}
	}
	for _, term := range store.ExtractCitationTerms(query) {
		add(term)
	}
	return citations
}

// expandAbbreviations appends long forms after any recognized short form.
// Original tokens are kept in place so phrase and shingle matching still
// sees the query as typed.
func expandAbbreviations(query string) string {
	fields := strings.Fields(query)
	out := make([]string, 0, len(fields))
	expanded := false

	for _, tok := range fields {
		out = append(out, tok)
		key := strings.ToLower(strings.Trim(tok, ".,;"))
		if long, ok := legalAbbreviations[key]; ok {
			out = append(out, long)
			expanded = true
		}
	}

	if !expanded {
		return query
	}
	return strings.Join(out, " ")
}

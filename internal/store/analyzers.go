package store

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/shingle"
	regexptok "github.com/blevesearch/bleve/v2/analysis/tokenizer/regexp"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// LegalStopFilterName strips statutory boilerplate terms.
	LegalStopFilterName = "legal_stop"

	// LegalSynonymFilterName canonicalizes legal term variants.
	LegalSynonymFilterName = "legal_synonyms"

	// LegalAnalyzerName is the primary text analyzer.
	LegalAnalyzerName = "legal_analyzer"

	// ShingleAnalyzerName emits 2-3 word shingles for phrase matching.
	ShingleAnalyzerName = "shingle_analyzer"

	// ShingleFilterName is the configured shingle token filter.
	ShingleFilterName = "legal_shingle"

	// CitationAnalyzerName preserves case and punctuation so statute and
	// exhibit references survive tokenization.
	CitationAnalyzerName = "citation_analyzer"

	// CitationTokenizerName splits only on whitespace, commas, semicolons.
	CitationTokenizerName = "citation_tokenizer"
)

func init() {
	_ = registry.RegisterTokenFilter(LegalStopFilterName, legalStopFilterConstructor)
	_ = registry.RegisterTokenFilter(LegalSynonymFilterName, legalSynonymFilterConstructor)
}

// legalStopTerms are drafting boilerplate: they appear in nearly every
// filing and carry no retrieval signal.
var legalStopTerms = []string{
	"aforementioned", "aforesaid", "foregoing", "forthwith",
	"hereafter", "hereby", "herein", "hereinafter", "hereinbefore",
	"hereof", "hereto", "heretofore", "hereunder", "herewith",
	"notwithstanding", "pursuant", "thereafter", "thereby", "therein",
	"thereof", "thereto", "thereunder", "whatsoever", "whereas",
	"whereby", "wherein", "whereof", "whereupon", "witnesseth",
}

// legalSynonyms maps term variants to a canonical form. Applied on both
// the index and query side, before stemming, so either spelling of a
// concept retrieves documents using the other.
var legalSynonyms = map[string]string{
	// roles
	"attorney":  "lawyer",
	"counsel":   "lawyer",
	"counselor": "lawyer",
	"barrister": "lawyer",
	"solicitor": "lawyer",

	// instruments
	"contract": "agreement",
	"covenant": "agreement",

	// termination; the filter runs before stemming, so inflected surface
	// forms need their own entries.
	"cancel":       "terminate",
	"cancels":      "terminate",
	"canceled":     "terminate",
	"cancelled":    "terminate",
	"canceling":    "terminate",
	"cancelling":   "terminate",
	"cancellation": "terminate",
	"rescind":      "terminate",
	"rescinds":     "terminate",
	"rescinded":    "terminate",
	"rescinding":   "terminate",
	"rescission":   "terminate",

	// parties; role terms stay searchable, so they are canonicalized here
	// rather than treated as boilerplate stopwords.
	"claimant":   "plaintiff",
	"petitioner": "plaintiff",
	"respondent": "defendant",

	// breach
	"violation": "breach",

	// vehicles
	"automobile": "vehicle",
	"car":        "vehicle",

	// weapons
	"firearm":  "gun",
	"handgun":  "gun",
	"pistol":   "gun",
	"revolver": "gun",

	// money
	"remuneration": "payment",
	"compensation": "payment",

	// places
	"residence": "home",
	"domicile":  "home",
	"dwelling":  "home",

	// deception
	"misrepresentation": "fraud",
	"deceit":            "fraud",

	// family
	"husband": "spouse",
	"wife":    "spouse",
}

func legalStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	stop := make(map[string]struct{}, len(legalStopTerms))
	for _, term := range legalStopTerms {
		stop[term] = struct{}{}
	}
	return &legalStopFilter{stop: stop}, nil
}

type legalStopFilter struct {
	stop map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *legalStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stop[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

func legalSynonymFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &legalSynonymFilter{synonyms: legalSynonyms}, nil
}

type legalSynonymFilter struct {
	synonyms map[string]string
}

// Filter implements analysis.TokenFilter. Runs after lowercasing and
// before stemming, so the table holds surface forms, not stems.
func (f *legalSynonymFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	for _, token := range input {
		if canonical, ok := f.synonyms[string(token.Term)]; ok {
			token.Term = []byte(canonical)
		}
	}
	return input
}

// buildIndexMapping assembles the index mapping shared by all four
// collections. Chunk text is indexed three ways: stemmed terms, word
// shingles, and case-preserving citation tokens.
func buildIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(LegalAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			en.PossessiveName,
			lowercase.Name,
			en.StopName,
			LegalStopFilterName,
			LegalSynonymFilterName,
			en.SnowballStemmerName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add legal analyzer: %w", err)
	}

	err = indexMapping.AddCustomTokenFilter(ShingleFilterName, map[string]interface{}{
		"type": shingle.Name,
		"min":  2.0,
		"max":  3.0,
	})
	if err != nil {
		return nil, fmt.Errorf("add shingle filter: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(ShingleAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			ShingleFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add shingle analyzer: %w", err)
	}

	err = indexMapping.AddCustomTokenizer(CitationTokenizerName, map[string]interface{}{
		"type":   regexptok.Name,
		"regexp": `[^\s,;]+`,
	})
	if err != nil {
		return nil, fmt.Errorf("add citation tokenizer: %w", err)
	}

	// No lowercase filter: "Section 365" and "§ 365(d)(3)" must index
	// exactly as written.
	err = indexMapping.AddCustomAnalyzer(CitationAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     CitationTokenizerName,
		"token_filters": []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("add citation analyzer: %w", err)
	}

	docMapping := bleve.NewDocumentMapping()

	// Exact-match filter fields.
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.IncludeInAll = false
	keywordField.IncludeTermVectors = false
	docMapping.AddFieldMappingsAt("case_id", keywordField)
	docMapping.AddFieldMappingsAt("evidence_id", keywordField)
	docMapping.AddFieldMappingsAt("chunk_type", keywordField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = LegalAnalyzerName
	textField.IncludeTermVectors = true // highlight offsets
	textField.Store = true
	docMapping.AddFieldMappingsAt("text", textField)

	shingleField := bleve.NewTextFieldMapping()
	shingleField.Analyzer = ShingleAnalyzerName
	shingleField.IncludeInAll = false
	shingleField.Store = false
	docMapping.AddFieldMappingsAt("text_shingles", shingleField)

	citationField := bleve.NewTextFieldMapping()
	citationField.Analyzer = CitationAnalyzerName
	citationField.IncludeInAll = false
	citationField.Store = false
	docMapping.AddFieldMappingsAt("text_citations", citationField)

	dateField := bleve.NewDateTimeFieldMapping()
	dateField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("created_at", dateField)

	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = LegalAnalyzerName

	return indexMapping, nil
}

// ExtractCitationTerms pulls statute and exhibit reference tokens out of a
// raw query so the search layer can boost exact citation matches. A token
// counts as a citation term if it contains a digit alongside punctuation
// or a section sign, or follows a reference keyword.
func ExtractCitationTerms(query string) []string {
	fields := strings.Fields(query)
	var terms []string
	for i, tok := range fields {
		trimmed := strings.Trim(tok, ",;")
		if trimmed == "" {
			continue
		}
		switch {
		case strings.ContainsRune(trimmed, '§'):
			terms = append(terms, trimmed)
		case looksLikeCitation(trimmed):
			terms = append(terms, trimmed)
		case i > 0 && isReferenceKeyword(fields[i-1]) && containsDigit(trimmed):
			terms = append(terms, trimmed)
		}
	}
	return terms
}

// looksLikeCitation matches tokens like "365(d)(3)", "12(b)(6)", "28:1331".
func looksLikeCitation(tok string) bool {
	if !containsDigit(tok) {
		return false
	}
	return strings.ContainsAny(tok, "()./:-")
}

func isReferenceKeyword(tok string) bool {
	switch strings.ToLower(strings.Trim(tok, ",;.")) {
	case "§", "section", "sec", "exhibit", "ex", "rule", "article", "clause", "paragraph", "para":
		return true
	}
	return false
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

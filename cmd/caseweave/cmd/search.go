package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/caseweave/caseweave/internal/domain"
	"github.com/caseweave/caseweave/internal/output"
	"github.com/caseweave/caseweave/internal/search"
)

func newSearchCmd() *cobra.Command {
	var (
		caseNumber string
		classes    []string
		mode       string
		topK       int
		rerank     bool
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed evidence",
		Long: `Run a hybrid search (BM25 + vector) over indexed evidence.

Mode selects the rankers: hybrid (default), dense, or lexical.
Results are scoped to one case with --case-number, or searched across
all cases when omitted.`,
		Example: `  # Hybrid search across all cases
  caseweave search "wire transfer to the escrow account"

  # Lexical only, one case, more results
  caseweave search "Section 365" --case-number 2024-CV-0412 \
      --mode lexical --top-k 20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "),
				caseNumber, classes, mode, topK, rerank, jsonOut)
		},
	}

	cmd.Flags().StringVar(&caseNumber, "case-number", "", "Restrict results to one case")
	cmd.Flags().StringSliceVar(&classes, "class", nil, "Evidence classes to search (document, transcript, communication)")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "Search mode: hybrid, dense, lexical")
	cmd.Flags().IntVar(&topK, "top-k", 10, "Maximum results")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rescore the fused head with the model reranker")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

func parseMode(mode string) (search.Mode, error) {
	switch strings.ToLower(mode) {
	case "", "hybrid":
		return search.ModeHybrid, nil
	case "dense":
		return search.ModeDenseOnly, nil
	case "lexical":
		return search.ModeLexicalOnly, nil
	default:
		return "", fmt.Errorf("unknown mode %q (hybrid, dense, lexical)", mode)
	}
}

func parseClasses(names []string) ([]domain.EvidenceClass, error) {
	var classes []domain.EvidenceClass
	for _, name := range names {
		class := domain.EvidenceClass(strings.ToLower(name))
		if !class.Valid() {
			return nil, fmt.Errorf("unknown evidence class %q (document, transcript, communication)", name)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

func runSearch(ctx context.Context, w io.Writer, queryText, caseNumber string, classNames []string, modeName string, topK int, rerank, jsonOut bool) error {
	searchMode, err := parseMode(modeName)
	if err != nil {
		return err
	}
	classes, err := parseClasses(classNames)
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req := search.Request{
		Query: queryText,
		TopK:  topK,
		Mode:  searchMode,
		Filters: search.Filters{
			Classes: classes,
		},
		Options: search.Options{
			UseRerank:  rerank,
			RerankTopN: topK,
			Highlight:  true,
		},
	}
	if caseNumber != "" {
		cs, err := a.metadata.GetCaseByNumber(ctx, caseNumber)
		if err != nil {
			return err
		}
		req.Filters.CaseIDs = []string{cs.ID}
	}

	searchCtx, cancel := context.WithTimeout(ctx, a.cfg.SearchTimeout())
	defer cancel()
	resp, err := a.engine.Search(searchCtx, req)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printSearchResults(output.New(w), queryText, resp)
	return nil
}

func printSearchResults(out *output.Writer, queryText string, resp *search.Response) {
	if len(resp.Results) == 0 {
		out.Statusf("🔍", "No evidence found for %q", queryText)
		return
	}

	out.Statusf("🔍", "%d results (%s, %s)", len(resp.Results), resp.Mode, resp.Took.Round(time.Millisecond))
	for _, warning := range resp.Warnings {
		out.Warning(warning)
	}
	out.Newline()

	for i, res := range resp.Results {
		name := res.EvidenceFilename
		if name == "" {
			name = res.EvidenceID
		}
		marker := ""
		if res.Reranked {
			marker = " (reranked)"
		}
		out.Statusf("📄", "%d. %s [%s] score %.3f%s", i+1, name, res.EvidenceClass, res.Score, marker)
		if snippet := strings.TrimSpace(res.Snippet); snippet != "" {
			out.Block(snippet)
		}
		if len(res.MatchedTerms) > 0 {
			out.Field("Matched:", strings.Join(res.MatchedTerms, ", "))
		}
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/scrivano/scrivano/internal/search"
	"github.com/scrivano/scrivano/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit   int
	blend   float64
	mode    string
	format  string // "text", "json"
	offline bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed notes",
		Long: `Search the indexed notes with hybrid ranking.

BM25 keyword scores and semantic similarity scores are max-normalized
over their candidate sets and combined as a weighted sum; --blend sets
the semantic weight.

Examples:
  scrivano search "espresso grind size"
  scrivano search "meeting notes" --limit 5
  scrivano search "project ideas" --mode lexical
  scrivano search "travel plans" --blend 0.8 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64Var(&opts.blend, "blend", 0, "Semantic weight 0..1 (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", search.ModeHybrid, "Ranking mode: hybrid, lexical, semantic")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (no Ollama required)")

	return cmd
}

// searchResult is the JSON shape of one hit.
type searchResult struct {
	Path    string  `json:"path"`
	Section string  `json:"section"`
	Offset  int     `json:"offset"`
	Score   float64 `json:"score"`
	Method  string  `json:"method"`
	Text    string  `json:"text"`
}

func runSearch(cmd *cobra.Command, query string, opts searchOptions) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, opts.offline, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Explicit flag values win, including --blend 0 for pure lexical.
	if !cmd.Flags().Changed("limit") {
		opts.limit = a.cfg.Search.MaxResults
	}
	if !cmd.Flags().Changed("blend") {
		opts.blend = a.cfg.Search.Blend
	}

	engine := search.New(a.store, a.embedder)
	hits, err := engine.Search(ctx, query, search.Options{
		Limit: opts.limit,
		Blend: opts.blend,
		Mode:  opts.mode,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		results := make([]searchResult, len(hits))
		for i, h := range hits {
			results[i] = searchResult{
				Path:    h.Chunk.DocPath,
				Section: h.Chunk.Section(),
				Offset:  h.Chunk.Offset,
				Score:   h.Score,
				Method:  h.Method,
				Text:    h.Chunk.Text,
			}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(hits) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, h := range hits {
		fmt.Fprintf(out, "%2d. %s:%d · %s  (%.3f)\n", i+1, h.Chunk.DocPath, h.Chunk.Offset, h.Chunk.Section(), h.Score)
		fmt.Fprintf(out, "    %s\n", snippet(h))
	}
	return nil
}

const snippetLength = 160

// snippet returns the first line-ish slice of a hit's text.
func snippet(h *store.Hit) string {
	text := strings.Join(strings.Fields(h.Chunk.Text), " ")
	if len(text) > snippetLength {
		cut := snippetLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "…"
	}
	return text
}

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var format string
	var offline bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, format, offline)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no Ollama required)")

	return cmd
}

// statsOutput is the JSON shape of the stats command.
type statsOutput struct {
	Path           string `json:"path"`
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
	Vectors        int    `json:"vectors"`
	Model          string `json:"model"`
	Dimensions     int    `json:"dimensions"`
	NotesOnDisk    int    `json:"notes_on_disk"`
	NotesUnindexed int    `json:"notes_unindexed"`
}

func runStats(cmd *cobra.Command, format string, offline bool) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, offline, true)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	paths, err := a.corpus.Paths(ctx)
	if err != nil {
		return err
	}

	out := statsOutput{
		Path:        stats.Path,
		Documents:   stats.Documents,
		Chunks:      stats.Chunks,
		Vectors:     stats.Vectors,
		Model:       stats.Model,
		Dimensions:  stats.Dimensions,
		NotesOnDisk: len(paths),
	}
	if out.NotesOnDisk > out.Documents {
		out.NotesUnindexed = out.NotesOnDisk - out.Documents
	}

	w := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Index:      %s\n", out.Path)
	fmt.Fprintf(w, "Documents:  %d indexed (%d on disk)\n", out.Documents, out.NotesOnDisk)
	fmt.Fprintf(w, "Chunks:     %d (%d with vectors)\n", out.Chunks, out.Vectors)
	fmt.Fprintf(w, "Embeddings: %s (%d dimensions)\n", out.Model, out.Dimensions)
	if out.NotesUnindexed > 0 {
		fmt.Fprintf(w, "Run 'scrivano index' to pick up %d unindexed notes.\n", out.NotesUnindexed)
	}
	return nil
}

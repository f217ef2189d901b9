package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrivano/scrivano/internal/chunk"
	"github.com/scrivano/scrivano/internal/config"
	"github.com/scrivano/scrivano/internal/pipeline"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	full      bool
	offline   bool
	batchSize int
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the notes directory",
		Long: `Index the notes directory for search.

By default only documents whose version changed since the last run
are re-indexed. Use --full to clear the index and rebuild it.

Examples:
  scrivano index
  scrivano index --full
  scrivano index --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.full, "full", false, "Clear the index and re-index everything")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (no Ollama required)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Chunk texts per embedding request (default from config)")

	return cmd
}

func runIndex(cmd *cobra.Command, opts indexOptions) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, opts.offline, false)
	if err != nil {
		return err
	}
	defer a.Close()

	runner := pipeline.New(
		a.corpus,
		chunk.NewMarkdownChunkerWithOptions(chunk.MarkdownChunkerOptions{
			TargetSize: a.cfg.Search.ChunkSize,
		}),
		a.embedder,
		a.store,
		config.LockPath(flagRoot),
	)

	batchSize := opts.batchSize
	if batchSize <= 0 {
		batchSize = a.cfg.Embeddings.BatchSize
	}

	result, err := runner.Run(ctx, pipeline.Options{Full: opts.full, BatchSize: batchSize})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %d of %d documents (%d unchanged, %d removed) in %s\n",
		result.DocsIndexed, result.DocsScanned, result.DocsSkipped,
		result.DocsRemoved, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Chunks: %d indexed, %d removed\n",
		result.ChunksIndexed, result.ChunksRemoved)
	for _, path := range result.ParseFailures {
		fmt.Fprintf(out, "Skipped (unparseable): %s\n", path)
	}
	return nil
}

// Package cmd provides the CLI commands for scrivano.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrivano/scrivano/internal/config"
	"github.com/scrivano/scrivano/internal/embed"
	"github.com/scrivano/scrivano/internal/errs"
	"github.com/scrivano/scrivano/internal/logging"
	"github.com/scrivano/scrivano/internal/notes"
	"github.com/scrivano/scrivano/internal/store"
	"github.com/scrivano/scrivano/pkg/version"
)

var (
	flagRoot  string
	flagDebug bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the scrivano CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrivano",
		Short: "Hybrid search over your markdown notes",
		Long: `Scrivano indexes a directory of markdown notes and answers
queries with hybrid search: BM25 keyword matching blended with
semantic similarity over local embeddings.

Run 'scrivano index' once, then 'scrivano search "your query"'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("scrivano version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagRoot, "root", ".", "Notes directory to operate on")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes structured logs to the data directory log file;
// --debug lowers the level and mirrors events to stderr.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	// Creating the log file would create the data directory; leave that
	// to commands that validated the root first.
	if info, err := os.Stat(flagRoot); err == nil && info.IsDir() {
		cfg.FilePath = config.LogPath(flagRoot)
		if fileCfg, err := config.Load(flagRoot); err == nil {
			cfg.Level = fileCfg.LogLevel
		}
	}
	if flagDebug {
		cfg.Level = "debug"
		cfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		// Logging must never block the actual command.
		return nil
	}
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command, cancelling on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if suggestion := errs.SuggestionOf(err); suggestion != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", suggestion)
		}
	}
	return err
}

// app bundles the opened corpus, store, and embedder for one command.
type app struct {
	cfg      *config.Config
	corpus   *notes.Corpus
	store    *store.Store
	embedder embed.Embedder
}

// openApp loads configuration and opens every component a command
// needs. offline forces the static embedding provider. requireIndex
// makes a missing index file an error instead of creating one, so
// read-only commands never leave index state behind.
func openApp(ctx context.Context, offline, requireIndex bool) (*app, error) {
	cfg, err := config.Load(flagRoot)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Embeddings.Provider = "static"
	}

	corpus, err := notes.NewCorpus(ctx, flagRoot, cfg.Cache.MaxEntries)
	if err != nil {
		return nil, err
	}

	if requireIndex {
		if _, err := os.Stat(config.IndexPath(flagRoot)); err != nil {
			return nil, errs.NotFound("no index found for "+flagRoot, err).
				WithSuggestion("run 'scrivano index' to build it")
		}
	}

	embedder, err := embed.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(config.IndexPath(flagRoot), store.Options{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	return &app{cfg: cfg, corpus: corpus, store: st, embedder: embedder}, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	_ = a.store.Close()
	_ = a.embedder.Close()
}

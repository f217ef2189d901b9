// Package pipeline drives indexing runs: enumerate the corpus, chunk
// changed documents, embed their chunks, and upsert them into the
// store. Runs are incremental by default, diffing document version
// tokens against the store's ledger; a full run clears the index first.
//
// A file lock excludes concurrent runs across processes. Within a run,
// reading and chunking fan out across workers while embedding and
// writing stay sequential, keeping the embedding backend the only
// saturated resource.
package pipeline

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/scrivano/scrivano/internal/chunk"
	"github.com/scrivano/scrivano/internal/embed"
	"github.com/scrivano/scrivano/internal/errs"
	"github.com/scrivano/scrivano/internal/notes"
	"github.com/scrivano/scrivano/internal/store"
)

// maxChunkWorkers caps the read+chunk fan-out.
const maxChunkWorkers = 4

// Options configures one indexing run.
type Options struct {
	// Full clears the index and re-indexes every document.
	Full bool

	// BatchSize caps how many chunk texts go into one embedding
	// request. Zero or negative uses embed.DefaultBatchSize.
	BatchSize int
}

// Result summarizes one indexing run.
type Result struct {
	DocsScanned   int
	DocsIndexed   int
	DocsSkipped   int
	DocsRemoved   int
	ChunksIndexed int
	ChunksRemoved int

	// ParseFailures lists documents skipped because chunking failed.
	ParseFailures []string

	Duration time.Duration
}

// Runner executes indexing runs.
type Runner struct {
	corpus   *notes.Corpus
	chunker  *chunk.MarkdownChunker
	embedder embed.Embedder
	store    *store.Store
	lockPath string
}

// New creates a pipeline runner.
func New(corpus *notes.Corpus, chunker *chunk.MarkdownChunker, embedder embed.Embedder, st *store.Store, lockPath string) *Runner {
	return &Runner{
		corpus:   corpus,
		chunker:  chunker,
		embedder: embedder,
		store:    st,
		lockPath: lockPath,
	}
}

type docWork struct {
	doc    *notes.Document
	chunks []*chunk.Chunk
}

// Run executes one indexing run. Embedding failures abort the run;
// because upserts are idempotent, re-running picks up where it left off.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()

	unlock, err := r.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	slog.Info("index_run_started",
		slog.String("root", r.corpus.Root()),
		slog.Bool("full", opts.Full),
		slog.String("model", r.embedder.ModelName()))

	if opts.Full {
		if err := r.store.Clear(ctx); err != nil {
			return nil, err
		}
	}

	ledger, err := r.store.DocVersions(ctx)
	if err != nil {
		return nil, err
	}

	paths, err := r.corpus.Paths(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{DocsScanned: len(paths)}

	work, err := r.chunkStage(ctx, paths, ledger, opts.Full, result)
	if err != nil {
		return nil, err
	}

	if err := r.removeDeleted(ctx, paths, ledger, result); err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if err := r.writeStage(ctx, work, ledger, batchSize, result); err != nil {
		return nil, err
	}

	result.Duration = time.Since(started)
	slog.Info("index_run_completed",
		slog.Int("docs_scanned", result.DocsScanned),
		slog.Int("docs_indexed", result.DocsIndexed),
		slog.Int("docs_skipped", result.DocsSkipped),
		slog.Int("docs_removed", result.DocsRemoved),
		slog.Int("chunks_indexed", result.ChunksIndexed),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// acquireLock takes the cross-process index lock, failing fast if
// another run holds it.
func (r *Runner) acquireLock() (func(), error) {
	if r.lockPath == "" {
		return func() {}, nil
	}

	fl := flock.New(r.lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.Store("failed to acquire index lock at "+r.lockPath, err)
	}
	if !locked {
		return nil, errs.Store("another indexing run is in progress", nil).
			WithSuggestion("wait for the running 'scrivano index' to finish")
	}
	return func() { _ = fl.Unlock() }, nil
}

// chunkStage reads and chunks changed documents in parallel.
func (r *Runner) chunkStage(ctx context.Context, paths []string, ledger map[string]string, full bool, result *Result) ([]docWork, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(maxChunkWorkers, runtime.NumCPU()))

	var mu sync.Mutex
	var work []docWork

	for _, path := range paths {
		g.Go(func() error {
			doc, err := r.corpus.Get(gctx, path)
			if err != nil {
				// Deleted between enumeration and read; the removal
				// pass handles its stale chunks.
				if errs.IsNotFound(err) {
					return nil
				}
				return err
			}

			if !full {
				if version, ok := ledger[doc.Path]; ok && version == doc.Version {
					mu.Lock()
					result.DocsSkipped++
					mu.Unlock()
					return nil
				}
			}

			chunks, err := r.chunker.Chunk(doc.Path, doc.Content)
			if err != nil {
				if errs.IsParse(err) {
					slog.Warn("doc_parse_failed",
						slog.String("path", doc.Path),
						slog.String("error", err.Error()))
					mu.Lock()
					result.ParseFailures = append(result.ParseFailures, doc.Path)
					mu.Unlock()
					return nil
				}
				return err
			}

			mu.Lock()
			work = append(work, docWork{doc: doc, chunks: chunks})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(work, func(i, j int) bool { return work[i].doc.Path < work[j].doc.Path })
	sort.Strings(result.ParseFailures)
	return work, nil
}

// removeDeleted drops chunks of documents that left the corpus.
func (r *Runner) removeDeleted(ctx context.Context, paths []string, ledger map[string]string, result *Result) error {
	current := make(map[string]bool, len(paths))
	for _, p := range paths {
		current[p] = true
	}

	for docPath := range ledger {
		if current[docPath] {
			continue
		}
		removed, err := r.store.DeleteDoc(ctx, docPath)
		if err != nil {
			return err
		}
		slog.Info("doc_removed",
			slog.String("path", docPath),
			slog.Int("chunks", removed))
		result.DocsRemoved++
		result.ChunksRemoved += removed
	}
	return nil
}

// writeStage embeds and upserts each changed document. One document is
// one store transaction: a crash mid-run leaves whole documents either
// indexed or not, never half-written.
func (r *Runner) writeStage(ctx context.Context, work []docWork, ledger map[string]string, batchSize int, result *Result) error {
	for _, w := range work {
		// Changed documents shed their previous chunks first; edits
		// move offsets and section paths, which changes chunk IDs.
		if _, indexed := ledger[w.doc.Path]; indexed {
			removed, err := r.store.DeleteDoc(ctx, w.doc.Path)
			if err != nil {
				return err
			}
			result.ChunksRemoved += removed
		}

		if len(w.chunks) == 0 {
			continue
		}

		texts := make([]string, len(w.chunks))
		for i, c := range w.chunks {
			texts[i] = c.Text
		}
		vectors := make([][]float32, 0, len(texts))
		for start := 0; start < len(texts); start += batchSize {
			end := min(start+batchSize, len(texts))
			batch, err := r.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			vectors = append(vectors, batch...)
		}

		entries := make([]*store.Entry, len(w.chunks))
		for i, c := range w.chunks {
			entries[i] = &store.Entry{
				Chunk:      c,
				Vector:     vectors[i],
				DocVersion: w.doc.Version,
			}
		}
		if err := r.store.Upsert(ctx, entries); err != nil {
			return err
		}

		slog.Debug("doc_indexed",
			slog.String("path", w.doc.Path),
			slog.String("version", w.doc.Version),
			slog.Int("chunks", len(entries)))
		result.DocsIndexed++
		result.ChunksIndexed += len(entries)
	}
	return nil
}

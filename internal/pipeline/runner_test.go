package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrivano/scrivano/internal/chunk"
	"github.com/scrivano/scrivano/internal/embed"
	"github.com/scrivano/scrivano/internal/errs"
	"github.com/scrivano/scrivano/internal/notes"
	"github.com/scrivano/scrivano/internal/store"
)

type fixture struct {
	root   string
	runner *Runner
	store  *store.Store
}

func newFixture(t *testing.T, embedder embed.Embedder) *fixture {
	t.Helper()
	root := t.TempDir()

	corpus, err := notes.NewCorpus(context.Background(), root, 0)
	require.NoError(t, err)

	st, err := store.Open("", store.Options{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runner := New(corpus, chunk.NewMarkdownChunker(), embedder, st,
		filepath.Join(t.TempDir(), "index.lock"))
	return &fixture{root: root, runner: runner, store: st}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestRunner_FullThenIncremental(t *testing.T) {
	// Given three indexed notes
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.md", "# Coffee\nespresso notes\n")
	f.write(t, "b.md", "# Garden\ntomato seedlings\n")
	f.write(t, "c.md", "# Budget\nquarterly numbers\n")

	ctx := context.Background()
	result, err := f.runner.Run(ctx, Options{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 3, result.DocsScanned)
	assert.Equal(t, 3, result.DocsIndexed)
	assert.Zero(t, result.DocsSkipped)

	// When one note changes and the run repeats incrementally
	f.write(t, "b.md", "# Garden\ntomato seedlings hardened off\n")
	result, err = f.runner.Run(ctx, Options{})
	require.NoError(t, err)

	// Then only the changed note is re-indexed
	assert.Equal(t, 1, result.DocsIndexed)
	assert.Equal(t, 2, result.DocsSkipped)
	assert.Zero(t, result.DocsRemoved)

	// And the store reflects the new content
	hits, err := f.store.SearchLexical(ctx, "hardened", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.md", hits[0].Chunk.DocPath)

	// And a second unchanged run indexes nothing
	result, err = f.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.DocsIndexed)
	assert.Equal(t, 3, result.DocsSkipped)
}

func TestRunner_EditReplacesOldChunks(t *testing.T) {
	// Given an indexed note
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.md", "# Old Title\noriginal body text\n")
	ctx := context.Background()
	_, err := f.runner.Run(ctx, Options{Full: true})
	require.NoError(t, err)

	// When the note is rewritten and re-indexed
	f.write(t, "a.md", "# New Title\nreplacement body text\n")
	_, err = f.runner.Run(ctx, Options{})
	require.NoError(t, err)

	// Then the old chunks are gone
	old, err := f.store.SearchLexical(ctx, "original", 10)
	require.NoError(t, err)
	assert.Empty(t, old)

	fresh, err := f.store.SearchLexical(ctx, "replacement", 10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestRunner_RemovesDeletedDocuments(t *testing.T) {
	// Given two indexed notes
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "keep.md", "# Keep\nthis note stays\n")
	f.write(t, "drop.md", "# Drop\nthis note goes away\n")
	ctx := context.Background()
	_, err := f.runner.Run(ctx, Options{Full: true})
	require.NoError(t, err)

	// When one file is deleted and the run repeats
	require.NoError(t, os.Remove(filepath.Join(f.root, "drop.md")))
	result, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)

	// Then its chunks are removed from the index
	assert.Equal(t, 1, result.DocsRemoved)
	assert.Equal(t, 1, result.ChunksRemoved)

	hits, err := f.store.SearchLexical(ctx, "goes", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestRunner_SkipsUnparseableDocuments(t *testing.T) {
	// Given one valid and one invalid note
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "good.md", "# Good\nreadable content\n")
	f.write(t, "bad.md", "broken \xff\xfe bytes")

	// When indexing
	result, err := f.runner.Run(context.Background(), Options{Full: true})
	require.NoError(t, err)

	// Then the bad note is skipped and the good one indexed
	assert.Equal(t, 1, result.DocsIndexed)
	assert.Equal(t, []string{"bad.md"}, result.ParseFailures)
}

// batchRecordingEmbedder records the size of every embedding request.
type batchRecordingEmbedder struct {
	*embed.StaticEmbedder
	sizes []int
}

func (e *batchRecordingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.sizes = append(e.sizes, len(texts))
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestRunner_BatchSizeSplitsEmbeddingRequests(t *testing.T) {
	// Given one note with five sections
	rec := &batchRecordingEmbedder{StaticEmbedder: embed.NewStaticEmbedder()}
	f := newFixture(t, rec)
	f.write(t, "a.md", "# S1\none\n\n# S2\ntwo\n\n# S3\nthree\n\n# S4\nfour\n\n# S5\nfive\n")

	// When indexing with a batch size of two
	result, err := f.runner.Run(context.Background(), Options{Full: true, BatchSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, result.ChunksIndexed)

	// Then the chunk texts are embedded two at a time
	assert.Equal(t, []int{2, 2, 1}, rec.sizes)
}

// failingEmbedder fails every batch after a configurable number of
// successes.
type failingEmbedder struct {
	*embed.StaticEmbedder
	failAfter int
	batches   int
}

func (e *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches++
	if e.batches > e.failAfter {
		return nil, errs.Embedding("backend unavailable", nil)
	}
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestRunner_EmbeddingFailureAbortsRun(t *testing.T) {
	// Given an embedder that fails on the second document
	failing := &failingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), failAfter: 1}
	f := newFixture(t, failing)
	f.write(t, "a.md", "# First\nalpha content\n")
	f.write(t, "b.md", "# Second\nbeta content\n")

	// When indexing
	ctx := context.Background()
	_, err := f.runner.Run(ctx, Options{Full: true})

	// Then the run aborts with an embedding error
	require.Error(t, err)
	assert.True(t, errs.IsEmbedding(err))

	// And a rerun with a healthy backend completes the index
	f.runner.embedder = embed.NewStaticEmbedder()
	result, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DocsSkipped)
	assert.Equal(t, 1, result.DocsIndexed)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Documents)
}

func TestRunner_LockExcludesConcurrentRuns(t *testing.T) {
	// Given the index lock held by another process
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.md", "# Note\ncontent\n")

	holder := flock.New(f.runner.lockPath)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = holder.Unlock() }()

	// When starting a run
	_, err = f.runner.Run(context.Background(), Options{})

	// Then it fails fast with guidance
	require.Error(t, err)
	assert.True(t, errs.IsStore(err))
	assert.NotEmpty(t, errs.SuggestionOf(err))
}

func TestRunner_EmptyCorpus(t *testing.T) {
	// Given a corpus with no markdown files
	f := newFixture(t, embed.NewStaticEmbedder())

	// When indexing
	result, err := f.runner.Run(context.Background(), Options{Full: true})

	// Then the run completes with nothing indexed
	require.NoError(t, err)
	assert.Zero(t, result.DocsScanned)
	assert.Zero(t, result.DocsIndexed)
}

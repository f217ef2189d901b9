package notes

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrivano/scrivano/internal/errs"
)

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestCorpus_PathsEnumeratesMarkdownOnly(t *testing.T) {
	// Given a mixed directory tree
	root := t.TempDir()
	writeNote(t, root, "b.md", "beta")
	writeNote(t, root, "sub/a.md", "alpha")
	writeNote(t, root, "sub/readme.txt", "not markdown")
	writeNote(t, root, ".hidden/secret.md", "hidden")
	writeNote(t, root, ".scrivano/index.md", "data dir")

	c, err := NewCorpus(context.Background(), root, 0)
	require.NoError(t, err)

	// When enumerating
	paths, err := c.Paths(context.Background())
	require.NoError(t, err)

	// Then only visible markdown files appear, sorted
	assert.Equal(t, []string{"b.md", "sub/a.md"}, paths)
}

func TestCorpus_GetMissingNote(t *testing.T) {
	// Given a corpus
	c, err := NewCorpus(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)

	// When loading a note that does not exist
	_, err = c.Get(context.Background(), "gone.md")

	// Then a not-found error with a suggestion is returned
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
	assert.NotEmpty(t, errs.SuggestionOf(err))
}

func TestCorpus_MissingRoot(t *testing.T) {
	// When opening a corpus at a missing directory
	_, err := NewCorpus(context.Background(), filepath.Join(t.TempDir(), "nope"), 0)

	// Then a not-found error is returned
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestHashVersioner_TracksContent(t *testing.T) {
	// Given a content-hash versioner over two identical notes
	root := t.TempDir()
	writeNote(t, root, "a.md", "same")
	writeNote(t, root, "b.md", "same")
	v := NewHashVersioner(root)
	ctx := context.Background()

	// When versioning identical and differing content
	first, clean, err := v.Version(ctx, "a.md")
	require.NoError(t, err)
	second, _, err := v.Version(ctx, "b.md")
	require.NoError(t, err)
	writeNote(t, root, "a.md", "different")
	changed, _, err := v.Version(ctx, "a.md")
	require.NoError(t, err)

	// Then the token follows the content and is always clean
	assert.True(t, clean)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, changed)
}

func TestCorpus_VersionChangesWithContent(t *testing.T) {
	// Given a non-git corpus with one note
	root := t.TempDir()
	writeNote(t, root, "a.md", "first draft")
	c, err := NewCorpus(context.Background(), root, 0)
	require.NoError(t, err)

	ctx := context.Background()
	before, err := c.Version(ctx, "a.md")
	require.NoError(t, err)

	// When rewriting the note
	writeNote(t, root, "a.md", "second draft")
	after, err := c.Version(ctx, "a.md")
	require.NoError(t, err)

	// Then the version token changes
	assert.NotEqual(t, before, after)

	// And rewriting identical content restores the token
	writeNote(t, root, "a.md", "first draft")
	restored, err := c.Version(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}

// countingVersioner returns a fixed token and forces the clean flag.
type countingVersioner struct {
	token string
	clean bool
	calls int
}

func (v *countingVersioner) Version(context.Context, string) (string, bool, error) {
	v.calls++
	return v.token, v.clean, nil
}

func TestCorpus_CachesOnlyCleanDocuments(t *testing.T) {
	// Given a corpus whose versioner reports documents dirty
	root := t.TempDir()
	writeNote(t, root, "a.md", "content")
	c, err := NewCorpus(context.Background(), root, 0)
	require.NoError(t, err)
	dirty := &countingVersioner{token: "d1", clean: false}
	c.versioner = dirty

	ctx := context.Background()

	// When loading twice
	first, err := c.Get(ctx, "a.md")
	require.NoError(t, err)
	_, err = c.Get(ctx, "a.md")
	require.NoError(t, err)

	// Then nothing was cached
	assert.False(t, first.Clean)
	assert.Zero(t, c.cache.Len())

	// And with a clean versioner the second load hits the cache
	c.versioner = &countingVersioner{token: "c1", clean: true}
	doc, err := c.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.True(t, doc.Clean)
	again, err := c.Get(ctx, "a.md")
	require.NoError(t, err)
	assert.Same(t, doc, again)
	assert.Equal(t, 1, c.cache.Len())
}

func TestCorpus_CacheHitSkipsDiskRead(t *testing.T) {
	// Given a cached clean document
	root := t.TempDir()
	writeNote(t, root, "a.md", "original content")
	c, err := NewCorpus(context.Background(), root, 0)
	require.NoError(t, err)
	c.versioner = &countingVersioner{token: "v1", clean: true}

	ctx := context.Background()
	doc, err := c.Get(ctx, "a.md")
	require.NoError(t, err)
	require.Equal(t, "original content", doc.Content)

	// When the file changes on disk but the version token does not
	writeNote(t, root, "a.md", "changed on disk")
	again, err := c.Get(ctx, "a.md")
	require.NoError(t, err)

	// Then the cached document is served without re-reading the file
	assert.Same(t, doc, again)
	assert.Equal(t, "original content", again.Content)
}

func gitRun(t *testing.T, root string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func TestGitVersioner(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	// Given a git repository with one committed note
	root := t.TempDir()
	gitRun(t, root, "init")
	writeNote(t, root, "a.md", "committed content")
	gitRun(t, root, "add", "a.md")
	gitRun(t, root, "commit", "-m", "add note")

	ctx := context.Background()
	v, err := NewGitVersioner(ctx, root)
	require.NoError(t, err)

	// When versioning the clean note
	version, clean, err := v.Version(ctx, "a.md")
	require.NoError(t, err)

	// Then the token is the commit SHA and the note is clean
	assert.True(t, clean)
	assert.Len(t, version, 40)

	// When the note is modified without committing
	writeNote(t, root, "a.md", "edited content")
	dirtyVersion, clean, err := v.Version(ctx, "a.md")
	require.NoError(t, err)

	// Then the token is content-derived and marked dirty
	assert.False(t, clean)
	assert.Contains(t, dirtyVersion, "dirty:")
	assert.NotEqual(t, version, dirtyVersion)

	// And an untracked note is dirty too
	writeNote(t, root, "new.md", "never committed")
	_, clean, err = v.Version(ctx, "new.md")
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestNewGitVersioner_NotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	// When constructing against a plain directory
	_, err := NewGitVersioner(context.Background(), t.TempDir())

	// Then a not-found error is returned
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

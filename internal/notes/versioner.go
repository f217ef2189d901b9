package notes

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/scrivano/scrivano/internal/errs"
)

// Versioner derives a version token for a document. Tokens change
// exactly when content changes, so they serve as the staleness check
// for both the document cache and incremental indexing.
type Versioner interface {
	// Version returns the token for the document at relPath and whether
	// the document is clean. Implementations read the file only when the
	// token cannot be derived from repository metadata, so a clean cache
	// hit costs no I/O beyond the version lookup. Only clean documents
	// may be cached: a dirty document's content can change again without
	// its underlying commit moving.
	Version(ctx context.Context, relPath string) (version string, clean bool, err error)
}

// GitVersioner versions documents by the last commit that touched them.
// Documents with uncommitted changes get a content-derived token marked
// dirty instead, so edits in progress never poison the cache.
type GitVersioner struct {
	root string
}

var _ Versioner = (*GitVersioner)(nil)

// NewGitVersioner creates a git-backed versioner rooted at root.
// It fails with a not-found error if root is not inside a git work tree.
func NewGitVersioner(ctx context.Context, root string) (*GitVersioner, error) {
	out, err := gitOutput(ctx, root, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, errs.NotFound(root+" is not a git work tree", err).
			WithSuggestion("run 'git init' or use content-hash versioning")
	}
	return &GitVersioner{root: root}, nil
}

// Version implements Versioner. Clean documents resolve to the last
// commit SHA without reading the file.
func (v *GitVersioner) Version(ctx context.Context, relPath string) (string, bool, error) {
	status, err := gitOutput(ctx, v.root, "status", "--porcelain", "--", relPath)
	if err != nil {
		return "", false, errs.Store("git status failed for "+relPath, err)
	}
	if strings.TrimSpace(status) != "" {
		// Modified or untracked; token tracks the working-tree content.
		hash, err := fileHash(v.root, relPath)
		if err != nil {
			return "", false, err
		}
		return "dirty:" + hash, false, nil
	}

	sha, err := gitOutput(ctx, v.root, "log", "-n", "1", "--format=%H", "--", relPath)
	if err != nil {
		return "", false, errs.Store("git log failed for "+relPath, err)
	}
	sha = strings.TrimSpace(sha)
	if sha == "" {
		// Clean per status but never committed; fall back to content.
		hash, err := fileHash(v.root, relPath)
		if err != nil {
			return "", false, err
		}
		return "dirty:" + hash, false, nil
	}
	return sha, true, nil
}

func gitOutput(ctx context.Context, root string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", root}, args...)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}

// HashVersioner versions documents purely by content hash. Used when
// the notes directory is not a git repository; every document is
// considered clean because the token is the content itself.
type HashVersioner struct {
	root string
}

var _ Versioner = (*HashVersioner)(nil)

// NewHashVersioner creates a content-hash versioner rooted at root.
func NewHashVersioner(root string) *HashVersioner {
	return &HashVersioner{root: root}
}

// Version implements Versioner.
func (v *HashVersioner) Version(_ context.Context, relPath string) (string, bool, error) {
	hash, err := fileHash(v.root, relPath)
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// NewVersioner picks git versioning when root is a git work tree and
// content hashing otherwise.
func NewVersioner(ctx context.Context, root string) Versioner {
	if gv, err := NewGitVersioner(ctx, root); err == nil {
		return gv
	}
	return NewHashVersioner(root)
}

// fileHash reads a document and returns its content hash.
func fileHash(root, relPath string) (string, error) {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.NotFound("note "+relPath+" does not exist", err).
				WithSuggestion("check the path or re-run indexing to drop deleted notes")
		}
		return "", errs.Store("failed to read note "+relPath, err)
	}
	return contentHash(content), nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

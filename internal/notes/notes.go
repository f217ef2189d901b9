// Package notes reads the markdown corpus being indexed: enumerating
// documents, loading content, and assigning each document a version
// token through a Versioner. A small LRU keeps recently loaded clean
// documents so repeated pipeline runs skip disk and git for unchanged
// files.
package notes

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrivano/scrivano/internal/config"
	"github.com/scrivano/scrivano/internal/errs"
)

// DefaultCacheSize bounds the document cache when no size is configured.
const DefaultCacheSize = 1024

// Document is one markdown file of the corpus.
type Document struct {
	// Path is the path relative to the corpus root, slash-separated.
	Path string

	// Content is the raw file content.
	Content string

	// Version is the document's version token.
	Version string

	// Clean reports whether the version is stable (committed or
	// content-addressed). Dirty documents are never cached.
	Clean bool
}

// Corpus is the set of markdown documents under a root directory.
type Corpus struct {
	root      string
	versioner Versioner
	cache     *lru.Cache[string, *Document]
	ignore    *ignoreMatcher
}

// NewCorpus opens the corpus at root. The versioner defaults to git
// when root is a work tree and content hashing otherwise.
func NewCorpus(ctx context.Context, root string, cacheSize int) (*Corpus, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errs.NotFound("notes directory "+root+" does not exist", err).
			WithSuggestion("create the directory or point --root at your notes")
	}
	if !info.IsDir() {
		return nil, errs.NotFound(root+" is not a directory", nil)
	}

	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *Document](cacheSize)
	if err != nil {
		return nil, err
	}

	return &Corpus{
		root:      root,
		versioner: NewVersioner(ctx, root),
		cache:     cache,
		ignore:    loadIgnoreMatcher(root),
	}, nil
}

// Root returns the corpus root directory.
func (c *Corpus) Root() string {
	return c.root
}

// Paths enumerates every markdown document, sorted, as slash-separated
// paths relative to the root. Hidden directories, the data directory,
// and ignore-file matches are skipped.
func (c *Corpus) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == c.root {
			return nil
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || name == config.DataDirName || c.ignore.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".md") {
			return nil
		}
		if c.ignore.Match(rel, false) {
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, errs.Store("failed to enumerate notes under "+c.root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Get loads one document by its relative path. The version token is
// resolved first; a cache hit for a clean document is served without
// reading the file.
func (c *Corpus) Get(ctx context.Context, relPath string) (*Document, error) {
	version, clean, err := c.versioner.Version(ctx, relPath)
	if err != nil {
		return nil, err
	}

	key := relPath + "\x00" + version
	if clean {
		if doc, ok := c.cache.Get(key); ok {
			return doc, nil
		}
	}

	abs := filepath.Join(c.root, filepath.FromSlash(relPath))
	content, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("note "+relPath+" does not exist", err).
				WithSuggestion("check the path or re-run indexing to drop deleted notes")
		}
		return nil, errs.Store("failed to read note "+relPath, err)
	}

	doc := &Document{
		Path:    relPath,
		Content: string(content),
		Version: version,
		Clean:   clean,
	}
	if clean {
		c.cache.Add(key, doc)
	} else {
		slog.Debug("note_dirty", slog.String("path", relPath))
	}
	return doc, nil
}

// Version returns the current version token of a document without
// keeping its content.
func (c *Corpus) Version(ctx context.Context, relPath string) (string, error) {
	doc, err := c.Get(ctx, relPath)
	if err != nil {
		return "", err
	}
	return doc.Version, nil
}

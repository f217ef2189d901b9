package notes

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFileName lists corpus-specific ignore patterns.
const IgnoreFileName = ".scrivanoignore"

// ignoreMatcher excludes documents from enumeration using
// gitignore-style patterns: comments, negation with !, directory-only
// patterns with a trailing /, anchoring with a leading /, * and **.
type ignoreMatcher struct {
	rules []ignoreRule
}

type ignoreRule struct {
	regex    *regexp.Regexp
	negation bool
	dirOnly  bool
	anchored bool
}

// loadIgnoreMatcher reads patterns from .scrivanoignore and .gitignore
// at root. Missing files are fine; the matcher is simply empty.
func loadIgnoreMatcher(root string) *ignoreMatcher {
	m := &ignoreMatcher{}
	for _, name := range []string{".gitignore", IgnoreFileName} {
		m.addFile(filepath.Join(root, name))
	}
	return m
}

func (m *ignoreMatcher) addFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m.addPattern(scanner.Text())
	}
}

func (m *ignoreMatcher) addPattern(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r ignoreRule
	if strings.HasPrefix(pattern, "!") {
		r.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	} else if strings.Contains(pattern, "/") {
		// A slash anywhere anchors the pattern to the root.
		r.anchored = true
	}

	r.regex = regexp.MustCompile("^" + patternToRegex(pattern) + "$")
	m.rules = append(m.rules, r)
}

// Match reports whether a slash-separated relative path is ignored.
// Later rules win, so negations can re-include earlier matches.
func (m *ignoreMatcher) Match(relPath string, isDir bool) bool {
	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negation
		}
	}
	return ignored
}

func (r ignoreRule) matches(relPath string, isDir bool) bool {
	if r.anchored {
		if r.regex.MatchString(relPath) {
			return !r.dirOnly || isDir
		}
		// A matched directory also covers everything inside it.
		parts := strings.Split(relPath, "/")
		for i := 1; i < len(parts); i++ {
			if r.regex.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	// Unanchored patterns match any path component.
	parts := strings.Split(relPath, "/")
	for i, part := range parts {
		if !r.regex.MatchString(part) {
			continue
		}
		if i == len(parts)-1 {
			return !r.dirOnly || isDir
		}
		return true
	}
	return false
}

// patternToRegex translates a glob pattern: * matches within one path
// component, ** across components, ? a single character.
func patternToRegex(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	return b.String()
}

package chunk

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/scrivano/scrivano/internal/errs"
)

// headingPattern matches ATX headings. A trailing "[...]" annotation
// (inline metadata some note formats append to headings) is excluded from
// the title.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+?)(?:\s+\[.*\])?\s*$`)

// MarkdownChunkerOptions configures the markdown chunker behavior.
type MarkdownChunkerOptions struct {
	// TargetSize is the chunk size target in characters
	// (default: DefaultTargetSize).
	TargetSize int
}

// MarkdownChunker implements heading-based markdown chunking.
//
// It walks the document line by line, tracking a stack of enclosing
// headings. Text accumulates until a heading boundary is crossed or the
// size target is reached at a blank line, whichever comes first. Fenced
// code blocks and YAML frontmatter are never split.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.TargetSize == 0 {
		opts.TargetSize = DefaultTargetSize
	}
	return &MarkdownChunker{options: opts}
}

// chunkState carries the walk state across lines.
type chunkState struct {
	docPath string
	stack   []string // enclosing heading titles
	lines   []string // accumulated chunk lines
	start   int      // byte offset where the current chunk began
	size    int      // accumulated size in bytes
	chunks  []*Chunk
}

// Chunk splits a markdown document into ordered chunks.
// It is a pure function of (docPath, content): no hidden state, identical
// input always yields identical output. An empty document yields an empty
// sequence, not an error.
func (c *MarkdownChunker) Chunk(docPath, content string) ([]*Chunk, error) {
	if !utf8.ValidString(content) {
		return nil, errs.Parse("document content is not valid UTF-8: "+docPath, nil)
	}
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	st := &chunkState{docPath: docPath}
	lines := strings.Split(content, "\n")

	var inFence bool
	var fenceMarker string
	var inFrontmatter bool
	offset := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		switch {
		case i == 0 && trimmed == "---":
			// YAML frontmatter opens the document; keep it whole.
			inFrontmatter = true
			st.accumulate(line)

		case inFrontmatter:
			st.accumulate(line)
			if trimmed == "---" || trimmed == "..." {
				inFrontmatter = false
			}

		case inFence:
			st.accumulate(line)
			if isFenceClose(trimmed, fenceMarker) {
				inFence = false
			}

		case isFenceOpen(trimmed) != "":
			inFence = true
			fenceMarker = isFenceOpen(trimmed)
			st.accumulate(line)

		case headingPattern.MatchString(line):
			m := headingPattern.FindStringSubmatch(line)
			st.flush()

			level := len(m[1])
			title := strings.TrimSpace(m[2])
			if level-1 < len(st.stack) {
				st.stack = st.stack[:level-1]
			}
			st.stack = append(st.stack, title)

			// The new chunk's offset points at the heading itself; the
			// heading text lives in the section path, not the chunk body.
			st.start = offset

		default:
			st.accumulate(line)

			// Split oversized sections at blank lines only, so sentences
			// and list items stay intact.
			if trimmed == "" && st.size >= c.options.TargetSize {
				st.flush()
				st.start = offset + len(line) + 1
			}
		}

		offset += len(line) + 1 // +1 for the newline
	}

	st.flush()
	return st.chunks, nil
}

// accumulate appends a line to the current chunk. The chunk start offset
// is managed by the caller: document start, heading line, or the position
// after a size split.
func (s *chunkState) accumulate(line string) {
	s.lines = append(s.lines, line)
	s.size += len(line) + 1
}

// flush emits the accumulated lines as a chunk, if they hold any content.
func (s *chunkState) flush() {
	defer func() {
		s.lines = s.lines[:0]
		s.size = 0
	}()

	text := strings.TrimSpace(strings.Join(s.lines, "\n"))
	if text == "" {
		return
	}

	sectionPath := make([]string, len(s.stack))
	copy(sectionPath, s.stack)
	if len(sectionPath) == 0 {
		// Headingless content is addressed by the file stem.
		sectionPath = []string{stem(s.docPath)}
	}

	s.chunks = append(s.chunks, &Chunk{
		ID:          chunkID(s.docPath, sectionPath, s.start),
		DocPath:     s.docPath,
		SectionPath: sectionPath,
		Offset:      s.start,
		Text:        text,
	})
}

// isFenceOpen returns the fence marker ("```" or "~~~") if the line opens
// a fenced code block, or "".
func isFenceOpen(trimmed string) string {
	if strings.HasPrefix(trimmed, "```") {
		return "```"
	}
	if strings.HasPrefix(trimmed, "~~~") {
		return "~~~"
	}
	return ""
}

// isFenceClose reports whether the line closes a fence opened with marker.
func isFenceClose(trimmed, marker string) bool {
	return strings.HasPrefix(trimmed, marker)
}

// stem returns the file name without its extension.
func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

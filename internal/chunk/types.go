// Package chunk splits markdown documents into ordered, addressable
// passages. Chunking is a pure function of document content: identical
// content always produces identical chunk ids, text, and order, which is
// what makes re-indexing idempotent.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// DefaultTargetSize is the default chunk size target in characters.
// Sections larger than this are split at blank lines.
const DefaultTargetSize = 1600

// Chunk is an addressable passage of a document, the unit of embedding
// and indexing.
type Chunk struct {
	// ID is derived from (DocPath, SectionPath, Offset), so re-chunking
	// identical content yields identical ids.
	ID string

	// DocPath is the document's logical path, relative to the corpus root.
	DocPath string

	// SectionPath is the ordered list of enclosing heading titles.
	// A document without headings gets a single-element path holding the
	// file stem.
	SectionPath []string

	// Offset is the byte offset of the chunk's start within the document.
	// For the first chunk of a section this points at the heading line.
	Offset int

	// Text is the chunk content with surrounding whitespace trimmed.
	Text string
}

// Section renders the section path for display, e.g. "Meeting Notes / Actions".
func (c *Chunk) Section() string {
	return strings.Join(c.SectionPath, " / ")
}

// chunkID derives the deterministic chunk key.
func chunkID(docPath string, sectionPath []string, offset int) string {
	h := sha256.New()
	h.Write([]byte(docPath))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(sectionPath, "\x1f")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(offset)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

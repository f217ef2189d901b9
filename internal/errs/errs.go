// Package errs defines the structured error taxonomy for scrivano.
// Every failure surfaced across a package boundary carries one of four
// codes so callers can decide between skip, abort, and retry without
// string matching.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code string

const (
	// CodeNotFound means a document, path, or index does not exist.
	// Never fatal to a pipeline batch; callers are told how to create it.
	CodeNotFound Code = "ERR_NOT_FOUND"

	// CodeParse means a document's content could not be chunked.
	// Logged and skipped; never aborts enumeration or a pipeline run.
	CodeParse Code = "ERR_PARSE"

	// CodeEmbedding means the embedding backend failed for a batch.
	// Aborts the current pipeline run; re-running is safe because
	// upserts are idempotent.
	CodeEmbedding Code = "ERR_EMBEDDING"

	// CodeStore means the persistence layer failed (I/O, corruption).
	// Fatal, surfaced to the caller.
	CodeStore Code = "ERR_STORE"
)

// Error is scrivano's structured error type.
type Error struct {
	// Code is the taxonomy code for this error.
	Code Code

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, enabling errors.Is with taxonomy sentinels.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithSuggestion attaches an actionable suggestion and returns the error
// for chaining.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// New creates an Error with the given code and message.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NotFound creates a CodeNotFound error.
func NotFound(message string, cause error) *Error {
	return New(CodeNotFound, message, cause)
}

// Parse creates a CodeParse error.
func Parse(message string, cause error) *Error {
	return New(CodeParse, message, cause)
}

// Embedding creates a CodeEmbedding error.
func Embedding(message string, cause error) *Error {
	return New(CodeEmbedding, message, cause)
}

// Store creates a CodeStore error.
func Store(message string, cause error) *Error {
	return New(CodeStore, message, cause)
}

// IsNotFound reports whether err carries CodeNotFound anywhere in its chain.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsParse reports whether err carries CodeParse anywhere in its chain.
func IsParse(err error) bool {
	return CodeOf(err) == CodeParse
}

// IsEmbedding reports whether err carries CodeEmbedding anywhere in its chain.
func IsEmbedding(err error) bool {
	return CodeOf(err) == CodeEmbedding
}

// IsStore reports whether err carries CodeStore anywhere in its chain.
func IsStore(err error) bool {
	return CodeOf(err) == CodeStore
}

// CodeOf extracts the taxonomy code from err, or "" if err is not an Error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// SuggestionOf extracts the suggestion from err, or "" if none is attached.
func SuggestionOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Suggestion
	}
	return ""
}

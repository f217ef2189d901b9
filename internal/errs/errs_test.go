package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error_IncludesCode(t *testing.T) {
	err := NotFound("note missing", nil)
	assert.Equal(t, "[ERR_NOT_FOUND] note missing", err.Error())
}

func TestError_Unwrap_ReturnsCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := Store("cannot open index", cause)

	assert.ErrorIs(t, err, cause)
}

func TestError_Is_MatchesByCode(t *testing.T) {
	// Given: a wrapped taxonomy error
	inner := Embedding("batch failed", errors.New("connection refused"))
	wrapped := fmt.Errorf("pipeline run: %w", inner)

	// Then: errors.Is matches any error carrying the same code
	assert.True(t, errors.Is(wrapped, &Error{Code: CodeEmbedding}))
	assert.False(t, errors.Is(wrapped, &Error{Code: CodeStore}))
}

func TestCodeOf_WrappedChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", Parse("bad content", nil))
	assert.Equal(t, CodeParse, CodeOf(err))

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"not_found", NotFound("x", nil), IsNotFound},
		{"parse", Parse("x", nil), IsParse},
		{"embedding", Embedding("x", nil), IsEmbedding},
		{"store", Store("x", nil), IsStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.pred(errors.New("plain")))
		})
	}
}

func TestWithSuggestion(t *testing.T) {
	err := NotFound("no index", nil).WithSuggestion("run 'scrivano index' first")

	require.NotNil(t, err)
	assert.Equal(t, "run 'scrivano index' first", SuggestionOf(fmt.Errorf("w: %w", err)))
	assert.Equal(t, "", SuggestionOf(errors.New("plain")))
}

package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrivano/scrivano/internal/errs"
)

// newOllamaStub serves /api/tags with the given model and /api/embed
// with fixed three-dimensional vectors.
func newOllamaStub(t *testing.T, model string, embedStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": model}},
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		if embedStatus != http.StatusOK {
			w.WriteHeader(embedStatus)
			return
		}
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if texts, ok := req.Input.([]any); ok {
			count = len(texts)
		}
		embeddings := make([][]float64, count)
		for i := range embeddings {
			embeddings[i] = []float64{3, 0, 4}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	// Given a server exposing the configured model
	srv := newOllamaStub(t, "nomic-embed-text:latest", http.StatusOK)

	// When constructing without explicit dimensions
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then the dimension is probed and the served tag resolved
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_MissingModel(t *testing.T) {
	// Given a server without the configured model
	srv := newOllamaStub(t, "llama3", http.StatusOK)

	// When constructing
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})

	// Then an embedding error with a pull suggestion is returned
	require.Error(t, err)
	assert.True(t, errs.IsEmbedding(err))
	assert.Contains(t, errs.SuggestionOf(err), "ollama pull")
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	// Given an embedder against the stub server
	srv := newOllamaStub(t, "nomic-embed-text", http.StatusOK)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// When embedding a text
	vec, err := e.Embed(context.Background(), "some note text")
	require.NoError(t, err)

	// Then the raw [3,0,4] vector comes back unit normalized
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-5)
	assert.InDelta(t, 0.8, float64(vec[2]), 1e-5)
}

func TestOllamaEmbedder_BatchOrderAndEmpties(t *testing.T) {
	// Given an embedder against the stub server
	srv := newOllamaStub(t, "nomic-embed-text", http.StatusOK)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// When embedding a batch with a whitespace-only entry
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "  ", "third"})
	require.NoError(t, err)

	// Then all slots are filled, the empty one with a zero vector
	require.Len(t, vecs, 3)
	assert.InDelta(t, 0.6, float64(vecs[0][0]), 1e-5)
	assert.InDelta(t, 0.0, magnitude(vecs[1]), 1e-9)
	assert.InDelta(t, 0.6, float64(vecs[2][0]), 1e-5)
}

func TestOllamaEmbedder_ServerErrorAborts(t *testing.T) {
	// Given a server that fails every embed request
	srv := newOllamaStub(t, "nomic-embed-text", http.StatusInternalServerError)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "nomic-embed-text",
		Dimensions:      3,
		MaxRetries:      2,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// When embedding a batch
	_, err = e.EmbedBatch(context.Background(), []string{"a", "b"})

	// Then the whole call fails with an embedding error
	require.Error(t, err)
	assert.True(t, errs.IsEmbedding(err))
}

func TestOllamaEmbedder_RetriesTransientFailure(t *testing.T) {
	// Given a server that fails once, then succeeds
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{1, 0, 0}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:            srv.URL,
		Model:           "nomic-embed-text",
		Dimensions:      3,
		MaxRetries:      3,
		SkipHealthCheck: true,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// When embedding
	vec, err := e.Embed(context.Background(), "retry me")

	// Then the second attempt succeeds
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

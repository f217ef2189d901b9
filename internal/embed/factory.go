package embed

import (
	"context"
	"log/slog"
	"time"

	"github.com/scrivano/scrivano/internal/config"
)

// NewFromConfig builds the embedder the configuration names. When the
// Ollama backend cannot be reached it falls back to the static embedder
// so indexing and search keep working offline, with a warning about the
// reduced quality.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Embedder, error) {
	switch cfg.Embeddings.Provider {
	case "static":
		return NewStaticEmbedder(), nil

	case "ollama":
		e, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    30 * time.Second,
		})
		if err != nil {
			slog.Warn("embedder_fallback",
				slog.String("provider", "ollama"),
				slog.String("fallback", "static"),
				slog.String("error", err.Error()))
			return NewStaticEmbedder(), nil
		}
		return e, nil

	default:
		// Validate rejects unknown providers before this point.
		return NewStaticEmbedder(), nil
	}
}

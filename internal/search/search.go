// Package search fuses the store's lexical and semantic halves into a
// single ranked result list.
//
// Fusion is a weighted sum over max-normalized candidate scores:
//
//	hybrid = blend*semantic + (1-blend)*lexical
//
// Each half's scores are divided by that half's best candidate score, so
// the top candidate of either half contributes exactly its weight. A
// chunk found by only one half scores zero on the other.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/scrivano/scrivano/internal/embed"
	"github.com/scrivano/scrivano/internal/store"
)

// Search modes.
const (
	ModeHybrid   = "hybrid"
	ModeLexical  = "lexical"
	ModeSemantic = "semantic"
)

const (
	// DefaultBlend weights the two halves equally. Callers apply it
	// themselves when no blend is configured: the zero value of
	// Options.Blend is a valid weight (purely lexical), not "unset".
	DefaultBlend = 0.5

	// DefaultLimit is the default number of results returned.
	DefaultLimit = 10

	// candidateFactor oversamples each half so fusion sees chunks
	// ranked highly by one half but outside the other's top results.
	candidateFactor = 3

	// minCandidates floors the candidate pool for small limits.
	minCandidates = 30
)

// Options configures one search call.
type Options struct {
	// Limit caps the number of results (default: DefaultLimit).
	Limit int

	// Blend is the semantic weight in [0,1]; 0 ranks purely by the
	// lexical half, 1 purely by the semantic half.
	Blend float64

	// Mode selects hybrid, lexical, or semantic ranking
	// (default: ModeHybrid).
	Mode string
}

// Engine answers queries against a store using an embedder for the
// semantic half.
type Engine struct {
	store    *store.Store
	embedder embed.Embedder
}

// New creates a search engine.
func New(st *store.Store, embedder embed.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder}
}

// Search runs a query and returns ranked hits. A blank query or a
// non-positive limit yields no hits.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]*store.Hit, error) {
	if opts.Limit == 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	if opts.Blend < 0 || opts.Blend > 1 {
		return nil, fmt.Errorf("blend must be between 0 and 1, got %v", opts.Blend)
	}

	if strings.TrimSpace(query) == "" || opts.Limit < 0 {
		return []*store.Hit{}, nil
	}

	switch opts.Mode {
	case ModeLexical:
		hits, err := e.store.SearchLexical(ctx, query, opts.Limit)
		if err != nil {
			return nil, err
		}
		normalizeScores(hits)
		return hits, nil

	case ModeSemantic:
		vector, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		return e.store.SearchSemantic(ctx, vector, opts.Limit)

	case ModeHybrid:
		return e.searchHybrid(ctx, query, opts)

	default:
		return nil, fmt.Errorf("unknown search mode %q", opts.Mode)
	}
}

func (e *Engine) searchHybrid(ctx context.Context, query string, opts Options) ([]*store.Hit, error) {
	candidates := opts.Limit * candidateFactor
	if candidates < minCandidates {
		candidates = minCandidates
	}

	lexical, err := e.store.SearchLexical(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	semantic, err := e.store.SearchSemantic(ctx, vector, candidates)
	if err != nil {
		return nil, err
	}

	slog.Debug("hybrid_candidates",
		slog.Int("lexical", len(lexical)),
		slog.Int("semantic", len(semantic)),
		slog.Float64("blend", opts.Blend))

	fused := fuse(lexical, semantic, opts.Blend)
	if len(fused) > opts.Limit {
		fused = fused[:opts.Limit]
	}
	return fused, nil
}

// fuse combines the two candidate lists by weighted sum.
func fuse(lexical, semantic []*store.Hit, blend float64) []*store.Hit {
	lexScores := maxNormalized(lexical)
	semScores := maxNormalized(semantic)

	merged := make(map[string]*store.Hit, len(lexical)+len(semantic))
	for _, h := range lexical {
		merged[h.Chunk.ID] = h
	}
	for _, h := range semantic {
		if _, seen := merged[h.Chunk.ID]; !seen {
			merged[h.Chunk.ID] = h
		}
	}

	fused := make([]*store.Hit, 0, len(merged))
	for id, h := range merged {
		fused = append(fused, &store.Hit{
			Chunk:      h.Chunk,
			DocVersion: h.DocVersion,
			Score:      blend*semScores[id] + (1-blend)*lexScores[id],
			Method:     store.MethodHybrid,
			IndexedAt:  h.IndexedAt,
		})
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if fused[i].IndexedAt != fused[j].IndexedAt {
			return fused[i].IndexedAt > fused[j].IndexedAt
		}
		return fused[i].Chunk.ID < fused[j].Chunk.ID
	})
	return fused
}

// maxNormalized maps chunk ID to score divided by the best score in the
// list, so the top candidate scores 1.0 and ratios are preserved.
func maxNormalized(hits []*store.Hit) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return scores
	}

	best := 0.0
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best <= 0 {
		return scores
	}

	for _, h := range hits {
		scores[h.Chunk.ID] = h.Score / best
	}
	return scores
}

// normalizeScores rescales hits in place so the best scores 1.0.
func normalizeScores(hits []*store.Hit) {
	if len(hits) == 0 {
		return
	}
	best := hits[0].Score
	for _, h := range hits {
		if h.Score > best {
			best = h.Score
		}
	}
	if best <= 0 {
		return
	}
	for _, h := range hits {
		h.Score /= best
	}
}

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Embedder turns query text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the semantic search backend.
type VectorSearcher interface {
	Search(vector []float32, department string, limit int, threshold float64) ([]SearchResult, error)
}

// LexicalSearcher is the fallback search backend.
type LexicalSearcher interface {
	Search(query, department string, limit int) ([]SearchResult, error)
}

// Defaults are applied when a request omits limit or threshold.
type Defaults struct {
	Limit     int
	Threshold float64
}

// Retriever orchestrates the two-tier retrieval policy: semantic search
// when the embedding provider cooperates, lexical substring search when it
// does not or finds nothing. Semantic search gives better relevance but
// depends on a remote provider that can be slow, rate-limited, or down;
// the lexical path always runs locally. Callers never see an embedding
// failure as long as the fallback can execute.
type Retriever struct {
	embedder Embedder
	index    VectorSearcher
	lexical  LexicalSearcher
	defaults Defaults
	logger   *slog.Logger
}

// NewRetriever creates a Retriever with the given backends and defaults.
func NewRetriever(embedder Embedder, index VectorSearcher, lexical LexicalSearcher, defaults Defaults) *Retriever {
	if defaults.Limit <= 0 {
		defaults.Limit = 8
	}
	if defaults.Threshold <= 0 {
		defaults.Threshold = 0.65
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		lexical:  lexical,
		defaults: defaults,
		logger:   slog.Default(),
	}
}

// Query carries one retrieval request. Zero Limit/Threshold use the defaults.
type Query struct {
	Text       string
	Department string
	Limit      int
	Threshold  float64
}

// Retrieve runs the two-tier policy and returns at most Limit results.
// Both paths yielding nothing is a valid empty outcome. The only error
// cases are an empty query and a fallback that itself cannot execute.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]SearchResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}

	limit := q.Limit
	if limit <= 0 {
		limit = r.defaults.Limit
	}
	threshold := q.Threshold
	if threshold <= 0 {
		threshold = r.defaults.Threshold
	}

	vector, err := r.embedder.Embed(ctx, q.Text)
	if err != nil {
		r.logger.Warn("embedding failed, falling back to lexical search", "error", err)
		return r.fallback(q, limit)
	}

	results, err := r.index.Search(vector, q.Department, limit, threshold)
	if err != nil {
		r.logger.Warn("semantic search failed, falling back to lexical search", "error", err)
		return r.fallback(q, limit)
	}

	if len(results) == 0 {
		r.logger.Debug("no semantic matches above threshold, trying lexical search",
			"threshold", threshold)
		return r.fallback(q, limit)
	}

	return results, nil
}

func (r *Retriever) fallback(q Query, limit int) ([]SearchResult, error) {
	results, err := r.lexical.Search(q.Text, q.Department, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical fallback: %w", err)
	}
	return results, nil
}

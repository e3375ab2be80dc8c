package retrieval

import "errors"

var (
	// ErrEmptyQuery is returned for empty or whitespace-only queries.
	ErrEmptyQuery = errors.New("query is required")

	// ErrIndexUnavailable means the similarity search could not execute,
	// e.g. a corrupt embedding blob or a failing scan query.
	ErrIndexUnavailable = errors.New("search index unavailable")
)

// SearchResult is a request-scoped projection of a matched section.
// Similarity is a cosine score in [0,1] for semantic matches, or the fixed
// lexical sentinel score for fallback matches. Never persisted.
type SearchResult struct {
	SectionID     string  `json:"section_id"`
	DocumentTitle string  `json:"document_title"`
	SectionTitle  string  `json:"section_title"`
	Content       string  `json:"content"`
	Department    string  `json:"department"`
	Similarity    float64 `json:"similarity"`
}

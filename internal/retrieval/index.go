package retrieval

import (
	"container/heap"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// SectionIndex performs brute-force cosine similarity search over stored
// section embeddings, restricted to sections of active documents.
//
// The scan is two-phase: first only id + embedding rows stream through the
// scorer, then full rows are fetched for the top-K winners. With the corpus
// sizes an SOP library reaches (thousands of sections), a full scan stays
// well under request deadlines; an ANN index would be the next step if that
// stops being true.
type SectionIndex struct {
	db *sql.DB
}

// NewSectionIndex wraps an existing *sql.DB for vector search.
// The documents and sections tables must already exist (created via migrations).
func NewSectionIndex(db *sql.DB) *SectionIndex {
	return &SectionIndex{db: db}
}

// idScore holds only the ID and score during the scan phase of Search.
type idScore struct {
	ID    string
	Score float64
}

// Search returns up to limit sections with cosine similarity >= threshold,
// ordered by similarity descending. department narrows the scan when
// non-empty. An empty result set is a valid outcome, not an error; the
// orchestrator decides whether to fall back.
func (s *SectionIndex) Search(vector []float32, department string, limit int, threshold float64) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + embedding only.
	scanQuery := `
		SELECT s.id, s.embedding
		FROM sections s
		JOIN documents d ON d.id = s.document_id
		WHERE d.status = 'active' AND s.embedding IS NOT NULL`
	args := []any{}
	if department != "" {
		scanQuery += ` AND d.department = ?`
		args = append(args, department)
	}

	rows, err := s.db.Query(scanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning embeddings: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", ErrIndexUnavailable, err)
		}

		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding embedding for section %s: %v", ErrIndexUnavailable, id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if score < threshold {
			continue
		}
		if h.Len() < limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rows: %v", ErrIndexUnavailable, err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the winners.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float64, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `
		SELECT s.id, s.title, s.content, d.title, d.department
		FROM sections s
		JOIN documents d ON d.id = s.document_id
		WHERE s.id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching top sections: %v", ErrIndexUnavailable, err)
	}
	defer fullRows.Close()

	var results []SearchResult
	for fullRows.Next() {
		var r SearchResult
		if err := fullRows.Scan(&r.SectionID, &r.SectionTitle, &r.Content, &r.DocumentTitle, &r.Department); err != nil {
			return nil, fmt.Errorf("%w: scanning section: %v", ErrIndexUnavailable, err)
		}
		r.Similarity = scores[r.SectionID]
		results = append(results, r)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating sections: %v", ErrIndexUnavailable, err)
	}

	// The IN query doesn't preserve order; sort by similarity descending,
	// section id as tie-break so identical queries return identical order.
	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].SectionID < results[j].SectionID
	})

	return results, nil
}

// idScoreHeap is a min-heap of idScore ordered by Score, used to track
// top-K candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

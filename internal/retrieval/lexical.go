package retrieval

import (
	"database/sql"
	"fmt"
	"strings"
)

// maxQueryLen caps the sanitized query length before it enters a LIKE pattern.
const maxQueryLen = 100

// LexicalSearch is the deterministic fallback when semantic retrieval is
// unavailable or empty: a case-insensitive substring match on section title
// or content, restricted to active documents. It has no ranked score, so
// every match carries the fixed sentinel score.
type LexicalSearch struct {
	db    *sql.DB
	score float64
}

// NewLexicalSearch wraps an existing *sql.DB. score is the sentinel
// similarity assigned to every match.
func NewLexicalSearch(db *sql.DB, score float64) *LexicalSearch {
	return &LexicalSearch{db: db, score: score}
}

// Search returns up to limit sections matching the sanitized query.
// An empty result set is a valid outcome, not an error.
func (l *LexicalSearch) Search(query, department string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	sanitized := SanitizeQuery(query)
	if sanitized == "" {
		return nil, nil
	}
	pattern := "%" + escapeLike(strings.ToLower(sanitized)) + "%"

	sqlQuery := `
		SELECT s.id, s.title, s.content, d.title, d.department
		FROM sections s
		JOIN documents d ON d.id = s.document_id
		WHERE d.status = 'active'
		  AND (LOWER(s.title) LIKE ? ESCAPE '\' OR LOWER(s.content) LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern}
	if department != "" {
		sqlQuery += ` AND d.department = ?`
		args = append(args, department)
	}
	sqlQuery += ` ORDER BY s.created_at ASC, s.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical query: %v", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SectionID, &r.SectionTitle, &r.Content, &r.DocumentTitle, &r.Department); err != nil {
			return nil, fmt.Errorf("%w: scanning section: %v", ErrIndexUnavailable, err)
		}
		r.Similarity = l.score
		results = append(results, r)
	}
	return results, rows.Err()
}

// SanitizeQuery strips everything outside the allow-list (alphanumeric,
// space, hyphen, underscore), collapses runs of whitespace, and caps the
// length. The raw query never reaches a matching expression, so search
// syntax cannot be injected through it.
func SanitizeQuery(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '\t', r == '\n':
			b.WriteRune(' ')
		}
	}
	sanitized := strings.Join(strings.Fields(b.String()), " ")
	if len(sanitized) > maxQueryLen {
		sanitized = strings.TrimSpace(sanitized[:maxQueryLen])
	}
	return sanitized
}

// escapeLike escapes LIKE wildcards so an underscore in the query matches
// literally. Percent signs are already stripped by the allow-list.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

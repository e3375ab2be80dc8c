package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document lifecycle states. Only active documents are searchable.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusArchived = "archived"
)

// ValidStatus reports whether s is a known document status.
func ValidStatus(s string) bool {
	return s == StatusDraft || s == StatusActive || s == StatusArchived
}

// Document is a logical knowledge unit, e.g. a standard operating procedure.
// Documents are owned by the authoring workflow; the retrieval core only
// reads them (and overwrites section embeddings during batch population).
type Document struct {
	ID         string
	Title      string
	Department string
	Status     string
	CreatedAt  time.Time
}

// Section is a chunk of a document's content, the unit of retrieval.
// Embedding holds the encoded vector blob, or nil when not yet generated.
// Once generated it corresponds to the section's title + content at
// generation time; content edited afterwards leaves the embedding stale
// until the next batch run.
type Section struct {
	ID         string
	DocumentID string
	Title      string
	Content    string
	Embedding  []byte
	Position   int
	CreatedAt  time.Time
}

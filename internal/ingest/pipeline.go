package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrov/procdex/internal/retrieval"
	"github.com/mpetrov/procdex/internal/storage"
)

// DocumentStore abstracts the writes the pipeline performs.
type DocumentStore interface {
	SaveDocument(d storage.Document) error
	SaveSections(sections []storage.Section) error
}

// BatchEmbedder embeds several texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline turns raw authored content (text, PDF, HTML) into a document
// with chunked, embedded sections. Embedding failure at ingest time is not
// fatal: sections are stored without vectors and the batch population job
// picks them up later.
type Pipeline struct {
	store    DocumentStore
	embedder BatchEmbedder
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(store DocumentStore, embedder BatchEmbedder) *Pipeline {
	return &Pipeline{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
}

// Content types accepted by the pipeline.
const (
	TypeText = "text"
	TypePDF  = "pdf"
	TypeHTML = "html"
)

// DocumentInput is one document to ingest. Content carries the text for
// TypeText/TypeHTML; Raw carries the binary payload for TypePDF.
type DocumentInput struct {
	Title      string
	Department string
	Status     string
	Type       string
	Content    string
	Raw        []byte
}

// Ingest stores the document and its chunked sections, embedding them
// when the provider is available. Returns the created document and the
// number of sections written.
func (p *Pipeline) Ingest(ctx context.Context, in DocumentInput) (storage.Document, int, error) {
	if strings.TrimSpace(in.Title) == "" {
		return storage.Document{}, 0, fmt.Errorf("document title is required")
	}

	text, err := p.resolveText(in)
	if err != nil {
		return storage.Document{}, 0, err
	}

	chunks := ChunkText(in.Title, text)
	if len(chunks) == 0 {
		return storage.Document{}, 0, fmt.Errorf("document has no content")
	}

	status := in.Status
	if status == "" {
		status = storage.StatusActive
	}

	doc := storage.Document{
		ID:         uuid.New().String(),
		Title:      strings.TrimSpace(in.Title),
		Department: in.Department,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.SaveDocument(doc); err != nil {
		return storage.Document{}, 0, fmt.Errorf("saving document: %w", err)
	}

	sections := make([]storage.Section, len(chunks))
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		sections[i] = storage.Section{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Title:      ch.Title,
			Content:    ch.Content,
			Position:   i,
			CreatedAt:  time.Now().UTC(),
		}
		texts[i] = EmbeddingText(ch.Title, ch.Content)
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		p.logger.Warn("embedding at ingest failed, sections stored without vectors",
			"document_id", doc.ID, "error", err)
	} else {
		for i := range sections {
			sections[i].Embedding = retrieval.EncodeVector(vectors[i])
		}
	}

	if err := p.store.SaveSections(sections); err != nil {
		return storage.Document{}, 0, fmt.Errorf("saving sections: %w", err)
	}

	return doc, len(sections), nil
}

func (p *Pipeline) resolveText(in DocumentInput) (string, error) {
	switch in.Type {
	case TypePDF:
		if len(in.Raw) == 0 {
			return "", fmt.Errorf("pdf content is required")
		}
		return ExtractPDF(in.Raw)
	case TypeHTML:
		return ExtractHTML(strings.NewReader(in.Content))
	case TypeText, "":
		return in.Content, nil
	default:
		return "", fmt.Errorf("unsupported content type %q", in.Type)
	}
}

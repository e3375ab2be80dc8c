package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mpetrov/procdex/internal/retrieval"
	"github.com/mpetrov/procdex/internal/storage"
)

// SectionStore abstracts the section queries the batcher needs.
type SectionStore interface {
	GetSection(id string) (storage.Section, error)
	ListSectionsMissingEmbedding() ([]storage.Section, error)
	ListAllSections() ([]storage.Section, error)
	UpdateSectionEmbedding(id string, embedding []byte) error
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Batcher populates section embeddings: by default only sections without
// one (idempotent re-runs), or everything when regenerating. Calls are
// strictly sequential with a fixed inter-call delay to respect upstream
// rate limits; a single section failing is counted and skipped, never
// aborting the run.
type Batcher struct {
	store    SectionStore
	embedder Embedder
	delay    time.Duration
	logger   *slog.Logger
}

// NewBatcher creates a Batcher. If delay is <= 0, it defaults to 200ms.
func NewBatcher(store SectionStore, embedder Embedder, delay time.Duration) *Batcher {
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &Batcher{
		store:    store,
		embedder: embedder,
		delay:    delay,
		logger:   slog.Default(),
	}
}

// Options selects which sections a run covers. SectionID targets a single
// section and always regenerates it; RegenerateAll covers every section;
// otherwise only sections missing an embedding are processed.
type Options struct {
	SectionID     string
	RegenerateAll bool
}

// Result summarizes a batch run.
type Result struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Run executes one batch pass. Per-section failures are recorded in the
// result; the returned error is reserved for the selection query failing
// or the context being cancelled mid-run.
func (b *Batcher) Run(ctx context.Context, opts Options) (Result, error) {
	sections, err := b.selectSections(opts)
	if err != nil {
		return Result{}, err
	}

	res := Result{Total: len(sections)}
	for i, sec := range sections {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if err := b.embedSection(ctx, sec); err != nil {
			res.Failed++
			b.logger.Warn("embedding section failed", "section_id", sec.ID, "error", err)
		} else {
			res.Processed++
		}

		if i < len(sections)-1 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(b.delay):
			}
		}
	}

	b.logger.Info("embedding batch finished",
		"processed", res.Processed, "failed", res.Failed, "total", res.Total)
	return res, nil
}

func (b *Batcher) selectSections(opts Options) ([]storage.Section, error) {
	switch {
	case opts.SectionID != "":
		sec, err := b.store.GetSection(opts.SectionID)
		if err != nil {
			return nil, fmt.Errorf("loading section %s: %w", opts.SectionID, err)
		}
		return []storage.Section{sec}, nil
	case opts.RegenerateAll:
		sections, err := b.store.ListAllSections()
		if err != nil {
			return nil, fmt.Errorf("listing sections: %w", err)
		}
		return sections, nil
	default:
		sections, err := b.store.ListSectionsMissingEmbedding()
		if err != nil {
			return nil, fmt.Errorf("listing sections missing embedding: %w", err)
		}
		return sections, nil
	}
}

func (b *Batcher) embedSection(ctx context.Context, sec storage.Section) error {
	vec, err := b.embedder.Embed(ctx, EmbeddingText(sec.Title, sec.Content))
	if err != nil {
		return err
	}
	if err := b.store.UpdateSectionEmbedding(sec.ID, retrieval.EncodeVector(vec)); err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

// EmbeddingText is the deterministic embedding input for a section. Every
// producer of section embeddings must use this same function, otherwise
// stored vectors and query vectors drift apart.
func EmbeddingText(title, content string) string {
	return title + "\n\n" + content
}

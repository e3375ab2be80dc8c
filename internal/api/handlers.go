package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mpetrov/procdex/internal/chat"
	"github.com/mpetrov/procdex/internal/ingest"
	"github.com/mpetrov/procdex/internal/llm"
	"github.com/mpetrov/procdex/internal/retrieval"
	"github.com/mpetrov/procdex/internal/storage"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxDocumentBodySize = 10 << 20 // 10MB, PDFs arrive base64-encoded

// Searcher runs the two-tier retrieval policy.
type Searcher interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.SearchResult, error)
}

// Answerer produces a grounded chat answer.
type Answerer interface {
	Answer(ctx context.Context, req chat.Request) (chat.Result, error)
}

// EmbeddingRunner executes one embedding population pass.
type EmbeddingRunner interface {
	Run(ctx context.Context, opts ingest.Options) (ingest.Result, error)
}

// DocumentIngester stores a new document with chunked sections.
type DocumentIngester interface {
	Ingest(ctx context.Context, in ingest.DocumentInput) (storage.Document, int, error)
}

type Deps struct {
	Store    *storage.Store
	Search   Searcher
	Chat     Answerer
	Embedder EmbeddingRunner
	Ingester DocumentIngester
	Token    string
}

// NewHandler returns the HTTP API. /search and /health are open; everything
// that writes or spends provider tokens sits behind bearer auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(corsMiddleware)

	r.Get("/health", handleHealth(deps))
	r.Post("/search", handleSearch(deps))

	r.Group(func(pr chi.Router) {
		pr.Use(BearerAuth(deps.Token))
		pr.Post("/chat", handleChat(deps))
		pr.Post("/embeddings/generate", handleGenerateEmbeddings(deps))
		pr.Post("/documents", handleCreateDocument(deps))
		pr.Get("/documents", handleListDocuments(deps))
		pr.Get("/status", handleStatus(deps))
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

type SearchRequest struct {
	Query     string  `json:"query"`
	Scope     string  `json:"scope"`
	Limit     int     `json:"limit"`
	Threshold float64 `json:"threshold"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}

		results, err := deps.Search.Retrieve(r.Context(), retrieval.Query{
			Text:       req.Query,
			Department: req.Scope,
			Limit:      req.Limit,
			Threshold:  req.Threshold,
		})
		if errors.Is(err, retrieval.ErrEmptyQuery) {
			httpError(w, http.StatusBadRequest, "invalid_input", "query is required")
			return
		}
		if errors.Is(err, retrieval.ErrIndexUnavailable) {
			httpError(w, http.StatusInternalServerError, "index_unavailable", "search index unavailable")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		if results == nil {
			results = []retrieval.SearchResult{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}
}

type ChatRequest struct {
	Message string        `json:"message"`
	Scope   string        `json:"scope"`
	History []llm.Message `json:"history"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}

		result, err := deps.Chat.Answer(r.Context(), chat.Request{
			Message:    req.Message,
			Department: req.Scope,
			History:    req.History,
		})
		if errors.Is(err, chat.ErrInvalidInput) {
			httpError(w, http.StatusBadRequest, "invalid_input", "%v", err)
			return
		}
		if errors.Is(err, llm.ErrNotConfigured) {
			httpError(w, http.StatusInternalServerError, "configuration_error", "chat provider is not configured")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}

		sources := result.Sources
		if sources == nil {
			sources = []retrieval.SearchResult{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"response": result.Response,
			"sources":  sources,
		})
	}
}

type GenerateEmbeddingsRequest struct {
	SectionID     string `json:"section_id"`
	RegenerateAll bool   `json:"regenerate_all"`
}

func handleGenerateEmbeddings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		// An empty body means the default pass over missing embeddings.
		var req GenerateEmbeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}

		result, err := deps.Embedder.Run(r.Context(), ingest.Options{
			SectionID:     req.SectionID,
			RegenerateAll: req.RegenerateAll,
		})
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "section not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "embedding generation failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success":   result.Failed == 0,
			"processed": result.Processed,
			"failed":    result.Failed,
			"total":     result.Total,
		})
	}
}

type CreateDocumentRequest struct {
	Title      string `json:"title"`
	Department string `json:"department"`
	Type       string `json:"type"`
	Content    string `json:"content"`
	Status     string `json:"status"`
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBodySize)
		defer r.Body.Close()

		var req CreateDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "title is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_input", "content is required")
			return
		}
		if req.Status != "" && !storage.ValidStatus(req.Status) {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid status %q", req.Status)
			return
		}

		in := ingest.DocumentInput{
			Title:      req.Title,
			Department: req.Department,
			Status:     req.Status,
			Type:       req.Type,
			Content:    req.Content,
		}
		if req.Type == ingest.TypePDF {
			raw, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_input", "pdf content must be base64-encoded")
				return
			}
			in.Content = ""
			in.Raw = raw
		}

		doc, sections, err := deps.Ingester.Ingest(r.Context(), in)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to ingest document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":       doc.ID,
			"title":    doc.Title,
			"status":   doc.Status,
			"sections": sections,
		})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := r.URL.Query().Get("status")
		if status != "" && !storage.ValidStatus(status) {
			httpError(w, http.StatusBadRequest, "invalid_input", "invalid status %q", status)
			return
		}

		docs, err := deps.Store.ListDocuments(status, 100)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"documents": docs})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.CountDocuments("")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count documents: %v", err)
			return
		}
		active, err := deps.Store.CountDocuments(storage.StatusActive)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count documents: %v", err)
			return
		}
		sections, err := deps.Store.CountSections()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count sections: %v", err)
			return
		}
		missing, err := deps.Store.CountSectionsMissingEmbedding()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count sections: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"documents":          docs,
			"active_documents":   active,
			"sections":           sections,
			"missing_embeddings": missing,
		})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

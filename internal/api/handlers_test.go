package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mpetrov/procdex/internal/chat"
	"github.com/mpetrov/procdex/internal/ingest"
	"github.com/mpetrov/procdex/internal/llm"
	"github.com/mpetrov/procdex/internal/retrieval"
	"github.com/mpetrov/procdex/internal/storage"
)

const testToken = "test-token"

type mockSearcher struct {
	retrieveFn func(ctx context.Context, q retrieval.Query) ([]retrieval.SearchResult, error)
}

func (m *mockSearcher) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.SearchResult, error) {
	return m.retrieveFn(ctx, q)
}

type mockAnswerer struct {
	answerFn func(ctx context.Context, req chat.Request) (chat.Result, error)
}

func (m *mockAnswerer) Answer(ctx context.Context, req chat.Request) (chat.Result, error) {
	return m.answerFn(ctx, req)
}

type mockRunner struct {
	runFn func(ctx context.Context, opts ingest.Options) (ingest.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, opts ingest.Options) (ingest.Result, error) {
	return m.runFn(ctx, opts)
}

type mockIngester struct {
	ingestFn func(ctx context.Context, in ingest.DocumentInput) (storage.Document, int, error)
}

func (m *mockIngester) Ingest(ctx context.Context, in ingest.DocumentInput) (storage.Document, int, error) {
	return m.ingestFn(ctx, in)
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return Deps{
		Store: store,
		Search: &mockSearcher{retrieveFn: func(_ context.Context, _ retrieval.Query) ([]retrieval.SearchResult, error) {
			return nil, nil
		}},
		Chat: &mockAnswerer{answerFn: func(_ context.Context, _ chat.Request) (chat.Result, error) {
			return chat.Result{Response: "ok"}, nil
		}},
		Embedder: &mockRunner{runFn: func(_ context.Context, _ ingest.Options) (ingest.Result, error) {
			return ingest.Result{}, nil
		}},
		Ingester: &mockIngester{ingestFn: func(_ context.Context, _ ingest.DocumentInput) (storage.Document, int, error) {
			return storage.Document{ID: "d1"}, 1, nil
		}},
		Token: testToken,
	}
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	h := NewHandler(testDeps(t))

	rec := doRequest(t, h, "GET", "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	deps := testDeps(t)
	deps.Search = &mockSearcher{retrieveFn: func(_ context.Context, _ retrieval.Query) ([]retrieval.SearchResult, error) {
		return nil, retrieval.ErrEmptyQuery
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/search", map[string]any{"query": "  "}, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if errorType(t, rec) != "invalid_input" {
		t.Errorf("error type = %q, want invalid_input", errorType(t, rec))
	}
}

func TestSearchReturnsResults(t *testing.T) {
	deps := testDeps(t)
	var gotQuery retrieval.Query
	deps.Search = &mockSearcher{retrieveFn: func(_ context.Context, q retrieval.Query) ([]retrieval.SearchResult, error) {
		gotQuery = q
		return []retrieval.SearchResult{{
			SectionID:     "s1",
			DocumentTitle: "Support Playbook",
			SectionTitle:  "Refund Process",
			Content:       "Verify first.",
			Department:    "customer_service",
			Similarity:    0.82,
		}}, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/search", map[string]any{
		"query": "refund policy",
		"scope": "customer_service",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}

	if gotQuery.Text != "refund policy" || gotQuery.Department != "customer_service" {
		t.Errorf("query passed through as %+v", gotQuery)
	}

	var body struct {
		Results []retrieval.SearchResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].Similarity != 0.82 {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestSearchIndexUnavailable(t *testing.T) {
	deps := testDeps(t)
	deps.Search = &mockSearcher{retrieveFn: func(_ context.Context, _ retrieval.Query) ([]retrieval.SearchResult, error) {
		return nil, retrieval.ErrIndexUnavailable
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/search", map[string]any{"query": "x"}, "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if errorType(t, rec) != "index_unavailable" {
		t.Errorf("error type = %q, want index_unavailable", errorType(t, rec))
	}
}

func TestSearchEmptyResultsIsValidJSON(t *testing.T) {
	h := NewHandler(testDeps(t))

	rec := doRequest(t, h, "POST", "/search", map[string]any{"query": "nothing matches"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Errorf("body = %s, want empty results array", rec.Body.String())
	}
}

func TestChatRequiresAuth(t *testing.T) {
	h := NewHandler(testDeps(t))

	rec := doRequest(t, h, "POST", "/chat", map[string]any{"message": "hi"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	rec = doRequest(t, h, "POST", "/chat", map[string]any{"message": "hi"}, "wrong-token")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with wrong token = %d, want 401", rec.Code)
	}
}

func TestChatInvalidInput(t *testing.T) {
	deps := testDeps(t)
	deps.Chat = &mockAnswerer{answerFn: func(_ context.Context, _ chat.Request) (chat.Result, error) {
		return chat.Result{}, chat.ErrInvalidInput
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/chat", map[string]any{"message": strings.Repeat("x", 2001)}, testToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatNotConfigured(t *testing.T) {
	deps := testDeps(t)
	deps.Chat = &mockAnswerer{answerFn: func(_ context.Context, _ chat.Request) (chat.Result, error) {
		return chat.Result{}, llm.ErrNotConfigured
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/chat", map[string]any{"message": "hi"}, testToken)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if errorType(t, rec) != "configuration_error" {
		t.Errorf("error type = %q, want configuration_error", errorType(t, rec))
	}
}

func TestChatFallbackResponseIsStill200(t *testing.T) {
	deps := testDeps(t)
	deps.Chat = &mockAnswerer{answerFn: func(_ context.Context, _ chat.Request) (chat.Result, error) {
		return chat.Result{Response: chat.FallbackResponse}, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/chat", map[string]any{"message": "hi"}, testToken)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200-shaped fallback", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "try again in a moment") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChatPassesHistoryAndScope(t *testing.T) {
	deps := testDeps(t)
	var gotReq chat.Request
	deps.Chat = &mockAnswerer{answerFn: func(_ context.Context, req chat.Request) (chat.Result, error) {
		gotReq = req
		return chat.Result{Response: "ok"}, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/chat", map[string]any{
		"message": "and after that?",
		"scope":   "hr",
		"history": []map[string]string{
			{"role": "user", "content": "how do I file expenses?"},
			{"role": "assistant", "content": "Use the portal."},
		},
	}, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	if gotReq.Department != "hr" || len(gotReq.History) != 2 {
		t.Errorf("request passed through as %+v", gotReq)
	}
}

func TestGenerateEmbeddings(t *testing.T) {
	deps := testDeps(t)
	var gotOpts ingest.Options
	deps.Embedder = &mockRunner{runFn: func(_ context.Context, opts ingest.Options) (ingest.Result, error) {
		gotOpts = opts
		return ingest.Result{Processed: 3, Failed: 1, Total: 4}, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/embeddings/generate", map[string]any{"regenerate_all": true}, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	if !gotOpts.RegenerateAll {
		t.Error("regenerate_all not passed through")
	}

	var body struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
		Failed    int  `json:"failed"`
		Total     int  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Success {
		t.Error("success = true with one failure, want false")
	}
	if body.Processed != 3 || body.Failed != 1 || body.Total != 4 {
		t.Errorf("counts = %+v", body)
	}
}

func TestGenerateEmbeddingsEmptyBody(t *testing.T) {
	deps := testDeps(t)
	called := false
	deps.Embedder = &mockRunner{runFn: func(_ context.Context, opts ingest.Options) (ingest.Result, error) {
		called = true
		if opts.SectionID != "" || opts.RegenerateAll {
			t.Errorf("opts = %+v, want the default pass", opts)
		}
		return ingest.Result{}, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/embeddings/generate", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if !called {
		t.Error("runner not called for empty body")
	}
}

func TestCreateDocument(t *testing.T) {
	deps := testDeps(t)
	var gotInput ingest.DocumentInput
	deps.Ingester = &mockIngester{ingestFn: func(_ context.Context, in ingest.DocumentInput) (storage.Document, int, error) {
		gotInput = in
		return storage.Document{ID: "d1", Title: in.Title, Status: storage.StatusActive}, 3, nil
	}}
	h := NewHandler(deps)

	rec := doRequest(t, h, "POST", "/documents", map[string]any{
		"title":      "Support Playbook",
		"department": "customer_service",
		"type":       "text",
		"content":    "# Refunds\n\nVerify first.",
	}, testToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}

	if gotInput.Title != "Support Playbook" || gotInput.Department != "customer_service" {
		t.Errorf("input passed through as %+v", gotInput)
	}

	var body struct {
		ID       string `json:"id"`
		Sections int    `json:"sections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.ID != "d1" || body.Sections != 3 {
		t.Errorf("body = %+v", body)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	h := NewHandler(testDeps(t))

	tests := []struct {
		name string
		req  map[string]any
	}{
		{"missing title", map[string]any{"content": "x"}},
		{"missing content", map[string]any{"title": "Doc"}},
		{"bad status", map[string]any{"title": "Doc", "content": "x", "status": "published"}},
		{"bad pdf base64", map[string]any{"title": "Doc", "content": "not base64!!!", "type": "pdf"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, "POST", "/documents", tt.req, testToken)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestListDocuments(t *testing.T) {
	deps := testDeps(t)
	err := deps.Store.SaveDocument(storage.Document{
		ID:         "d1",
		Title:      "Support Playbook",
		Department: "customer_service",
		Status:     storage.StatusActive,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	h := NewHandler(deps)

	rec := doRequest(t, h, "GET", "/documents?status=active", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Documents []storage.Document `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Documents) != 1 || body.Documents[0].ID != "d1" {
		t.Errorf("documents = %+v", body.Documents)
	}

	rec = doRequest(t, h, "GET", "/documents?status=published", nil, testToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status for invalid filter = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewHandler(testDeps(t))

	req := httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin = %q, want *", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

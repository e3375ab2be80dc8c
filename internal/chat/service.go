package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mpetrov/procdex/internal/composer"
	"github.com/mpetrov/procdex/internal/llm"
	"github.com/mpetrov/procdex/internal/retrieval"
)

// ErrInvalidInput is returned for malformed, missing, or oversized request
// fields. Maps to HTTP 400 at the boundary.
var ErrInvalidInput = errors.New("invalid input")

// FallbackResponse is returned to the user when the chat provider fails
// transiently. The endpoint contract stays 200-shaped; the real error is
// logged server-side only.
const FallbackResponse = "I encountered an error while generating a response. " +
	"Please try again in a moment."

var departmentPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

const maxDepartmentLen = 64

// Retriever provides grounded context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.SearchResult, error)
}

// Completer generates the final answer from the assembled prompt.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, maxTokens int) (string, error)
}

// Limits bound a single request.
type Limits struct {
	MaxMessageLen int
	MaxTokens     int
}

// Service answers questions grounded in retrieved procedure sections.
type Service struct {
	retriever Retriever
	completer Completer
	composer  *composer.Composer
	limits    Limits
	logger    *slog.Logger
}

// NewService creates a Service. Non-positive limits use defaults
// (2000 char messages, provider default token cap).
func NewService(retriever Retriever, completer Completer, comp *composer.Composer, limits Limits) *Service {
	if limits.MaxMessageLen <= 0 {
		limits.MaxMessageLen = 2000
	}
	return &Service{
		retriever: retriever,
		completer: completer,
		composer:  comp,
		limits:    limits,
		logger:    slog.Default(),
	}
}

// Request is one chat turn from the client.
type Request struct {
	Message    string
	Department string
	History    []llm.Message
}

// Result carries the generated answer and the sections it was grounded in,
// for citation display.
type Result struct {
	Response string
	Sources  []retrieval.SearchResult
}

// Answer validates the request, retrieves grounded context, and calls the
// chat model. Retrieval failure degrades to an ungrounded answer; completion
// failure degrades to the fallback response. The one error the caller sees
// besides validation is llm.ErrNotConfigured, which is operator-fixable and
// must not be papered over with an apologetic reply.
func (s *Service) Answer(ctx context.Context, req Request) (Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Result{}, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}
	if len(req.Message) > s.limits.MaxMessageLen {
		return Result{}, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, s.limits.MaxMessageLen)
	}
	if req.Department != "" {
		if len(req.Department) > maxDepartmentLen || !departmentPattern.MatchString(req.Department) {
			return Result{}, fmt.Errorf("%w: invalid department filter", ErrInvalidInput)
		}
	}

	sources, err := s.retriever.Retrieve(ctx, retrieval.Query{
		Text:       message,
		Department: req.Department,
	})
	if err != nil {
		// Never fatal: answer without grounding rather than failing the turn.
		s.logger.Error("context retrieval failed, answering without grounding", "error", err)
		sources = nil
	}

	messages := s.composer.Compose(message, req.History, sources)

	response, err := s.completer.Complete(ctx, messages, s.limits.MaxTokens)
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			return Result{}, err
		}
		s.logger.Error("chat completion failed, returning fallback response", "error", err)
		return Result{Response: FallbackResponse, Sources: sources}, nil
	}

	return Result{Response: response, Sources: sources}, nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds a single provider round-trip.
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrNotConfigured means no API key was supplied. Operator-fixable;
	// surfaced as a configuration error at the HTTP boundary.
	ErrNotConfigured = errors.New("openai api key not configured: set PROCDEX_OPENAI_API_KEY")

	// ErrUnavailable wraps transient provider failures. The client never
	// retries; callers decide whether to fall back.
	ErrUnavailable = errors.New("provider unavailable")
)

// Message is a single conversation turn sent to the chat model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles accepted by the chat model.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client wraps the OpenAI API for embeddings and chat completions.
// A Client constructed without an API key is usable: every call returns
// ErrNotConfigured, which lets the service run in lexical-only mode.
type Client struct {
	client     openai.Client
	chatModel  string
	embedModel string
	dimension  int
	timeout    time.Duration
	configured bool
}

// Options configures a Client.
type Options struct {
	APIKey     string
	ChatModel  string
	EmbedModel string
	Dimension  int
}

// New creates a Client. An empty API key is not an error; see Client.
func New(opts Options) *Client {
	return &Client{
		client:     openai.NewClient(option.WithAPIKey(opts.APIKey)),
		chatModel:  opts.ChatModel,
		embedModel: opts.EmbedModel,
		dimension:  opts.Dimension,
		timeout:    DefaultTimeout,
		configured: opts.APIKey != "",
	}
}

// SetTimeout overrides the per-call timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Dimension returns the configured embedding vector dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embed generates the embedding vector for a single text.
// One outbound call, no retries: an embedding failure should trigger the
// caller's lexical fallback immediately instead of adding latency.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if text == "" {
		return nil, fmt.Errorf("no text provided")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if c.dimension > 0 {
		params.Dimensions = openai.Int(int64(c.dimension))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: generating embedding: %v", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrUnavailable)
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// EmbedBatch generates embedding vectors for multiple texts concurrently.
// Returns nil (not error) for empty/nil input. Used at document ingest time;
// the batch population job calls Embed sequentially with its own pacing.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !c.configured {
		return nil, ErrNotConfigured
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Complete sends the assembled conversation to the chat model and returns
// the generated text. No retries; transient failures are the caller's
// problem to degrade gracefully.
func (c *Client) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.chatModel),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %v", ErrUnavailable, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", ErrUnavailable)
	}

	return completion.Choices[0].Message.Content, nil
}

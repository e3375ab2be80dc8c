package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mpetrov/procdex/internal/llm"
	"github.com/mpetrov/procdex/internal/retrieval"
)

const (
	defaultMaxContextTokens = 4000
	defaultMaxHistoryTurns  = 10

	// maxTurnLen caps a single history turn's content; longer turns are
	// dropped during normalization rather than truncated.
	maxTurnLen = 4000
)

const rolePrompt = "You are an operations assistant answering questions about " +
	"internal standard operating procedures. Ground every answer in the " +
	"procedure excerpts provided below."

const guidelines = "Guidelines:\n" +
	"- Be concise and practical.\n" +
	"- Cite the document and section titles you draw from.\n" +
	"- If the excerpts do not cover the question, say so instead of guessing."

const noContextPrompt = "You are an operations assistant for internal standard " +
	"operating procedures. No relevant procedure excerpts were found for this " +
	"question; say that you could not find a matching procedure and suggest " +
	"rephrasing, rather than guessing."

// Composer assembles the grounded prompt from retrieved sections, bounded
// conversation history, and the new user message.
type Composer struct {
	MaxContextTokens int
	MaxHistoryTurns  int
}

// New creates a Composer. Non-positive arguments use the defaults
// (4000 context tokens, 10 history turns).
func New(maxContextTokens, maxHistoryTurns int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = defaultMaxHistoryTurns
	}
	return &Composer{MaxContextTokens: maxContextTokens, MaxHistoryTurns: maxHistoryTurns}
}

// Compose builds the full message list: system prompt with retrieved context,
// then normalized trailing history, then the user message.
func (c *Composer) Compose(message string, history []llm.Message, results []retrieval.SearchResult) []llm.Message {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: c.systemPrompt(results)}}
	msgs = append(msgs, c.NormalizeHistory(history)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})
	return msgs
}

// systemPrompt embeds the retrieved context between the role description and
// the behavioral guidelines. With no context at all, the prompt switches to
// an explicit "nothing found" instruction instead of an empty context block.
func (c *Composer) systemPrompt(results []retrieval.SearchResult) string {
	context := c.buildContext(results)
	if context == "" {
		return noContextPrompt
	}

	var sb strings.Builder
	sb.WriteString(rolePrompt)
	sb.WriteString("\n\nRelevant procedure excerpts:\n\n")
	sb.WriteString(context)
	sb.WriteString("\n")
	sb.WriteString(guidelines)
	return sb.String()
}

// buildContext concatenates matched sections, each labeled with its document
// and section title, respecting the token budget by dropping lowest-scoring
// sections first.
func (c *Composer) buildContext(results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	sorted := make([]retrieval.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	remaining := c.MaxContextTokens
	var entries []string
	for _, r := range sorted {
		entry := formatSection(r)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}

	return strings.Join(entries, "\n---\n\n")
}

// NormalizeHistory keeps at most the last MaxHistoryTurns turns, dropping
// any turn with an unknown role, empty content, or oversized content.
// Malformed turns are silently discarded, never fatal.
func (c *Composer) NormalizeHistory(history []llm.Message) []llm.Message {
	var kept []llm.Message
	for _, turn := range history {
		if !validRole(turn.Role) {
			continue
		}
		if turn.Content == "" || len(turn.Content) > maxTurnLen {
			continue
		}
		kept = append(kept, turn)
	}
	if len(kept) > c.MaxHistoryTurns {
		kept = kept[len(kept)-c.MaxHistoryTurns:]
	}
	return kept
}

func validRole(role string) bool {
	return role == llm.RoleUser || role == llm.RoleAssistant || role == llm.RoleSystem
}

func formatSection(r retrieval.SearchResult) string {
	return fmt.Sprintf("[%s — %s]\n%s\n", r.DocumentTitle, r.SectionTitle, r.Content)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

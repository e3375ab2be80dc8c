package ingest

import (
	"fmt"
	"strings"
)

// maxChunkLen is the target upper bound for one section's content.
// Paragraphs are packed until the next one would cross it; a single
// oversized paragraph becomes its own section rather than being split
// mid-sentence.
const maxChunkLen = 1500

// Chunk is one section-to-be produced by the chunker.
type Chunk struct {
	Title   string
	Content string
}

// ChunkText splits document text into retrieval-sized chunks on paragraph
// boundaries. A markdown-style heading starts a new chunk and becomes its
// title; untitled chunks are numbered parts of the document title.
func ChunkText(docTitle, text string) []Chunk {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []Chunk
	var current strings.Builder
	currentTitle := ""

	flush := func() {
		content := strings.TrimSpace(current.String())
		if content == "" {
			current.Reset()
			return
		}
		title := currentTitle
		if title == "" {
			title = fmt.Sprintf("%s (part %d)", docTitle, len(chunks)+1)
		}
		chunks = append(chunks, Chunk{Title: title, Content: content})
		current.Reset()
	}

	for _, p := range paragraphs {
		if heading, ok := parseHeading(p); ok {
			flush()
			currentTitle = heading
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > maxChunkLen {
			flush()
			// Continuation chunks under the same heading keep its title.
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}

func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// parseHeading recognizes a single-line markdown heading.
func parseHeading(p string) (string, bool) {
	if strings.Contains(p, "\n") || !strings.HasPrefix(p, "#") {
		return "", false
	}
	heading := strings.TrimSpace(strings.TrimLeft(p, "#"))
	if heading == "" {
		return "", false
	}
	return heading, true
}

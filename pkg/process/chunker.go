package process

import (
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is one piece of a page's markdown
type Chunk struct {
	Content    string `json:"content"`
	Heading    string `json:"heading,omitempty"` // Closest heading inside the chunk
	TokenCount int    `json:"token_count"`
}

// ChunkerConfig sizes chunks in tokens
type ChunkerConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

// DefaultChunkerConfig returns the sizes used by the sample page objects
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{MaxChunkSize: 512, ChunkOverlap: 50}
}

// ChunkMarkdown splits markdown by headers, falling back to recursive
// character splitting for sections larger than MaxChunkSize. Lengths are
// measured with tok; a nil tok measures runes.
func ChunkMarkdown(markdown string, cfg ChunkerConfig, tok *Tokenizer) ([]Chunk, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	lenFunc := utf8.RuneCountInString
	if tok != nil {
		lenFunc = tok.Count
	}

	fallback := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(lenFunc),
	)
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(fallback),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunk := Chunk{Content: part, TokenCount: lenFunc(part)}
		if hs := ExtractHeadings(part); len(hs) > 0 {
			chunk.Heading = hs[len(hs)-1].Text
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

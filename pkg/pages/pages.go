// Package pages holds the page objects shipped with the crawler and the
// registry the CLI resolves them from.
package pages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/poet-crawler/pkg/extract"
	"github.com/Sriram-PR/poet-crawler/pkg/inject"
	"github.com/Sriram-PR/poet-crawler/pkg/process"
)

// Retry reasons of the sample page objects
const (
	ReasonMissingTitle  = "missing_title"
	ReasonEmptyMarkdown = "empty_markdown"
)

// TitleItem is produced by TitlePage
type TitleItem struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	Headings  []string `json:"headings,omitempty"`
	FetchedAt string   `json:"fetched_at"`
}

// TitlePage extracts the document title and h1-h3 headings.
// A page without a title is retried.
type TitlePage struct {
	Doc inject.HTMLDocument `inject:""`
	Now inject.FetchTime    `inject:""`
}

func (p *TitlePage) ToItem(_ context.Context) (any, error) {
	title := strings.TrimSpace(p.Doc.Doc.Find("title").First().Text())
	if title == "" {
		return nil, extract.Retry(ReasonMissingTitle)
	}
	item := TitleItem{
		URL:       p.Doc.URL,
		Title:     title,
		FetchedAt: p.Now.Time.Format("2006-01-02T15:04:05Z07:00"),
	}
	p.Doc.Doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			item.Headings = append(item.Headings, text)
		}
	})
	return item, nil
}

// MarkdownItem is produced by MarkdownPage
type MarkdownItem struct {
	URL        string            `json:"url"`
	Markdown   string            `json:"markdown"`
	Headings   []process.Heading `json:"headings,omitempty"`
	Chunks     []process.Chunk   `json:"chunks,omitempty"`
	TokenCount int               `json:"token_count"`
}

// MarkdownPage converts the page to markdown and chunks it.
// A page whose markdown is empty is retried.
type MarkdownPage struct {
	MD inject.Markdown `inject:""`

	Tokenizer *process.Tokenizer
	Chunking  process.ChunkerConfig
}

func (p *MarkdownPage) ToItem(_ context.Context) (any, error) {
	text := strings.TrimSpace(p.MD.Text)
	if text == "" {
		return nil, extract.Retry(ReasonEmptyMarkdown)
	}
	chunks, err := process.ChunkMarkdown(text, p.Chunking, p.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("chunking markdown of %s: %w", p.MD.URL, err)
	}
	return MarkdownItem{
		URL:        p.MD.URL,
		Markdown:   text,
		Headings:   process.ExtractHeadings(text),
		Chunks:     chunks,
		TokenCount: p.Tokenizer.Count(text),
	}, nil
}

// Registry maps page object names to factories
type Registry struct {
	factories map[string]inject.Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]inject.Factory)}
}

// DefaultRegistry registers "title" and "markdown". tok may be nil, in
// which case chunks are sized in runes and token counts are -1.
func DefaultRegistry(tok *process.Tokenizer) *Registry {
	r := NewRegistry()
	r.MustRegister("title", func() inject.PageObject { return &TitlePage{} })
	r.MustRegister("markdown", func() inject.PageObject {
		return &MarkdownPage{Tokenizer: tok, Chunking: process.DefaultChunkerConfig()}
	})
	return r
}

// Register adds a factory under name
func (r *Registry) Register(name string, factory inject.Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("page object needs a name and a factory")
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("page object %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(name string, factory inject.Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for name
func (r *Registry) Lookup(name string) (inject.Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package process derives structure from markdown produced for a page:
// headings, token counts and retrieval-sized chunks.
package process

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Heading is one markdown heading
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// ExtractHeadings returns the headings of markdown in document order
func ExtractHeadings(markdown string) []Heading {
	source := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var headings []Heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		for child := heading.FirstChild(); child != nil; child = child.NextSibling() {
			if textNode, ok := child.(*ast.Text); ok {
				buf.Write(textNode.Segment.Value(source))
			}
		}
		if buf.Len() > 0 {
			headings = append(headings, Heading{Level: heading.Level, Text: buf.String()})
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}

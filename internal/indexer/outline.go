package indexer

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Heading is a markdown heading found in a document.
type Heading struct {
	Level int    // 1 for "#", 2 for "##", ...
	Text  string // Heading text without markup
	Path  string // Format: "# Heading1 > ## Heading2"
}

// Outline describes the heading structure of a markdown document.
type Outline struct {
	Title    string
	Headings []Heading
}

// OutlineParser extracts titles and heading hierarchies from markdown using goldmark.
type OutlineParser struct {
	parser goldmark.Markdown
}

// NewOutlineParser creates a new markdown outline parser.
func NewOutlineParser() *OutlineParser {
	return &OutlineParser{
		parser: goldmark.New(
			goldmark.WithExtensions(extension.Table),
		),
	}
}

// Parse returns the document title and every heading in document order.
// Title resolution:
// 1. First # Heading (level 1)
// 2. First ## Heading (level 2) if no level 1
// 3. Filename without extension (capitalize words) if no headings
func (p *OutlineParser) Parse(content []byte, filename string) Outline {
	if len(content) == 0 {
		return Outline{Title: extractTitleFromFilename(filename)}
	}

	doc := p.parser.Parser().Parse(text.NewReader(content))

	var outline Outline
	var firstH1, firstH2 string
	stack := []Heading{}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}

		headingText := extractTextFromNode(heading, content)
		if heading.Level == 1 && firstH1 == "" {
			firstH1 = headingText
		} else if heading.Level == 2 && firstH2 == "" {
			firstH2 = headingText
		}

		// Remove headings of equal or deeper level before pushing this one
		for len(stack) > 0 && stack[len(stack)-1].Level >= heading.Level {
			stack = stack[:len(stack)-1]
		}
		h := Heading{Level: heading.Level, Text: headingText}
		stack = append(stack, h)
		h.Path = buildHeadingPath(stack)
		outline.Headings = append(outline.Headings, h)

		return ast.WalkSkipChildren, nil
	})

	switch {
	case firstH1 != "":
		outline.Title = firstH1
	case firstH2 != "":
		outline.Title = firstH2
	default:
		outline.Title = extractTitleFromFilename(filename)
	}
	return outline
}

// extractTitleFromFilename extracts title from filename by removing extension and capitalizing words.
func extractTitleFromFilename(filename string) string {
	name := filepath.Base(filename)
	ext := filepath.Ext(name)
	if ext != "" {
		name = name[:len(name)-len(ext)]
	}

	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(name))
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}

	return strings.Join(words, " ")
}

// buildHeadingPath builds a heading path string from the heading stack.
// Format: "# Heading1 > ## Heading2 > ### Heading3"
func buildHeadingPath(stack []Heading) string {
	if len(stack) == 0 {
		return ""
	}

	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = fmt.Sprintf("%s %s", strings.Repeat("#", h.Level), h.Text)
	}

	return strings.Join(parts, " > ")
}

// extractTextFromNode extracts text content from a node and its children.
func extractTextFromNode(n ast.Node, content []byte) string {
	var textBuilder strings.Builder

	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch v := node.(type) {
		case *ast.Text:
			textBuilder.Write(v.Segment.Value(content))
		case *ast.String:
			textBuilder.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(textBuilder.String())
}

// Package extractor derives a best-effort article text from raw HTML.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// Boilerplate containers stripped before text collection.
const strippedSelectors = "script, style, noscript, iframe, svg, nav, header, footer, aside, form, button"

// Containers tried in order when locating the main article body.
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".article-body",
	".post-content",
}

// Config controls extraction behavior.
type Config struct {
	// IncludeTables keeps table text in the output. Tables on news pages
	// are mostly layout scaffolding, so the default drops them.
	IncludeTables bool `mapstructure:"include_tables" yaml:"include_tables"`
}

// Extractor implements ingest.TextExtractor with a container heuristic.
type Extractor struct {
	cfg Config
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract parses raw HTML and returns the text of the most article-like
// container, paragraphs separated by newlines.
func (e *Extractor) Extract(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find(strippedSelectors).Remove()
	if !e.cfg.IncludeTables {
		doc.Find("table").Remove()
	}

	container := e.findContainer(doc)
	paragraphs := collectParagraphs(container)
	if len(paragraphs) == 0 {
		// Pages without paragraph markup still carry text nodes.
		if text := condense(container.Text()); text != "" {
			return text, nil
		}
		return "", nil
	}
	return strings.Join(paragraphs, "\n"), nil
}

func (e *Extractor) findContainer(doc *goquery.Document) *goquery.Selection {
	for _, selector := range contentSelectors {
		sel := doc.Find(selector).First()
		if sel.Length() > 0 && condense(sel.Text()) != "" {
			return sel
		}
	}
	return doc.Find("body").First()
}

func collectParagraphs(container *goquery.Selection) []string {
	var out []string
	container.Find("p, h1, h2, h3, h4, li, blockquote").Each(func(_ int, sel *goquery.Selection) {
		if text := condense(sel.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// condense collapses runs of whitespace into single spaces.
func condense(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

var _ ingest.TextExtractor = (*Extractor)(nil)

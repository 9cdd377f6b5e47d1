package extract

import (
	"bytes"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/IshaanNene/sitecrawl/internal/engine"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// boilerplateSelector matches elements dropped before text extraction.
const boilerplateSelector = "script, style, nav, footer, header, aside, noscript"

// contentSelectors are tried in order for the main content container.
var contentSelectors = []string{"main", "article", "div[role=main]"}

var blankRuns = regexp.MustCompile(`\n\s*\n`)

// blockElements start a new line in extracted text and end a paragraph.
var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Blockquote: true, atom.Br: true,
	atom.Dd: true, atom.Details: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Hr: true, atom.Li: true, atom.Main: true, atom.Ol: true, atom.P: true,
	atom.Pre: true, atom.Section: true, atom.Summary: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Title: true, atom.Tr: true, atom.Ul: true,
}

// ContentExtractor turns an HTML page into readable plain text plus the
// links found on it.
type ContentExtractor struct {
	logger *slog.Logger
}

// NewContentExtractor creates a new ContentExtractor.
func NewContentExtractor(logger *slog.Logger) *ContentExtractor {
	return &ContentExtractor{
		logger: logger.With("component", "content_extractor"),
	}
}

// Extract parses body fetched from pageURL. Links are harvested from the
// whole document before boilerplate is removed, resolved against pageURL,
// normalized, filtered through admit (nil admits everything) and returned
// once each in discovery order.
func (e *ContentExtractor) Extract(body []byte, pageURL string, admit func(string) bool) (types.Page, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return types.Page{}, nil, &types.ParseError{URL: pageURL, Err: err}
	}

	links := harvestLinks(doc, pageURL, admit)

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = pageURL
	}

	doc.Find(boilerplateSelector).Remove()

	root := doc.Selection
	for _, sel := range contentSelectors {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			root = found
			break
		}
	}

	page := types.Page{
		URL:     pageURL,
		Title:   title,
		Content: PlainText(root),
	}
	e.logger.Debug("extracted page", "url", pageURL, "chars", len(page.Content), "links", len(links))
	return page, links, nil
}

// PlainText renders a selection as text, one block per line, with runs of
// blank lines collapsed to a single blank line.
func PlainText(sel *goquery.Selection) string {
	w := &textWriter{}
	for _, n := range sel.Nodes {
		w.walk(n)
	}

	lines := strings.Split(w.b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text := strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// harvestLinks collects a[href] targets from the full document.
func harvestLinks(doc *goquery.Document, pageURL string, admit func(string) bool) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, ok := engine.ResolveURL(base, href)
		if !ok || seen[link] {
			return
		}
		if admit != nil && !admit(link) {
			return
		}
		seen[link] = true
		links = append(links, link)
	})
	return links
}

type textWriter struct {
	b            strings.Builder
	pendingSpace bool
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			w.newline()
			return
		}
		if blockElements[n.DataAtom] {
			w.newline()
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}

	if n.Type == html.ElementNode && blockElements[n.DataAtom] {
		w.newline()
		w.newline()
	}
}

func (w *textWriter) text(raw string) {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if collapsed == "" {
		if raw != "" {
			w.pendingSpace = true
		}
		return
	}
	if (w.pendingSpace || startsWithSpace(raw)) && w.midLine() {
		w.b.WriteByte(' ')
	}
	w.b.WriteString(collapsed)
	w.pendingSpace = endsWithSpace(raw)
}

func (w *textWriter) newline() {
	w.b.WriteByte('\n')
	w.pendingSpace = false
}

// midLine reports whether the last written byte is visible text.
func (w *textWriter) midLine() bool {
	s := w.b.String()
	if s == "" {
		return false
	}
	last := s[len(s)-1]
	return last != '\n' && last != ' '
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s[:1], " \t\r\n\f") == ""
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s[len(s)-1:], " \t\r\n\f") == ""
}

package storage

import (
	"io"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

var (
	pageRule    = strings.Repeat("=", 80)
	headerRule  = strings.Repeat("-", 40)
	crawledTime = "2006-01-02 15:04:05"
)

// RenderMarkdown writes pages as one plain document meant for reading by
// people and language models alike.
func RenderMarkdown(w io.Writer, title string, pages []types.Page, at time.Time) error {
	md := markdown.NewMarkdown(w)

	md.H1(title)
	md.PlainText("")
	md.PlainTextf("Crawled: %s", at.Format(crawledTime))
	md.PlainTextf("Total Pages: %d", len(pages))
	md.PlainText("")
	md.PlainText(pageRule)
	md.PlainText("")

	for i, page := range pages {
		md.PlainTextf("PAGE %d: %s", i+1, page.Title)
		md.PlainTextf("URL: %s", page.URL)
		md.PlainText(headerRule)
		md.PlainText(page.Content)
		md.PlainText("")
		md.PlainText(pageRule)
		md.PlainText("")
	}
	md.PlainText("")

	return md.Build()
}

// WriteMarkdown renders pages to path.
func WriteMarkdown(path, title string, pages []types.Page, at time.Time) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		return RenderMarkdown(w, title, pages, at)
	})
	if err != nil {
		return &types.StorageError{Backend: "markdown", Err: err}
	}
	return nil
}

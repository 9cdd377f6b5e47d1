package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Scrape modes understood by Scrape.
const (
	ModeText  = "text"
	ModeAttr  = "attr"
	ModeTable = "table"
	ModeLinks = "links"
	ModeMeta  = "meta"
)

// ScrapeOptions selects what Scrape pulls out of a document.
type ScrapeOptions struct {
	Mode      string
	Selector  string
	Attribute string
	Pattern   string
	BaseURL   string
}

// Scrape runs one extraction mode against doc. The result is []string for
// text, attr and links; []any of map[string]string or []string rows for
// table; map[string]string for meta.
func Scrape(doc *goquery.Document, opts ScrapeOptions) (any, error) {
	selector := opts.Selector
	if selector == "" {
		selector = "body"
	}

	switch opts.Mode {
	case "", ModeText:
		return Texts(doc, selector), nil
	case ModeAttr:
		if opts.Attribute == "" {
			return nil, fmt.Errorf("mode %q requires an attribute", ModeAttr)
		}
		return Attributes(doc, selector, opts.Attribute, opts.BaseURL), nil
	case ModeTable:
		if opts.Selector == "" || opts.Selector == "body" {
			selector = "table"
		}
		return Table(doc, selector), nil
	case ModeLinks:
		return Links(doc, opts.BaseURL, opts.Pattern), nil
	case ModeMeta:
		return Meta(doc), nil
	}
	return nil, fmt.Errorf("unknown mode %q (valid: text, attr, table, links, meta)", opts.Mode)
}

// Texts returns the whitespace-collapsed text of every match.
func Texts(doc *goquery.Document, selector string) []string {
	values := []string{}
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		values = append(values, strings.Join(strings.Fields(sel.Text()), " "))
	})
	return values
}

// Attributes returns attr of every match that has it. href and src values
// are made absolute against baseURL when one is given.
func Attributes(doc *goquery.Document, selector, attr, baseURL string) []string {
	var base *url.URL
	if baseURL != "" && (attr == "href" || attr == "src") {
		base, _ = url.Parse(baseURL)
	}

	values := []string{}
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		val, ok := sel.Attr(attr)
		if !ok {
			return
		}
		if base != nil {
			if ref, err := url.Parse(strings.TrimSpace(val)); err == nil {
				val = base.ResolveReference(ref).String()
			}
		}
		values = append(values, val)
	})
	return values
}

// Table reads the first table matching selector. Rows whose cell count
// equals the header count become header-keyed maps; other rows stay
// plain cell lists. Header-only rows are skipped.
func Table(doc *goquery.Document, selector string) []any {
	table := doc.Find(selector).First()
	rows := []any{}
	if table.Length() == 0 {
		return rows
	}

	var headers []string
	table.Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(th.Text()))
	})

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) == 0 {
			return
		}
		if len(headers) > 0 && len(cells) == len(headers) {
			row := make(map[string]string, len(cells))
			for i, h := range headers {
				row[h] = cells[i]
			}
			rows = append(rows, row)
			return
		}
		rows = append(rows, cells)
	})
	return rows
}

// Links returns every a[href] made absolute against baseURL, keeping only
// those containing pattern when it is non-empty.
func Links(doc *goquery.Document, baseURL, pattern string) []string {
	all := Attributes(doc, "a[href]", "href", baseURL)
	if pattern == "" {
		return all
	}
	links := []string{}
	for _, link := range all {
		if strings.Contains(link, pattern) {
			links = append(links, link)
		}
	}
	return links
}

// Meta returns the page title, description, canonical link and og:* tags.
func Meta(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && desc != "" {
		meta["description"] = desc
	}
	if canonical, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && canonical != "" {
		meta["canonical"] = canonical
	}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		property, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		meta[property] = content
	})
	return meta
}

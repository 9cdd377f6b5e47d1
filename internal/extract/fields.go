package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// FieldExtractor applies named CSS, XPath and regex rules to a page and
// collects the results into an Item.
type FieldExtractor struct {
	logger *slog.Logger
	cache  map[string]*regexp.Regexp
}

// NewFieldExtractor creates a new FieldExtractor.
func NewFieldExtractor(logger *slog.Logger) *FieldExtractor {
	return &FieldExtractor{
		logger: logger.With("component", "field_extractor"),
		cache:  make(map[string]*regexp.Regexp),
	}
}

// Extract applies rules to resp. A rule matching one value stores a
// string; several values store a []string; none stores nothing. Rule
// errors are joined into a single ParseError after all rules ran.
func (e *FieldExtractor) Extract(resp *types.Response, rules []config.ParseRule) (*types.Item, error) {
	item := types.NewItem(resp.URL)
	var errs []string

	var root *html.Node
	for _, rule := range rules {
		var (
			values []string
			err    error
		)

		switch rule.Type {
		case "", "css":
			var doc *goquery.Document
			doc, err = resp.Document()
			if err == nil {
				values = extractCSS(doc, rule)
			}
		case "xpath":
			if root == nil {
				root, err = html.Parse(bytes.NewReader(resp.Body))
			}
			if err == nil {
				values, err = extractXPath(root, rule)
			}
		case "regex":
			var re *regexp.Regexp
			re, err = e.getOrCompile(rule.Pattern)
			if err == nil {
				values = extractRegex(re, string(resp.Body))
			}
		default:
			err = fmt.Errorf("unknown rule type %q", rule.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %q: %v", rule.Name, err))
			continue
		}

		switch len(values) {
		case 0:
			e.logger.Debug("rule matched nothing", "rule", rule.Name, "url", resp.URL)
		case 1:
			item.Set(rule.Name, values[0])
		default:
			item.Set(rule.Name, values)
		}
	}

	if len(errs) > 0 {
		return item, &types.ParseError{
			URL: resp.URL,
			Err: fmt.Errorf("rule errors: %s", strings.Join(errs, "; ")),
		}
	}
	return item, nil
}

// ParseRuleSpec parses "name=type:selector" into a rule. The type prefix is
// optional and defaults to css; for regex the selector is the pattern.
// A css selector may end with "@attr" to extract an attribute.
func ParseRuleSpec(spec string) (config.ParseRule, error) {
	name, expr, ok := strings.Cut(spec, "=")
	if !ok || strings.TrimSpace(name) == "" || expr == "" {
		return config.ParseRule{}, fmt.Errorf("rule %q must look like name=type:selector", spec)
	}
	rule := config.ParseRule{Name: strings.TrimSpace(name), Type: "css"}

	if kind, rest, found := strings.Cut(expr, ":"); found {
		switch kind {
		case "css", "xpath", "regex":
			rule.Type = kind
			expr = rest
		}
	}

	switch rule.Type {
	case "regex":
		rule.Pattern = expr
	case "css":
		if sel, attr, found := strings.Cut(expr, "@"); found && !strings.ContainsAny(attr, " []") {
			expr, rule.Attribute = sel, attr
		}
		rule.Selector = expr
	default:
		rule.Selector = expr
	}
	return rule, nil
}

func extractCSS(doc *goquery.Document, rule config.ParseRule) []string {
	var values []string
	doc.Find(rule.Selector).Each(func(_ int, sel *goquery.Selection) {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(sel.Text())
		case "html", "innerHTML":
			val, _ = sel.Html()
		case "outerHTML":
			val, _ = goquery.OuterHtml(sel)
		default:
			val, _ = sel.Attr(rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	})
	return values
}

func extractXPath(root *html.Node, rule config.ParseRule) ([]string, error) {
	nodes, err := htmlquery.QueryAll(root, rule.Selector)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", rule.Selector, err)
	}

	var values []string
	for _, node := range nodes {
		var val string
		switch rule.Attribute {
		case "", "text":
			val = strings.TrimSpace(htmlquery.InnerText(node))
		case "html", "innerHTML":
			val = htmlquery.OutputHTML(node, false)
		case "outerHTML":
			val = htmlquery.OutputHTML(node, true)
		default:
			val = htmlquery.SelectAttr(node, rule.Attribute)
		}
		if val != "" {
			values = append(values, val)
		}
	}
	return values, nil
}

// extractRegex returns named groups if the pattern has any, else the first
// group, else whole matches.
func extractRegex(re *regexp.Regexp, body string) []string {
	names := re.SubexpNames()
	named := false
	for _, name := range names {
		if name != "" {
			named = true
			break
		}
	}

	var values []string
	switch {
	case named:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			for i, name := range names {
				if name != "" && i < len(match) && match[i] != "" {
					values = append(values, match[i])
				}
			}
		}
	case re.NumSubexp() > 0:
		for _, match := range re.FindAllStringSubmatch(body, -1) {
			if len(match) > 1 {
				values = append(values, match[1])
			}
		}
	default:
		values = re.FindAllString(body, -1)
	}
	return values
}

func (e *FieldExtractor) getOrCompile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	e.cache[pattern] = re
	return re, nil
}

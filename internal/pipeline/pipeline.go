package pipeline

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// Middleware processes a page and returns the (possibly modified) page.
// Return nil to drop the page from the pipeline.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a page. Return nil to drop the page.
	Process(page *types.Page) (*types.Page, error)
}

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default builds the pipeline used by a crawl: trim, drop empty pages,
// then cap content length when output.max_content_chars is set.
func Default(cfg *config.OutputConfig, logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{})
	p.Use(&RequireContentMiddleware{})
	if cfg != nil && cfg.MaxContentChars > 0 {
		p.Use(&TruncateMiddleware{MaxChars: cfg.MaxContentChars})
	}
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the page through all middleware in order.
func (p *Pipeline) Process(page *types.Page) (*types.Page, error) {
	current := page

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: mw.Name(),
				URL:   page.URL,
				Err:   err,
			}
		}
		if result == nil {
			p.logger.Debug("page dropped", "stage", mw.Name(), "url", page.URL)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// --- Built-in Middleware ---

// TrimMiddleware trims surrounding whitespace from title and content.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(page *types.Page) (*types.Page, error) {
	page.Title = strings.TrimSpace(page.Title)
	page.Content = strings.TrimSpace(page.Content)
	if page.Title == "" {
		page.Title = page.URL
	}
	return page, nil
}

// RequireContentMiddleware drops pages without any text.
type RequireContentMiddleware struct{}

func (m *RequireContentMiddleware) Name() string { return "require_content" }

func (m *RequireContentMiddleware) Process(page *types.Page) (*types.Page, error) {
	if strings.TrimSpace(page.Content) == "" {
		return nil, nil
	}
	return page, nil
}

// TruncateMiddleware caps content at MaxChars characters, cutting at the
// last line or word break before the limit when there is one.
type TruncateMiddleware struct {
	MaxChars int
}

func (m *TruncateMiddleware) Name() string { return "truncate" }

func (m *TruncateMiddleware) Process(page *types.Page) (*types.Page, error) {
	if m.MaxChars <= 0 || utf8.RuneCountInString(page.Content) <= m.MaxChars {
		return page, nil
	}

	cut, runes := len(page.Content), 0
	for i := range page.Content {
		if runes == m.MaxChars {
			cut = i
			break
		}
		runes++
	}
	head := page.Content[:cut]
	if idx := strings.LastIndexAny(head, "\n "); idx > len(head)/2 {
		head = head[:idx]
	}
	page.Content = strings.TrimSpace(head)
	return page, nil
}

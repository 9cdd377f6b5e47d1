package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// TimestampFormat is the layout of crawled_at values in exported files.
const TimestampFormat = "2006-01-02T15:04:05.000000"

// ExportMetadata describes a JSON export.
type ExportMetadata struct {
	Source     string `json:"source"`
	CrawledAt  string `json:"crawled_at"`
	TotalPages int    `json:"total_pages"`
}

// Export is the consolidated JSON document.
type Export struct {
	Metadata ExportMetadata `json:"metadata"`
	Pages    []types.Page   `json:"pages"`
}

// NewExport builds an export of pages crawled from source.
func NewExport(source string, pages []types.Page, at time.Time) *Export {
	if pages == nil {
		pages = []types.Page{}
	}
	return &Export{
		Metadata: ExportMetadata{
			Source:     source,
			CrawledAt:  at.Format(TimestampFormat),
			TotalPages: len(pages),
		},
		Pages: pages,
	}
}

// WriteJSON writes exp to path with two-space indentation and without
// HTML escaping.
func WriteJSON(path string, exp *Export) error {
	err := writeFileAtomic(path, func(w io.Writer) error {
		return encodeJSON(w, exp)
	})
	if err != nil {
		return &types.StorageError{Backend: "json", Err: err}
	}
	return nil
}

// ReadJSON loads an export. A missing file yields types.ErrNoExport.
func ReadJSON(path string) (*Export, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrNoExport, path)
	}
	if err != nil {
		return nil, &types.StorageError{Backend: "json", Err: err}
	}

	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, &types.StorageError{Backend: "json", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return &exp, nil
}

// MergeJSON appends pages to the export at path and updates total_pages.
// When no export exists a new one is created.
func MergeJSON(path, source string, pages []types.Page, at time.Time) (*Export, error) {
	exp, err := ReadJSON(path)
	switch {
	case errors.Is(err, types.ErrNoExport):
		exp = NewExport(source, append([]types.Page(nil), pages...), at)
	case err != nil:
		return nil, err
	default:
		exp.Pages = append(exp.Pages, pages...)
		exp.Metadata.TotalPages = len(exp.Pages)
	}

	if err := WriteJSON(path, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

// Paths resolves the artifact file names in cfg against cfg.Dir.
type Paths struct {
	Markdown string
	JSON     string
	Failed   string
}

// ArtifactPaths returns where the crawl artifacts live.
func ArtifactPaths(cfg *config.OutputConfig) Paths {
	join := func(name string) string {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(cfg.Dir, name)
	}
	return Paths{
		Markdown: join(cfg.MarkdownFile),
		JSON:     join(cfg.JSONFile),
		Failed:   join(cfg.FailedFile),
	}
}

// DocumentTitle returns the configured export title, or one derived from
// the source host.
func DocumentTitle(cfg *config.OutputConfig, source string) string {
	if cfg.Title != "" {
		return cfg.Title
	}
	host := source
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		host = strings.TrimPrefix(u.Hostname(), "www.")
	}
	return host + " - Complete Website Content"
}

// ExportAll writes the Markdown and JSON exports and the failure ledger
// concurrently. An empty ledger removes any stale ledger file.
func ExportAll(ctx context.Context, cfg *config.OutputConfig, source string, pages []types.Page, failed []types.FailureRecord, at time.Time, logger *slog.Logger) (Paths, error) {
	logger = logger.With("component", "exporter")
	paths := ArtifactPaths(cfg)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := WriteMarkdown(paths.Markdown, DocumentTitle(cfg, source), pages, at); err != nil {
			return err
		}
		logger.Info("exported", "format", "markdown", "path", paths.Markdown, "pages", len(pages))
		return nil
	})
	g.Go(func() error {
		if err := WriteJSON(paths.JSON, NewExport(source, pages, at)); err != nil {
			return err
		}
		logger.Info("exported", "format", "json", "path", paths.JSON, "pages", len(pages))
		return nil
	})
	g.Go(func() error {
		written, err := WriteLedger(paths.Failed, source, failed, at)
		if err != nil {
			return err
		}
		if written {
			logger.Info("failed pages logged", "path", paths.Failed, "count", len(failed))
			return nil
		}
		return RemoveLedger(paths.Failed)
	})

	return paths, g.Wait()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/engine"
	"github.com/IshaanNene/sitecrawl/internal/extract"
	"github.com/IshaanNene/sitecrawl/internal/fetcher"
	"github.com/IshaanNene/sitecrawl/internal/observability"
	"github.com/IshaanNene/sitecrawl/internal/pipeline"
	"github.com/IshaanNene/sitecrawl/internal/storage"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// sleeper paces every session's politeness waits and retry backoff.
var sleeper engine.Sleeper = engine.TimerSleeper{}

// session bundles a crawler with the resources it owns.
type session struct {
	crawler *engine.Crawler
	fetcher *fetcher.HTTPFetcher
	mirror  storage.PageStore
	logger  *slog.Logger
}

// newSession wires fetcher, extractor, pipeline and the optional mirror
// into a crawler for cfg.
func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	crawler, err := engine.New(cfg, httpFetcher, extract.NewContentExtractor(logger), logger)
	if err != nil {
		httpFetcher.Close()
		return nil, fmt.Errorf("create crawler: %w", err)
	}
	crawler.SetPipeline(pipeline.Default(&cfg.Output, logger))
	crawler.SetSleeper(sleeper)

	s := &session{crawler: crawler, fetcher: httpFetcher, logger: logger}

	store, err := storage.NewMirror(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Warn("page mirror unavailable", "backend", cfg.Storage.Mirror, "error", err)
	} else if store != nil {
		s.mirror = store
		crawler.SetMirror(store)
		logger.Info("mirroring pages", "backend", store.Name())
	}
	return s, nil
}

// loadRobots fetches robots.txt for cfg's site when robots are respected.
// A Crawl-delay applies to both crawl and retry passes.
func (s *session) loadRobots(ctx context.Context, cfg *config.Config) {
	if !cfg.Engine.RespectRobotsTxt {
		return
	}
	robots := engine.LoadRobots(ctx, s.fetcher.Client(), cfg.Engine.BaseURL, cfg.Fetcher.UserAgent, cfg.Engine.RobotsTimeout, s.logger)
	s.crawler.SetRobots(robots)
}

func (s *session) Close() {
	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			s.logger.Warn("close mirror", "error", err)
		}
	}
	s.fetcher.Close()
}

// runCrawl crawls cfg.Engine.BaseURL and writes all artifacts. An
// interrupted crawl still exports what it collected.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	s.loadRobots(ctx, cfg)

	if cfg.Metrics.Enabled {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		metrics := observability.NewMetrics(s.crawler.Stats(), logger)
		if _, err := metrics.StartServer(metricsCtx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Warn("failed to start metrics server", "error", err)
		}
	}

	result, err := s.crawler.Run(ctx)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if result.Interrupted {
		logger.Warn("crawl interrupted, exporting partial results", "pages", len(result.Pages))
	}

	paths, err := storage.ExportAll(context.WithoutCancel(ctx), &cfg.Output, cfg.Engine.BaseURL, result.Pages, result.Failed, time.Now(), logger)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	printSummary(os.Stdout, result, s.crawler.Stats(), paths)
	return nil
}

// runRetry re-fetches the URLs in the failure ledger, merges recovered
// pages into the JSON export and rewrites the ledger, or removes it once
// every URL has recovered.
func runRetry(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	paths := storage.ArtifactPaths(&cfg.Output)

	ledger, err := storage.ReadLedger(paths.Failed)
	if errors.Is(err, types.ErrNoLedger) {
		logger.Info("no failure ledger found, nothing to retry", "path", paths.Failed)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	if cfg.Engine.BaseURL == "" {
		cfg.Engine.BaseURL = ledger.Metadata.Source
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	s, err := newSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	s.loadRobots(ctx, cfg)

	start := time.Now()
	recovered := s.crawler.RetryFailed(ctx, ledger.FailedPages)
	now := time.Now()

	if pages := s.crawler.Pages(); len(pages) > 0 {
		exp, err := storage.MergeJSON(paths.JSON, cfg.Engine.BaseURL, pages, now)
		if err != nil {
			return fmt.Errorf("merge export: %w", err)
		}
		logger.Info("merged recovered pages", "path", paths.JSON, "recovered", len(pages), "total_pages", exp.Metadata.TotalPages)
	}

	failed := s.crawler.Failed()
	written, err := storage.WriteLedger(paths.Failed, cfg.Engine.BaseURL, failed, now)
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if !written {
		if err := storage.RemoveLedger(paths.Failed); err != nil {
			return fmt.Errorf("remove ledger: %w", err)
		}
		logger.Info("all pages recovered, ledger removed", "path", paths.Failed)
	}

	p := message.NewPrinter(language.English)
	p.Printf("\nRetry complete in %s\n", time.Since(start).Round(time.Millisecond))
	p.Printf("   Retried:    %d\n", len(ledger.FailedPages))
	p.Printf("   Recovered:  %d\n", recovered)
	p.Printf("   Failing:    %d\n", len(failed))
	if written {
		p.Printf("   Ledger:     %s\n", paths.Failed)
	}
	return nil
}

// printSummary writes the end-of-crawl report.
func printSummary(w io.Writer, result *engine.Result, stats *engine.Stats, paths storage.Paths) {
	p := message.NewPrinter(language.English)

	rate := 0.0
	if secs := result.Elapsed.Seconds(); secs > 0 {
		rate = float64(len(result.Pages)) / secs
	}

	p.Fprintf(w, "\nCrawl complete in %s\n", result.Elapsed.Round(time.Millisecond))
	p.Fprintf(w, "   Pages collected:   %d\n", len(result.Pages))
	p.Fprintf(w, "   Total characters:  %d\n", stats.CharsCollected.Load())
	p.Fprintf(w, "   URLs visited:      %d\n", result.Visited)
	p.Fprintf(w, "   Errors/skipped:    %d\n", result.Errors)
	p.Fprintf(w, "   Failed (retry):    %d\n", len(result.Failed))
	p.Fprintf(w, "   Avg rate:          %.2f pages/sec\n", rate)
	p.Fprintf(w, "   Markdown:          %s\n", paths.Markdown)
	p.Fprintf(w, "   JSON:              %s\n", paths.JSON)

	if result.RobotsDegraded {
		p.Fprintf(w, "\nrobots.txt could not be read; the crawl allowed every path.\n")
	}
	if len(result.Failed) > 0 {
		p.Fprintf(w, "\n%d pages failed and can be retried with --retry.\n", len(result.Failed))
		p.Fprintf(w, "   See %s for details.\n", paths.Failed)
	}
}

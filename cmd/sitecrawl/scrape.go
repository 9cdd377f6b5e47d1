package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/engine"
	"github.com/IshaanNene/sitecrawl/internal/extract"
	"github.com/IshaanNene/sitecrawl/internal/fetcher"
	"github.com/IshaanNene/sitecrawl/internal/storage"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

var (
	scrapeSelector  string
	scrapeMode      string
	scrapeAttribute string
	scrapePattern   string
	scrapeRules     []string
	scrapeOutput    string
	scrapeDelay     float64
	scrapeTimeout   int
)

// scrapeCmd creates the "scrape" subcommand.
func scrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape [url...]",
		Short: "Extract data from one or more pages",
		Long: `Fetch pages and extract data from them. With several URLs the result
maps each URL to its data, or lists one item per URL when rules are used.

Modes:
  text   text of every element matching --selector
  attr   --attribute of every match (href/src made absolute)
  table  rows of the first matching table
  links  absolute links, optionally containing --pattern
  meta   title, description, canonical and og:* tags

With --rule name=type:selector (type css, xpath or regex) the named fields
are extracted instead, together with any parser.rules from the config.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScrape,
	}

	cmd.Flags().StringVarP(&scrapeSelector, "selector", "s", "body", "CSS selector")
	cmd.Flags().StringVarP(&scrapeMode, "mode", "m", extract.ModeText, "extraction mode: text, attr, table, links, meta")
	cmd.Flags().StringVarP(&scrapeAttribute, "attribute", "a", "", "attribute to extract (mode attr)")
	cmd.Flags().StringVarP(&scrapePattern, "pattern", "p", "", "substring links must contain (mode links)")
	cmd.Flags().StringArrayVarP(&scrapeRules, "rule", "r", nil, "field rule name=type:selector (repeatable)")
	cmd.Flags().StringVarP(&scrapeOutput, "output", "o", "", "output file (.csv or .json); stdout when empty")
	cmd.Flags().Float64Var(&scrapeDelay, "delay", 1.0, "seconds to wait between URLs")
	cmd.Flags().IntVar(&scrapeTimeout, "timeout", 30, "request timeout in seconds")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	for _, target := range args {
		if err := config.ValidateURL(target); err != nil {
			return fmt.Errorf("invalid URL %q: %w", target, err)
		}
	}
	if scrapeDelay < 0 || scrapeTimeout <= 0 {
		return fmt.Errorf("--delay must be >= 0 and --timeout > 0")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)
	cfg.Engine.BaseURL = args[0]
	cfg.Engine.RequestTimeout = time.Duration(scrapeTimeout) * time.Second

	var rules []config.ParseRule
	if len(scrapeRules) > 0 {
		rules = append(rules, cfg.Parser.Rules...)
		for _, spec := range scrapeRules {
			rule, err := extract.ParseRuleSpec(spec)
			if err != nil {
				return err
			}
			rules = append(rules, rule)
		}
	}

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer httpFetcher.Close()

	s := &scraper{
		policy: newScrapeRetry(cfg, httpFetcher, logger),
		opts: extract.ScrapeOptions{
			Mode:      scrapeMode,
			Selector:  scrapeSelector,
			Attribute: scrapeAttribute,
			Pattern:   scrapePattern,
		},
		rules:  rules,
		logger: logger.With("component", "scrape"),
	}
	data, err := s.run(cmd.Context(), args, engine.TimerSleeper{}, time.Duration(scrapeDelay*float64(time.Second)))
	if err != nil {
		return err
	}
	return writeResult(os.Stdout, scrapeOutput, data)
}

// scraper extracts data from pages with either a scrape mode or field rules.
type scraper struct {
	policy *engine.RetryPolicy
	opts   extract.ScrapeOptions
	rules  []config.ParseRule
	logger *slog.Logger
}

// run scrapes targets in order, sleeping delay between them. A single
// target fails on any error. With several targets a page that cannot be
// fetched is logged and skipped, or recorded as an item with Error set
// when rules are in use; cancellation stops early with what was scraped.
func (s *scraper) run(ctx context.Context, targets []string, sleeper engine.Sleeper, delay time.Duration) (any, error) {
	if len(targets) == 1 {
		data, err := s.scrape(ctx, targets[0])
		if err != nil {
			return nil, err
		}
		if item, ok := data.(*types.Item); ok {
			return []*types.Item{item}, nil
		}
		return data, nil
	}

	var items []*types.Item
	results := make(map[string]any, len(targets))
	for i, target := range targets {
		data, err := s.scrape(ctx, target)
		var fetchErr *pageError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return s.collected(items, results), nil
		case errors.As(err, &fetchErr):
			s.logger.Warn("scrape failed", "url", target, "error", err)
			if len(s.rules) > 0 {
				item := types.NewItem(target)
				item.Error = err.Error()
				data = item
			} else {
				data = nil
			}
		default:
			return nil, err
		}

		if item, ok := data.(*types.Item); ok {
			items = append(items, item)
		} else if data != nil {
			results[target] = data
		}

		if i < len(targets)-1 && delay > 0 {
			if err := sleeper.Sleep(ctx, delay); err != nil {
				break
			}
		}
	}
	return s.collected(items, results), nil
}

func (s *scraper) collected(items []*types.Item, results map[string]any) any {
	if len(s.rules) > 0 {
		return items
	}
	return results
}

// scrape fetches one page and returns its *types.Item when rules are set,
// otherwise the result of extract.Scrape.
func (s *scraper) scrape(ctx context.Context, target string) (any, error) {
	resp, err := fetchPage(ctx, s.policy, target)
	if err != nil {
		return nil, &pageError{err: err}
	}

	if len(s.rules) > 0 {
		item, err := extract.NewFieldExtractor(s.logger).Extract(resp, s.rules)
		if err != nil {
			s.logger.Warn("some rules failed", "url", target, "error", err)
		}
		return item, nil
	}

	doc, err := resp.Document()
	if err != nil {
		return nil, &pageError{err: fmt.Errorf("parse %s: %w", target, err)}
	}
	opts := s.opts
	opts.BaseURL = resp.FinalURL
	return extract.Scrape(doc, opts)
}

// pageError marks a failure to fetch or parse one page, as opposed to a
// bad scrape mode.
type pageError struct {
	err error
}

func (e *pageError) Error() string { return e.err.Error() }

func (e *pageError) Unwrap() error { return e.err }

// newScrapeRetry builds the retry policy shared by scrape and batch.
// Request jitter is left out; batch spaces requests with its own delay.
func newScrapeRetry(cfg *config.Config, f engine.Fetcher, logger *slog.Logger) *engine.RetryPolicy {
	return engine.NewRetryPolicy(f, engine.RetryOptions{
		MaxAttempts: cfg.Engine.MaxRetries,
		RetryDelay:  cfg.Engine.RetryDelay,
		Backoff:     cfg.Engine.Backoff,
	}, nil, nil, logger)
}

// fetchPage fetches rawURL through policy and turns a failure reason into
// an error.
func fetchPage(ctx context.Context, policy *engine.RetryPolicy, rawURL string) (*types.Response, error) {
	res := policy.Do(ctx, rawURL)
	switch {
	case res.Canceled:
		return nil, fmt.Errorf("fetch %s: %w", rawURL, context.Canceled)
	case res.Reason != "":
		return nil, fmt.Errorf("could not fetch %s: %s", rawURL, res.Reason)
	}
	return res.Response, nil
}

// writeResult writes data to path, or as JSON to stdout when path is empty.
func writeResult(stdout io.Writer, path string, data any) error {
	if path == "" {
		return storage.EncodeOutput(stdout, "", data)
	}
	if err := storage.WriteOutput(path, data); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Output written to %s\n", path)
	return nil
}

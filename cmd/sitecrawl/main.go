package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/sitecrawl/internal/config"
)

var (
	cfgFile    string
	verbose    bool
	retryMode  bool
	baseURL    string
	maxPages   int
	delay      string
	outputDir  string
	noRobots   bool
	mirror     string
	metricsOn  bool
	maxRetries int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root command with no
// arguments crawls the configured site.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitecrawl",
		Short: "Sitecrawl: polite single-site crawler and content exporter",
		Long: `Sitecrawl crawls one website breadth-first, extracts the readable text of
every HTML page and writes it out as a consolidated Markdown document and a
JSON export.

Features:
  • Same-domain BFS with a page budget and robots.txt compliance
  • Retries for 429, 5xx and timeouts, with Retry-After support
  • Failure ledger and --retry resume that merges recovered pages
  • Optional MongoDB, SQLite or Postgres page mirror
  • Prometheus metrics endpoint
  • Single-page and batch scraping (scrape, batch)`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         runRoot,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&retryMode, "retry", false, "retry the URLs in the failure ledger instead of crawling")
	rootCmd.Flags().StringVarP(&baseURL, "base-url", "u", "", "site to crawl (overrides engine.base_url)")
	rootCmd.Flags().IntVarP(&maxPages, "max-pages", "m", 0, "maximum pages to collect (0 = use config)")
	rootCmd.Flags().StringVar(&delay, "delay", "", "politeness delay between requests, e.g. 1.5s")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for the exported artifacts")
	rootCmd.Flags().BoolVar(&noRobots, "ignore-robots", false, "do not fetch or honor robots.txt")
	rootCmd.Flags().StringVar(&mirror, "mirror", "", "page mirror backend: none, mongodb, sqlite, postgres")
	rootCmd.Flags().BoolVar(&metricsOn, "metrics", false, "serve Prometheus metrics while crawling")
	rootCmd.Flags().IntVar(&maxRetries, "max-retries", 0, "attempts per URL (0 = use config)")

	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// loadConfig loads the config file and environment and applies flag
// overrides. It does not validate.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyCLIOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger creates a structured logger from the logging config. The
// verbose flag forces debug level.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// applyCLIOverrides applies command-line flag values to the config.
func applyCLIOverrides(cfg *config.Config) error {
	if baseURL != "" {
		cfg.Engine.BaseURL = baseURL
	}
	if maxPages > 0 {
		cfg.Engine.MaxPages = maxPages
	}
	if maxRetries > 0 {
		cfg.Engine.MaxRetries = maxRetries
	}
	if delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid --delay %q: %w", delay, err)
		}
		cfg.Engine.BaseDelay = d
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if noRobots {
		cfg.Engine.RespectRobotsTxt = false
	}
	if mirror != "" {
		cfg.Storage.Mirror = strings.ToLower(mirror)
	}
	if metricsOn {
		cfg.Metrics.Enabled = true
	}
	return nil
}

// runRoot crawls, or retries the failure ledger with --retry.
func runRoot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	if retryMode {
		return runRetry(cmd.Context(), cfg, logger)
	}
	return runCrawl(cmd.Context(), cfg, logger)
}

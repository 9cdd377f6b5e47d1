package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/engine"
	"github.com/IshaanNene/sitecrawl/internal/extract"
	"github.com/IshaanNene/sitecrawl/internal/fetcher"
)

var batchOutput string

// batchConfig is the JSON file read by the batch command. Delay and
// timeout are in seconds.
type batchConfig struct {
	URLs      []string `json:"urls"`
	Selector  string   `json:"selector"`
	Mode      string   `json:"mode"`
	Attribute string   `json:"attribute"`
	Delay     *float64 `json:"delay"`
	Timeout   *float64 `json:"timeout"`
}

// loadBatchConfig reads path and fills in defaults: selector body, mode
// text, one second between requests and a 30 second timeout.
func loadBatchConfig(path string) (*batchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch config: %w", err)
	}

	var bc batchConfig
	if err := json.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("parse batch config %s: %w", path, err)
	}
	if bc.Selector == "" {
		bc.Selector = "body"
	}
	if bc.Mode == "" {
		bc.Mode = extract.ModeText
	}
	if bc.Delay == nil {
		d := 1.0
		bc.Delay = &d
	}
	if bc.Timeout == nil {
		t := 30.0
		bc.Timeout = &t
	}

	if len(bc.URLs) == 0 {
		return nil, fmt.Errorf("batch config %s lists no urls", path)
	}
	for _, u := range bc.URLs {
		if err := config.ValidateURL(u); err != nil {
			return nil, fmt.Errorf("invalid URL %q: %w", u, err)
		}
	}
	if *bc.Delay < 0 || *bc.Timeout <= 0 {
		return nil, fmt.Errorf("batch config %s: delay must be >= 0 and timeout > 0", path)
	}
	return &bc, nil
}

func (bc *batchConfig) delay() time.Duration {
	return time.Duration(*bc.Delay * float64(time.Second))
}

func (bc *batchConfig) timeout() time.Duration {
	return time.Duration(*bc.Timeout * float64(time.Second))
}

// batchCmd creates the "batch" subcommand.
func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [config.json]",
		Short: "Scrape many pages with one selector",
		Long: `Scrape every URL in a JSON config file:

  {"urls": [...], "selector": "h1", "mode": "text", "attribute": "", "delay": 1.0, "timeout": 30}

Mode "attr" extracts the attribute; any other mode extracts text. The
result maps each URL to its values; pages that cannot be fetched map to
an empty list.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatchCmd,
	}

	cmd.Flags().StringVarP(&batchOutput, "output", "o", "", "output file (.json or .csv); stdout when empty")

	return cmd
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	bc, err := loadBatchConfig(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)
	cfg.Engine.BaseURL = ""
	cfg.Engine.RequestTimeout = bc.timeout()

	httpFetcher, err := fetcher.NewHTTPFetcher(cfg, logger)
	if err != nil {
		return fmt.Errorf("create fetcher: %w", err)
	}
	defer httpFetcher.Close()

	results := runBatch(cmd.Context(), bc, newScrapeRetry(cfg, httpFetcher, logger), engine.TimerSleeper{}, logger)
	return writeResult(os.Stdout, batchOutput, results)
}

// runBatch scrapes every URL in order, sleeping bc.Delay between requests.
// Cancellation stops early; URLs not reached are left out of the result.
func runBatch(ctx context.Context, bc *batchConfig, policy *engine.RetryPolicy, sleeper engine.Sleeper, logger *slog.Logger) map[string][]string {
	logger = logger.With("component", "batch")
	results := make(map[string][]string, len(bc.URLs))

	for i, rawURL := range bc.URLs {
		values := []string{}
		resp, err := fetchPage(ctx, policy, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("fetch failed", "url", rawURL, "error", err)
		} else if doc, err := resp.Document(); err != nil {
			logger.Warn("parse failed", "url", rawURL, "error", err)
		} else if bc.Mode == extract.ModeAttr && bc.Attribute != "" {
			values = extract.Attributes(doc, bc.Selector, bc.Attribute, resp.FinalURL)
		} else {
			values = extract.Texts(doc, bc.Selector)
		}
		results[rawURL] = values
		logger.Info("scraped", "n", i+1, "of", len(bc.URLs), "url", rawURL, "values", len(values))

		if i < len(bc.URLs)-1 && bc.delay() > 0 {
			if err := sleeper.Sleep(ctx, bc.delay()); err != nil {
				break
			}
		}
	}
	return results
}

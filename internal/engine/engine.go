package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// State represents the crawler's lifecycle state.
type State int32

const (
	StateIdle    State = 0
	StateRunning State = 1
	StateDone    State = 2
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Stats tracks crawl statistics. Counters are atomic so the metrics
// endpoint can read them while the crawl loop runs.
type Stats struct {
	RequestsSent    atomic.Int64
	Retries         atomic.Int64
	PagesCollected  atomic.Int64
	CharsCollected  atomic.Int64
	Errors          atomic.Int64
	Ledgered        atomic.Int64
	RobotsDenied    atomic.Int64
	URLsFiltered    atomic.Int64
	URLsEnqueued    atomic.Int64
	QueueDepth      atomic.Int64
	BytesDownloaded atomic.Int64
	RobotsDegraded  atomic.Bool
	StartTime       time.Time
}

// NewStats returns zeroed stats starting now.
func NewStats() *Stats {
	return &Stats{StartTime: time.Now()}
}

// Counters returns the current counter values keyed by name.
func (s *Stats) Counters() map[string]int64 {
	degraded := int64(0)
	if s.RobotsDegraded.Load() {
		degraded = 1
	}
	return map[string]int64{
		"requests_sent":    s.RequestsSent.Load(),
		"retries":          s.Retries.Load(),
		"pages_collected":  s.PagesCollected.Load(),
		"chars_collected":  s.CharsCollected.Load(),
		"errors":           s.Errors.Load(),
		"ledgered":         s.Ledgered.Load(),
		"robots_denied":    s.RobotsDenied.Load(),
		"urls_filtered":    s.URLsFiltered.Load(),
		"urls_enqueued":    s.URLsEnqueued.Load(),
		"queue_depth":      s.QueueDepth.Load(),
		"bytes_downloaded": s.BytesDownloaded.Load(),
		"robots_degraded":  degraded,
	}
}

// Snapshot returns the counters plus elapsed time, for logging.
func (s *Stats) Snapshot() map[string]any {
	snap := make(map[string]any, 13)
	for k, v := range s.Counters() {
		snap[k] = v
	}
	snap["elapsed"] = time.Since(s.StartTime).Round(time.Millisecond).String()
	return snap
}

// Fetcher performs a single fetch attempt.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*types.Response, types.Outcome)
	Close() error
}

// Extractor turns an HTML body into a Page and the in-scope links found on it.
type Extractor interface {
	Extract(body []byte, pageURL string, admit func(string) bool) (types.Page, []string, error)
}

// Pipeline post-processes a page. A nil page with nil error drops it.
type Pipeline interface {
	Process(page *types.Page) (*types.Page, error)
}

// PageSink receives every collected page as it is collected.
type PageSink interface {
	Store(ctx context.Context, pages []types.Page) error
}

// Result is what a crawl or retry pass produced.
type Result struct {
	Pages          []types.Page
	Failed         []types.FailureRecord
	Visited        int
	Errors         int64
	Elapsed        time.Duration
	Interrupted    bool
	RobotsDegraded bool
}

// Crawler owns one crawl session: frontier, visited set, collected pages
// and failure ledger. It runs on a single goroutine.
type Crawler struct {
	cfg        *config.Config
	logger     *slog.Logger
	baseURL    string
	fetcher    Fetcher
	extractor  Extractor
	pipeline   Pipeline
	mirror     PageSink
	frontier   *Frontier
	admission  *Admission
	robots     *RobotsPolicy
	retry      *RetryPolicy
	politeness *Politeness
	stats      *Stats
	pages      []types.Page
	ledger     *Ledger
	state      atomic.Int32
	now        func() time.Time
}

// New creates a Crawler for cfg.Engine.BaseURL. Robots rules default to
// allow-all until SetRobots is called.
func New(cfg *config.Config, f Fetcher, extractor Extractor, logger *slog.Logger) (*Crawler, error) {
	if err := config.ValidateURL(cfg.Engine.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidURL, err)
	}
	robots := AllowAllRobots()
	admission, err := NewAdmission(cfg.Engine.BaseURL, cfg.Engine.SkipExtensions, robots)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "crawler")
	stats := NewStats()
	sleeper := TimerSleeper{}

	c := &Crawler{
		cfg:       cfg,
		logger:    logger,
		baseURL:   cfg.Engine.BaseURL,
		fetcher:   f,
		extractor: extractor,
		frontier:  NewFrontier(NewVisitedSet(cfg.Engine.MaxPages * 4)),
		admission: admission,
		robots:    robots,
		retry: NewRetryPolicy(f, RetryOptions{
			MaxAttempts:          cfg.Engine.MaxRetries,
			RetryDelay:           cfg.Engine.RetryDelay,
			Backoff:              cfg.Engine.Backoff,
			JitterMin:            cfg.Engine.JitterMin,
			JitterMax:            cfg.Engine.JitterMax,
			MaxRequestsPerMinute: cfg.Engine.MaxRequestsPerMinute,
		}, sleeper, stats, logger),
		politeness: NewPoliteness(cfg.Engine.BaseDelay, cfg.Engine.DelayJitterMin, cfg.Engine.DelayJitterMax, sleeper),
		stats:      stats,
		ledger:     NewLedger(nil),
		now:        time.Now,
	}
	return c, nil
}

// SetRobots installs the robots rules. A Crawl-delay larger than the base
// delay replaces it.
func (c *Crawler) SetRobots(robots *RobotsPolicy) {
	if robots == nil {
		robots = AllowAllRobots()
	}
	c.robots = robots
	c.admission.SetRobots(robots)
	c.stats.RobotsDegraded.Store(robots.Degraded())
	if c.politeness.RaiseBaseDelay(robots.CrawlDelay()) {
		c.logger.Info("respecting robots.txt crawl-delay", "delay", robots.CrawlDelay())
	}
}

// SetPipeline sets the page pipeline.
func (c *Crawler) SetPipeline(p Pipeline) {
	c.pipeline = p
}

// SetMirror sets a sink that receives each page as it is collected.
func (c *Crawler) SetMirror(s PageSink) {
	c.mirror = s
}

// SetSleeper replaces the sleeper used for jitter, backoff and politeness.
func (c *Crawler) SetSleeper(s Sleeper) {
	c.retry.sleeper = s
	c.politeness.sleeper = s
}

// Run crawls breadth-first from the base URL until the frontier is empty or
// max_pages pages are collected. Cancelling ctx stops the loop early and
// returns the partial result with Interrupted set.
func (c *Crawler) Run(ctx context.Context) (*Result, error) {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return nil, fmt.Errorf("%w: crawler is %s", types.ErrCrawlRunning, c.State())
	}
	defer c.state.Store(int32(StateDone))

	c.stats.StartTime = c.now()
	maxPages := c.cfg.Engine.MaxPages

	c.logger.Info("crawl starting",
		"base_url", c.baseURL,
		"domain", c.admission.Domain(),
		"max_pages", maxPages,
		"base_delay", c.politeness.BaseDelay(),
		"robots", c.robots.Source(),
		"robots_degraded", c.robots.Degraded(),
	)

	if c.frontier.Push(c.baseURL) {
		c.stats.URLsEnqueued.Add(1)
	}

	interrupted := false
	for !c.frontier.IsEmpty() && len(c.pages) < maxPages {
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		rawURL, _ := c.frontier.Pop()
		c.stats.QueueDepth.Store(int64(c.frontier.Len()))

		if decision := c.admission.Admit(rawURL); !decision.Allowed {
			c.skip(rawURL, decision)
			continue
		}

		c.logProgress(rawURL)

		page, links, reason, canceled := c.crawlPage(ctx, rawURL)
		if canceled {
			interrupted = true
			break
		}
		if reason != "" {
			c.recordFailure(rawURL, reason)
		} else {
			c.collect(ctx, page)
			added := 0
			for _, link := range links {
				if c.frontier.Push(link) {
					added++
				}
			}
			c.stats.URLsEnqueued.Add(int64(added))
			c.stats.QueueDepth.Store(int64(c.frontier.Len()))
			c.logger.Debug("collected page", "url", rawURL, "chars", len(page.Content), "new_links", added)
		}

		if c.frontier.IsEmpty() || len(c.pages) >= maxPages {
			break
		}
		if err := c.politeness.Wait(ctx); err != nil {
			interrupted = true
			break
		}
	}

	result := c.result(interrupted)
	c.logger.Info("crawl finished",
		"pages", len(result.Pages),
		"failed", len(result.Failed),
		"visited", result.Visited,
		"interrupted", interrupted,
		"stats", c.stats.Snapshot(),
	)
	return result, nil
}

// RetryFailed re-fetches every ledgered URL once through the retry policy,
// without admission checks or link discovery. Recovered pages are appended
// to the session's pages; URLs that still fail form the new ledger.
// Records not reached before ctx is cancelled are carried over unchanged.
func (c *Crawler) RetryFailed(ctx context.Context, records []types.FailureRecord) int {
	next := NewLedger(nil)
	recovered := 0

	c.logger.Info("retrying failed pages", "count", len(records))
	for i, rec := range records {
		if ctx.Err() != nil {
			c.carryOver(next, records[i:])
			break
		}

		c.logger.Info("retrying", "n", i+1, "of", len(records), "url", rec.URL, "previous_reason", rec.Reason)
		page, _, reason, canceled := c.crawlPage(ctx, rec.URL)
		if canceled {
			c.carryOver(next, records[i:])
			break
		}

		if reason == "" {
			c.collect(ctx, page)
			recovered++
			c.logger.Info("recovered page", "url", rec.URL, "chars", len(page.Content))
		} else {
			c.stats.Errors.Add(1)
			if next.Record(rec.URL, reason, c.now()) {
				c.stats.Ledgered.Add(1)
				c.logger.Warn("still failing", "url", rec.URL, "reason", reason)
			} else {
				c.logger.Info("dropping from ledger", "url", rec.URL, "reason", reason)
			}
		}

		if i < len(records)-1 {
			if err := c.politeness.Wait(ctx); err != nil {
				c.carryOver(next, records[i+1:])
				break
			}
		}
	}

	c.ledger = next
	c.logger.Info("retry pass finished", "recovered", recovered, "still_failing", next.Len())
	return recovered
}

// Pages returns the pages collected so far.
func (c *Crawler) Pages() []types.Page {
	return c.pages
}

// Failed returns the current failure ledger.
func (c *Crawler) Failed() []types.FailureRecord {
	return c.ledger.Records()
}

// Stats returns the live crawl statistics.
func (c *Crawler) Stats() *Stats {
	return c.stats
}

// State returns the current lifecycle state.
func (c *Crawler) State() State {
	return State(c.state.Load())
}

// Visited returns the number of distinct URLs enqueued this session.
func (c *Crawler) Visited() int {
	return c.frontier.Visited().Len()
}

// Pending returns the URLs still queued.
func (c *Crawler) Pending() []string {
	return c.frontier.Snapshot()
}

// crawlPage fetches and extracts one URL. It returns a non-empty reason on
// failure and canceled when ctx ended mid-fetch.
func (c *Crawler) crawlPage(ctx context.Context, rawURL string) (types.Page, []string, types.FailureReason, bool) {
	res := c.retry.Do(ctx, rawURL)
	if res.Canceled {
		return types.Page{}, nil, "", true
	}
	if res.Reason != "" {
		return types.Page{}, nil, res.Reason, false
	}

	page, links, err := c.extractor.Extract(res.Response.Body, rawURL, c.admission.InScope)
	if err != nil {
		return types.Page{}, nil, types.ExceptionReason(err.Error()), false
	}

	if c.pipeline != nil {
		processed, err := c.pipeline.Process(&page)
		if err != nil {
			return types.Page{}, nil, types.ExceptionReason(err.Error()), false
		}
		if processed == nil {
			return types.Page{}, nil, types.ReasonNoContent, false
		}
		page = *processed
	}
	if strings.TrimSpace(page.Content) == "" {
		return types.Page{}, nil, types.ReasonNoContent, false
	}
	return page, links, "", false
}

func (c *Crawler) collect(ctx context.Context, page types.Page) {
	c.pages = append(c.pages, page)
	c.stats.PagesCollected.Add(1)
	c.stats.CharsCollected.Add(int64(len(page.Content)))

	if c.mirror != nil {
		if err := c.mirror.Store(ctx, []types.Page{page}); err != nil {
			c.logger.Warn("mirror store failed", "url", page.URL, "error", err)
		}
	}
}

func (c *Crawler) skip(rawURL string, decision Decision) {
	switch decision.Reason {
	case types.ReasonBlockedByRobots:
		c.stats.RobotsDenied.Add(1)
		c.logger.Info("skipping (robots.txt)", "url", rawURL)
	default:
		c.stats.URLsFiltered.Add(1)
		c.logger.Debug("skipping (out of scope)", "url", rawURL, "reason", decision.Reason)
	}
}

func (c *Crawler) recordFailure(rawURL string, reason types.FailureReason) {
	c.stats.Errors.Add(1)
	if c.ledger.Record(rawURL, reason, c.now()) {
		c.stats.Ledgered.Add(1)
		c.logger.Warn("failed (logged for retry)", "url", rawURL, "reason", reason)
		return
	}
	c.logger.Info("skipped", "url", rawURL, "reason", reason)
}

func (c *Crawler) carryOver(next *Ledger, records []types.FailureRecord) {
	for _, rec := range records {
		next.add(rec)
	}
}

func (c *Crawler) logProgress(rawURL string) {
	collected := len(c.pages)
	elapsed := c.now().Sub(c.stats.StartTime)
	attrs := []any{
		"n", collected + 1,
		"max", c.cfg.Engine.MaxPages,
		"url", rawURL,
		"queue", c.frontier.Len(),
		"errors", c.stats.Errors.Load(),
		"elapsed", elapsed.Round(time.Second),
	}
	if collected > 0 {
		perPage := elapsed / time.Duration(collected)
		attrs = append(attrs, "eta", (perPage * time.Duration(c.cfg.Engine.MaxPages-collected)).Round(time.Second))
	}
	c.logger.Info("crawling", attrs...)
}

func (c *Crawler) result(interrupted bool) *Result {
	return &Result{
		Pages:          c.pages,
		Failed:         c.ledger.Records(),
		Visited:        c.Visited(),
		Errors:         c.stats.Errors.Load(),
		Elapsed:        c.now().Sub(c.stats.StartTime),
		Interrupted:    interrupted,
		RobotsDegraded: c.robots.Degraded(),
	}
}

package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

// Backoff strategies.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// FetchResult is the outcome of a bounded retry loop for one URL. Exactly
// one of Response or Reason is set unless Canceled.
type FetchResult struct {
	Response *types.Response
	Reason   types.FailureReason
	Attempts int
	Canceled bool
}

// RetryPolicy wraps a Fetcher in a bounded attempt loop that sleeps
// between retryable outcomes.
type RetryPolicy struct {
	fetcher     Fetcher
	maxAttempts int
	retryDelay  time.Duration
	backoff     string
	jitterMin   time.Duration
	jitterMax   time.Duration
	limiter     *rate.Limiter
	sleeper     Sleeper
	randFloat   func() float64
	stats       *Stats
	logger      *slog.Logger
}

// RetryOptions configures a RetryPolicy.
type RetryOptions struct {
	MaxAttempts          int
	RetryDelay           time.Duration
	Backoff              string
	JitterMin            time.Duration
	JitterMax            time.Duration
	MaxRequestsPerMinute int
}

// NewRetryPolicy creates a RetryPolicy around f.
func NewRetryPolicy(f Fetcher, opts RetryOptions, sleeper Sleeper, stats *Stats, logger *slog.Logger) *RetryPolicy {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	if stats == nil {
		stats = NewStats()
	}
	return &RetryPolicy{
		fetcher:     f,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		backoff:     opts.Backoff,
		jitterMin:   opts.JitterMin,
		jitterMax:   opts.JitterMax,
		limiter:     newRequestLimiter(opts.MaxRequestsPerMinute),
		sleeper:     sleeper,
		randFloat:   rand.Float64,
		stats:       stats,
		logger:      logger.With("component", "retry"),
	}
}

// Do fetches rawURL, retrying 429, 5xx and transient errors. Terminal
// outcomes return immediately; exhausting attempts yields
// max_retries_exceeded.
func (p *RetryPolicy) Do(ctx context.Context, rawURL string) FetchResult {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := p.sleeper.Sleep(ctx, uniform(p.jitterMin, p.jitterMax, p.randFloat)); err != nil {
			return FetchResult{Attempts: attempt - 1, Canceled: true}
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return FetchResult{Attempts: attempt - 1, Canceled: true}
			}
		}

		p.stats.RequestsSent.Add(1)
		resp, outcome := p.fetcher.Fetch(ctx, rawURL)

		switch {
		case outcome.Kind == types.OutcomeSuccess:
			p.stats.BytesDownloaded.Add(resp.ContentLength)
			return FetchResult{Response: resp, Attempts: attempt}
		case outcome.Kind == types.OutcomeCanceled:
			return FetchResult{Attempts: attempt, Canceled: true}
		case !outcome.Kind.Retryable():
			p.logger.Debug("terminal outcome", "url", rawURL, "outcome", outcome.Kind, "status", outcome.StatusCode)
			return FetchResult{Reason: outcome.Reason(), Attempts: attempt}
		}

		if attempt == p.maxAttempts {
			p.logger.Warn("giving up", "url", rawURL, "attempts", attempt, "outcome", outcome.Kind, "error", outcome.Err)
			break
		}

		wait := p.delay(attempt, outcome)
		p.stats.Retries.Add(1)
		p.logger.Warn("retrying request",
			"url", rawURL,
			"attempt", attempt,
			"max_attempts", p.maxAttempts,
			"outcome", outcome.Kind,
			"status", outcome.StatusCode,
			"wait", wait,
		)
		if err := p.sleeper.Sleep(ctx, wait); err != nil {
			return FetchResult{Attempts: attempt, Canceled: true}
		}
	}
	return FetchResult{Reason: types.ReasonMaxRetriesExceeded, Attempts: p.maxAttempts}
}

// delay returns the wait before the attempt following attempt. A 429
// Retry-After wins over the computed backoff.
func (p *RetryPolicy) delay(attempt int, outcome types.Outcome) time.Duration {
	if outcome.Kind == types.OutcomeRateLimited && outcome.RetryAfter > 0 {
		return outcome.RetryAfter
	}
	if p.backoff == BackoffExponential {
		base := p.retryDelay << (attempt - 1)
		return base + time.Duration(p.randFloat()*0.25*float64(base))
	}
	return p.retryDelay * time.Duration(attempt)
}

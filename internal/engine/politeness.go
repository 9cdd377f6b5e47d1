package engine

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep waits for d, returning ctx.Err() if the context ends first.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Politeness enforces the pause between processed URLs:
// base delay plus a uniform random extra.
type Politeness struct {
	baseDelay time.Duration
	jitterMin time.Duration
	jitterMax time.Duration
	sleeper   Sleeper
	randFloat func() float64
}

// NewPoliteness creates a Politeness sleeping on sleeper.
func NewPoliteness(baseDelay, jitterMin, jitterMax time.Duration, sleeper Sleeper) *Politeness {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	return &Politeness{
		baseDelay: baseDelay,
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		sleeper:   sleeper,
		randFloat: rand.Float64,
	}
}

// BaseDelay returns the current base delay.
func (p *Politeness) BaseDelay() time.Duration {
	return p.baseDelay
}

// RaiseBaseDelay replaces the base delay if d is larger. Reports whether it
// changed.
func (p *Politeness) RaiseBaseDelay(d time.Duration) bool {
	if d <= p.baseDelay {
		return false
	}
	p.baseDelay = d
	return true
}

// Next returns the next pause length.
func (p *Politeness) Next() time.Duration {
	return p.baseDelay + uniform(p.jitterMin, p.jitterMax, p.randFloat)
}

// Wait sleeps for Next().
func (p *Politeness) Wait(ctx context.Context) error {
	return p.sleeper.Sleep(ctx, p.Next())
}

// newRequestLimiter returns a limiter allowing perMinute requests per
// minute, or nil when perMinute is zero.
func newRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// uniform draws a duration in [lo, hi).
func uniform(lo, hi time.Duration, randFloat func() float64) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(randFloat()*float64(hi-lo))
}

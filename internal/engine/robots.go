package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/temoto/robotstxt"
)

const robotsMaxBytes = 512 * 1024

// RobotsPolicy holds the robots.txt rules loaded once at crawl start.
// A nil rule set allows everything.
type RobotsPolicy struct {
	data       *robotstxt.RobotsData
	crawlDelay time.Duration
	degraded   bool
	source     string
}

// AllowAllRobots returns a policy that permits every URL.
func AllowAllRobots() *RobotsPolicy {
	return &RobotsPolicy{}
}

// ParseRobots builds a policy from a robots.txt response. 2xx bodies are
// parsed; 4xx means no restrictions. 5xx and unparsable bodies are reported
// as errors so the caller can degrade.
func ParseRobots(statusCode int, body []byte) (*RobotsPolicy, error) {
	if statusCode >= 500 {
		return nil, fmt.Errorf("robots.txt returned status %d", statusCode)
	}
	data, err := robotstxt.FromStatusAndBytes(statusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	policy := &RobotsPolicy{data: data}
	if statusCode >= 200 && statusCode < 300 {
		policy.crawlDelay = scanCrawlDelay(string(body))
	}
	return policy, nil
}

// LoadRobots fetches {baseURL}/robots.txt. It never fails: an unreachable,
// unparsable or 5xx robots.txt yields an allow-all policy marked degraded,
// logged at WARN.
func LoadRobots(ctx context.Context, client *http.Client, baseURL, userAgent string, timeout time.Duration, logger *slog.Logger) *RobotsPolicy {
	logger = logger.With("component", "robots")

	robotsURL, err := robotsLocation(baseURL)
	if err != nil {
		logger.Warn("robots.txt unavailable, allowing all URLs", "error", err)
		return degradedRobots("")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		logger.Warn("robots.txt unavailable, allowing all URLs", "url", robotsURL, "error", err)
		return degradedRobots(robotsURL)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("robots.txt unreachable, allowing all URLs", "url", robotsURL, "error", err)
		return degradedRobots(robotsURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		logger.Warn("robots.txt read failed, allowing all URLs", "url", robotsURL, "error", err)
		return degradedRobots(robotsURL)
	}

	policy, err := ParseRobots(resp.StatusCode, body)
	if err != nil {
		logger.Warn("robots.txt unusable, allowing all URLs", "url", robotsURL, "error", err)
		return degradedRobots(robotsURL)
	}
	policy.source = robotsURL

	logger.Info("loaded robots.txt", "url", robotsURL, "status", resp.StatusCode, "crawl_delay", policy.crawlDelay)
	return policy
}

// Allowed reports whether user-agent "*" may fetch rawURL.
func (p *RobotsPolicy) Allowed(rawURL string) bool {
	if p == nil || p.data == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return p.data.TestAgent(path, "*")
}

// CrawlDelay returns the largest Crawl-delay found in robots.txt, zero if none.
func (p *RobotsPolicy) CrawlDelay() time.Duration {
	if p == nil {
		return 0
	}
	return p.crawlDelay
}

// Degraded reports whether robots.txt could not be used and every URL is
// being allowed as a fallback.
func (p *RobotsPolicy) Degraded() bool {
	return p != nil && p.degraded
}

// Source returns the robots.txt URL the policy was loaded from.
func (p *RobotsPolicy) Source() string {
	if p == nil {
		return ""
	}
	return p.source
}

func degradedRobots(source string) *RobotsPolicy {
	return &RobotsPolicy{degraded: true, source: source}
}

func robotsLocation(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base URL %q is not absolute", baseURL)
	}
	return u.Scheme + "://" + u.Host + "/robots.txt", nil
}

// scanCrawlDelay looks at every line mentioning crawl-delay, regardless of
// user-agent group, and keeps the largest value.
func scanCrawlDelay(body string) time.Duration {
	var longest time.Duration
	for _, line := range strings.Split(body, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		if !strings.Contains(strings.ToLower(line), "crawl-delay") {
			continue
		}
		_, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || secs < 0 {
			continue
		}
		if d := time.Duration(secs * float64(time.Second)); d > longest {
			longest = d
		}
	}
	return longest
}

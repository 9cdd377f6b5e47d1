package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/sitecrawl/internal/types"
)

const root = "https://example.com"

func newTestCrawler(t *testing.T, maxPages int, f *fakeFetcher) (*Crawler, *recordingSleeper) {
	t.Helper()
	c, err := New(testConfig(root, maxPages), f, fakeExtractor{}, testLogger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := &recordingSleeper{}
	c.SetSleeper(s)
	return c, s
}

func pageURLs(pages []types.Page) []string {
	urls := make([]string, len(pages))
	for i, p := range pages {
		urls[i] = p.URL
	}
	return urls
}

type recordingSink struct {
	mu    sync.Mutex
	pages []types.Page
	err   error
}

func (s *recordingSink) Store(_ context.Context, pages []types.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, pages...)
	return s.err
}

type dropPipeline struct{ title string }

func (p dropPipeline) Process(page *types.Page) (*types.Page, error) {
	if page.Title == p.title {
		return nil, nil
	}
	return page, nil
}

func TestCrawlerStopsAtBudget(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		root:                    {Title: "Home", Content: "home", Links: []string{"/a", "/b", "/c", "/d"}},
		"https://example.com/a": {Title: "A", Content: "a"},
		"https://example.com/b": {Title: "B", Content: "b"},
		"https://example.com/c": {Title: "C", Content: "c"},
		"https://example.com/d": {Title: "D", Content: "d"},
	})
	c, _ := newTestCrawler(t, 3, f)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{root, "https://example.com/a", "https://example.com/b"}
	if got := pageURLs(res.Pages); !reflect.DeepEqual(got, want) {
		t.Errorf("pages = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("fetches = %v, want %v", f.calls, want)
	}
	if res.Interrupted {
		t.Error("budget stop is not an interruption")
	}
	if pending := c.Pending(); !reflect.DeepEqual(pending, []string{"https://example.com/c", "https://example.com/d"}) {
		t.Errorf("pending = %v", pending)
	}
	if c.State() != StateDone {
		t.Errorf("expected done state, got %s", c.State())
	}
}

func TestCrawlerFullSite(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		root: {Title: "Home", Content: "home", Links: []string{
			"/a", "/b", "/bad", "/missing", "/file.pdf", "https://other.com/x", "/private/p", "#frag",
		}},
		"https://example.com/a":   {Title: "A", Content: "a", Links: []string{"/", "/b", "/a/", "/c"}},
		"https://example.com/b":   {Title: "B", Content: "   "},
		"https://example.com/c":   {Title: "C", Content: "c"},
		"https://example.com/bad": {Title: "Bad", Content: "never served"},
	})
	f.script("https://example.com/bad", types.Outcome{Kind: types.OutcomeServerError, StatusCode: 503})

	c, s := newTestCrawler(t, 100, f)
	robots, err := ParseRobots(200, []byte("User-agent: *\nDisallow: /private\nCrawl-delay: 10\n"))
	if err != nil {
		t.Fatal(err)
	}
	c.SetRobots(robots)
	sink := &recordingSink{}
	c.SetMirror(sink)

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantPages := []string{root, "https://example.com/a", "https://example.com/c"}
	if got := pageURLs(res.Pages); !reflect.DeepEqual(got, wantPages) {
		t.Errorf("pages = %v, want %v", got, wantPages)
	}
	if got := pageURLs(sink.pages); !reflect.DeepEqual(got, wantPages) {
		t.Errorf("mirrored pages = %v, want %v", got, wantPages)
	}

	if len(res.Failed) != 1 {
		t.Fatalf("expected one ledgered failure, got %+v", res.Failed)
	}
	if res.Failed[0].URL != "https://example.com/bad" || res.Failed[0].Reason != types.ReasonMaxRetriesExceeded {
		t.Errorf("unexpected ledger entry %+v", res.Failed[0])
	}
	if f.hitCount("https://example.com/bad") != 3 {
		t.Errorf("expected 3 attempts on /bad, got %d", f.hitCount("https://example.com/bad"))
	}
	if f.hitCount(root) != 1 || f.hitCount("https://example.com/private/p") != 0 {
		t.Error("each admitted URL is fetched once; robots-denied URLs never")
	}

	if res.Visited != 7 {
		t.Errorf("expected 7 visited URLs, got %d", res.Visited)
	}
	if res.Errors != 3 {
		t.Errorf("expected 3 errors (no content, retries, 404), got %d", res.Errors)
	}
	if c.Stats().RobotsDenied.Load() != 1 {
		t.Errorf("expected 1 robots denial, got %d", c.Stats().RobotsDenied.Load())
	}

	if c.politeness.BaseDelay() != 10*time.Second {
		t.Errorf("crawl-delay should raise base delay, got %v", c.politeness.BaseDelay())
	}
	polite := 0
	for _, d := range s.durations() {
		if d >= 10500*time.Millisecond {
			polite++
		}
	}
	// Five processed URLs are followed by another; the last one is not.
	if polite != 5 {
		t.Errorf("expected 5 politeness pauses, got %d (%v)", polite, s.durations())
	}
}

func TestCrawlerNoPauseAfterLastPage(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		root: {Title: "Home", Content: "only page"},
	})
	c, s := newTestCrawler(t, 10, f)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	// One pre-request jitter and nothing else.
	if got := s.durations(); len(got) != 1 || got[0] > 500*time.Millisecond {
		t.Errorf("unexpected sleeps %v", got)
	}
}

func TestCrawlerPipelineAndMirrorErrors(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		root:                       {Title: "Home", Content: "home", Links: []string{"/drop"}},
		"https://example.com/drop": {Title: "drop", Content: "dropped"},
	})
	c, _ := newTestCrawler(t, 10, f)
	c.SetPipeline(dropPipeline{title: "drop"})
	c.SetMirror(&recordingSink{err: errors.New("mirror offline")})

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := pageURLs(res.Pages); !reflect.DeepEqual(got, []string{root}) {
		t.Errorf("pages = %v", got)
	}
	if len(res.Failed) != 0 {
		t.Errorf("no_content is not ledgered, got %+v", res.Failed)
	}
}

func TestCrawlerInterrupted(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		root:                    {Title: "Home", Content: "home", Links: []string{"/a", "/b"}},
		"https://example.com/a": {Title: "A", Content: "a"},
		"https://example.com/b": {Title: "B", Content: "b"},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onFetch = func(rawURL string) {
		if rawURL == "https://example.com/a" {
			cancel()
		}
	}
	c, _ := newTestCrawler(t, 10, f)

	res, err := c.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted {
		t.Error("expected interrupted result")
	}
	if got := pageURLs(res.Pages); !reflect.DeepEqual(got, []string{root}) {
		t.Errorf("pages = %v", got)
	}
	if len(res.Failed) != 0 {
		t.Errorf("in-flight URL must not be ledgered, got %+v", res.Failed)
	}
}

func TestCrawlerRunOnce(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{root: {Content: "x"}})
	c, _ := newTestCrawler(t, 1, f)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background()); !errors.Is(err, types.ErrCrawlRunning) {
		t.Errorf("second Run should fail with ErrCrawlRunning, got %v", err)
	}
}

func TestCrawlerRejectsBadBaseURL(t *testing.T) {
	if _, err := New(testConfig("", 10), newFakeFetcher(nil), fakeExtractor{}, testLogger); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestCrawlerDegradedRobots(t *testing.T) {
	c, _ := newTestCrawler(t, 1, newFakeFetcher(map[string]fakePage{root: {Content: "x"}}))
	c.SetRobots(degradedRobots(root + "/robots.txt"))

	res, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !res.RobotsDegraded {
		t.Error("result should report degraded robots")
	}
	if c.Stats().Counters()["robots_degraded"] != 1 {
		t.Error("degraded robots should show in counters")
	}
}

func TestRetryFailed(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		"https://example.com/flaky": {Title: "Flaky", Content: "recovered"},
		"https://example.com/still": {Title: "Still", Content: "never"},
	})
	f.script("https://example.com/still", types.Outcome{Kind: types.OutcomeServerError, StatusCode: 502})
	c, _ := newTestCrawler(t, 10, f)

	then := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	recovered := c.RetryFailed(context.Background(), []types.FailureRecord{
		{URL: "https://example.com/flaky", Reason: types.ReasonMaxRetriesExceeded, Timestamp: then},
		{URL: "https://example.com/gone", Reason: types.ExceptionReason("EOF"), Timestamp: then},
		{URL: "https://example.com/still", Reason: types.ReasonMaxRetriesExceeded, Timestamp: then},
	})

	if recovered != 1 {
		t.Errorf("expected 1 recovered, got %d", recovered)
	}
	if got := pageURLs(c.Pages()); !reflect.DeepEqual(got, []string{"https://example.com/flaky"}) {
		t.Errorf("pages = %v", got)
	}

	failed := c.Failed()
	if len(failed) != 1 || failed[0].URL != "https://example.com/still" {
		t.Fatalf("expected only /still to remain, got %+v", failed)
	}
	if failed[0].Timestamp.Equal(then) {
		t.Error("remaining record should carry a fresh timestamp")
	}
}

func TestRetryFailedAllRecovered(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{
		"https://example.com/x": {Content: "x"},
		"https://example.com/y": {Content: "y"},
	})
	c, _ := newTestCrawler(t, 10, f)

	recovered := c.RetryFailed(context.Background(), []types.FailureRecord{
		{URL: "https://example.com/x", Reason: types.ReasonMaxRetriesExceeded},
		{URL: "https://example.com/y", Reason: types.ReasonMaxRetriesExceeded},
	})
	if recovered != 2 || len(c.Failed()) != 0 {
		t.Errorf("recovered=%d failed=%v", recovered, c.Failed())
	}
}

func TestRetryFailedCanceledCarriesOver(t *testing.T) {
	f := newFakeFetcher(map[string]fakePage{"https://example.com/x": {Content: "x"}})
	c, _ := newTestCrawler(t, 10, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records := []types.FailureRecord{
		{URL: "https://example.com/x", Reason: types.ReasonMaxRetriesExceeded},
		{URL: "https://example.com/y", Reason: types.ExceptionReason("boom")},
	}
	if recovered := c.RetryFailed(ctx, records); recovered != 0 {
		t.Errorf("expected nothing recovered, got %d", recovered)
	}
	if got := c.Failed(); !reflect.DeepEqual(got, records) {
		t.Errorf("unprocessed records should carry over, got %+v", got)
	}
}

package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

// fakePage is the body served by fakeFetcher and decoded by fakeExtractor.
type fakePage struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Links   []string `json:"links"`
}

// fakeFetcher serves pages from a map. Scripted outcomes are replayed per
// URL in order, the last one repeating. Unknown URLs are 404s.
type fakeFetcher struct {
	mu       sync.Mutex
	site     map[string]fakePage
	outcomes map[string][]types.Outcome
	hits     map[string]int
	calls    []string
	onFetch  func(rawURL string)
}

func newFakeFetcher(site map[string]fakePage) *fakeFetcher {
	return &fakeFetcher{
		site:     site,
		outcomes: make(map[string][]types.Outcome),
		hits:     make(map[string]int),
	}
}

func (f *fakeFetcher) script(rawURL string, outcomes ...types.Outcome) {
	f.outcomes[rawURL] = outcomes
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*types.Response, types.Outcome) {
	f.mu.Lock()
	n := f.hits[rawURL]
	f.hits[rawURL] = n + 1
	f.calls = append(f.calls, rawURL)
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(rawURL)
	}
	if ctx.Err() != nil {
		return nil, types.Outcome{Kind: types.OutcomeCanceled, Err: ctx.Err()}
	}

	if outs, ok := f.outcomes[rawURL]; ok && len(outs) > 0 {
		out := outs[len(outs)-1]
		if n < len(outs) {
			out = outs[n]
		}
		if out.Kind != types.OutcomeSuccess {
			return nil, out
		}
	}

	page, ok := f.site[rawURL]
	if !ok {
		return nil, types.Outcome{Kind: types.OutcomeNotFound, StatusCode: 404}
	}
	body, _ := json.Marshal(page)
	return &types.Response{
		URL:           rawURL,
		StatusCode:    200,
		Body:          body,
		ContentType:   "text/html",
		ContentLength: int64(len(body)),
	}, types.Outcome{Kind: types.OutcomeSuccess, StatusCode: 200}
}

func (f *fakeFetcher) Close() error { return nil }

func (f *fakeFetcher) hitCount(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[rawURL]
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(body []byte, pageURL string, admit func(string) bool) (types.Page, []string, error) {
	var fp fakePage
	if err := json.Unmarshal(body, &fp); err != nil {
		return types.Page{}, nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return types.Page{}, nil, err
	}

	var links []string
	for _, href := range fp.Links {
		link, ok := ResolveURL(base, href)
		if !ok || (admit != nil && !admit(link)) {
			continue
		}
		links = append(links, link)
	}
	return types.Page{URL: pageURL, Title: fp.Title, Content: fp.Content}, links, nil
}

// recordingSleeper returns immediately, remembering every requested
// duration.
type recordingSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.slept))
	copy(out, s.slept)
	return out
}

func testConfig(baseURL string, maxPages int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Engine.BaseURL = baseURL
	cfg.Engine.MaxPages = maxPages
	return cfg
}

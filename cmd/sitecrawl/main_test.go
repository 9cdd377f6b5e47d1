package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/engine"
	"github.com/IshaanNene/sitecrawl/internal/extract"
	"github.com/IshaanNene/sitecrawl/internal/fetcher"
	"github.com/IshaanNene/sitecrawl/internal/storage"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func testConfig(t *testing.T, base string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.BaseURL = base
	cfg.Engine.BaseDelay = 0
	cfg.Engine.DelayJitterMin = 0
	cfg.Engine.DelayJitterMax = 0
	cfg.Engine.RetryDelay = 0
	cfg.Engine.JitterMin = 0
	cfg.Engine.JitterMax = 0
	cfg.Engine.RequestTimeout = 5 * time.Second
	cfg.Output.Dir = t.TempDir()
	return cfg
}

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func siteServer(healthy *atomic.Bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><title>Home</title></head><body><main>
				<p>Welcome home.</p><a href="/a">A</a><a href="/flaky">Flaky</a><a href="/gone">Gone</a>
			</main></body></html>`)
		case "/a":
			fmt.Fprint(w, `<html><head><title>A</title></head><body><p>Page A.</p></body></html>`)
		case "/flaky":
			if !healthy.Load() {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `<html><head><title>Flaky</title></head><body><p>Back up.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	return httptest.NewServer(mux)
}

func TestCrawlThenRetry(t *testing.T) {
	var healthy atomic.Bool
	srv := siteServer(&healthy)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	ctx := context.Background()

	if err := runCrawl(ctx, cfg, testLogger); err != nil {
		t.Fatalf("runCrawl: %v", err)
	}

	paths := storage.ArtifactPaths(&cfg.Output)
	exp, err := storage.ReadJSON(paths.JSON)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if exp.Metadata.TotalPages != 2 || len(exp.Pages) != 2 {
		t.Fatalf("exported %d pages (total_pages=%d), want 2", len(exp.Pages), exp.Metadata.TotalPages)
	}
	if exp.Pages[0].URL != srv.URL || exp.Pages[1].URL != srv.URL+"/a" {
		t.Errorf("page order = %s, %s", exp.Pages[0].URL, exp.Pages[1].URL)
	}
	md, err := os.ReadFile(paths.Markdown)
	if err != nil {
		t.Fatalf("markdown export: %v", err)
	}
	if !strings.Contains(string(md), "PAGE 2: A") {
		t.Errorf("markdown missing second page:\n%s", md)
	}

	ledger, err := storage.ReadLedger(paths.Failed)
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(ledger.FailedPages) != 1 {
		t.Fatalf("ledger = %+v, want only /flaky", ledger.FailedPages)
	}
	if rec := ledger.FailedPages[0]; rec.URL != srv.URL+"/flaky" || rec.Reason != types.ReasonMaxRetriesExceeded {
		t.Errorf("ledger record = %+v", rec)
	}

	healthy.Store(true)
	retryCfg := testConfig(t, "")
	retryCfg.Output.Dir = cfg.Output.Dir
	if err := runRetry(ctx, retryCfg, testLogger); err != nil {
		t.Fatalf("runRetry: %v", err)
	}

	exp, err = storage.ReadJSON(paths.JSON)
	if err != nil {
		t.Fatalf("ReadJSON after retry: %v", err)
	}
	if exp.Metadata.TotalPages != 3 || exp.Pages[2].URL != srv.URL+"/flaky" {
		t.Errorf("merged export = %d pages, last %q", exp.Metadata.TotalPages, exp.Pages[len(exp.Pages)-1].URL)
	}
	if _, err := os.Stat(paths.Failed); !os.IsNotExist(err) {
		t.Errorf("ledger should be removed once everything recovered, stat err = %v", err)
	}
}

func TestRetryStillFailingRewritesLedger(t *testing.T) {
	var healthy atomic.Bool
	srv := siteServer(&healthy)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	paths := storage.ArtifactPaths(&cfg.Output)
	records := []types.FailureRecord{
		{URL: srv.URL + "/flaky", Reason: types.ReasonMaxRetriesExceeded, Timestamp: time.Now()},
		{URL: srv.URL + "/a", Reason: types.ExceptionReason("connection reset"), Timestamp: time.Now()},
	}
	if _, err := storage.WriteLedger(paths.Failed, srv.URL, records, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := runRetry(context.Background(), cfg, testLogger); err != nil {
		t.Fatalf("runRetry: %v", err)
	}

	exp, err := storage.ReadJSON(paths.JSON)
	if err != nil {
		t.Fatalf("retry should create the export when none exists: %v", err)
	}
	if len(exp.Pages) != 1 || exp.Pages[0].URL != srv.URL+"/a" {
		t.Errorf("export pages = %+v", exp.Pages)
	}

	ledger, err := storage.ReadLedger(paths.Failed)
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(ledger.FailedPages) != 1 || ledger.FailedPages[0].URL != srv.URL+"/flaky" {
		t.Errorf("ledger = %+v", ledger.FailedPages)
	}
	if ledger.Metadata.TotalFailed != 1 {
		t.Errorf("total_failed = %d", ledger.Metadata.TotalFailed)
	}
}

func TestRetryHonorsCrawlDelay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\nCrawl-delay: 2\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><title>%s</title></head><body><p>ok</p></body></html>`, r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rec := &recordingSleeper{}
	saved := sleeper
	sleeper = rec
	t.Cleanup(func() { sleeper = saved })

	cfg := testConfig(t, "")
	paths := storage.ArtifactPaths(&cfg.Output)
	records := []types.FailureRecord{
		{URL: srv.URL + "/one", Reason: types.ReasonMaxRetriesExceeded, Timestamp: time.Now()},
		{URL: srv.URL + "/private", Reason: types.ReasonMaxRetriesExceeded, Timestamp: time.Now()},
	}
	if _, err := storage.WriteLedger(paths.Failed, srv.URL, records, time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := runRetry(context.Background(), cfg, testLogger); err != nil {
		t.Fatalf("runRetry: %v", err)
	}

	waits := 0
	for _, d := range rec.slept {
		if d == 2*time.Second {
			waits++
		}
	}
	if waits != 1 {
		t.Errorf("expected one 2s crawl-delay wait between retries, slept %v", rec.slept)
	}

	exp, err := storage.ReadJSON(paths.JSON)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(exp.Pages) != 2 {
		t.Errorf("retry pass should not apply robots admission, got %d pages", len(exp.Pages))
	}
}

func TestRetryWithoutLedger(t *testing.T) {
	cfg := testConfig(t, "")
	if err := runRetry(context.Background(), cfg, testLogger); err != nil {
		t.Fatalf("missing ledger should be a no-op, got %v", err)
	}
	if _, err := os.Stat(storage.ArtifactPaths(&cfg.Output).JSON); !os.IsNotExist(err) {
		t.Error("no export should be written without a ledger")
	}
}

func TestRunCrawlRejectsMissingBaseURL(t *testing.T) {
	cfg := testConfig(t, "")
	if err := runCrawl(context.Background(), cfg, testLogger); err == nil {
		t.Fatal("expected an error without a base URL")
	}
}

func TestRunBatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/one", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<h2>First</h2><h2> Second  item </h2><a href="/x">x</a>`)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<h2>Only</h2><a href="rel/y">y</a>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, "")
	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	policy := engine.NewRetryPolicy(f, engine.RetryOptions{MaxAttempts: 1}, nil, nil, testLogger)

	delay := 1.5
	bc := &batchConfig{
		URLs:     []string{srv.URL + "/one", srv.URL + "/missing", srv.URL + "/two"},
		Selector: "h2",
		Mode:     "text",
		Delay:    &delay,
	}
	sleeper := &recordingSleeper{}

	got := runBatch(context.Background(), bc, policy, sleeper, testLogger)
	want := map[string][]string{
		srv.URL + "/one":     {"First", "Second item"},
		srv.URL + "/missing": {},
		srv.URL + "/two":     {"Only"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("runBatch = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(sleeper.slept, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}) {
		t.Errorf("slept %v", sleeper.slept)
	}

	bc.Mode = "attr"
	bc.Selector = "a"
	bc.Attribute = "href"
	got = runBatch(context.Background(), bc, policy, &recordingSleeper{}, testLogger)
	if want := []string{srv.URL + "/rel/y"}; !reflect.DeepEqual(got[srv.URL+"/two"], want) {
		t.Errorf("attr mode = %v, want %v", got[srv.URL+"/two"], want)
	}
}

func TestScraperRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/one", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<h2>First</h2><h2>Second</h2>`)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<h2>Only</h2>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t, "")
	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	s := &scraper{
		policy: engine.NewRetryPolicy(f, engine.RetryOptions{MaxAttempts: 1}, nil, nil, testLogger),
		opts:   extract.ScrapeOptions{Mode: "text", Selector: "h2"},
		logger: testLogger,
	}
	targets := []string{srv.URL + "/one", srv.URL + "/missing", srv.URL + "/two"}

	sleeper := &recordingSleeper{}
	got, err := s.run(context.Background(), targets, sleeper, 2*time.Second)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[string]any{
		srv.URL + "/one": []string{"First", "Second"},
		srv.URL + "/two": []string{"Only"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("run = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(sleeper.slept, []time.Duration{2 * time.Second, 2 * time.Second}) {
		t.Errorf("slept %v", sleeper.slept)
	}

	single, err := s.run(context.Background(), targets[:1], &recordingSleeper{}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(single, []string{"First", "Second"}) {
		t.Errorf("single URL = %v", single)
	}
	if _, err := s.run(context.Background(), targets[1:2], &recordingSleeper{}, 0); err == nil {
		t.Error("a single unreachable URL should fail")
	}

	rule, err := extract.ParseRuleSpec("heading=css:h2")
	if err != nil {
		t.Fatal(err)
	}
	s.rules = []config.ParseRule{rule}
	got, err = s.run(context.Background(), targets, &recordingSleeper{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	items, ok := got.([]*types.Item)
	if !ok || len(items) != 3 {
		t.Fatalf("rules should give one item per URL, got %#v", got)
	}
	if v, _ := items[2].Get("heading"); v != "Only" {
		t.Errorf("item fields = %v", items[2].Fields)
	}
	if items[1].URL != srv.URL+"/missing" || items[1].Error == "" {
		t.Errorf("unreachable URL should be an item with Error set, got %+v", items[1])
	}
}

func TestRunBatchCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<p>hi</p>`)
	}))
	defer srv.Close()

	cfg := testConfig(t, "")
	f, err := fetcher.NewHTTPFetcher(cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	policy := engine.NewRetryPolicy(f, engine.RetryOptions{MaxAttempts: 1}, nil, nil, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	delay := 0.0
	bc := &batchConfig{URLs: []string{srv.URL + "/a", srv.URL + "/b"}, Selector: "p", Mode: "text", Delay: &delay}
	if got := runBatch(ctx, bc, policy, &recordingSleeper{}, testLogger); len(got) != 0 {
		t.Errorf("canceled batch should stop before any URL, got %v", got)
	}
}

func TestLoadBatchConfig(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	bc, err := loadBatchConfig(write("ok.json", `{"urls": ["https://example.com/a"], "delay": 0}`))
	if err != nil {
		t.Fatalf("loadBatchConfig: %v", err)
	}
	if bc.Selector != "body" || bc.Mode != "text" {
		t.Errorf("defaults: selector=%q mode=%q", bc.Selector, bc.Mode)
	}
	if bc.delay() != 0 {
		t.Errorf("explicit zero delay became %v", bc.delay())
	}
	if bc.timeout() != 30*time.Second {
		t.Errorf("default timeout = %v", bc.timeout())
	}

	bc, err = loadBatchConfig(write("defaults.json", `{"urls": ["https://example.com/a"], "timeout": 2.5}`))
	if err != nil {
		t.Fatal(err)
	}
	if bc.delay() != time.Second || bc.timeout() != 2500*time.Millisecond {
		t.Errorf("delay=%v timeout=%v", bc.delay(), bc.timeout())
	}

	bad := map[string]string{
		"empty.json":    `{"urls": []}`,
		"badurl.json":   `{"urls": ["ftp://example.com"]}`,
		"negative.json": `{"urls": ["https://example.com"], "delay": -1}`,
		"syntax.json":   `{"urls": [`,
	}
	for name, body := range bad {
		if _, err := loadBatchConfig(write(name, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := loadBatchConfig(filepath.Join(dir, "absent.json")); err == nil {
		t.Error("missing file: expected error")
	}
}

func TestApplyCLIOverrides(t *testing.T) {
	t.Cleanup(func() {
		baseURL, maxPages, delay, outputDir, noRobots, mirror, metricsOn, maxRetries = "", 0, "", "", false, "", false, 0
	})

	baseURL = "https://example.org"
	maxPages = 12
	delay = "250ms"
	outputDir = "out"
	noRobots = true
	mirror = "SQLite"
	metricsOn = true
	maxRetries = 5

	cfg := config.DefaultConfig()
	if err := applyCLIOverrides(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.BaseURL != "https://example.org" || cfg.Engine.MaxPages != 12 || cfg.Engine.MaxRetries != 5 {
		t.Errorf("engine overrides not applied: %+v", cfg.Engine)
	}
	if cfg.Engine.BaseDelay != 250*time.Millisecond {
		t.Errorf("base delay = %v", cfg.Engine.BaseDelay)
	}
	if cfg.Engine.RespectRobotsTxt {
		t.Error("--ignore-robots should disable robots")
	}
	if cfg.Output.Dir != "out" || cfg.Storage.Mirror != "sqlite" || !cfg.Metrics.Enabled {
		t.Errorf("output/storage/metrics overrides: %+v %+v %+v", cfg.Output, cfg.Storage, cfg.Metrics)
	}

	delay = "soon"
	if err := applyCLIOverrides(config.DefaultConfig()); err == nil {
		t.Error("bad --delay should fail")
	}
}

func TestPrintSummary(t *testing.T) {
	stats := engine.NewStats()
	stats.CharsCollected.Store(1234567)
	result := &engine.Result{
		Pages:   make([]types.Page, 4),
		Failed:  []types.FailureRecord{{URL: "https://example.com/x"}},
		Visited: 1500,
		Errors:  3,
		Elapsed: 2 * time.Second,
	}
	paths := storage.Paths{Markdown: "site.md", JSON: "site.json", Failed: "failed.json"}

	var buf bytes.Buffer
	printSummary(&buf, result, stats, paths)
	out := buf.String()
	for _, want := range []string{
		"Total characters:  1,234,567",
		"URLs visited:      1,500",
		"Avg rate:          2.00 pages/sec",
		"1 pages failed and can be retried with --retry.",
		"See failed.json",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResult(t *testing.T) {
	var stdout bytes.Buffer
	if err := writeResult(&stdout, "", []string{"a & b"}); err != nil {
		t.Fatal(err)
	}
	var decoded []string
	if err := json.Unmarshal(stdout.Bytes(), &decoded); err != nil || decoded[0] != "a & b" {
		t.Errorf("stdout JSON = %q (%v)", stdout.String(), err)
	}
	if strings.Contains(stdout.String(), `\u0026`) {
		t.Errorf("JSON output should not escape HTML: %q", stdout.String())
	}

	stdout.Reset()
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := writeResult(&stdout, path, map[string][]string{"https://example.com": {"x"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "Output written to "+path) {
		t.Errorf("stdout = %q", stdout.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "url,value\nhttps://example.com,x\n" {
		t.Errorf("csv = %q", data)
	}
}

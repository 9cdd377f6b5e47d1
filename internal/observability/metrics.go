package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// StatsSource exposes live counters keyed by name.
type StatsSource interface {
	Counters() map[string]int64
}

type metricDef struct {
	key  string
	name string
	help string
	kind string
}

var metricDefs = []metricDef{
	{"requests_sent", "sitecrawl_requests_total", "Total fetch attempts made", "counter"},
	{"retries", "sitecrawl_retries_total", "Total retried fetch attempts", "counter"},
	{"pages_collected", "sitecrawl_pages_collected_total", "Total pages collected", "counter"},
	{"chars_collected", "sitecrawl_chars_collected_total", "Total characters of page content collected", "counter"},
	{"errors", "sitecrawl_errors_total", "Total URLs that failed to produce a page", "counter"},
	{"ledgered", "sitecrawl_ledgered_total", "Total failures recorded for retry", "counter"},
	{"robots_denied", "sitecrawl_robots_denied_total", "Total URLs skipped by robots.txt", "counter"},
	{"urls_filtered", "sitecrawl_urls_filtered_total", "Total URLs skipped as out of scope", "counter"},
	{"urls_enqueued", "sitecrawl_urls_enqueued_total", "Total URLs admitted to the queue", "counter"},
	{"bytes_downloaded", "sitecrawl_bytes_downloaded_total", "Total response bytes downloaded", "counter"},
	{"queue_depth", "sitecrawl_queue_depth", "Current URL queue depth", "gauge"},
	{"robots_degraded", "sitecrawl_robots_degraded", "1 when robots.txt could not be used and all URLs are allowed", "gauge"},
}

// Metrics serves crawl counters in Prometheus text exposition format.
type Metrics struct {
	source StatsSource
	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance reading from source.
func NewMetrics(source StatsSource, logger *slog.Logger) *Metrics {
	return &Metrics{
		source: source,
		logger: logger.With("component", "metrics"),
	}
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := m.source.Counters()
	for _, def := range metricDefs {
		fmt.Fprintf(w, "# HELP %s %s\n", def.name, def.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", def.name, def.kind)
		fmt.Fprintf(w, "%s %d\n", def.name, counters[def.key])
	}
}

// Handler returns the mux serving path and /health.
func (m *Metrics) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	return mux
}

// StartServer starts the metrics HTTP server in the background. The server
// shuts down when ctx is cancelled.
func (m *Metrics) StartServer(ctx context.Context, port int, path string) (*http.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           m.Handler(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.logger.Info("metrics server starting", "addr", ln.Addr().String(), "path", path)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return srv, nil
}

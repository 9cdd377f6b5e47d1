package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/IshaanNene/sitecrawl/internal/config"
	"github.com/IshaanNene/sitecrawl/internal/types"
)

const maxRetryAfter = 2 * time.Minute

// browserHeaders are sent on every page request.
var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Accept-Encoding":           "gzip, deflate, br",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

var _ Fetcher = (*HTTPFetcher)(nil)

// HTTPFetcher implements Fetcher using one keep-alive net/http client.
type HTTPFetcher struct {
	client  *http.Client
	cfg     *config.FetcherConfig
	referer string
	logger  *slog.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.Config, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.Fetcher.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Fetcher.MaxIdleConns,
		IdleConnTimeout:     cfg.Fetcher.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.Fetcher.TLSInsecure,
		},
		DisableCompression: true, // decoded below, including brotli
	}

	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if !cfg.Fetcher.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= cfg.Fetcher.MaxRedirects {
			return fmt.Errorf("max redirects (%d) reached", cfg.Fetcher.MaxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		Timeout:       cfg.Engine.RequestTimeout,
		CheckRedirect: redirectPolicy,
	}

	return &HTTPFetcher{
		client:  client,
		cfg:     &cfg.Fetcher,
		referer: cfg.Engine.BaseURL,
		logger:  logger.With("component", "http_fetcher"),
	}, nil
}

// Client exposes the underlying client, shared with the robots.txt loader.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// Fetch performs one GET and classifies the result.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*types.Response, types.Outcome) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, failed(rawURL, 0, err)
	}

	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	for key, value := range browserHeaders {
		httpReq.Header.Set(key, value)
	}
	if f.referer != "" {
		httpReq.Header.Set("Referer", f.referer)
	}

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, classifyError(ctx, rawURL, err)
	}
	defer httpResp.Body.Close()

	status := httpResp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		return nil, types.Outcome{
			Kind:       types.OutcomeRateLimited,
			StatusCode: status,
			RetryAfter: retryAfter,
			Err:        statusError(rawURL, httpResp),
		}
	case isRetryableStatus(status):
		return nil, types.Outcome{Kind: types.OutcomeServerError, StatusCode: status, Err: statusError(rawURL, httpResp)}
	case status == http.StatusForbidden:
		return nil, types.Outcome{Kind: types.OutcomeForbidden, StatusCode: status, Err: statusError(rawURL, httpResp)}
	case status == http.StatusNotFound:
		return nil, types.Outcome{Kind: types.OutcomeNotFound, StatusCode: status, Err: statusError(rawURL, httpResp)}
	case status < 200 || status >= 300:
		return nil, types.Outcome{Kind: types.OutcomeFailed, StatusCode: status, Err: statusError(rawURL, httpResp)}
	}

	if !isHTML(httpResp.Header.Get("Content-Type")) {
		return nil, types.Outcome{
			Kind:       types.OutcomeNotHTML,
			StatusCode: status,
			Err: &types.FetchError{
				URL:        rawURL,
				StatusCode: status,
				Err:        fmt.Errorf("content type %q is not HTML", httpResp.Header.Get("Content-Type")),
			},
		}
	}

	reader, err := decompressReader(httpResp, httpResp.Body)
	if err != nil {
		return nil, failed(rawURL, status, fmt.Errorf("decode body: %w", err))
	}

	body, truncated, err := readBody(reader, f.cfg.MaxBodySize)
	if err != nil {
		return nil, classifyError(ctx, rawURL, err)
	}
	if truncated {
		f.logger.Warn("body exceeds size limit, truncated", "url", rawURL, "limit", f.cfg.MaxBodySize)
	}

	resp := types.NewResponse(rawURL, httpResp, body, duration)

	f.logger.Debug("fetch complete",
		"url", rawURL,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", duration,
	)

	return resp, types.Outcome{Kind: types.OutcomeSuccess, StatusCode: status}
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// readBody reads the decoded body, keeping at most limit bytes when limit
// is positive.
func readBody(r io.Reader, limit int64) ([]byte, bool, error) {
	if limit <= 0 {
		body, err := io.ReadAll(r)
		return body, false, err
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// classifyError maps a transport error to an outcome. Cancellation of the
// caller's context is reported as OutcomeCanceled, never as a failure.
func classifyError(ctx context.Context, rawURL string, err error) types.Outcome {
	if ctx.Err() != nil {
		return types.Outcome{Kind: types.OutcomeCanceled, Err: ctx.Err()}
	}
	fetchErr := &types.FetchError{URL: rawURL, Err: err}
	if isTransientError(err) {
		return types.Outcome{Kind: types.OutcomeTransient, Err: fetchErr}
	}
	return types.Outcome{Kind: types.OutcomeFailed, Err: fetchErr}
}

// isTransientError reports timeouts, resets, refused connections, DNS
// failures and truncated bodies.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html"
}

// parseRetryAfter parses the Retry-After header value. Supports integer
// seconds and HTTP dates, capped at two minutes. Returns zero when absent
// or unparsable.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		d := time.Duration(secs) * time.Second
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		return d
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < time.Second {
			return time.Second
		}
		if d > maxRetryAfter {
			return maxRetryAfter
		}
		return d
	}
	return 0
}

func statusError(rawURL string, resp *http.Response) *types.FetchError {
	return &types.FetchError{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("HTTP %s", resp.Status),
	}
}

func failed(rawURL string, status int, err error) types.Outcome {
	return types.Outcome{
		Kind:       types.OutcomeFailed,
		StatusCode: status,
		Err:        &types.FetchError{URL: rawURL, StatusCode: status, Err: err},
	}
}

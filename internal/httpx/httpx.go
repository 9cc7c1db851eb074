// Package httpx provides the rate-limited JSON fetcher shared by the
// upstream data clients.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vbprojects/finagg/internal/metrics"
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpx: %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 512

// Fetcher issues GET requests against one base URL, never exceeding its
// request rate.
type Fetcher struct {
	source  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	header  http.Header
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(f *Fetcher) { f.header.Set(key, value) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithMetrics records every request with c.
func WithMetrics(c *metrics.Collector) Option {
	return func(f *Fetcher) { f.metrics = c }
}

// New returns a fetcher for source (used in logs and metrics) allowing
// perSecond requests per second.
func New(source, baseURL string, perSecond float64, opts ...Option) *Fetcher {
	f := &Fetcher{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		header:  http.Header{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BaseURL returns the URL paths are resolved against.
func (f *Fetcher) BaseURL() string {
	return f.baseURL
}

// Get waits for the rate limiter then fetches path with query. Absolute
// http(s) URLs bypass the base URL but share the limiter. Non-2xx
// responses are returned as *StatusError.
func (f *Fetcher) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := f.baseURL + path
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		u = path
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpx: build request: %w", err)
	}
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.record(path, 0, start)
		return nil, fmt.Errorf("httpx: %s %s: %w", f.source, path, err)
	}
	defer resp.Body.Close()
	f.record(path, resp.StatusCode, start)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpx: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &StatusError{URL: path, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// GetJSON fetches path and decodes the JSON body into out.
func (f *Fetcher) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := f.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("httpx: decode %s: %w", path, err)
	}
	return nil
}

func (f *Fetcher) record(path string, status int, start time.Time) {
	elapsed := time.Since(start)
	f.logger.Debug().
		Str("source", f.source).
		Str("path", path).
		Int("status", status).
		Dur("elapsed", elapsed).
		Msg("upstream request")
	if f.metrics != nil {
		f.metrics.UpstreamRequest(f.source, path, status, elapsed)
	}
}

// Package fred is a client for the Federal Reserve Economic Data API.
package fred

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/httpx"
	"github.com/vbprojects/finagg/internal/metrics"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("fred: no API key; set FRED_API_KEY")

// Defaults for Config.
const (
	DefaultBaseURL   = "https://api.stlouisfed.org/fred"
	DefaultRateLimit = 2
)

// EconomicSeries are the series scraped and used as economic features
// by default.
var EconomicSeries = []string{
	"CIVPART",    // labor force participation rate
	"CPIAUCNS",   // consumer price index
	"CSUSHPINSA", // home price index
	"FEDFUNDS",   // federal funds rate
	"GDP",
	"GDPC1", // real GDP
	"GS10",  // 10-year treasury yield
	"M2",
	"MICH",    // inflation expectations
	"PSAVERT", // personal saving rate
	"UNRATE",
}

// Config configures a Client.
type Config struct {
	APIKey    string
	BaseURL   string
	RateLimit float64
}

// Client queries FRED. It is safe for concurrent use.
type Client struct {
	fetch  *httpx.Fetcher
	apiKey string
}

// New returns a client, rejecting an empty API key.
func New(cfg Config, logger zerolog.Logger, m *metrics.Collector) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	opts := []httpx.Option{httpx.WithLogger(logger)}
	if m != nil {
		opts = append(opts, httpx.WithMetrics(m))
	}
	return &Client{
		fetch:  httpx.New("fred", cfg.BaseURL, cfg.RateLimit, opts...),
		apiKey: cfg.APIKey,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	if err := c.fetch.GetJSON(ctx, path, q, out); err != nil {
		return fmt.Errorf("fred: %s: %w", path, err)
	}
	return nil
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func setInt(q url.Values, key string, v int) {
	if v > 0 {
		q.Set(key, strconv.Itoa(v))
	}
}

// ObservationOptions filter series observations. Zero values are omitted.
type ObservationOptions struct {
	Start         string
	End           string
	RealtimeStart string
	RealtimeEnd   string
	// Units is a FRED transformation such as "lin", "chg" or "pch".
	Units     string
	Frequency string
	// Aggregation is "avg", "sum" or "eop".
	Aggregation string
	SortOrder   string
	Limit       int
	Offset      int
}

func (o ObservationOptions) values() url.Values {
	q := url.Values{}
	setString(q, "observation_start", o.Start)
	setString(q, "observation_end", o.End)
	setString(q, "realtime_start", o.RealtimeStart)
	setString(q, "realtime_end", o.RealtimeEnd)
	setString(q, "units", o.Units)
	setString(q, "frequency", o.Frequency)
	setString(q, "aggregation_method", o.Aggregation)
	setString(q, "sort_order", o.SortOrder)
	setInt(q, "limit", o.Limit)
	setInt(q, "offset", o.Offset)
	return q
}

// Observation is one value of a series. FRED reports unavailable values
// as "."; those have Missing set and a NaN Value.
type Observation struct {
	SeriesID      string
	Date          string
	RealtimeStart string
	RealtimeEnd   string
	Value         float64
	Missing       bool
}

// SeriesObservations returns the observations of one series.
func (c *Client) SeriesObservations(ctx context.Context, seriesID string, opts ObservationOptions) ([]Observation, error) {
	q := opts.values()
	q.Set("series_id", seriesID)
	var body struct {
		Observations []struct {
			RealtimeStart string `json:"realtime_start"`
			RealtimeEnd   string `json:"realtime_end"`
			Date          string `json:"date"`
			Value         string `json:"value"`
		} `json:"observations"`
	}
	if err := c.get(ctx, "/series/observations", q, &body); err != nil {
		return nil, err
	}
	out := make([]Observation, len(body.Observations))
	for i, o := range body.Observations {
		obs := Observation{
			SeriesID:      seriesID,
			Date:          o.Date,
			RealtimeStart: o.RealtimeStart,
			RealtimeEnd:   o.RealtimeEnd,
		}
		if o.Value == "." {
			obs.Value, obs.Missing = math.NaN(), true
		} else {
			v, err := strconv.ParseFloat(o.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("fred: %s on %s: parse value %q: %w", seriesID, o.Date, o.Value, err)
			}
			obs.Value = v
		}
		out[i] = obs
	}
	return out, nil
}

// ReleaseOptions filter release queries. Zero values are omitted.
type ReleaseOptions struct {
	RealtimeStart string
	RealtimeEnd   string
	OrderBy       string
	SortOrder     string
	Limit         int
	Offset        int
	// IncludeEmpty includes release dates without data.
	IncludeEmpty bool
}

func (o ReleaseOptions) values() url.Values {
	q := url.Values{}
	setString(q, "realtime_start", o.RealtimeStart)
	setString(q, "realtime_end", o.RealtimeEnd)
	setString(q, "order_by", o.OrderBy)
	setString(q, "sort_order", o.SortOrder)
	setInt(q, "limit", o.Limit)
	setInt(q, "offset", o.Offset)
	if o.IncludeEmpty {
		q.Set("include_release_dates_with_no_data", "true")
	}
	return q
}

// Release is an economic data release.
type Release struct {
	ID            int    `json:"id"`
	RealtimeStart string `json:"realtime_start"`
	RealtimeEnd   string `json:"realtime_end"`
	Name          string `json:"name"`
	PressRelease  bool   `json:"press_release"`
	Link          string `json:"link"`
}

// ReleaseDate is the date a release was published.
type ReleaseDate struct {
	ReleaseID   int    `json:"release_id"`
	ReleaseName string `json:"release_name"`
	Date        string `json:"date"`
}

// Releases returns all releases.
func (c *Client) Releases(ctx context.Context, opts ReleaseOptions) ([]Release, error) {
	var body struct {
		Releases []Release `json:"releases"`
	}
	if err := c.get(ctx, "/releases", opts.values(), &body); err != nil {
		return nil, err
	}
	return body.Releases, nil
}

// ReleasesDates returns publication dates across all releases.
func (c *Client) ReleasesDates(ctx context.Context, opts ReleaseOptions) ([]ReleaseDate, error) {
	var body struct {
		ReleaseDates []ReleaseDate `json:"release_dates"`
	}
	if err := c.get(ctx, "/releases/dates", opts.values(), &body); err != nil {
		return nil, err
	}
	return body.ReleaseDates, nil
}

// ReleaseDates returns the publication dates of one release.
func (c *Client) ReleaseDates(ctx context.Context, releaseID int, opts ReleaseOptions) ([]ReleaseDate, error) {
	q := opts.values()
	q.Set("release_id", strconv.Itoa(releaseID))
	var body struct {
		ReleaseDates []ReleaseDate `json:"release_dates"`
	}
	if err := c.get(ctx, "/release/dates", q, &body); err != nil {
		return nil, err
	}
	return body.ReleaseDates, nil
}

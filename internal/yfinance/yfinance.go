// Package yfinance fetches daily price history from the Yahoo Finance
// chart API and derives per-day features from it.
package yfinance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/httpx"
	"github.com/vbprojects/finagg/internal/metrics"
)

// ErrNoData is returned when the chart API has no rows for a ticker.
var ErrNoData = errors.New("yfinance: no price data")

// Defaults for Config.
const (
	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultRateLimit = 5
	DefaultInterval  = "1d"
	DefaultRange     = "max"
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	RateLimit float64
}

// Client queries the chart API.
type Client struct {
	fetch *httpx.Fetcher
}

// New returns a client.
func New(cfg Config, logger zerolog.Logger, m *metrics.Collector) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	opts := []httpx.Option{
		httpx.WithLogger(logger),
		httpx.WithHeader("User-Agent", "Mozilla/5.0 (compatible; finagg)"),
	}
	if m != nil {
		opts = append(opts, httpx.WithMetrics(m))
	}
	return &Client{fetch: httpx.New("yfinance", cfg.BaseURL, cfg.RateLimit, opts...)}
}

// Price is one day of OHLCV data.
type Price struct {
	Ticker string  `json:"ticker"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// History returns the price history of ticker ordered by date. Empty
// interval and period default to daily bars over the full history. Days
// with any missing field are skipped.
func (c *Client) History(ctx context.Context, ticker, interval, period string) ([]Price, error) {
	if interval == "" {
		interval = DefaultInterval
	}
	if period == "" {
		period = DefaultRange
	}
	ticker = strings.ToUpper(ticker)
	q := url.Values{"interval": {interval}, "range": {period}}

	var body chartResponse
	if err := c.fetch.GetJSON(ctx, "/v8/finance/chart/"+url.PathEscape(ticker), q, &body); err != nil {
		return nil, fmt.Errorf("yfinance: history %s: %w", ticker, err)
	}
	if e := body.Chart.Error; e != nil {
		return nil, fmt.Errorf("yfinance: history %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(body.Chart.Result) == 0 || len(body.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}

	res := body.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	at := func(s []*float64, i int) (float64, bool) {
		if i >= len(s) || s[i] == nil {
			return 0, false
		}
		return *s[i], true
	}
	prices := make([]Price, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		p := Price{Ticker: ticker, Date: time.Unix(ts, 0).UTC().Format(time.DateOnly)}
		var ok [5]bool
		p.Open, ok[0] = at(quote.Open, i)
		p.High, ok[1] = at(quote.High, i)
		p.Low, ok[2] = at(quote.Low, i)
		p.Close, ok[3] = at(quote.Close, i)
		p.Volume, ok[4] = at(quote.Volume, i)
		if ok != [5]bool{true, true, true, true, true} {
			continue
		}
		if n := len(prices); n > 0 && prices[n-1].Date == p.Date {
			prices[n-1] = p
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}
	return prices, nil
}

// Daily feature names.
const (
	FeaturePrice  = "price"
	FeatureOpen   = "open"
	FeatureHigh   = "high"
	FeatureLow    = "low"
	FeatureClose  = "close"
	FeatureVolume = "volume"
)

// FeatureNames lists the daily features in column order.
var FeatureNames = []string{FeaturePrice, FeatureOpen, FeatureHigh, FeatureLow, FeatureClose, FeatureVolume}

// DailyFeature is the derived feature row for one day. Open, High, Low,
// Close and Volume are relative changes from the previous day.
type DailyFeature struct {
	Ticker string
	Date   string
	Values map[string]float64
}

// DailyFeatures derives features from prices sorted by date. The first
// day has no previous day and is dropped, as is any day whose relative
// change is not finite.
func DailyFeatures(prices []Price) []DailyFeature {
	if len(prices) < 2 {
		return nil
	}
	change := func(cur, prev float64) float64 { return cur/prev - 1 }
	out := make([]DailyFeature, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		cur, prev := prices[i], prices[i-1]
		values := map[string]float64{
			FeaturePrice:  cur.Close,
			FeatureOpen:   change(cur.Open, prev.Open),
			FeatureHigh:   change(cur.High, prev.High),
			FeatureLow:    change(cur.Low, prev.Low),
			FeatureClose:  change(cur.Close, prev.Close),
			FeatureVolume: change(cur.Volume, prev.Volume),
		}
		finite := true
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				finite = false
				break
			}
		}
		if finite {
			out = append(out, DailyFeature{Ticker: cur.Ticker, Date: cur.Date, Values: values})
		}
	}
	return out
}

package scrape

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbprojects/finagg/internal/config"
	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/sec"
	"github.com/vbprojects/finagg/internal/store"
	"github.com/vbprojects/finagg/internal/yfinance"
)

var errUpstream = errors.New("upstream down")

type fakeSEC struct{}

func (fakeSEC) Submissions(_ context.Context, c sec.Company) (*sec.SubmissionsResult, error) {
	if c.Ticker == "BAD" {
		return nil, errUpstream
	}
	return &sec.SubmissionsResult{Metadata: sec.Metadata{CIK: "cik-" + c.Ticker, Ticker: c.Ticker}}, nil
}

func (fakeSEC) CompanyFacts(_ context.Context, c sec.Company) ([]sec.Fact, error) {
	base := sec.Fact{CIK: "cik-" + c.Ticker, Taxonomy: "us-gaap", Tag: "Assets", Units: "USD", FY: 2020, FP: "Q1", Form: sec.FormQuarterly}
	early, late, old, other := base, base, base, base
	early.Accn, early.Filed, early.Value = "a1", "2020-05-01", 1
	late.Accn, late.Filed, late.Value = "a2", "2020-06-01", 2
	old.Accn, old.FY, old.Filed = "a0", 2001, "2001-05-01"
	other.Accn, other.Tag, other.Filed = "a3", "Unpopular", "2020-05-01"
	return []sec.Fact{late, early, old, other}, nil
}

type fakeFRED struct{}

func (fakeFRED) SeriesObservations(_ context.Context, id string, opts fred.ObservationOptions) ([]fred.Observation, error) {
	if opts.Start != "2010-01-01" {
		return nil, errors.New("start not forwarded")
	}
	return []fred.Observation{{SeriesID: id, Date: "2020-01-01", Value: 1}, {SeriesID: id, Date: "2020-02-01", Value: 2}}, nil
}

type fakePrices struct{ calls atomic.Int32 }

func (f *fakePrices) History(_ context.Context, ticker, _, _ string) ([]yfinance.Price, error) {
	f.calls.Add(1)
	if ticker == "BAD" {
		return nil, errUpstream
	}
	return []yfinance.Price{
		{Ticker: ticker, Date: "2009-12-31", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Ticker: ticker, Date: "2010-01-04", Open: 1, High: 1, Low: 1, Close: 1, Volume: 1},
		{Ticker: ticker, Date: "2010-01-05", Open: 2, High: 2, Low: 2, Close: 2, Volume: 2},
	}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.ScrapeEvent
}

func (r *recorder) PublishScrape(_ context.Context, e events.ScrapeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) PublishSample(context.Context, events.SampleEvent) error { return nil }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, config.DatabaseConfig{Driver: store.DriverSQLite, Path: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSourceRequired(t *testing.T) {
	r := NewRunner(newStore(t))
	ctx := context.Background()

	_, err := r.SEC(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = r.FRED(ctx, []string{"GDP"})
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = r.YFinance(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestSEC(t *testing.T) {
	s := newStore(t)
	rec := &recorder{}
	r := NewRunner(s, WithSEC(fakeSEC{}), WithPublisher(rec), WithWorkers(2), WithStart("2010-01-01"),
		WithMetrics(metrics.NewCollector(zerolog.Nop())))
	ctx := context.Background()

	res, err := r.SEC(ctx, []string{"aapl", "BAD", "msft"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"AAPL": 1, "MSFT": 1}, res.Rows)
	require.Contains(t, res.Failures, "BAD")
	assert.ErrorIs(t, res.Failures["BAD"], errUpstream)

	facts, err := s.TagsForTicker(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "a1", facts[0].Accn, "earliest filing wins")

	require.Len(t, rec.events, 1)
	assert.Equal(t, res.RunID, rec.events[0].RunID)
	assert.Equal(t, PipelineSEC, rec.events[0].Pipeline)
	assert.Len(t, rec.events[0].Failures, 1)
}

func TestFRED(t *testing.T) {
	s := newStore(t)
	r := NewRunner(s, WithFRED(fakeFRED{}), WithStart("2010-01-01"))

	res, err := r.FRED(context.Background(), []string{"gdp", "UNRATE"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total())
	assert.Empty(t, res.Failures)

	obs, err := s.Series(context.Background(), "GDP", "", "")
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestYFinance(t *testing.T) {
	s := newStore(t)
	prices := &fakePrices{}
	r := NewRunner(s, WithYFinance(prices), WithWorkers(4), WithStart("2010-01-01"))
	ctx := context.Background()

	tickers := []string{"A", "B", "C", "D", "E", "BAD"}
	res, err := r.YFinance(ctx, tickers)
	require.NoError(t, err)
	assert.Equal(t, int32(len(tickers)), prices.calls.Load())
	assert.Len(t, res.Rows, 5)
	assert.Equal(t, 2, res.Rows["A"], "rows before start are dropped")
	assert.Len(t, res.Failures, 1)

	feats, err := s.DailyFeatures(ctx, "A", "", "")
	require.NoError(t, err)
	assert.Len(t, feats, len(yfinance.FeatureNames))
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(newStore(t), WithYFinance(&fakePrices{}))

	_, err := r.YFinance(ctx, []string{"A", "B"})
	assert.ErrorIs(t, err, context.Canceled)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbprojects/finagg/internal/config"
	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/sec"
	"github.com/vbprojects/finagg/internal/yfinance"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, config.DatabaseConfig{Driver: DriverSQLite, Path: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestSubmissionsAndTags(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSubmission(ctx, sec.Metadata{CIK: "0000320193", Ticker: "aapl", Name: "Apple Inc."}))
	require.NoError(t, s.UpsertSubmission(ctx, sec.Metadata{CIK: "0000320193", Ticker: "AAPL", Name: "Apple"}))
	require.NoError(t, s.UpsertSubmission(ctx, sec.Metadata{CIK: "0000789019", Ticker: "MSFT"}))
	assert.Error(t, s.UpsertSubmission(ctx, sec.Metadata{CIK: "1"}))

	md, err := s.Submission(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "Apple", md.Name)
	_, err = s.Submission(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	tickers, err := s.TickerSet(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, tickers)

	facts := []sec.Fact{
		{CIK: "0000320193", Accn: "a2", Taxonomy: "us-gaap", Tag: "Assets", Units: "USD", FY: 2020, FP: "Q2", Form: "10-Q", Filed: "2020-05-01", Value: 2},
		{CIK: "0000320193", Accn: "a1", Taxonomy: "us-gaap", Tag: "Assets", Units: "USD", FY: 2020, FP: "Q1", Form: "10-Q", Filed: "2020-02-01", Value: 1},
		{CIK: "0000789019", Accn: "m1", Taxonomy: "us-gaap", Tag: "Assets", Units: "USD", FY: 2020, FP: "Q1", Form: "10-Q", Filed: "2020-02-01", Value: 9},
	}
	n, err := s.UpsertTags(ctx, facts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	facts[0].Value = 3
	_, err = s.UpsertTags(ctx, facts[:1])
	require.NoError(t, err)

	got, err := s.TagsForTicker(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Q1", got[0].FP)
	assert.Equal(t, 3.0, got[1].Value)
}

func TestPricesAndDailyFeatures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	prices := []yfinance.Price{
		{Ticker: "VOO", Date: "2020-01-01", Open: 1, High: 1, Low: 1, Close: 1, Volume: 10},
		{Ticker: "VOO", Date: "2020-01-02", Open: 2, High: 2, Low: 2, Close: 2, Volume: 20},
		{Ticker: "VOO", Date: "2020-01-03", Open: 3, High: 3, Low: 3, Close: 3, Volume: 30},
	}
	n, err := s.UpsertPrices(ctx, prices)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.PricesForTicker(ctx, "voo", "2020-01-02", "")
	require.NoError(t, err)
	assert.Equal(t, prices[1:], got)

	n, err = s.UpsertDailyFeatures(ctx, yfinance.DailyFeatures(prices))
	require.NoError(t, err)
	assert.Equal(t, 2*len(yfinance.FeatureNames), n)

	feats, err := s.DailyFeatures(ctx, "VOO", "", "2020-01-02")
	require.NoError(t, err)
	require.Len(t, feats, len(yfinance.FeatureNames))
	assert.Equal(t, "close", feats[0].Name)
	assert.InDelta(t, 1.0, feats[0].Value, 1e-12)
}

func TestSeriesAndEconomicFeatures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	obs := []fred.Observation{
		{SeriesID: "GDP", Date: "2020-01-01", Value: 100},
		{SeriesID: "GDP", Date: "2020-04-01", Value: math.NaN(), Missing: true},
		{SeriesID: "GDP", Date: "2020-07-01", Value: 110},
	}
	n, err := s.UpsertSeries(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.Series(ctx, "GDP", "", "")
	require.NoError(t, err)
	require.Len(t, got, 2, "missing observations are skipped")
	assert.Equal(t, 110.0, got[1].Value)

	_, err = s.UpsertEconomicFeatures(ctx, []Feature{
		{Date: "2020-01-01", Name: "GDP", Value: 0.1},
		{Date: "2020-01-01", Name: "UNRATE", Value: 3.5},
		{Date: "2021-01-01", Name: "GDP", Value: 0.2},
	})
	require.NoError(t, err)
	econ, err := s.EconomicFeatures(ctx, "2020-01-01", "2020-12-31")
	require.NoError(t, err)
	assert.Equal(t, []Feature{
		{Date: "2020-01-01", Name: "GDP", Value: 0.1},
		{Date: "2020-01-01", Name: "UNRATE", Value: 3.5},
	}, econ)
}

func TestFundamentalFeatures(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	feats := []Feature{
		{Ticker: "AAPL", Date: "2020-01-01", Name: "price", Value: 1},
		{Ticker: "AAPL", Date: "2020-01-02", Name: "price", Value: 2},
		{Ticker: "MSFT", Date: "2020-01-01", Name: "price", Value: 3},
	}
	n, err := s.InsertFundamentalFeatures(ctx, feats)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.InsertFundamentalFeatures(ctx, feats[:1])
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.FundamentalFeatures(ctx, "aapl", "", "")
	require.NoError(t, err)
	assert.Equal(t, feats[:2], got)

	_, err = s.FundamentalFeatures(ctx, "GOOG", "", "")
	assert.ErrorIs(t, err, ErrNotFound)

	tickers, err := s.TickersWithAtLeast(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, tickers)

	require.NoError(t, s.DeleteFundamentalFeatures(ctx, "AAPL"))
	_, err = s.InsertFundamentalFeatures(ctx, feats[:1])
	assert.NoError(t, err)
}

func TestDropAll(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.DropAll(ctx))
	_, err := s.TickerSet(ctx)
	assert.Error(t, err)
	require.NoError(t, s.Migrate(ctx))
	tickers, err := s.TickerSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, tickers)
}

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/yfinance"
)

// Feature is one named value in long format. Ticker is empty for
// economic features.
type Feature struct {
	Ticker string  `json:"ticker,omitempty"`
	Date   string  `json:"date"`
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
}

// UpsertPrices stores daily OHLCV rows keyed by ticker and date.
func (s *Store) UpsertPrices(ctx context.Context, prices []yfinance.Price) (int, error) {
	rows := make([][]any, len(prices))
	for i, p := range prices {
		rows[i] = []any{strings.ToUpper(p.Ticker), p.Date, p.Open, p.High, p.Low, p.Close, p.Volume}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO prices (ticker, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ticker, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: upsert prices: %w", err)
	}
	return n, nil
}

// PricesForTicker returns ticker's prices within the inclusive date
// range, ordered by date. Empty bounds are open.
func (s *Store) PricesForTicker(ctx context.Context, ticker, start, end string) ([]yfinance.Price, error) {
	start, end = dateRange(start, end)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT ticker, date, open, high, low, close, volume FROM prices
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date`), strings.ToUpper(ticker), start, end)
	if err != nil {
		return nil, fmt.Errorf("store: prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []yfinance.Price
	for rows.Next() {
		var p yfinance.Price
		if err := rows.Scan(&p.Ticker, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume); err != nil {
			return nil, fmt.Errorf("store: scan price: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertDailyFeatures stores derived daily features in long format.
func (s *Store) UpsertDailyFeatures(ctx context.Context, feats []yfinance.DailyFeature) (int, error) {
	var rows [][]any
	for _, f := range feats {
		for _, name := range yfinance.FeatureNames {
			if v, ok := f.Values[name]; ok {
				rows = append(rows, []any{strings.ToUpper(f.Ticker), f.Date, name, v})
			}
		}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO daily_features (ticker, date, name, value) VALUES (?, ?, ?, ?)
		ON CONFLICT (ticker, date, name) DO UPDATE SET value = excluded.value`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: upsert daily features: %w", err)
	}
	return n, nil
}

// DailyFeatures returns ticker's daily features within the inclusive
// date range, ordered by date and name.
func (s *Store) DailyFeatures(ctx context.Context, ticker, start, end string) ([]Feature, error) {
	start, end = dateRange(start, end)
	return s.features(ctx, `
		SELECT ticker, date, name, value FROM daily_features
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date, name`, strings.ToUpper(ticker), start, end)
}

// UpsertSeries stores FRED observations. Missing values are stored as
// NULL.
func (s *Store) UpsertSeries(ctx context.Context, obs []fred.Observation) (int, error) {
	rows := make([][]any, len(obs))
	for i, o := range obs {
		var v any = o.Value
		if o.Missing {
			v = nil
		}
		rows[i] = []any{o.SeriesID, o.Date, v}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO series (series_id, date, value) VALUES (?, ?, ?)
		ON CONFLICT (series_id, date) DO UPDATE SET value = excluded.value`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: upsert series: %w", err)
	}
	return n, nil
}

// Series returns the non-missing observations of one series within the
// inclusive date range, ordered by date.
func (s *Store) Series(ctx context.Context, seriesID, start, end string) ([]fred.Observation, error) {
	start, end = dateRange(start, end)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT series_id, date, value FROM series
		WHERE series_id = ? AND date >= ? AND date <= ? AND value IS NOT NULL
		ORDER BY date`), seriesID, start, end)
	if err != nil {
		return nil, fmt.Errorf("store: series %s: %w", seriesID, err)
	}
	defer rows.Close()

	var out []fred.Observation
	for rows.Next() {
		var o fred.Observation
		if err := rows.Scan(&o.SeriesID, &o.Date, &o.Value); err != nil {
			return nil, fmt.Errorf("store: scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertEconomicFeatures stores economic features; their Ticker is
// ignored.
func (s *Store) UpsertEconomicFeatures(ctx context.Context, feats []Feature) (int, error) {
	rows := make([][]any, len(feats))
	for i, f := range feats {
		rows[i] = []any{f.Date, f.Name, f.Value}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO economic_features (date, name, value) VALUES (?, ?, ?)
		ON CONFLICT (date, name) DO UPDATE SET value = excluded.value`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: upsert economic features: %w", err)
	}
	return n, nil
}

// EconomicFeatures returns economic features within the inclusive date
// range, ordered by date and name.
func (s *Store) EconomicFeatures(ctx context.Context, start, end string) ([]Feature, error) {
	start, end = dateRange(start, end)
	return s.features(ctx, `
		SELECT '', date, name, value FROM economic_features
		WHERE date >= ? AND date <= ?
		ORDER BY date, name`, start, end)
}

// InsertFundamentalFeatures stores fundamental features. Rows already
// present make the whole insert fail with ErrConflict.
func (s *Store) InsertFundamentalFeatures(ctx context.Context, feats []Feature) (int, error) {
	rows := make([][]any, len(feats))
	for i, f := range feats {
		rows[i] = []any{strings.ToUpper(f.Ticker), f.Date, f.Name, f.Value}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO fundamental_features (ticker, date, name, value) VALUES (?, ?, ?, ?)`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: insert fundamental features: %w", err)
	}
	return n, nil
}

// DeleteFundamentalFeatures removes every fundamental feature of ticker.
func (s *Store) DeleteFundamentalFeatures(ctx context.Context, ticker string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM fundamental_features WHERE ticker = ?`), strings.ToUpper(ticker))
	if err != nil {
		return fmt.Errorf("store: delete fundamental features %s: %w", ticker, err)
	}
	return nil
}

// FundamentalFeatures returns ticker's fundamental features within the
// inclusive date range, ordered by date and name. A ticker with no rows
// yields ErrNotFound.
func (s *Store) FundamentalFeatures(ctx context.Context, ticker, start, end string) ([]Feature, error) {
	start, end = dateRange(start, end)
	out, err := s.features(ctx, `
		SELECT ticker, date, name, value FROM fundamental_features
		WHERE ticker = ? AND date >= ? AND date <= ?
		ORDER BY date, name`, strings.ToUpper(ticker), start, end)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("store: fundamental features for %s: %w", ticker, ErrNotFound)
	}
	return out, nil
}

func (s *Store) features(ctx context.Context, query string, args ...any) ([]Feature, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query features: %w", err)
	}
	defer rows.Close()

	var out []Feature
	for rows.Next() {
		var f Feature
		if err := rows.Scan(&f.Ticker, &f.Date, &f.Name, &f.Value); err != nil {
			return nil, fmt.Errorf("store: scan feature: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

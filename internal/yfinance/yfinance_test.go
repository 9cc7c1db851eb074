package yfinance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartJSON = `{"chart": {"result": [{
	"timestamp": [1577973600, 1578060000, 1578319200, 1578405600],
	"indicators": {"quote": [{
		"open":   [10, 11, null, 12],
		"high":   [11, 12, 13, 13],
		"low":    [9, 10, 11, 11],
		"close":  [10, 12, 12, 9],
		"volume": [100, 200, 300, 100]
	}]}
}], "error": null}}`

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, RateLimit: 1000}, zerolog.Nop(), nil)
}

func TestHistory(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "max", r.URL.Query().Get("range"))
		w.Write([]byte(chartJSON))
	})

	prices, err := c.History(context.Background(), "aapl", "", "")
	require.NoError(t, err)
	require.Len(t, prices, 3, "row with a null open is skipped")
	assert.Equal(t, Price{Ticker: "AAPL", Date: "2020-01-02", Open: 10, High: 11, Low: 9, Close: 10, Volume: 100}, prices[0])
	assert.Equal(t, "2020-01-03", prices[1].Date)
	assert.Equal(t, "2020-01-07", prices[2].Date)
}

func TestHistoryErrors(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v8/finance/chart/EMPTY":
			w.Write([]byte(`{"chart": {"result": [], "error": null}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found"}}}`))
		}
	})

	_, err := c.History(context.Background(), "EMPTY", "", "")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = c.History(context.Background(), "NOPE", "", "")
	assert.Error(t, err)
}

func TestDailyFeatures(t *testing.T) {
	prices := []Price{
		{Ticker: "X", Date: "2020-01-01", Open: 10, High: 10, Low: 10, Close: 10, Volume: 100},
		{Ticker: "X", Date: "2020-01-02", Open: 11, High: 12, Low: 9, Close: 15, Volume: 50},
		{Ticker: "X", Date: "2020-01-03", Open: 11, High: 12, Low: 9, Close: 15, Volume: 0},
		{Ticker: "X", Date: "2020-01-04", Open: 11, High: 12, Low: 9, Close: 15, Volume: 10},
	}

	feats := DailyFeatures(prices)
	require.Len(t, feats, 2, "first day and the day after zero volume are dropped")
	first := feats[0]
	assert.Equal(t, "2020-01-02", first.Date)
	assert.Equal(t, 15.0, first.Values[FeaturePrice])
	assert.InDelta(t, 0.1, first.Values[FeatureOpen], 1e-12)
	assert.InDelta(t, 0.5, first.Values[FeatureClose], 1e-12)
	assert.InDelta(t, -0.5, first.Values[FeatureVolume], 1e-12)
	assert.Len(t, first.Values, len(FeatureNames))
	assert.Equal(t, "2020-01-03", feats[1].Date)

	assert.Nil(t, DailyFeatures(prices[:1]))
}

package sec

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tickersJSON = `{
	"0": {"cik_str": 320193, "ticker": "AAPL", "title": "Apple Inc."},
	"1": {"cik_str": 789019, "ticker": "MSFT", "title": "MICROSOFT CORP"}
}`

const conceptJSON = `{
	"cik": 320193, "taxonomy": "us-gaap", "tag": "EarningsPerShareBasic",
	"label": "EPS", "description": "Earnings per share", "entityName": "Apple Inc.",
	"units": {"USD/shares": [
		{"start": "2008-09-28", "end": "2009-06-27", "val": 4.2, "accn": "a1", "fy": 2009, "fp": "Q3", "form": "10-Q", "filed": "2009-07-22"},
		{"start": "2009-03-29", "end": "2009-06-27", "val": 1.35, "accn": "a2", "fy": 2009, "fp": "Q3", "form": "10-Q", "filed": "2009-07-22", "frame": "CY2009Q2"}
	]}
}`

const factsJSON = `{
	"cik": 320193, "entityName": "Apple Inc.",
	"facts": {"us-gaap": {
		"Assets": {"label": "Assets", "description": "Total", "units": {"USD": [
			{"end": "2009-06-27", "val": 100, "accn": "a1", "fy": 2009, "fp": "Q3", "form": "10-Q", "filed": "2009-07-22"}
		]}},
		"Liabilities": {"label": "Liabilities", "description": "Total", "units": {"USD": [
			{"end": "2009-06-27", "val": 40, "accn": "a1", "fy": 2009, "fp": "Q3", "form": "10-Q", "filed": "2009-07-23"}
		]}}
	}}
}`

const submissionsJSON = `{
	"cik": "0000320193", "entityType": "operating", "sic": "3571",
	"sicDescription": "Electronic Computers", "name": "Apple Inc.",
	"tickers": ["AAPL"], "exchanges": ["Nasdaq"], "fiscalYearEnd": "0926",
	"insiderTransactionForOwnerExists": 0, "insiderTransactionForIssuerExists": 1,
	"filings": {"recent": {
		"accessionNumber": ["x1", "x2"],
		"filingDate": ["2023-08-04", "2023-05-05"],
		"reportDate": ["2023-07-01", "2023-04-01"],
		"form": ["10-Q", "10-Q"],
		"primaryDocument": ["a.htm", "b.htm"]
	}}
}`

const framesJSON = `{
	"taxonomy": "us-gaap", "tag": "Assets", "ccp": "CY2022Q1I", "uom": "USD",
	"data": [
		{"accn": "f1", "cik": 320193, "entityName": "Apple Inc.", "loc": "US-CA", "end": "2022-03-26", "val": 350},
		{"accn": "f2", "cik": 42, "entityName": "Unlisted", "loc": "US-NY", "end": "2022-03-31", "val": 1}
	]
}`

const exchangesJSON = `{
	"fields": ["cik", "name", "ticker", "exchange"],
	"data": [[320193, "Apple Inc.", "AAPL", "Nasdaq"], [1, "Nothing", "NOPE", null]]
}`

type fakeEDGAR struct {
	*httptest.Server
	tickerHits atomic.Int32
}

func newFakeEDGAR(t *testing.T) *fakeEDGAR {
	t.Helper()
	f := &fakeEDGAR{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Jane Doe jane@example.com", r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/files/company_tickers.json":
			f.tickerHits.Add(1)
			w.Write([]byte(tickersJSON))
		case "/files/company_tickers_exchange.json":
			w.Write([]byte(exchangesJSON))
		case "/api/xbrl/companyconcept/CIK0000320193/us-gaap/EarningsPerShareBasic.json":
			w.Write([]byte(conceptJSON))
		case "/api/xbrl/companyfacts/CIK0000320193.json":
			w.Write([]byte(factsJSON))
		case "/submissions/CIK0000320193.json":
			w.Write([]byte(submissionsJSON))
		case "/api/xbrl/frames/us-gaap/Assets/USD/CY2022Q1I.json":
			w.Write([]byte(framesJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func newClient(t *testing.T, srv *fakeEDGAR) *Client {
	t.Helper()
	c, err := New(Config{
		UserAgent: "Jane Doe jane@example.com",
		BaseURL:   srv.URL,
		FilesURL:  srv.URL,
		RateLimit: 1000,
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresUserAgent(t *testing.T) {
	_, err := New(Config{UserAgent: "  "}, zerolog.Nop(), nil)
	assert.ErrorIs(t, err, ErrMissingUserAgent)
}

func TestPadCIK(t *testing.T) {
	assert.Equal(t, "0000320193", PadCIK("320193"))
	assert.Equal(t, "0000320193", PadCIK("0000320193"))
}

func TestPopularConcepts(t *testing.T) {
	concepts := PopularConcepts()
	require.Len(t, concepts, len(PopularFrames))
	assert.Equal(t, Concept{"EarningsPerShareBasic", "us-gaap", "USD/shares"}, concepts[3])
}

func TestCompanySelection(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))
	ctx := context.Background()

	_, err := c.CompanyFacts(ctx, Company{})
	assert.ErrorIs(t, err, ErrCompany)
	_, err = c.CompanyFacts(ctx, Company{CIK: "1", Ticker: "AAPL"})
	assert.ErrorIs(t, err, ErrCompany)
	_, err = c.CompanyFacts(ctx, ByTicker("ZZZZ"))
	assert.ErrorIs(t, err, ErrUnknownTicker)
}

func TestCIKAndTickerAreCached(t *testing.T) {
	srv := newFakeEDGAR(t)
	c := newClient(t, srv)
	ctx := context.Background()

	cik, err := c.CIK(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "0000320193", cik)

	ticker, err := c.Ticker(ctx, "789019")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", ticker)

	assert.Equal(t, int32(1), srv.tickerHits.Load())
}

func TestCompanyConcept(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))

	facts, err := c.CompanyConcept(context.Background(), ByTicker("AAPL"),
		Concept{Tag: "EarningsPerShareBasic", Taxonomy: "us-gaap", Units: "USD/shares"})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "0000320193", facts[0].CIK)
	assert.Equal(t, "Apple Inc.", facts[0].Entity)
	assert.Equal(t, "USD/shares", facts[0].Units)
	assert.Equal(t, 4.2, facts[0].Value)
	assert.Equal(t, "CY2009Q2", facts[1].Frame)

	facts, err = c.CompanyConcept(context.Background(), ByCIK("320193"),
		Concept{Tag: "EarningsPerShareBasic", Units: "USD"})
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestCompanyFactsAndJoin(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))

	facts, err := c.CompanyFacts(context.Background(), ByCIK("320193"))
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "Assets", facts[0].Tag)

	rows := JoinFilings(UniqueFilings(facts, FormQuarterly, "USD"), FormQuarterly)
	require.Len(t, rows, 1)
	assert.Equal(t, "2009-07-23", rows[0].Filed)
	assert.Equal(t, map[string]float64{"Assets": 100, "Liabilities": 40}, rows[0].Values)
}

func TestSubmissions(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))

	res, err := c.Submissions(context.Background(), ByCIK("320193"))
	require.NoError(t, err)
	assert.Equal(t, "0000320193", res.Metadata.CIK)
	assert.Equal(t, "AAPL", res.Metadata.Ticker)
	assert.Equal(t, "AAPL", res.Metadata.Tickers)
	assert.Equal(t, "Nasdaq", res.Metadata.Exchanges)
	assert.Equal(t, "Electronic Computers", res.Metadata.SICDescription)
	assert.Equal(t, 1, res.Metadata.InsiderTransactionForIssuerExists)
	require.Len(t, res.Filings, 2)
	assert.Equal(t, Filing{"x2", "2023-05-05", "2023-04-01", "10-Q", "b.htm"}, res.Filings[1])
}

func TestExchanges(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))

	ex, err := c.Exchanges(context.Background())
	require.NoError(t, err)
	require.Len(t, ex, 2)
	assert.Equal(t, ExchangeInfo{"0000320193", "Apple Inc.", "AAPL", "Nasdaq"}, ex[0])
	assert.Equal(t, "", ex[1].Exchange)
}

func TestFrames(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))

	points, err := c.Frames(context.Background(), PopularFrames[0], 2022, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "0000320193", points[0].CIK)
	assert.Equal(t, "CY2022Q1I", points[0].Frame)
	assert.Equal(t, 350.0, points[0].Value)
}

func TestFramesNotFound(t *testing.T) {
	c := newClient(t, newFakeEDGAR(t))
	_, err := c.Frames(context.Background(), PopularFrames[1], 2022, 1)
	assert.Error(t, err)
}

func TestTickerSetPropagatesErrors(t *testing.T) {
	// Only the first popular frame is served, so the second fails.
	c := newClient(t, newFakeEDGAR(t))
	_, err := c.TickerSet(context.Background(), 2022)
	assert.Error(t, err)
}

func TestUniqueFilings(t *testing.T) {
	facts := []Fact{
		{Tag: "A", FY: 2020, FP: "Q1", Form: "10-Q", Filed: "2020-05-02", Value: 2, Units: "USD"},
		{Tag: "A", FY: 2020, FP: "Q1", Form: "10-Q", Filed: "2020-05-01", Value: 1, Units: "USD"},
		{Tag: "A", FY: 2020, FP: "FY", Form: "10-Q", Filed: "2020-05-01", Value: 9, Units: "USD"},
		{Tag: "A", FY: 2020, FP: "FY", Form: "10-K", Filed: "2021-02-01", Value: 5, Units: "USD"},
		{Tag: "B", FY: 2020, FP: "Q1", Form: "10-Q", Filed: "2020-05-01", Value: 3, Units: "shares"},
	}

	q := UniqueFilings(facts, FormQuarterly, "")
	require.Len(t, q, 2)
	assert.Equal(t, 1.0, q[0].Value)
	assert.Equal(t, "B", q[1].Tag)

	assert.Len(t, UniqueFilings(facts, FormQuarterly, "USD"), 1)

	k := UniqueFilings(facts, FormAnnual, "")
	require.Len(t, k, 1)
	assert.Equal(t, 5.0, k[0].Value)

	rows := JoinFilings(k, FormAnnual)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].FP)
}

func TestFinancialRatios(t *testing.T) {
	values := map[string]float64{
		"Assets":                       100,
		"AssetsCurrent":                50,
		"CommonStockSharesOutstanding": 10,
		"InventoryNet":                 10,
		"Liabilities":                  40,
		"LiabilitiesCurrent":           20,
		"NetIncomeLoss":                5,
		"StockholdersEquity":           0,
	}
	FinancialRatios(values)

	assert.Equal(t, 2.0, values[AssetCoverageRatio])
	assert.Equal(t, 6.0, values[BookRatio])
	assert.Equal(t, 2.0, values[QuickRatio])
	assert.Equal(t, 0.05, values[ReturnOnAssets])
	assert.Equal(t, 2.5, values[WorkingCapitalRatio])
	assert.NotContains(t, values, DebtEquityRatio)
	assert.NotContains(t, values, ReturnOnEquity)
}

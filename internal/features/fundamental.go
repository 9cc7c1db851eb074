package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vbprojects/finagg/internal/sec"
	"github.com/vbprojects/finagg/internal/store"
	"github.com/vbprojects/finagg/internal/yfinance"
)

// ErrNoData is returned when a frame cannot be built for lack of rows.
var ErrNoData = errors.New("features: no data")

// PriceEarningsRatio is the daily price over the latest basic EPS.
const PriceEarningsRatio = "PriceEarningsRatio"

// DefaultIndices are the reference funds compared against each ticker.
var DefaultIndices = []string{"VOO", "VGT"}

var ratioColumns = []string{
	sec.AssetCoverageRatio,
	sec.BookRatio,
	sec.DebtEquityRatio,
	sec.QuickRatio,
	sec.ReturnOnAssets,
	sec.ReturnOnEquity,
	sec.WorkingCapitalRatio,
}

// relativeColumns are the daily changes compared against each index.
var relativeColumns = []string{
	yfinance.FeatureOpen,
	yfinance.FeatureHigh,
	yfinance.FeatureLow,
	yfinance.FeatureClose,
	yfinance.FeatureVolume,
}

// FundamentalStore is the subset of the store fundamental features use.
type FundamentalStore interface {
	TagsForTicker(ctx context.Context, ticker string) ([]sec.Fact, error)
	DailyFeatures(ctx context.Context, ticker, start, end string) ([]store.Feature, error)
	InsertFundamentalFeatures(ctx context.Context, feats []store.Feature) (int, error)
	FundamentalFeatures(ctx context.Context, ticker, start, end string) ([]store.Feature, error)
}

// Fundamental joins quarterly SEC filings with daily prices.
type Fundamental struct {
	store   FundamentalStore
	indices []string
}

// NewFundamental returns a builder comparing against indices, or
// DefaultIndices when none are given.
func NewFundamental(s FundamentalStore, indices ...string) *Fundamental {
	if len(indices) == 0 {
		indices = DefaultIndices
	}
	return &Fundamental{store: s, indices: indices}
}

// Columns returns the frame columns in order.
func (f *Fundamental) Columns() []string {
	var cols []string
	for _, c := range sec.PopularFrames {
		cols = append(cols, c.Tag)
	}
	cols = append(cols, ratioColumns...)
	cols = append(cols, yfinance.FeatureNames...)
	cols = append(cols, PriceEarningsRatio)
	for _, idx := range f.indices {
		for _, c := range relativeColumns {
			cols = append(cols, idx+"_"+c)
		}
	}
	return cols
}

func quarterly(facts []sec.Fact) *Frame {
	keep := map[string]bool{}
	for _, c := range sec.PopularFrames {
		keep[c.Tag] = true
	}
	for _, c := range ratioColumns {
		keep[c] = true
	}
	q := NewFrame()
	for _, r := range sec.JoinFilings(sec.UniqueFilings(facts, sec.FormQuarterly, ""), sec.FormQuarterly) {
		sec.FinancialRatios(r.Values)
		for name, v := range r.Values {
			if keep[name] {
				q.Set(r.Filed, name, v)
			}
		}
	}
	return q
}

// FromSQL builds ticker's frame from stored tags and daily features.
// Quarterly values are carried forward to each trading day; rows with
// any missing column are dropped.
func (f *Fundamental) FromSQL(ctx context.Context, ticker, start, end string) (*Frame, error) {
	facts, err := f.store.TagsForTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, fmt.Errorf("%w: no tags for %s", ErrNoData, ticker)
	}
	daily, err := f.store.DailyFeatures(ctx, ticker, "", end)
	if err != nil {
		return nil, err
	}
	if len(daily) == 0 {
		return nil, fmt.Errorf("%w: no daily features for %s", ErrNoData, ticker)
	}

	out := FromLong(daily)
	dates := out.Dates()
	out.Merge(quarterly(facts)).FFill().Restrict(dates)

	pe := nanSlice(out.Len())
	if eps := out.Column("EarningsPerShareBasic"); eps != nil {
		price := out.Column(yfinance.FeaturePrice)
		for i := range pe {
			pe[i] = price[i] / eps[i]
		}
	}
	out.SetColumn(PriceEarningsRatio, pe)

	for _, idx := range f.indices {
		feats, err := f.store.DailyFeatures(ctx, idx, "", end)
		if err != nil {
			return nil, err
		}
		ref := FromLong(feats)
		for _, c := range relativeColumns {
			rel := nanSlice(out.Len())
			for i, d := range out.dates {
				if r, ok := ref.Lookup(d); ok {
					rel[i] = out.At(i, c) - ref.At(r, c)
				}
			}
			out.SetColumn(idx+"_"+c, rel)
		}
	}

	out = out.Select(f.Columns()...).DropIncomplete()
	if start != "" {
		out.filter(func(i int) bool { return out.dates[i] >= start })
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: no complete rows for %s", ErrNoData, ticker)
	}
	return out, nil
}

// ToStore inserts frame as ticker's fundamental features.
func (f *Fundamental) ToStore(ctx context.Context, ticker string, frame *Frame) (int, error) {
	return f.store.InsertFundamentalFeatures(ctx, frame.ToLong(strings.ToUpper(ticker)))
}

// FromStore reads ticker's stored fundamental features in column order.
func (f *Fundamental) FromStore(ctx context.Context, ticker, start, end string) (*Frame, error) {
	feats, err := f.store.FundamentalFeatures(ctx, ticker, start, end)
	if err != nil {
		return nil, err
	}
	return FromLong(feats).Select(f.Columns()...), nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

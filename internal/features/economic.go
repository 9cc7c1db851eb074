package features

import (
	"context"
	"fmt"

	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/store"
)

// levelSeries are reported as relative changes rather than raw levels.
var levelSeries = map[string]bool{
	"CPIAUCNS":   true,
	"CSUSHPINSA": true,
	"GDP":        true,
	"GDPC1":      true,
	"M2":         true,
}

// EconomicStore is the subset of the store economic features use.
type EconomicStore interface {
	Series(ctx context.Context, seriesID, start, end string) ([]fred.Observation, error)
	UpsertEconomicFeatures(ctx context.Context, feats []store.Feature) (int, error)
	EconomicFeatures(ctx context.Context, start, end string) ([]store.Feature, error)
}

// Economic combines FRED series into one frame.
type Economic struct {
	store  EconomicStore
	series []string
}

// NewEconomic returns a builder over series, or fred.EconomicSeries when
// none are given.
func NewEconomic(s EconomicStore, series ...string) *Economic {
	if len(series) == 0 {
		series = fred.EconomicSeries
	}
	return &Economic{store: s, series: series}
}

// Columns returns the frame columns in order.
func (e *Economic) Columns() []string {
	return append([]string(nil), e.series...)
}

// FromSQL builds the economic frame from stored series. Series are
// aligned on the union of their dates and forward-filled; level series
// become relative changes. Incomplete rows are dropped.
func (e *Economic) FromSQL(ctx context.Context, start, end string) (*Frame, error) {
	out := NewFrame()
	for _, id := range e.series {
		obs, err := e.store.Series(ctx, id, "", end)
		if err != nil {
			return nil, err
		}
		if len(obs) == 0 {
			return nil, fmt.Errorf("%w: no observations for %s", ErrNoData, id)
		}
		for _, o := range obs {
			out.Set(o.Date, id, o.Value)
		}
	}
	out.FFill()
	for _, id := range e.series {
		if !levelSeries[id] {
			continue
		}
		col := out.Column(id)
		rel := nanSlice(len(col))
		for i := 1; i < len(col); i++ {
			rel[i] = col[i]/col[i-1] - 1
		}
		out.SetColumn(id, rel)
	}
	out = out.Select(e.Columns()...).DropIncomplete()
	if start != "" {
		out.filter(func(i int) bool { return out.dates[i] >= start })
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: no complete economic rows", ErrNoData)
	}
	return out, nil
}

// ToStore upserts frame as economic features.
func (e *Economic) ToStore(ctx context.Context, frame *Frame) (int, error) {
	return e.store.UpsertEconomicFeatures(ctx, frame.ToLong(""))
}

// FromStore reads stored economic features in column order.
func (e *Economic) FromStore(ctx context.Context, start, end string) (*Frame, error) {
	feats, err := e.store.EconomicFeatures(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(feats) == 0 {
		return nil, fmt.Errorf("%w: no economic features stored", ErrNoData)
	}
	return FromLong(feats).Select(e.Columns()...), nil
}

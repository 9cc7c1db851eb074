package sec

import (
	"sort"
	"strings"
)

// Filing forms understood by UniqueFilings and JoinFilings.
const (
	FormQuarterly = "10-Q"
	FormAnnual    = "10-K"
)

// UniqueFilings keeps facts of the given form (annual forms for fiscal
// year periods, quarterly forms for Q periods) and, when units is
// non-empty, in those units. For each fiscal year, period and tag only
// the earliest filing is kept. The result is sorted by year, period and
// tag.
func UniqueFilings(facts []Fact, form, units string) []Fact {
	var kept []Fact
	for _, f := range facts {
		if f.Form != form {
			continue
		}
		switch form {
		case FormAnnual:
			if f.FP != "FY" {
				continue
			}
		case FormQuarterly:
			if !strings.HasPrefix(f.FP, "Q") {
				continue
			}
		}
		if units != "" && f.Units != units {
			continue
		}
		kept = append(kept, f)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.FY != b.FY {
			return a.FY < b.FY
		}
		if a.FP != b.FP {
			return a.FP < b.FP
		}
		if a.Tag != b.Tag {
			return a.Tag < b.Tag
		}
		return a.Filed < b.Filed
	})
	out := kept[:0]
	for i, f := range kept {
		if i > 0 {
			prev := kept[i-1]
			if prev.FY == f.FY && prev.FP == f.FP && prev.Tag == f.Tag {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

// FilingRow is one fiscal period with a value per tag.
type FilingRow struct {
	FY int
	// FP is empty for annual rows.
	FP     string
	Filed  string
	Values map[string]float64
}

// JoinFilings pivots facts into one row per fiscal period (per fiscal
// year for annual forms). A row's filing date is the latest among its
// facts. Rows are sorted by year and period.
func JoinFilings(facts []Fact, form string) []FilingRow {
	type key struct {
		fy int
		fp string
	}
	rows := map[key]*FilingRow{}
	for _, f := range facts {
		k := key{fy: f.FY, fp: f.FP}
		if form == FormAnnual {
			k.fp = ""
		}
		row, ok := rows[k]
		if !ok {
			row = &FilingRow{FY: k.fy, FP: k.fp, Values: map[string]float64{}}
			rows[k] = row
		}
		if f.Filed > row.Filed {
			row.Filed = f.Filed
		}
		row.Values[f.Tag] = f.Value
	}
	out := make([]FilingRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FY != out[j].FY {
			return out[i].FY < out[j].FY
		}
		return out[i].FP < out[j].FP
	})
	return out
}

// Ratio column names added by FinancialRatios.
const (
	AssetCoverageRatio  = "AssetCoverageRatio"
	BookRatio           = "BookRatio"
	DebtEquityRatio     = "DebtEquityRatio"
	QuickRatio          = "QuickRatio"
	ReturnOnAssets      = "ReturnOnAssets"
	ReturnOnEquity      = "ReturnOnEquity"
	WorkingCapitalRatio = "WorkingCapitalRatio"
)

// FinancialRatios adds normalised ratios computed from popular XBRL tags
// to values. A ratio is skipped when an input is missing or its
// denominator is zero.
func FinancialRatios(values map[string]float64) {
	get := func(tags ...string) ([]float64, bool) {
		out := make([]float64, len(tags))
		for i, t := range tags {
			v, ok := values[t]
			if !ok {
				return nil, false
			}
			out[i] = v
		}
		return out, true
	}
	set := func(name string, num, den float64) {
		if den != 0 {
			values[name] = num / den
		}
	}
	if v, ok := get("Assets", "LiabilitiesCurrent", "Liabilities"); ok {
		set(AssetCoverageRatio, v[0]-v[1], v[2])
	}
	if v, ok := get("Assets", "Liabilities", "CommonStockSharesOutstanding"); ok {
		set(BookRatio, v[0]-v[1], v[2])
	}
	if v, ok := get("Liabilities", "StockholdersEquity"); ok {
		set(DebtEquityRatio, v[0], v[1])
	}
	if v, ok := get("AssetsCurrent", "InventoryNet", "LiabilitiesCurrent"); ok {
		set(QuickRatio, v[0]-v[1], v[2])
	}
	if v, ok := get("NetIncomeLoss", "Assets"); ok {
		set(ReturnOnAssets, v[0], v[1])
	}
	if v, ok := get("NetIncomeLoss", "StockholdersEquity"); ok {
		set(ReturnOnEquity, v[0], v[1])
	}
	if v, ok := get("AssetsCurrent", "LiabilitiesCurrent"); ok {
		set(WorkingCapitalRatio, v[0], v[1])
	}
}

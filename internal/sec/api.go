package sec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Fact is one XBRL disclosure.
type Fact struct {
	CIK         string  `json:"cik"`
	Entity      string  `json:"entity"`
	Taxonomy    string  `json:"taxonomy"`
	Tag         string  `json:"tag"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Units       string  `json:"units"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Value       float64 `json:"value"`
	Accn        string  `json:"accn"`
	FY          int     `json:"fy"`
	FP          string  `json:"fp"`
	Form        string  `json:"form"`
	Filed       string  `json:"filed"`
	Frame       string  `json:"frame"`
}

type factRow struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	Accn  string  `json:"accn"`
	FY    int     `json:"fy"`
	FP    string  `json:"fp"`
	Form  string  `json:"form"`
	Filed string  `json:"filed"`
	Frame string  `json:"frame"`
}

func (r factRow) fact(base Fact, units string) Fact {
	base.Units = units
	base.Start, base.End, base.Value = r.Start, r.End, r.Val
	base.Accn, base.FY, base.FP = r.Accn, r.FY, r.FP
	base.Form, base.Filed, base.Frame = r.Form, r.Filed, r.Frame
	return base
}

// resolve returns the padded CIK for c.
func (c *Client) resolve(ctx context.Context, company Company) (string, error) {
	if err := company.validate(); err != nil {
		return "", err
	}
	if company.Ticker != "" {
		return c.CIK(ctx, company.Ticker)
	}
	return PadCIK(company.CIK), nil
}

// CompanyConcept returns every disclosure of one concept by one company.
// A non-empty units keeps only facts reported in those units.
func (c *Client) CompanyConcept(ctx context.Context, company Company, concept Concept) ([]Fact, error) {
	cik, err := c.resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	taxonomy := concept.Taxonomy
	if taxonomy == "" {
		taxonomy = "us-gaap"
	}
	var body struct {
		Taxonomy    string               `json:"taxonomy"`
		Tag         string               `json:"tag"`
		Label       string               `json:"label"`
		Description string               `json:"description"`
		EntityName  string               `json:"entityName"`
		Units       map[string][]factRow `json:"units"`
	}
	path := fmt.Sprintf("/api/xbrl/companyconcept/CIK%s/%s/%s.json", cik, taxonomy, concept.Tag)
	if err := c.fetch.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("sec: company concept %s for %s: %w", concept.Tag, describe(company), err)
	}
	base := Fact{
		CIK:         cik,
		Entity:      body.EntityName,
		Taxonomy:    body.Taxonomy,
		Tag:         body.Tag,
		Label:       body.Label,
		Description: body.Description,
	}
	var out []Fact
	for _, units := range sortedKeys(body.Units) {
		if concept.Units != "" && units != concept.Units {
			continue
		}
		for _, r := range body.Units[units] {
			out = append(out, r.fact(base, units))
		}
	}
	return out, nil
}

// CompanyFacts returns every XBRL disclosure by one company.
func (c *Client) CompanyFacts(ctx context.Context, company Company) ([]Fact, error) {
	cik, err := c.resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	type tagFacts struct {
		Label       string               `json:"label"`
		Description string               `json:"description"`
		Units       map[string][]factRow `json:"units"`
	}
	var body struct {
		EntityName string                         `json:"entityName"`
		Facts      map[string]map[string]tagFacts `json:"facts"`
	}
	path := fmt.Sprintf("/api/xbrl/companyfacts/CIK%s.json", cik)
	if err := c.fetch.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("sec: company facts for %s: %w", describe(company), err)
	}
	var out []Fact
	for _, taxonomy := range sortedKeys(body.Facts) {
		tags := body.Facts[taxonomy]
		for _, tag := range sortedKeys(tags) {
			tf := tags[tag]
			base := Fact{
				CIK:         cik,
				Entity:      body.EntityName,
				Taxonomy:    taxonomy,
				Tag:         tag,
				Label:       tf.Label,
				Description: tf.Description,
			}
			for _, units := range sortedKeys(tf.Units) {
				for _, r := range tf.Units[units] {
					out = append(out, r.fact(base, units))
				}
			}
		}
	}
	return out, nil
}

// Metadata is the company description returned with submissions.
type Metadata struct {
	CIK                               string `json:"cik"`
	Ticker                            string `json:"ticker"`
	EntityType                        string `json:"entityType"`
	SIC                               string `json:"sic"`
	SICDescription                    string `json:"sicDescription"`
	InsiderTransactionForOwnerExists  int    `json:"insiderTransactionForOwnerExists"`
	InsiderTransactionForIssuerExists int    `json:"insiderTransactionForIssuerExists"`
	Name                              string `json:"name"`
	Tickers                           string `json:"-"`
	Exchanges                         string `json:"-"`
	EIN                               string `json:"ein"`
	Description                       string `json:"description"`
	Website                           string `json:"website"`
	InvestorWebsite                   string `json:"investorWebsite"`
	Category                          string `json:"category"`
	FiscalYearEnd                     string `json:"fiscalYearEnd"`
	StateOfIncorporation              string `json:"stateOfIncorporation"`
	StateOfIncorporationDescription   string `json:"stateOfIncorporationDescription"`
}

// Filing is one recent submission.
type Filing struct {
	Accn            string
	FilingDate      string
	ReportDate      string
	Form            string
	PrimaryDocument string
}

// SubmissionsResult holds a company's metadata and recent filings.
type SubmissionsResult struct {
	Metadata Metadata
	Filings  []Filing
}

// Submissions returns a company's metadata and its recent filings.
func (c *Client) Submissions(ctx context.Context, company Company) (*SubmissionsResult, error) {
	cik, err := c.resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	var body struct {
		Metadata
		TickerList   []string `json:"tickers"`
		ExchangeList []string `json:"exchanges"`
		Filings      struct {
			Recent struct {
				AccessionNumber []string `json:"accessionNumber"`
				FilingDate      []string `json:"filingDate"`
				ReportDate      []string `json:"reportDate"`
				Form            []string `json:"form"`
				PrimaryDocument []string `json:"primaryDocument"`
			} `json:"recent"`
		} `json:"filings"`
	}
	path := fmt.Sprintf("/submissions/CIK%s.json", cik)
	if err := c.fetch.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("sec: submissions for %s: %w", describe(company), err)
	}

	md := body.Metadata
	md.CIK = cik
	md.Tickers = strings.Join(body.TickerList, ",")
	md.Exchanges = strings.Join(body.ExchangeList, ",")
	md.Ticker = company.Ticker
	if md.Ticker == "" {
		ticker, err := c.Ticker(ctx, cik)
		if err != nil && !errors.Is(err, ErrUnknownTicker) {
			return nil, err
		}
		md.Ticker = ticker
	}

	recent := body.Filings.Recent
	filings := make([]Filing, len(recent.AccessionNumber))
	for i, accn := range recent.AccessionNumber {
		filings[i] = Filing{
			Accn:            accn,
			FilingDate:      at(recent.FilingDate, i),
			ReportDate:      at(recent.ReportDate, i),
			Form:            at(recent.Form, i),
			PrimaryDocument: at(recent.PrimaryDocument, i),
		}
	}
	return &SubmissionsResult{Metadata: md, Filings: filings}, nil
}

// TickerInfo is one SEC-registered ticker.
type TickerInfo struct {
	CIK    string
	Ticker string
	Title  string
}

// Tickers returns every SEC-registered ticker, with padded CIKs.
func (c *Client) Tickers(ctx context.Context) ([]TickerInfo, error) {
	var body map[string]struct {
		CIK    flexString `json:"cik_str"`
		Ticker string     `json:"ticker"`
		Title  string     `json:"title"`
	}
	if err := c.fetch.GetJSON(ctx, c.filesURL+"/files/company_tickers.json", nil, &body); err != nil {
		return nil, fmt.Errorf("sec: tickers: %w", err)
	}
	out := make([]TickerInfo, 0, len(body))
	for _, k := range sortedKeys(body) {
		v := body[k]
		out = append(out, TickerInfo{CIK: PadCIK(string(v.CIK)), Ticker: v.Ticker, Title: v.Title})
	}
	return out, nil
}

// ExchangeInfo is one SEC-registered ticker with its exchange.
type ExchangeInfo struct {
	CIK      string
	Name     string
	Ticker   string
	Exchange string
}

// Exchanges returns every SEC-registered ticker with its exchange.
func (c *Client) Exchanges(ctx context.Context) ([]ExchangeInfo, error) {
	var body struct {
		Fields []string            `json:"fields"`
		Data   [][]json.RawMessage `json:"data"`
	}
	if err := c.fetch.GetJSON(ctx, c.filesURL+"/files/company_tickers_exchange.json", nil, &body); err != nil {
		return nil, fmt.Errorf("sec: exchanges: %w", err)
	}
	col := make(map[string]int, len(body.Fields))
	for i, f := range body.Fields {
		col[f] = i
	}
	field := func(row []json.RawMessage, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		var s flexString
		if err := json.Unmarshal(row[i], &s); err != nil || s == "null" {
			return ""
		}
		return string(s)
	}
	out := make([]ExchangeInfo, 0, len(body.Data))
	for _, row := range body.Data {
		out = append(out, ExchangeInfo{
			CIK:      PadCIK(field(row, "cik")),
			Name:     field(row, "name"),
			Ticker:   field(row, "ticker"),
			Exchange: field(row, "exchange"),
		})
	}
	return out, nil
}

// FramePoint is one company's value for a frame.
type FramePoint struct {
	Accn     string
	CIK      string
	Entity   string
	Loc      string
	End      string
	Value    float64
	Frame    string
	Units    string
	Tag      string
	Taxonomy string
}

// Frames returns, for each filer, the fact that best fits a calendar
// period. A zero quarter selects the whole year.
func (c *Client) Frames(ctx context.Context, frame FrameSpec, year, quarter int) ([]FramePoint, error) {
	period := fmt.Sprintf("CY%d", year)
	if quarter > 0 {
		period += fmt.Sprintf("Q%d", quarter)
		if frame.Instant {
			period += "I"
		}
	}
	taxonomy := frame.Taxonomy
	if taxonomy == "" {
		taxonomy = "us-gaap"
	}
	units := strings.ReplaceAll(frame.Units, "/", "-per-")
	var body struct {
		Taxonomy string `json:"taxonomy"`
		Tag      string `json:"tag"`
		CCP      string `json:"ccp"`
		UOM      string `json:"uom"`
		Data     []struct {
			Accn       string     `json:"accn"`
			CIK        flexString `json:"cik"`
			EntityName string     `json:"entityName"`
			Loc        string     `json:"loc"`
			End        string     `json:"end"`
			Val        float64    `json:"val"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/api/xbrl/frames/%s/%s/%s/%s.json", taxonomy, frame.Tag, units, period)
	if err := c.fetch.GetJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("sec: frames %s %s: %w", frame.Tag, period, err)
	}
	out := make([]FramePoint, len(body.Data))
	for i, d := range body.Data {
		out[i] = FramePoint{
			Accn:     d.Accn,
			CIK:      PadCIK(string(d.CIK)),
			Entity:   d.EntityName,
			Loc:      d.Loc,
			End:      d.End,
			Value:    d.Val,
			Frame:    body.CCP,
			Units:    body.UOM,
			Tag:      body.Tag,
			Taxonomy: body.Taxonomy,
		}
	}
	return out, nil
}

func (c *Client) loadTickers(ctx context.Context) error {
	c.mu.Lock()
	loaded := c.tickerToCIK != nil
	c.mu.Unlock()
	if loaded {
		return nil
	}
	infos, err := c.Tickers(ctx)
	if err != nil {
		return err
	}
	toCIK := make(map[string]string, len(infos))
	toTicker := make(map[string]string, len(infos))
	for _, info := range infos {
		t := strings.ToUpper(info.Ticker)
		toCIK[t] = info.CIK
		if _, ok := toTicker[info.CIK]; !ok {
			toTicker[info.CIK] = t
		}
	}
	c.mu.Lock()
	c.tickerToCIK, c.cikToTicker = toCIK, toTicker
	c.mu.Unlock()
	return nil
}

// CIK returns the padded CIK for a ticker. The ticker listing is fetched
// once per client.
func (c *Client) CIK(ctx context.Context, ticker string) (string, error) {
	if err := c.loadTickers(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cik, ok := c.tickerToCIK[strings.ToUpper(ticker)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTicker, ticker)
	}
	return cik, nil
}

// Ticker returns the ticker for a CIK.
func (c *Client) Ticker(ctx context.Context, cik string) (string, error) {
	if err := c.loadTickers(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker, ok := c.cikToTicker[PadCIK(cik)]
	if !ok {
		return "", fmt.Errorf("%w: cik %s", ErrUnknownTicker, cik)
	}
	return ticker, nil
}

// TickerSet returns the sorted tickers that reported any popular frame
// during the first three quarters of year.
func (c *Client) TickerSet(ctx context.Context, year int) ([]string, error) {
	set := map[string]struct{}{}
	for _, frame := range PopularFrames {
		for quarter := 1; quarter <= 3; quarter++ {
			points, err := c.Frames(ctx, frame, year, quarter)
			if err != nil {
				return nil, err
			}
			for _, p := range points {
				ticker, err := c.Ticker(ctx, p.CIK)
				if errors.Is(err, ErrUnknownTicker) {
					continue
				}
				if err != nil {
					return nil, err
				}
				set[ticker] = struct{}{}
			}
		}
	}
	return sortedKeys(set), nil
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package sec is a client for the SEC EDGAR XBRL and submissions APIs.
//
// EDGAR requires a self-declared User-Agent of the form
// "FIRST_NAME LAST_NAME E_MAIL" and allows at most 10 requests per second.
package sec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/httpx"
	"github.com/vbprojects/finagg/internal/metrics"
)

var (
	// ErrMissingUserAgent is returned when no User-Agent is configured.
	ErrMissingUserAgent = errors.New("sec: no user agent declaration; set SEC_API_USER_AGENT")
	// ErrCompany is returned unless exactly one of CIK or ticker is given.
	ErrCompany = errors.New("sec: provide exactly one of cik or ticker")
	// ErrUnknownTicker is returned when a ticker or CIK has no mapping.
	ErrUnknownTicker = errors.New("sec: unknown ticker")
)

// Defaults for Config.
const (
	DefaultBaseURL   = "https://data.sec.gov"
	DefaultFilesURL  = "https://www.sec.gov"
	DefaultRateLimit = 9
)

// Config configures a Client.
type Config struct {
	UserAgent string
	// BaseURL serves the XBRL and submissions APIs.
	BaseURL string
	// FilesURL serves the ticker and exchange listings.
	FilesURL  string
	RateLimit float64
}

// Client queries EDGAR. It is safe for concurrent use.
type Client struct {
	fetch    *httpx.Fetcher
	filesURL string
	logger   zerolog.Logger

	mu          sync.Mutex
	tickerToCIK map[string]string
	cikToTicker map[string]string
}

// New returns a client, rejecting an empty user agent.
func New(cfg Config, logger zerolog.Logger, m *metrics.Collector) (*Client, error) {
	if strings.TrimSpace(cfg.UserAgent) == "" {
		return nil, ErrMissingUserAgent
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.FilesURL == "" {
		cfg.FilesURL = DefaultFilesURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	opts := []httpx.Option{
		httpx.WithHeader("User-Agent", cfg.UserAgent),
		httpx.WithLogger(logger),
	}
	if m != nil {
		opts = append(opts, httpx.WithMetrics(m))
	}
	return &Client{
		fetch:    httpx.New("sec", cfg.BaseURL, cfg.RateLimit, opts...),
		filesURL: strings.TrimRight(cfg.FilesURL, "/"),
		logger:   logger,
	}, nil
}

// Company identifies a filer by exactly one of CIK or ticker.
type Company struct {
	CIK    string
	Ticker string
}

// ByTicker selects a company by ticker.
func ByTicker(ticker string) Company { return Company{Ticker: ticker} }

// ByCIK selects a company by CIK.
func ByCIK(cik string) Company { return Company{CIK: cik} }

func (c Company) validate() error {
	if (c.CIK == "") == (c.Ticker == "") {
		return ErrCompany
	}
	return nil
}

// PadCIK zero-pads a CIK to EDGAR's 10 digits.
func PadCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

// Concept is an XBRL tag together with its taxonomy and units.
type Concept struct {
	Tag      string
	Taxonomy string
	Units    string
}

// FrameSpec is a concept queried through the frames API. Frame units use
// "-per-" where concept units use "/".
type FrameSpec struct {
	Concept
	Instant bool
}

// ToConcept converts frame units to concept units.
func (f FrameSpec) ToConcept() Concept {
	c := f.Concept
	c.Units = strings.ReplaceAll(c.Units, "-per-", "/")
	return c
}

// PopularFrames are widely reported frames used for fundamental analysis.
var PopularFrames = []FrameSpec{
	{Concept{"Assets", "us-gaap", "USD"}, true},
	{Concept{"AssetsCurrent", "us-gaap", "USD"}, true},
	{Concept{"CommonStockSharesOutstanding", "us-gaap", "shares"}, true},
	{Concept{"EarningsPerShareBasic", "us-gaap", "USD-per-shares"}, false},
	{Concept{"InventoryNet", "us-gaap", "USD"}, true},
	{Concept{"Liabilities", "us-gaap", "USD"}, true},
	{Concept{"LiabilitiesCurrent", "us-gaap", "USD"}, true},
	{Concept{"NetIncomeLoss", "us-gaap", "USD"}, true},
	{Concept{"StockholdersEquity", "us-gaap", "USD"}, true},
}

// PopularConcepts returns PopularFrames as concepts.
func PopularConcepts() []Concept {
	out := make([]Concept, len(PopularFrames))
	for i, f := range PopularFrames {
		out[i] = f.ToConcept()
	}
	return out
}

// flexString decodes JSON strings and numbers alike; EDGAR serves CIKs
// as both.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		v, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(string(b))
	return nil
}

func describe(c Company) string {
	if c.Ticker != "" {
		return fmt.Sprintf("ticker %s", c.Ticker)
	}
	return fmt.Sprintf("cik %s", c.CIK)
}

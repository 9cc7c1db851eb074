// Package scrape runs bounded worker pools that pull SEC, FRED and Yahoo
// Finance data into the store.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/sec"
	"github.com/vbprojects/finagg/internal/yfinance"
)

// ErrNoSource is returned when a pipeline's upstream client is not set.
var ErrNoSource = errors.New("scrape: source not configured")

// Pipeline names.
const (
	PipelineSEC      = "sec"
	PipelineFRED     = "fred"
	PipelineYFinance = "yfinance"
)

// SECSource fetches company filings.
type SECSource interface {
	Submissions(ctx context.Context, company sec.Company) (*sec.SubmissionsResult, error)
	CompanyFacts(ctx context.Context, company sec.Company) ([]sec.Fact, error)
}

// FREDSource fetches economic series.
type FREDSource interface {
	SeriesObservations(ctx context.Context, seriesID string, opts fred.ObservationOptions) ([]fred.Observation, error)
}

// PriceSource fetches price history.
type PriceSource interface {
	History(ctx context.Context, ticker, interval, period string) ([]yfinance.Price, error)
}

// Sink stores scraped rows.
type Sink interface {
	UpsertSubmission(ctx context.Context, md sec.Metadata) error
	UpsertTags(ctx context.Context, facts []sec.Fact) (int, error)
	UpsertSeries(ctx context.Context, obs []fred.Observation) (int, error)
	UpsertPrices(ctx context.Context, prices []yfinance.Price) (int, error)
	UpsertDailyFeatures(ctx context.Context, feats []yfinance.DailyFeature) (int, error)
}

// Result summarises one scrape run.
type Result struct {
	RunID string
	// Rows maps each succeeded item to the rows it wrote.
	Rows map[string]int
	// Failures maps each failed item to its error.
	Failures map[string]error
}

// Total returns the rows written across items.
func (r *Result) Total() int {
	n := 0
	for _, v := range r.Rows {
		n += v
	}
	return n
}

// Runner dispatches scrape jobs to a fixed pool of workers.
type Runner struct {
	sink      Sink
	sec       SECSource
	fred      FREDSource
	prices    PriceSource
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    zerolog.Logger
	workers   int
	start     string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSEC sets the SEC source.
func WithSEC(s SECSource) Option { return func(r *Runner) { r.sec = s } }

// WithFRED sets the FRED source.
func WithFRED(s FREDSource) Option { return func(r *Runner) { r.fred = s } }

// WithYFinance sets the price source.
func WithYFinance(s PriceSource) Option { return func(r *Runner) { r.prices = s } }

// WithPublisher sets where finished runs are announced.
func WithPublisher(p events.Publisher) Option { return func(r *Runner) { r.publisher = p } }

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Collector) Option { return func(r *Runner) { r.metrics = m } }

// WithLogger sets the runner's logger.
func WithLogger(l zerolog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithWorkers bounds concurrent jobs; values below one mean one.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n < 1 {
			n = 1
		}
		r.workers = n
	}
}

// WithStart drops rows dated before start (YYYY-MM-DD).
func WithStart(start string) Option { return func(r *Runner) { r.start = start } }

// NewRunner returns a runner writing to sink.
func NewRunner(sink Sink, opts ...Option) *Runner {
	r := &Runner{
		sink:      sink,
		publisher: events.NoopPublisher{},
		logger:    zerolog.Nop(),
		workers:   1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type job struct {
	item string
}

type outcome struct {
	item string
	rows int
	err  error
}

// run feeds items to the worker pool and collects every outcome. It
// returns early only when ctx is cancelled.
func (r *Runner) run(ctx context.Context, pipeline string, items []string, fn func(context.Context, string) (int, error)) (*Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With().Str("run_id", runID).Str("pipeline", pipeline).Logger()
	started := time.Now()
	logger.Info().Int("items", len(items)).Int("workers", r.workers).Msg("Scrape started")

	jobs := make(chan job)
	outcomes := make(chan outcome, len(items))
	var wg sync.WaitGroup
	for w := 1; w <= r.workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range jobs {
				rows, err := fn(ctx, j.item)
				if err != nil {
					logger.Warn().Err(err).Int("worker", id).Str("item", j.item).Msg("Scrape item failed")
				} else {
					logger.Debug().Int("worker", id).Str("item", j.item).Int("rows", rows).Msg("Scrape item done")
				}
				outcomes <- outcome{item: j.item, rows: rows, err: err}
			}
		}(w)
	}

dispatch:
	for _, item := range items {
		select {
		case jobs <- job{item: item}:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	res := &Result{RunID: runID, Rows: map[string]int{}, Failures: map[string]error{}}
	for o := range outcomes {
		if o.err != nil {
			res.Failures[o.item] = o.err
			continue
		}
		res.Rows[o.item] = o.rows
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("scrape: %s run %s: %w", pipeline, runID, err)
	}

	finished := time.Now()
	if r.metrics != nil {
		r.metrics.ScrapeCompleted(runID, pipeline, res.Total(), len(res.Failures), finished.Sub(started))
	}
	event := events.ScrapeEvent{
		RunID:      runID,
		Pipeline:   pipeline,
		Rows:       res.Rows,
		Failures:   describeFailures(res.Failures),
		StartedAt:  started,
		FinishedAt: finished,
	}
	if err := r.publisher.PublishScrape(ctx, event); err != nil {
		logger.Error().Err(err).Msg("Failed to publish scrape event")
	}
	logger.Info().Int("rows", res.Total()).Int("failures", len(res.Failures)).Msg("Scrape finished")
	return res, nil
}

func describeFailures(failures map[string]error) []string {
	out := make([]string, 0, len(failures))
	for item, err := range failures {
		out = append(out, item+": "+err.Error())
	}
	sort.Strings(out)
	return out
}

func upper(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	return out
}

// SEC scrapes submissions and popular quarterly tags for tickers.
func (r *Runner) SEC(ctx context.Context, tickers []string) (*Result, error) {
	if r.sec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, PipelineSEC)
	}
	return r.run(ctx, PipelineSEC, upper(tickers), r.scrapeCompany)
}

func (r *Runner) scrapeCompany(ctx context.Context, ticker string) (int, error) {
	company := sec.ByTicker(ticker)
	sub, err := r.sec.Submissions(ctx, company)
	if err != nil {
		return 0, err
	}
	facts, err := r.sec.CompanyFacts(ctx, company)
	if err != nil {
		return 0, err
	}

	var keep []sec.Fact
	for _, c := range sec.PopularConcepts() {
		var matching []sec.Fact
		for _, f := range facts {
			if f.Tag == c.Tag && f.Taxonomy == c.Taxonomy && f.Filed >= r.start {
				matching = append(matching, f)
			}
		}
		keep = append(keep, sec.UniqueFilings(matching, sec.FormQuarterly, c.Units)...)
	}
	if len(keep) == 0 {
		return 0, fmt.Errorf("no quarterly filings of popular concepts for %s", ticker)
	}

	if err := r.sink.UpsertSubmission(ctx, sub.Metadata); err != nil {
		return 0, err
	}
	return r.sink.UpsertTags(ctx, keep)
}

// FRED scrapes observations for seriesIDs.
func (r *Runner) FRED(ctx context.Context, seriesIDs []string) (*Result, error) {
	if r.fred == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, PipelineFRED)
	}
	return r.run(ctx, PipelineFRED, upper(seriesIDs), func(ctx context.Context, id string) (int, error) {
		obs, err := r.fred.SeriesObservations(ctx, id, fred.ObservationOptions{Start: r.start})
		if err != nil {
			return 0, err
		}
		return r.sink.UpsertSeries(ctx, obs)
	})
}

// YFinance scrapes daily prices and derived daily features for tickers.
func (r *Runner) YFinance(ctx context.Context, tickers []string) (*Result, error) {
	if r.prices == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, PipelineYFinance)
	}
	return r.run(ctx, PipelineYFinance, upper(tickers), func(ctx context.Context, ticker string) (int, error) {
		prices, err := r.prices.History(ctx, ticker, yfinance.DefaultInterval, yfinance.DefaultRange)
		if err != nil {
			return 0, err
		}
		kept := prices[:0]
		for _, p := range prices {
			if p.Date >= r.start {
				kept = append(kept, p)
			}
		}
		n, err := r.sink.UpsertPrices(ctx, kept)
		if err != nil {
			return 0, err
		}
		if _, err := r.sink.UpsertDailyFeatures(ctx, yfinance.DailyFeatures(kept)); err != nil {
			return 0, err
		}
		return n, nil
	})
}

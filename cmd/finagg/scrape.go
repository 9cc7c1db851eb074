package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbprojects/finagg/internal/features"
	"github.com/vbprojects/finagg/internal/fred"
	"github.com/vbprojects/finagg/internal/logging"
	"github.com/vbprojects/finagg/internal/metrics"
	"github.com/vbprojects/finagg/internal/scrape"
	"github.com/vbprojects/finagg/internal/sec"
	"github.com/vbprojects/finagg/internal/store"
	"github.com/vbprojects/finagg/internal/yfinance"
)

var tickerSetYear int

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape upstream sources into the store",
}

var scrapeSECCmd = &cobra.Command{
	Use:   "sec [TICKER...]",
	Short: "Scrape SEC submissions and quarterly tags",
	Long: `Scrape SEC submissions and quarterly tags for the given tickers.
Without tickers, every company reporting a popular frame in --year is
scraped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd.Context(), func(ctx context.Context, s *store.Store, m *metrics.Collector) ([]scrape.Option, func(*scrape.Runner) (*scrape.Result, error), error) {
			client, err := sec.New(sec.Config{
				UserAgent: cfg.SEC.UserAgent,
				BaseURL:   cfg.SEC.BaseURL,
				RateLimit: cfg.SEC.RateLimit,
			}, logging.Component(logger, "sec"), m)
			if err != nil {
				return nil, nil, err
			}
			tickers := args
			if len(tickers) == 0 {
				logger.Info().Int("year", tickerSetYear).Msg("Resolving ticker set")
				if tickers, err = client.TickerSet(ctx, tickerSetYear); err != nil {
					return nil, nil, err
				}
			}
			return []scrape.Option{scrape.WithSEC(client)}, func(r *scrape.Runner) (*scrape.Result, error) {
				return r.SEC(ctx, tickers)
			}, nil
		})
	},
}

var scrapeFREDCmd = &cobra.Command{
	Use:   "fred [SERIES...]",
	Short: "Scrape FRED series observations",
	Long:  `Scrape FRED series observations. Without series IDs, the economic series used by feature frames are scraped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd.Context(), func(ctx context.Context, s *store.Store, m *metrics.Collector) ([]scrape.Option, func(*scrape.Runner) (*scrape.Result, error), error) {
			client, err := fred.New(fred.Config{
				APIKey:    cfg.FRED.APIKey,
				BaseURL:   cfg.FRED.BaseURL,
				RateLimit: cfg.FRED.RateLimit,
			}, logging.Component(logger, "fred"), m)
			if err != nil {
				return nil, nil, err
			}
			ids := args
			if len(ids) == 0 {
				ids = fred.EconomicSeries
			}
			return []scrape.Option{scrape.WithFRED(client)}, func(r *scrape.Runner) (*scrape.Result, error) {
				return r.FRED(ctx, ids)
			}, nil
		})
	},
}

var scrapeYFinanceCmd = &cobra.Command{
	Use:   "yfinance [TICKER...]",
	Short: "Scrape daily prices",
	Long: `Scrape daily prices and derived daily features. Without tickers,
every ticker with a stored SEC submission plus the reference indices is
scraped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScrape(cmd.Context(), func(ctx context.Context, s *store.Store, m *metrics.Collector) ([]scrape.Option, func(*scrape.Runner) (*scrape.Result, error), error) {
			client := yfinance.New(yfinance.Config{
				BaseURL:   cfg.YFinance.BaseURL,
				RateLimit: cfg.YFinance.RateLimit,
			}, logging.Component(logger, "yfinance"), m)
			tickers := args
			if len(tickers) == 0 {
				stored, err := s.TickerSet(ctx)
				if err != nil {
					return nil, nil, err
				}
				tickers = append(stored, features.DefaultIndices...)
			}
			return []scrape.Option{scrape.WithYFinance(client)}, func(r *scrape.Runner) (*scrape.Result, error) {
				return r.YFinance(ctx, tickers)
			}, nil
		})
	},
}

func init() {
	scrapeCmd.PersistentFlags().Int("workers", 4, "Concurrent scrape workers")
	scrapeCmd.PersistentFlags().String("start", "1970-01-01", "First date kept, as YYYY-MM-DD")
	_ = v.BindPFlag("scrape.workers", scrapeCmd.PersistentFlags().Lookup("workers"))
	_ = v.BindPFlag("scrape.start", scrapeCmd.PersistentFlags().Lookup("start"))

	scrapeSECCmd.Flags().IntVar(&tickerSetYear, "year", time.Now().Year()-1, "Year used to resolve the ticker set")

	scrapeCmd.AddCommand(scrapeSECCmd, scrapeFREDCmd, scrapeYFinanceCmd)
}

type scrapeSetup func(ctx context.Context, s *store.Store, m *metrics.Collector) ([]scrape.Option, func(*scrape.Runner) (*scrape.Result, error), error)

// runScrape opens the store and publisher, builds a runner from setup and
// prints rows per item.
func runScrape(ctx context.Context, setup scrapeSetup) error {
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	publisher, closePublisher, err := newPublisher()
	if err != nil {
		return err
	}
	defer closePublisher()

	m := metrics.NewCollector(logging.Component(logger, "metrics"))
	opts, run, err := setup(ctx, s, m)
	if err != nil {
		return err
	}
	opts = append(opts,
		scrape.WithPublisher(publisher),
		scrape.WithMetrics(m),
		scrape.WithLogger(logging.Component(logger, "scrape")),
		scrape.WithWorkers(cfg.Scrape.Workers),
		scrape.WithStart(cfg.Scrape.Start),
	)
	result, err := run(scrape.NewRunner(s, opts...))
	if err != nil {
		return err
	}

	items := make([]string, 0, len(result.Rows))
	for item := range result.Rows {
		items = append(items, item)
	}
	sort.Strings(items)
	for _, item := range items {
		fmt.Printf("%s\t%d\n", item, result.Rows[item])
	}
	for item, err := range result.Failures {
		logger.Warn().Str("item", item).Err(err).Msg("Scrape failed")
	}
	logger.Info().
		Str("run_id", result.RunID).
		Int("rows", result.Total()).
		Int("failures", len(result.Failures)).
		Msg("Scrape finished")
	return nil
}

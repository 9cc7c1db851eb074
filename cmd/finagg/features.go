package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbprojects/finagg/internal/features"
)

var (
	buildStart    string
	buildEnd      string
	buildEconomic bool
	buildMinRows  int
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Assemble feature frames from scraped data",
}

var featuresBuildCmd = &cobra.Command{
	Use:   "build [TICKER...]",
	Short: "Build and store fundamental and economic features",
	Long: `Build fundamental features for the given tickers (every stored
submission when none are given) and replace their stored rows. With
--economic, the economic frame is rebuilt as well.`,
	RunE: runFeaturesBuild,
}

func init() {
	featuresBuildCmd.Flags().StringVar(&buildStart, "start", "", "First date kept, as YYYY-MM-DD")
	featuresBuildCmd.Flags().StringVar(&buildEnd, "end", "", "Last date kept, as YYYY-MM-DD")
	featuresBuildCmd.Flags().BoolVar(&buildEconomic, "economic", true, "Rebuild economic features")
	featuresBuildCmd.Flags().IntVar(&buildMinRows, "min-rows", 0, "Report tickers with at least this many stored rows")

	featuresCmd.AddCommand(featuresBuildCmd)
}

func runFeaturesBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if buildEconomic {
		economic := features.NewEconomic(s)
		frame, err := economic.FromSQL(ctx, buildStart, buildEnd)
		switch {
		case errors.Is(err, features.ErrNoData):
			logger.Warn().Msg("No economic series stored, skipping")
		case err != nil:
			return fmt.Errorf("economic features: %w", err)
		default:
			n, err := economic.ToStore(ctx, frame)
			if err != nil {
				return fmt.Errorf("store economic features: %w", err)
			}
			logger.Info().Int("rows", n).Msg("Stored economic features")
		}
	}

	tickers := args
	if len(tickers) == 0 {
		if tickers, err = s.TickerSet(ctx); err != nil {
			return err
		}
	}
	fundamental := features.NewFundamental(s)
	built := 0
	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := fundamental.FromSQL(ctx, ticker, buildStart, buildEnd)
		if err != nil {
			logger.Warn().Str("ticker", ticker).Err(err).Msg("Skipping ticker")
			continue
		}
		if err := s.DeleteFundamentalFeatures(ctx, ticker); err != nil {
			return err
		}
		n, err := fundamental.ToStore(ctx, ticker, frame)
		if err != nil {
			return fmt.Errorf("store %s features: %w", ticker, err)
		}
		fmt.Printf("%s\t%d\n", ticker, n)
		built++
	}
	logger.Info().Int("tickers", built).Int("requested", len(tickers)).Msg("Built fundamental features")

	if buildMinRows > 0 {
		ready, err := s.TickersWithAtLeast(ctx, buildMinRows)
		if err != nil {
			return err
		}
		logger.Info().Int("min_rows", buildMinRows).Strs("tickers", ready).Msg("Tickers with enough rows")
	}
	return nil
}

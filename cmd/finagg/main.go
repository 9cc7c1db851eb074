package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vbprojects/finagg/internal/config"
	"github.com/vbprojects/finagg/internal/events"
	"github.com/vbprojects/finagg/internal/logging"
	"github.com/vbprojects/finagg/internal/store"
)

var (
	v          = config.NewViper()
	cfg        *config.Config
	logger     zerolog.Logger
	configFile string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "finagg",
	Short: "Financial data aggregation and policy sampling",
	Long: `finagg scrapes SEC EDGAR, FRED and Yahoo Finance into a local
relational store, assembles daily feature frames from it, and samples a
policy over those features from the command line or over HTTP and gRPC.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Config file (yaml, toml or json)")
	flags.StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load (default .env)")

	// Logging
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, console)")

	// Database
	flags.String("db-driver", "sqlite3", "Database driver (sqlite3, postgres)")
	flags.String("db-path", "finagg.sqlite", "SQLite database file")

	// Bind flags to viper for environment variable support
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = v.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = v.BindPFlag("database.path", flags.Lookup("db-path"))

	rootCmd.AddCommand(scrapeCmd, featuresCmd, sampleCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	c, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	l, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// bindFlag binds a command flag to a viper key, panicking on a typo.
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Database, logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newPublisher connects to NATS when a URL is configured. The returned
// func releases the connection.
func newPublisher() (events.Publisher, func(), error) {
	if cfg.NATS.URL == "" {
		return events.NoopPublisher{}, func() {}, nil
	}
	p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logging.Component(logger, "events"))
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

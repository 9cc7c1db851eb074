// Package config holds finagg's runtime configuration, read from flags,
// FINAGG_* environment variables, an optional config file and .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable viper reads.
const EnvPrefix = "FINAGG"

// Environment variables read directly, matching the upstream API docs.
const (
	SECUserAgentEnv = "SEC_API_USER_AGENT"
	FREDAPIKeyEnv   = "FRED_API_KEY"
)

// Config holds all finagg configuration
type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Servers
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`

	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	SEC      SECConfig      `mapstructure:"sec"`
	FRED     FREDConfig     `mapstructure:"fred"`
	YFinance YFinanceConfig `mapstructure:"yfinance"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Policy   PolicyConfig   `mapstructure:"policy"`
}

// DatabaseConfig selects and locates the relational store.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite file. ":memory:" keeps the store in memory.
	Path string `mapstructure:"path"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// SECConfig configures the EDGAR client.
type SECConfig struct {
	UserAgent string  `mapstructure:"user_agent"`
	RateLimit float64 `mapstructure:"rate_limit"`
	BaseURL   string  `mapstructure:"base_url"`
}

// FREDConfig configures the FRED client.
type FREDConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit"`
	BaseURL   string  `mapstructure:"base_url"`
}

// YFinanceConfig configures the Yahoo Finance client.
type YFinanceConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"`
	BaseURL   string  `mapstructure:"base_url"`
}

// ScrapeConfig configures scrape pipelines.
type ScrapeConfig struct {
	Workers int `mapstructure:"workers"`
	// Start bounds the first date kept by scrapes, as YYYY-MM-DD.
	Start string `mapstructure:"start"`
}

// PolicyConfig describes the policy served over HTTP and gRPC.
type PolicyConfig struct {
	Model          string         `mapstructure:"model"`
	ModelConfig    map[string]any `mapstructure:"model_config"`
	Dist           string         `mapstructure:"dist"`
	ObservationDim int            `mapstructure:"observation_dim"`
	ActionDim      int            `mapstructure:"action_dim"`
	Seed           uint64         `mapstructure:"seed"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		HTTPAddr:        ":8080",
		GRPCAddr:        ":9090",
		ShutdownTimeout: 30 * time.Second,
		RequestsPerSec:  50,
		Database: DatabaseConfig{
			Driver:  "sqlite3",
			Path:    "finagg.sqlite",
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			DBName:  "finagg",
			SSLMode: "disable",
		},
		NATS: NATSConfig{
			Subject: "finagg",
		},
		SEC: SECConfig{
			RateLimit: 9,
			BaseURL:   "https://data.sec.gov",
		},
		FRED: FREDConfig{
			RateLimit: 2,
			BaseURL:   "https://api.stlouisfed.org/fred",
		},
		YFinance: YFinanceConfig{
			RateLimit: 5,
			BaseURL:   "https://query1.finance.yahoo.com",
		},
		Scrape: ScrapeConfig{
			Workers: 4,
			Start:   "1970-01-01",
		},
		Policy: PolicyConfig{
			Model:          "linear",
			ModelConfig:    map[string]any{},
			Dist:           "categorical",
			ObservationDim: 8,
			ActionDim:      3,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	for name, limit := range map[string]float64{
		"sec.rate_limit":      c.SEC.RateLimit,
		"fred.rate_limit":     c.FRED.RateLimit,
		"yfinance.rate_limit": c.YFinance.RateLimit,
	} {
		if limit <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be positive")
	}
	if _, err := time.Parse(time.DateOnly, c.Scrape.Start); err != nil {
		return fmt.Errorf("scrape.start: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if c.Policy.ObservationDim <= 0 || c.Policy.ActionDim <= 0 {
		return fmt.Errorf("policy.observation_dim and policy.action_dim must be positive")
	}
	return nil
}

// ConnectionString returns the database connection string for the
// configured driver.
func (d DatabaseConfig) ConnectionString() string {
	if d.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
	}
	return d.Path
}

// SetDefaults registers every default with v so that environment
// variables override nested keys.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)
	v.SetDefault("requests_per_sec", d.RequestsPerSec)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)

	v.SetDefault("sec.user_agent", d.SEC.UserAgent)
	v.SetDefault("sec.rate_limit", d.SEC.RateLimit)
	v.SetDefault("sec.base_url", d.SEC.BaseURL)
	v.SetDefault("fred.api_key", d.FRED.APIKey)
	v.SetDefault("fred.rate_limit", d.FRED.RateLimit)
	v.SetDefault("fred.base_url", d.FRED.BaseURL)
	v.SetDefault("yfinance.rate_limit", d.YFinance.RateLimit)
	v.SetDefault("yfinance.base_url", d.YFinance.BaseURL)

	v.SetDefault("scrape.workers", d.Scrape.Workers)
	v.SetDefault("scrape.start", d.Scrape.Start)

	v.SetDefault("policy.model", d.Policy.Model)
	v.SetDefault("policy.model_config", d.Policy.ModelConfig)
	v.SetDefault("policy.dist", d.Policy.Dist)
	v.SetDefault("policy.observation_dim", d.Policy.ObservationDim)
	v.SetDefault("policy.action_dim", d.Policy.ActionDim)
	v.SetDefault("policy.seed", d.Policy.Seed)
}

// NewViper returns a viper instance reading FINAGG_* variables, with
// nested keys mapped as FINAGG_DATABASE_DRIVER and so on.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads the given .env files (".env" when none are given)
// into the process environment. Missing files are ignored; existing
// variables are not overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads v into a validated Config. The SEC user agent and FRED API
// key fall back to SEC_API_USER_AGENT and FRED_API_KEY.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.SEC.UserAgent == "" {
		cfg.SEC.UserAgent = os.Getenv(SECUserAgentEnv)
	}
	if cfg.FRED.APIKey == "" {
		cfg.FRED.APIKey = os.Getenv(FREDAPIKeyEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

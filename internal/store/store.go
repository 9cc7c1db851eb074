// Package store persists scraped data and derived features in SQLite or
// PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/vbprojects/finagg/internal/config"
)

var (
	// ErrNotFound indicates the requested rows do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = errors.New("conflict")
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store wraps a database handle. Queries are written with ? placeholders
// and rebound for the driver.
type Store struct {
	db     *sql.DB
	driver string
	logger zerolog.Logger
}

// Open connects to the configured database. Migrate must be called
// before use on a fresh database.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	db, err := sql.Open(cfg.Driver, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and serialises
		// writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Driver, err)
	}
	logger.Info().Str("driver", cfg.Driver).Msg("Connected to database")
	return &Store{db: db, driver: cfg.Driver, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the database driver name.
func (s *Store) Driver() string {
	return s.driver
}

var tables = []string{
	"submissions",
	"tags",
	"prices",
	"daily_features",
	"series",
	"economic_features",
	"fundamental_features",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		cik TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		sic TEXT NOT NULL DEFAULT '',
		sic_description TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		tickers TEXT NOT NULL DEFAULT '',
		exchanges TEXT NOT NULL DEFAULT '',
		ein TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		fiscal_year_end TEXT NOT NULL DEFAULT '',
		state_of_incorporation TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		cik TEXT NOT NULL,
		accn TEXT NOT NULL,
		taxonomy TEXT NOT NULL,
		tag TEXT NOT NULL,
		units TEXT NOT NULL,
		fy INTEGER NOT NULL,
		fp TEXT NOT NULL,
		form TEXT NOT NULL,
		filed TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (cik, accn, tag)
	)`,
	`CREATE TABLE IF NOT EXISTS prices (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ticker, date)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_features (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ticker, date, name)
	)`,
	`CREATE TABLE IF NOT EXISTS series (
		series_id TEXT NOT NULL,
		date TEXT NOT NULL,
		value DOUBLE PRECISION,
		PRIMARY KEY (series_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS economic_features (
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (date, name)
	)`,
	`CREATE TABLE IF NOT EXISTS fundamental_features (
		ticker TEXT NOT NULL,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ticker, date, name)
	)`,
}

// Migrate creates any missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// DropAll drops every table.
func (s *Store) DropAll(ctx context.Context) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+tables[i]); err != nil {
			return fmt.Errorf("store: drop %s: %w", tables[i], err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders as $N for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// batchExec runs query once per args row in a single transaction and
// returns the number of rows written.
func (s *Store) batchExec(ctx context.Context, query string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			if isUniqueViolation(err) {
				return 0, ErrConflict
			}
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// dateRange fills unbounded ends of an inclusive YYYY-MM-DD range.
func dateRange(start, end string) (string, string) {
	if start == "" {
		start = "0000-00-00"
	}
	if end == "" {
		end = "9999-99-99"
	}
	return start, end
}

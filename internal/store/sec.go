package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vbprojects/finagg/internal/sec"
)

// UpsertSubmission stores a company's metadata keyed by CIK.
func (s *Store) UpsertSubmission(ctx context.Context, md sec.Metadata) error {
	if md.CIK == "" || md.Ticker == "" {
		return fmt.Errorf("store: submission needs a CIK and ticker")
	}
	_, err := s.batchExec(ctx, `
		INSERT INTO submissions (cik, ticker, entity_type, sic, sic_description, name,
			tickers, exchanges, ein, category, fiscal_year_end, state_of_incorporation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cik) DO UPDATE SET
			ticker = excluded.ticker, entity_type = excluded.entity_type,
			sic = excluded.sic, sic_description = excluded.sic_description,
			name = excluded.name, tickers = excluded.tickers,
			exchanges = excluded.exchanges, ein = excluded.ein,
			category = excluded.category, fiscal_year_end = excluded.fiscal_year_end,
			state_of_incorporation = excluded.state_of_incorporation`,
		[][]any{{
			md.CIK, strings.ToUpper(md.Ticker), md.EntityType, md.SIC, md.SICDescription, md.Name,
			md.Tickers, md.Exchanges, md.EIN, md.Category, md.FiscalYearEnd, md.StateOfIncorporation,
		}})
	if err != nil {
		return fmt.Errorf("store: upsert submission %s: %w", md.CIK, err)
	}
	return nil
}

// Submission returns the stored metadata for ticker.
func (s *Store) Submission(ctx context.Context, ticker string) (sec.Metadata, error) {
	var md sec.Metadata
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT cik, ticker, entity_type, sic, sic_description, name, tickers, exchanges,
			ein, category, fiscal_year_end, state_of_incorporation
		FROM submissions WHERE ticker = ?`), strings.ToUpper(ticker)).Scan(
		&md.CIK, &md.Ticker, &md.EntityType, &md.SIC, &md.SICDescription, &md.Name,
		&md.Tickers, &md.Exchanges, &md.EIN, &md.Category, &md.FiscalYearEnd, &md.StateOfIncorporation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sec.Metadata{}, ErrNotFound
		}
		return sec.Metadata{}, fmt.Errorf("store: submission %s: %w", ticker, err)
	}
	return md, nil
}

// UpsertTags stores facts keyed by CIK, accession number and tag.
func (s *Store) UpsertTags(ctx context.Context, facts []sec.Fact) (int, error) {
	rows := make([][]any, len(facts))
	for i, f := range facts {
		rows[i] = []any{f.CIK, f.Accn, f.Taxonomy, f.Tag, f.Units, f.FY, f.FP, f.Form, f.Filed, f.Value}
	}
	n, err := s.batchExec(ctx, `
		INSERT INTO tags (cik, accn, taxonomy, tag, units, fy, fp, form, filed, value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cik, accn, tag) DO UPDATE SET
			taxonomy = excluded.taxonomy, units = excluded.units, fy = excluded.fy,
			fp = excluded.fp, form = excluded.form, filed = excluded.filed,
			value = excluded.value`, rows)
	if err != nil {
		return 0, fmt.Errorf("store: upsert tags: %w", err)
	}
	return n, nil
}

// TagsForTicker returns the stored facts of ticker ordered by fiscal
// period, filing date and tag.
func (s *Store) TagsForTicker(ctx context.Context, ticker string) ([]sec.Fact, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT t.cik, t.accn, t.taxonomy, t.tag, t.units, t.fy, t.fp, t.form, t.filed, t.value
		FROM tags t JOIN submissions s ON s.cik = t.cik
		WHERE s.ticker = ?
		ORDER BY t.fy, t.fp, t.filed, t.tag`), strings.ToUpper(ticker))
	if err != nil {
		return nil, fmt.Errorf("store: tags for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []sec.Fact
	for rows.Next() {
		var f sec.Fact
		if err := rows.Scan(&f.CIK, &f.Accn, &f.Taxonomy, &f.Tag, &f.Units, &f.FY, &f.FP, &f.Form, &f.Filed, &f.Value); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TickerSet returns every ticker with stored submissions, sorted.
func (s *Store) TickerSet(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT ticker FROM submissions ORDER BY ticker`)
}

// TickersWithAtLeast returns tickers with at least n dates of fundamental
// features, sorted.
func (s *Store) TickersWithAtLeast(ctx context.Context, n int) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT ticker FROM fundamental_features
		GROUP BY ticker HAVING COUNT(DISTINCT date) >= ?
		ORDER BY ticker`, n)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

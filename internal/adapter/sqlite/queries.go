package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
)

// Utilities returns the distinct utility names in the live table, ascending.
func (s *Store) Utilities(ctx context.Context) ([]string, error) {
	if err := s.requireLive(ctx); err != nil {
		return nil, err
	}
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT Utility FROM "latest" WHERE Utility IS NOT NULL ORDER BY Utility`); err != nil {
		return nil, fmt.Errorf("query utilities: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoData
	}
	return out, nil
}

// Samples returns the analyte rows for utility between start and end
// (inclusive calendar dates), ascending by date.
func (s *Store) Samples(ctx context.Context, utility string, start, end time.Time) ([]domain.Sample, error) {
	if err := s.requireLive(ctx); err != nil {
		return nil, err
	}
	var out []domain.Sample
	err := s.db.SelectContext(ctx, &out,
		`SELECT Date, SARS_COV_2_Copies_L_LP1, SARS_COV_2_Copies_L_LP2 FROM "latest"
		 WHERE Utility = ? AND Date BETWEEN ? AND ? ORDER BY Date`,
		utility, domain.ISODate(start), domain.ISODate(end))
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoData
	}
	return out, nil
}

// Cases returns the case counts for utility between start and end, ascending
// by date.
func (s *Store) Cases(ctx context.Context, utility string, start, end time.Time) ([]domain.CaseCount, error) {
	if err := s.requireLive(ctx); err != nil {
		return nil, err
	}
	var out []domain.CaseCount
	err := s.db.SelectContext(ctx, &out,
		`SELECT Date, Cases FROM "latest"
		 WHERE Utility = ? AND Date BETWEEN ? AND ? ORDER BY Date`,
		utility, domain.ISODate(start), domain.ISODate(end))
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoData
	}
	return out, nil
}

// CheckReadiness reports whether the live table exists and holds rows.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.requireLive(ctx); err != nil {
		return err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM "latest"`); err != nil {
		return fmt.Errorf("count live rows: %w", err)
	}
	if n == 0 {
		return domain.ErrNoData
	}
	return nil
}

// TableStats summarizes the live table for integrity checks.
type TableStats struct {
	Rows         int `db:"row_count"`
	NonISODates  int `db:"non_iso_dates"`
	TextAnalytes int `db:"text_analytes"`
	Utilities    int `db:"utility_count"`
}

// Stats inspects the live table's row count and column typing.
func (s *Store) Stats(ctx context.Context) (TableStats, error) {
	if err := s.requireLive(ctx); err != nil {
		return TableStats{}, err
	}
	var st TableStats
	err := s.db.GetContext(ctx, &st, `SELECT
		count(*) AS row_count,
		coalesce(sum(typeof(Date) != 'text' OR Date NOT GLOB '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]'), 0) AS non_iso_dates,
		coalesce(sum(typeof(SARS_COV_2_Copies_L_LP1) = 'text' OR typeof(SARS_COV_2_Copies_L_LP2) = 'text'), 0) AS text_analytes,
		count(DISTINCT Utility) AS utility_count
		FROM "latest"`)
	if err != nil {
		return TableStats{}, fmt.Errorf("inspect live table: %w", err)
	}
	return st, nil
}

// Tables lists every table in the store, live and backups, by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return out, nil
}

func (s *Store) requireLive(ctx context.Context) error {
	ok, err := tableExists(ctx, s.db, LiveTable)
	if err != nil {
		return fmt.Errorf("inspect store: %w", err)
	}
	if !ok {
		return domain.ErrNoData
	}
	return nil
}

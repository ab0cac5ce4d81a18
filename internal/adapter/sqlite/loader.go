package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
)

// LiveTable is the table the read API queries.
const LiveTable = "latest"

const liveIndex = "latest_utility_date"

// Column types are declared explicitly: inferring them from the first rows
// has classified an analyte column as TEXT, which breaks range queries.
const createLiveTable = `CREATE TABLE "latest" (
	Date INTEGER,
	Utility TEXT,
	SARS_COV_2_Copies_L_LP1 REAL,
	SARS_COV_2_Copies_L_LP2 REAL,
	Cases INTEGER,
	Lab_Phase TEXT
)`

const insertRecord = `INSERT INTO "latest" (Date, Utility, SARS_COV_2_Copies_L_LP1, SARS_COV_2_Copies_L_LP2, Cases, Lab_Phase)
VALUES (:Date, :Utility, :SARS_COV_2_Copies_L_LP1, :SARS_COV_2_Copies_L_LP2, :Cases, :Lab_Phase)`

// epoch milliseconds -> YYYY-MM-DD
const convertDates = `UPDATE "latest" SET Date = date(Date / 1000, 'unixepoch') WHERE typeof(Date) = 'integer'`

const createLiveIndex = `CREATE INDEX ` + liveIndex + ` ON "latest" (Utility, Date)`

// Store is the local SQLite store.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore wraps an open database.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Load replaces the live table with records in a single transaction:
// rotate the current live table to backupName, create the typed table,
// insert, convert dates to ISO form, and index. Any failure rolls back every
// step, leaving the previous live table in place.
//
// backupName is required when a live table exists; if a table with that name
// is already present a numeric suffix is appended. The name actually used is
// returned ("" when there was nothing to rotate).
func (s *Store) Load(ctx context.Context, records []domain.Record, backupName string) (string, error) {
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", s.stepError("begin", err, nil, len(records))
	}

	exists, err := tableExists(ctx, tx, LiveTable)
	if err != nil {
		return "", s.stepError("inspect", err, tx, len(records))
	}

	var rotatedTo string
	if exists {
		if backupName == "" || backupName == LiveTable {
			return "", s.stepError("rotate", fmt.Errorf("invalid backup name %q for existing live table", backupName), tx, len(records))
		}
		rotatedTo, err = uniqueTableName(ctx, tx, backupName)
		if err != nil {
			return "", s.stepError("rotate", err, tx, len(records))
		}
		// Indexes follow a renamed table; drop ours so the name is free for the new live table.
		if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS `+liveIndex); err != nil {
			return "", s.stepError("rotate", err, tx, len(records))
		}
		if _, err := tx.ExecContext(ctx, `ALTER TABLE "latest" RENAME TO `+quoteIdent(rotatedTo)); err != nil {
			return "", s.stepError("rotate", err, tx, len(records))
		}
		s.logger.Debug("live table rotated", "backup_table", rotatedTo)
	}

	if _, err := tx.ExecContext(ctx, createLiveTable); err != nil {
		return "", s.stepError("create", err, tx, len(records))
	}

	stmt, err := tx.PrepareNamedContext(ctx, insertRecord)
	if err != nil {
		return "", s.stepError("insert", err, tx, len(records))
	}
	for i := range records {
		if _, err := stmt.ExecContext(ctx, records[i]); err != nil {
			stmt.Close()
			return "", s.stepError("insert", fmt.Errorf("row %d: %w", i, err), tx, len(records))
		}
	}
	stmt.Close()

	if _, err := tx.ExecContext(ctx, convertDates); err != nil {
		return "", s.stepError("convert", err, tx, len(records))
	}
	if _, err := tx.ExecContext(ctx, createLiveIndex); err != nil {
		return "", s.stepError("index", err, tx, len(records))
	}

	if err := tx.Commit(); err != nil {
		return "", s.stepError("commit", err, nil, len(records))
	}

	s.logger.Info("live table replaced",
		"table", LiveTable,
		"rows", len(records),
		"backup_table", rotatedTo,
		"duration", time.Since(start),
	)
	return rotatedTo, nil
}

// stepError rolls back tx (when non-nil) and reports which step failed.
func (s *Store) stepError(step string, err error, tx *sqlx.Tx, rows int) error {
	var result *multierror.Error
	result = multierror.Append(result, fmt.Errorf("%w: %s: %w", domain.ErrStoreWrite, step, err))
	if tx != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			result = multierror.Append(result, fmt.Errorf("rollback: %w", rbErr))
		}
	}
	s.logger.Error("store load failed, transaction rolled back",
		"step", step,
		"rows", rows,
		"error", err,
	)
	return result.ErrorOrNil()
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, name string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	return n > 0, err
}

func uniqueTableName(ctx context.Context, q sqlx.QueryerContext, base string) (string, error) {
	name := base
	for i := 2; ; i++ {
		exists, err := tableExists(ctx, q, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

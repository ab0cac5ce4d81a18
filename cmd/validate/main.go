// Command validate checks the integrity of the local store against the most
// recent complete snapshot: the live table exists, its row count matches the
// normalized snapshot, dates are ISO formatted, analyte columns hold numbers,
// and the set of utilities agrees. Backup tables are listed for reference.
//
// Usage:
//
//	go run ./cmd/validate [-db data/wastewater.db] [-snapshots data]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/wastewater-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/wastewater-etl/internal/config"
	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/couchcryptid/wastewater-etl/internal/snapshot"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", cfg.DatabasePath, "path to the SQLite store")
	snapshotDir := flag.String("snapshots", cfg.SnapshotDir, "directory holding raw snapshots")
	flag.Parse()

	os.Exit(run(context.Background(), *dbPath, *snapshotDir, os.Stdout))
}

func run(ctx context.Context, dbPath, snapshotDir string, out io.Writer) int {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Fprintln(out, "=== Wastewater Store Integrity Validation ===")
	fmt.Fprintln(out)

	snap, ok, err := snapshot.NewStore(snapshotDir, logger).OpenLatestComplete()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read snapshots: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: no complete snapshot in %s\n", snapshotDir)
		return 1
	}
	normalized, err := domain.Normalize(snap)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: normalize %s: %v\n", snap.Path, err)
		return 1
	}

	db, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		return 1
	}
	defer db.Close()
	store := sqlite.NewStore(db, logger)

	stats, statsErr := store.Stats(ctx)
	phases := []*phase{
		validateCounts(stats, statsErr, normalized),
		validateTypes(stats, statsErr),
		validateUtilities(ctx, store, normalized),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Snapshot: %s (%d records, %d dropped)\n", snap.Path, normalized.Count(), normalized.Dropped)
	if tables, err := store.Tables(ctx); err == nil {
		backups := slices.DeleteFunc(tables, func(name string) bool { return name == sqlite.LiveTable })
		fmt.Fprintf(out, "Backup tables: %d %s\n", len(backups), strings.Join(backups, ", "))
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

func validateCounts(stats sqlite.TableStats, statsErr error, normalized domain.Normalized) *phase {
	p := &phase{name: "Phase 1: Row Counts (store vs snapshot)"}
	if statsErr != nil {
		p.errorf("inspect live table: %v", statsErr)
		return p
	}
	if stats.Rows != normalized.Count() {
		p.errorf("live table has %d rows, snapshot normalizes to %d", stats.Rows, normalized.Count())
	}
	return p
}

func validateTypes(stats sqlite.TableStats, statsErr error) *phase {
	p := &phase{name: "Phase 2: Column Types (dates, analytes)"}
	if statsErr != nil {
		p.errorf("inspect live table: %v", statsErr)
		return p
	}
	if stats.NonISODates > 0 {
		p.errorf("%d rows have a Date that is not YYYY-MM-DD", stats.NonISODates)
	}
	if stats.TextAnalytes > 0 {
		p.errorf("%d rows store an analyte value as text", stats.TextAnalytes)
	}
	return p
}

func validateUtilities(ctx context.Context, store *sqlite.Store, normalized domain.Normalized) *phase {
	p := &phase{name: "Phase 3: Utilities (store vs snapshot)"}

	stored, err := store.Utilities(ctx)
	if err != nil {
		p.errorf("query utilities: %v", err)
		return p
	}

	var expected []string
	for _, r := range normalized.Records {
		if r.Utility != "" && !slices.Contains(expected, r.Utility) {
			expected = append(expected, r.Utility)
		}
	}
	slices.Sort(expected)

	for _, u := range expected {
		if _, found := slices.BinarySearch(stored, u); !found {
			p.errorf("utility %q is in the snapshot but not the store", u)
		}
	}
	for _, u := range stored {
		if _, found := slices.BinarySearch(expected, u); !found {
			p.errorf("utility %q is in the store but not the snapshot", u)
		}
	}
	return p
}

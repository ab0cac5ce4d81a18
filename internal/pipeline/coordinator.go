package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/couchcryptid/wastewater-etl/internal/observability"
	"github.com/couchcryptid/wastewater-etl/internal/snapshot"
	"github.com/jonboulle/clockwork"
	"github.com/qmuntal/stateless"
)

// MetadataSource reports when the upstream dataset last changed.
type MetadataSource interface {
	LastEditDate(ctx context.Context) (time.Time, error)
}

// VersionSource reports the capture date of the newest complete local snapshot
// and withdraws a snapshot that turned out to hold too few usable records.
type VersionSource interface {
	LatestComplete() (date time.Time, ok bool, err error)
	MarkPartial(snap domain.Snapshot) (domain.Snapshot, error)
}

// SnapshotFetcher retrieves and persists a full dataset in either format.
type SnapshotFetcher interface {
	FetchJSON(ctx context.Context, lastUpdate time.Time) (domain.Snapshot, error)
	FetchCSV(ctx context.Context, lastUpdate time.Time) (domain.Snapshot, error)
}

// Loader replaces the live table, rotating the previous one to backupName.
type Loader interface {
	Load(ctx context.Context, records []domain.Record, backupName string) (string, error)
}

// RunPublisher announces finished runs.
type RunPublisher interface {
	PublishRun(ctx context.Context, run domain.Run) error
}

// State is a step of an update run.
type State string

const (
	StateChecking         State = "CHECKING"
	StateUpToDate         State = "UP_TO_DATE"
	StateFetching         State = "FETCHING"
	StateFetched          State = "FETCHED"
	StateEvaluating       State = "EVALUATING"
	StateFallbackFetching State = "FALLBACK_FETCHING"
	StateLoading          State = "LOADING"
	StateDone             State = "DONE"
	StateSkipped          State = "SKIPPED"
)

func (s State) terminal() bool {
	return s == StateUpToDate || s == StateDone || s == StateSkipped
}

type trigger string

const (
	triggerStale    trigger = "stale"
	triggerCurrent  trigger = "current"
	triggerFetched  trigger = "fetched"
	triggerEvaluate trigger = "evaluate"
	triggerComplete trigger = "complete"
	triggerPartial  trigger = "partial"
	triggerLoaded   trigger = "loaded"
	triggerFail     trigger = "fail"
)

// attempt carries the mutable state of one run between steps.
type attempt struct {
	run      domain.Run
	snap     domain.Snapshot
	records  []domain.Record
	fellBack bool
	err      error
	trace    []State
}

// Coordinator drives one update run: compare versions, fetch, fall back to
// the CSV export once if the primary result is partial, then load. A result is
// partial when fewer than threshold records survive normalization.
type Coordinator struct {
	metadata  MetadataSource
	versions  VersionSource
	fetcher   SnapshotFetcher
	loader    Loader
	threshold int
	publisher RunPublisher
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
	force     bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(metadata MetadataSource, versions VersionSource, fetcher SnapshotFetcher, loader Loader, threshold int, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		metadata:  metadata,
		versions:  versions,
		fetcher:   fetcher,
		loader:    loader,
		threshold: threshold,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// WithPublisher announces every finished run through p.
func (c *Coordinator) WithPublisher(p RunPublisher) *Coordinator {
	c.publisher = p
	return c
}

// WithForce makes runs fetch even when the local data is current.
func (c *Coordinator) WithForce(force bool) *Coordinator {
	c.force = force
	return c
}

// Run performs one update run. Errors end the run with outcome skipped and are
// returned alongside the run summary. A partial result after fallback is not
// an error: the store is left untouched and the outcome is partial-skip.
func (c *Coordinator) Run(ctx context.Context) (domain.Run, error) {
	a := &attempt{run: domain.Run{StartedAt: c.clock.Now().UTC()}}
	sm := c.machine(a)

	for {
		state := sm.MustState().(State)
		a.trace = append(a.trace, state)
		if state.terminal() {
			break
		}
		next := c.step(ctx, state, a)
		if err := sm.FireCtx(ctx, next); err != nil {
			// Only reachable through a missing transition.
			a.err = fmt.Errorf("update run: %w", err)
			a.trace = append(a.trace, StateSkipped)
			break
		}
	}

	return c.finish(ctx, a)
}

// LoadFromFile normalizes a previously persisted snapshot and loads it,
// rotating the live table to a backup named after yesterday's date. The
// threshold does not apply: the operator chose the file.
func (c *Coordinator) LoadFromFile(ctx context.Context, path string) (domain.Run, error) {
	now := c.clock.Now().UTC()
	a := &attempt{run: domain.Run{StartedAt: now}}

	snap, err := snapshot.Open(path)
	if err != nil {
		a.err = err
		return c.finish(ctx, a)
	}
	a.snap = snap
	a.run.RemoteVersion = snap.CaptureDate
	a.run.Format = snap.Format.String()

	c.logger.Info("loading snapshot from file", "path", path, "format", a.run.Format)
	if err := c.normalize(a); err != nil {
		a.err = err
		return c.finish(ctx, a)
	}
	backup := domain.ISODate(now.AddDate(0, 0, -1))
	if c.load(ctx, a, backup) == triggerLoaded {
		a.trace = []State{StateLoading, StateDone}
	}
	return c.finish(ctx, a)
}

func (c *Coordinator) machine(a *attempt) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateChecking)

	notFellBack := func(context.Context, ...any) bool { return !a.fellBack }
	fellBack := func(context.Context, ...any) bool { return a.fellBack }

	sm.Configure(StateChecking).
		Permit(triggerStale, StateFetching).
		Permit(triggerCurrent, StateUpToDate).
		Permit(triggerFail, StateSkipped)

	sm.Configure(StateFetching).
		Permit(triggerFetched, StateFetched).
		Permit(triggerFail, StateSkipped)

	sm.Configure(StateFetched).
		Permit(triggerEvaluate, StateEvaluating)

	sm.Configure(StateEvaluating).
		Permit(triggerComplete, StateLoading).
		Permit(triggerPartial, StateFallbackFetching, notFellBack).
		Permit(triggerPartial, StateSkipped, fellBack).
		Permit(triggerFail, StateSkipped)

	sm.Configure(StateFallbackFetching).
		Permit(triggerFetched, StateFetched).
		Permit(triggerFail, StateSkipped)

	sm.Configure(StateLoading).
		Permit(triggerLoaded, StateDone).
		Permit(triggerFail, StateSkipped)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		c.logger.Debug("update run transition",
			"from", t.Source,
			"to", t.Destination,
			"trigger", t.Trigger,
		)
	})
	return sm
}

func (c *Coordinator) step(ctx context.Context, state State, a *attempt) trigger {
	switch state {
	case StateChecking:
		return c.check(ctx, a)
	case StateFetching:
		return c.fetch(ctx, a, c.fetcher.FetchJSON)
	case StateFallbackFetching:
		a.fellBack = true
		c.logger.Warn("primary fetch was partial, trying csv export",
			"records", len(a.records),
			"remote_version", domain.ISODate(a.run.RemoteVersion),
		)
		return c.fetch(ctx, a, c.fetcher.FetchCSV)
	case StateFetched:
		return triggerEvaluate
	case StateEvaluating:
		return c.evaluate(a)
	case StateLoading:
		return c.load(ctx, a, c.backupName(a))
	default:
		a.err = fmt.Errorf("update run: no step for state %s", state)
		return triggerFail
	}
}

func (c *Coordinator) check(ctx context.Context, a *attempt) trigger {
	remote, err := c.metadata.LastEditDate(ctx)
	if err != nil {
		a.err = fmt.Errorf("check remote version: %w", err)
		return triggerFail
	}
	a.run.RemoteVersion = remote

	local, ok, err := c.versions.LatestComplete()
	if err != nil {
		a.err = fmt.Errorf("check local version: %w", err)
		return triggerFail
	}
	if ok {
		a.run.LocalVersion = local
	}

	switch {
	case !ok:
		c.logger.Info("no complete local snapshot, fetching", "remote_version", domain.ISODate(remote))
		return triggerStale
	case remote.After(local):
		c.logger.Info("remote data is newer, fetching",
			"remote_version", domain.ISODate(remote),
			"local_version", domain.ISODate(local),
		)
		return triggerStale
	case c.force:
		c.logger.Info("local data is current, fetching anyway",
			"remote_version", domain.ISODate(remote),
			"local_version", domain.ISODate(local),
		)
		return triggerStale
	default:
		return triggerCurrent
	}
}

func (c *Coordinator) fetch(ctx context.Context, a *attempt, fetch func(context.Context, time.Time) (domain.Snapshot, error)) trigger {
	snap, err := fetch(ctx, a.run.RemoteVersion)
	if err != nil {
		a.err = err
		return triggerFail
	}
	a.snap = snap
	a.run.Fetched = snap.Count
	a.run.Format = snap.Format.String()
	return triggerFetched
}

// evaluate normalizes the fetched snapshot and decides whether enough records
// survived to replace the live table. A snapshot persisted as complete that
// falls short is renamed partial so it does not become the local version.
func (c *Coordinator) evaluate(a *attempt) trigger {
	if err := c.normalize(a); err != nil {
		return triggerFail
	}
	if len(a.records) >= c.threshold {
		return triggerComplete
	}

	c.logger.Warn("usable records below full-result threshold",
		"format", a.run.Format,
		"fetched", a.snap.Count,
		"usable", len(a.records),
		"threshold", c.threshold,
	)
	if a.snap.Complete {
		snap, err := c.versions.MarkPartial(a.snap)
		if err != nil {
			a.err = err
			return triggerFail
		}
		a.snap = snap
	}
	return triggerPartial
}

func (c *Coordinator) normalize(a *attempt) error {
	normalized, err := domain.Normalize(a.snap)
	if err != nil {
		a.err = fmt.Errorf("normalize %s: %w", a.snap.Path, err)
		return a.err
	}
	if normalized.Dropped > 0 {
		c.metrics.RowsDropped.Add(float64(normalized.Dropped))
		c.logger.Warn("rows without a usable date dropped",
			"dropped", normalized.Dropped,
			"kept", normalized.Count(),
			"path", a.snap.Path,
		)
	}
	if a.run.Fetched == 0 {
		a.run.Fetched = normalized.Count()
	}
	a.records = normalized.Records
	return nil
}

func (c *Coordinator) load(ctx context.Context, a *attempt, backupName string) trigger {
	start := c.clock.Now()
	table, err := c.loader.Load(ctx, a.records, backupName)
	if err != nil {
		a.err = err
		return triggerFail
	}
	c.metrics.LoadDuration.Observe(c.clock.Since(start).Seconds())
	c.metrics.RowsLoaded.Set(float64(len(a.records)))
	a.run.BackupTable = table
	return triggerLoaded
}

// backupName names the table the current live data is rotated to: the
// previous local version, or the run's start date when that is unknown.
func (c *Coordinator) backupName(a *attempt) string {
	if !a.run.LocalVersion.IsZero() {
		return domain.ISODate(a.run.LocalVersion)
	}
	return domain.ISODate(a.run.StartedAt)
}

func (c *Coordinator) finish(ctx context.Context, a *attempt) (domain.Run, error) {
	final := StateSkipped
	if n := len(a.trace); n > 0 {
		final = a.trace[n-1]
	}

	switch {
	case a.err != nil:
		a.run.Outcome = domain.OutcomeSkipped
	case final == StateUpToDate:
		a.run.Outcome = domain.OutcomeUpToDate
	case final == StateDone && a.fellBack:
		a.run.Outcome = domain.OutcomeFallback
	case final == StateDone:
		a.run.Outcome = domain.OutcomeUpdated
	default:
		a.run.Outcome = domain.OutcomePartialSkip
		c.logger.Warn("result still partial after fallback, store left untouched",
			"records", a.run.Fetched,
			"remote_version", domain.ISODate(a.run.RemoteVersion),
		)
	}

	now := c.clock.Now()
	a.run.Duration = now.Sub(a.run.StartedAt)
	c.metrics.Runs.WithLabelValues(string(a.run.Outcome)).Inc()
	c.metrics.LastRunTimestamp.Set(float64(now.Unix()))
	if final == StateDone && a.err == nil {
		c.metrics.LastUpdateTimestamp.Set(float64(now.Unix()))
	}

	attrs := []any{
		"outcome", a.run.Outcome,
		"remote_version", domain.ISODate(a.run.RemoteVersion),
		"local_version", domain.ISODate(a.run.LocalVersion),
		"fetched", a.run.Fetched,
		"format", a.run.Format,
		"backup_table", a.run.BackupTable,
		"duration", a.run.Duration,
	}
	if a.err != nil {
		c.logger.Error("update run failed", append(attrs, "error", a.err)...)
	} else {
		c.logger.Info("update run finished", attrs...)
	}

	if c.publisher != nil {
		if err := c.publisher.PublishRun(ctx, a.run); err != nil {
			c.logger.Warn("publish run summary failed", "error", err)
		}
	}
	return a.run, a.err
}

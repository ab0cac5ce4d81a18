package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/couchcryptid/wastewater-etl/internal/observability"
)

// PageSource issues one paginated feature query.
type PageSource interface {
	QueryPage(ctx context.Context, offset, count int) (domain.FeaturePage, error)
}

// ExportSource downloads the flat CSV export.
type ExportSource interface {
	ExportCSV(ctx context.Context) ([]byte, error)
}

// SnapshotWriter persists a raw snapshot and returns it with its path set.
type SnapshotWriter interface {
	Save(snap domain.Snapshot) (domain.Snapshot, error)
}

// FetchLimits bounds a paginated fetch and sets the completeness threshold.
type FetchLimits struct {
	ChunkSize  int // features requested per page
	ResultsCap int // upper bound on offsets; at most ResultsCap/ChunkSize requests
	Threshold  int // minimum record count for a complete snapshot
}

// MaxRequests returns the most page requests one fetch may issue.
func (l FetchLimits) MaxRequests() int {
	return max(1, l.ResultsCap/l.ChunkSize)
}

// Fetcher retrieves full datasets from upstream and persists each one as a
// raw snapshot before handing it back.
type Fetcher struct {
	pages     PageSource
	export    ExportSource
	snapshots SnapshotWriter
	limits    FetchLimits
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(pages PageSource, export ExportSource, snapshots SnapshotWriter, limits FetchLimits, metrics *observability.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		pages:     pages,
		export:    export,
		snapshots: snapshots,
		limits:    limits,
		metrics:   metrics,
		logger:    logger,
	}
}

// FetchJSON pages through the feature query and accumulates every feature
// into a single {"features": [...]} document that also carries the first
// page's other top-level members. Offsets advance by ChunkSize whatever a page
// returns, since upstream may truncate a page and still have more behind it.
// Paging stops at the first empty page, when upstream reports the transfer
// limit was not exceeded, or after MaxRequests pages. Nothing is persisted
// when any request fails.
func (f *Fetcher) FetchJSON(ctx context.Context, lastUpdate time.Time) (domain.Snapshot, error) {
	chunk := f.limits.ChunkSize
	var (
		features []json.RawMessage
		fields   map[string]json.RawMessage
	)

	for i := range f.limits.MaxRequests() {
		offset := i * chunk
		page, err := f.pages.QueryPage(ctx, offset, chunk)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("fetch json after %d features: %w", len(features), err)
		}
		if fields == nil {
			fields = page.Fields
		}
		features = append(features, page.Features...)

		f.logger.Debug("feature page fetched",
			"offset", offset,
			"features", len(page.Features),
			"total", len(features),
		)

		if lastPage(page) {
			break
		}
	}

	doc := make(map[string]json.RawMessage, len(fields)+1)
	for k, v := range fields {
		doc[k] = v
	}
	if features == nil {
		features = []json.RawMessage{}
	}
	raw, err := json.Marshal(features)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("encode features: %w", err)
	}
	doc["features"] = raw
	content, err := json.Marshal(doc)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("encode snapshot: %w", err)
	}

	return f.persist(domain.Snapshot{
		CaptureDate: lastUpdate,
		Format:      domain.FormatJSON,
		Content:     content,
		Count:       len(features),
	})
}

// FetchCSV downloads the CSV export in one request. The record count is the
// number of data rows after the header.
func (f *Fetcher) FetchCSV(ctx context.Context, lastUpdate time.Time) (domain.Snapshot, error) {
	content, err := f.export.ExportCSV(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetch csv: %w", err)
	}

	return f.persist(domain.Snapshot{
		CaptureDate: lastUpdate,
		Format:      domain.FormatCSV,
		Content:     content,
		Count:       f.countCSVRows(content),
	})
}

func (f *Fetcher) persist(snap domain.Snapshot) (domain.Snapshot, error) {
	snap.Complete = snap.Count >= f.limits.Threshold
	format := snap.Format.String()

	f.metrics.RecordsFetched.WithLabelValues(format).Set(float64(snap.Count))

	saved, err := f.snapshots.Save(snap)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("persist %s snapshot: %w", format, err)
	}
	f.metrics.SnapshotsWritten.WithLabelValues(format, strconv.FormatBool(saved.Complete)).Inc()

	if !saved.Complete {
		f.logger.Warn("fetched result below full-result threshold",
			"format", format,
			"records", saved.Count,
			"threshold", f.limits.Threshold,
		)
	}
	return saved, nil
}

// lastPage reports whether no further page should be requested. A short page
// is not the end on its own.
func lastPage(page domain.FeaturePage) bool {
	if len(page.Features) == 0 {
		return true
	}
	return page.ExceededTransferLimit != nil && !*page.ExceededTransferLimit
}

func (f *Fetcher) countCSVRows(content []byte) int {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	rows := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			f.logger.Warn("csv export is malformed, count is a lower bound", "rows", rows, "error", err)
			break
		}
		rows++
	}
	// header
	return max(0, rows-1)
}

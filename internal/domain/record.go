package domain

import (
	"encoding/json"
	"time"
)

// SourceFormat identifies which upstream representation a snapshot holds.
type SourceFormat int

const (
	// FormatJSON is the paginated feature-service query response.
	FormatJSON SourceFormat = iota
	// FormatCSV is the flat CSV export of the same layer.
	FormatCSV
)

func (f SourceFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// Extension returns the file extension used when persisting a snapshot of this format.
func (f SourceFormat) Extension() string {
	return "." + f.String()
}

// Snapshot is the unmodified payload retrieved from upstream for one fetch attempt.
// It is written to disk before any transformation and never mutated afterwards.
type Snapshot struct {
	CaptureDate time.Time
	Complete    bool
	Format      SourceFormat
	Content     []byte
	Count       int    // records observed at fetch time
	Path        string // where the snapshot was persisted
}

// Record is one normalized measurement observation.
//
// DateMillis keeps the upstream epoch-millisecond representation; the store
// loader converts it to an ISO calendar date once the rows are inserted.
type Record struct {
	DateMillis int64    `db:"Date"`
	Utility    string   `db:"Utility"`
	CopiesLP1  *float64 `db:"SARS_COV_2_Copies_L_LP1"`
	CopiesLP2  *float64 `db:"SARS_COV_2_Copies_L_LP2"`
	Cases      *int64   `db:"Cases"`
	LabPhase   string   `db:"Lab_Phase"`
}

// Date returns the observation's calendar date in UTC.
func (r Record) Date() time.Time {
	return time.UnixMilli(r.DateMillis).UTC().Truncate(24 * time.Hour)
}

// Outcome is the terminal result of one update run.
type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUpToDate    Outcome = "up-to-date"
	OutcomeSkipped     Outcome = "skipped"
	OutcomePartialSkip Outcome = "partial-skip"
	OutcomeFallback    Outcome = "fallback-used"
)

// Run summarizes one coordinator invocation. It lives only for the duration of
// the run and is reported through logs, metrics and the optional run topic.
type Run struct {
	RemoteVersion time.Time     `json:"remote_version"`
	LocalVersion  time.Time     `json:"local_version,omitempty"` // zero when no complete snapshot exists
	Fetched       int           `json:"fetched"`
	Format        string        `json:"format,omitempty"`
	Outcome       Outcome       `json:"outcome"`
	BackupTable   string        `json:"backup_table,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// ISODate formats t as YYYY-MM-DD, or "" for the zero time.
func ISODate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

// FeaturePage is one paginated feature-service query response. Features are
// kept raw so the accumulated snapshot holds exactly what upstream returned.
type FeaturePage struct {
	Features []json.RawMessage
	// ExceededTransferLimit is nil when the response omits the flag.
	ExceededTransferLimit *bool
	// Fields holds the remaining top-level members (fields, geometryType, ...).
	Fields map[string]json.RawMessage
}

// Sample is one day's analyte measurements for a utility, as served by the read API.
type Sample struct {
	Date      string   `db:"Date"`
	CopiesLP1 *float64 `db:"SARS_COV_2_Copies_L_LP1"`
	CopiesLP2 *float64 `db:"SARS_COV_2_Copies_L_LP2"`
}

// CaseCount is one day's reported case count for a utility.
type CaseCount struct {
	Date  string `db:"Date"`
	Cases *int64 `db:"Cases"`
}

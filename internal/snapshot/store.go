// Package snapshot persists raw upstream payloads and inspects them to find the
// most recent complete capture.
//
// File names embed the capture date as a sortable prefix:
//
//	2022-11-18_download.json          complete JSON capture
//	2022-11-18_download.csv           complete CSV capture
//	2022-11-18_download-partial.json  capture below the full-result threshold
//
// LatestComplete relies on lexical ordering of that prefix, and only honours
// the non-partial names. Both sides of the convention live in this file.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
)

const (
	completeSuffix = "_download"
	partialSuffix  = "_download-partial"
)

// Store reads and writes snapshot files under a single directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir. The directory is created on first write.
func NewStore(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string { return s.dir }

// FileName returns the name a snapshot with the given attributes is stored under.
func FileName(captureDate time.Time, format domain.SourceFormat, complete bool) string {
	suffix := completeSuffix
	if !complete {
		suffix = partialSuffix
	}
	return domain.ISODate(captureDate) + suffix + format.Extension()
}

// Save writes the snapshot content and returns the snapshot with Path set.
// An existing file for the same date and completeness is overwritten.
func (s *Store) Save(snap domain.Snapshot) (domain.Snapshot, error) {
	if snap.CaptureDate.IsZero() {
		return snap, fmt.Errorf("save snapshot: capture date is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return snap, fmt.Errorf("create snapshot dir %s: %w", s.dir, err)
	}

	path := filepath.Join(s.dir, FileName(snap.CaptureDate, snap.Format, snap.Complete))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snap.Content, 0o644); err != nil {
		return snap, fmt.Errorf("write snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return snap, fmt.Errorf("rename snapshot %s: %w", path, err)
	}

	snap.Path = path
	s.logger.Info("snapshot written",
		"path", path,
		"records", snap.Count,
		"complete", snap.Complete,
		"format", snap.Format.String(),
		"bytes", len(snap.Content),
	)
	return snap, nil
}

// MarkPartial renames a complete snapshot to its partial name so it no longer
// counts as the local version. Snapshots that are already partial or were
// never written are returned unchanged.
func (s *Store) MarkPartial(snap domain.Snapshot) (domain.Snapshot, error) {
	if !snap.Complete || snap.Path == "" {
		return snap, nil
	}
	path := filepath.Join(filepath.Dir(snap.Path), FileName(snap.CaptureDate, snap.Format, false))
	if err := os.Rename(snap.Path, path); err != nil {
		return snap, fmt.Errorf("mark snapshot %s partial: %w", snap.Path, err)
	}

	s.logger.Warn("snapshot marked partial", "from", snap.Path, "to", path)
	snap.Path = path
	snap.Complete = false
	return snap, nil
}

// LatestComplete returns the capture date of the most recent complete snapshot.
// ok is false when no complete snapshot exists.
func (s *Store) LatestComplete() (date time.Time, ok bool, err error) {
	_, date, ok, err = s.latestComplete()
	return date, ok, err
}

// OpenLatestComplete reads back the most recent complete snapshot.
func (s *Store) OpenLatestComplete() (snap domain.Snapshot, ok bool, err error) {
	name, _, ok, err := s.latestComplete()
	if err != nil || !ok {
		return domain.Snapshot{}, ok, err
	}
	snap, err = Open(filepath.Join(s.dir, name))
	return snap, err == nil, err
}

func (s *Store) latestComplete() (name string, date time.Time, ok bool, err error) {
	var names []string
	for _, format := range []domain.SourceFormat{domain.FormatJSON, domain.FormatCSV} {
		matches, err := filepath.Glob(filepath.Join(s.dir, "*"+completeSuffix+format.Extension()))
		if err != nil {
			return "", time.Time{}, false, fmt.Errorf("scan snapshot dir %s: %w", s.dir, err)
		}
		for _, m := range matches {
			names = append(names, filepath.Base(m))
		}
	}

	// Newest first; names that do not carry a valid date prefix are skipped.
	slices.Sort(names)
	slices.Reverse(names)
	for _, name := range names {
		prefix, _, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		d, err := time.Parse(time.DateOnly, prefix)
		if err != nil {
			s.logger.Debug("ignoring snapshot with unexpected name", "name", name)
			continue
		}
		s.logger.Debug("latest local snapshot", "name", name, "date", prefix)
		return name, d, true, nil
	}

	s.logger.Warn("no complete local snapshots found", "dir", s.dir)
	return "", time.Time{}, false, nil
}

// Open reads a persisted snapshot file back into memory. The format and
// completeness are derived from the file name.
func Open(path string) (domain.Snapshot, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	name := filepath.Base(path)
	snap := domain.Snapshot{
		Content:  content,
		Path:     path,
		Complete: !strings.Contains(name, partialSuffix),
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case domain.FormatJSON.Extension():
		snap.Format = domain.FormatJSON
	case domain.FormatCSV.Extension():
		snap.Format = domain.FormatCSV
	default:
		return domain.Snapshot{}, fmt.Errorf("snapshot %s: unknown format extension", path)
	}
	if prefix, _, found := strings.Cut(name, "_"); found {
		if d, err := time.Parse(time.DateOnly, prefix); err == nil {
			snap.CaptureDate = d
		}
	}
	return snap, nil
}

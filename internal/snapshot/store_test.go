package snapshot

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFileName(t *testing.T) {
	d := date(2022, time.November, 18)

	assert.Equal(t, "2022-11-18_download.json", FileName(d, domain.FormatJSON, true))
	assert.Equal(t, "2022-11-18_download-partial.json", FileName(d, domain.FormatJSON, false))
	assert.Equal(t, "2022-11-18_download.csv", FileName(d, domain.FormatCSV, true))
	assert.Equal(t, "2022-11-18_download-partial.csv", FileName(d, domain.FormatCSV, false))
}

func TestStore_LatestComplete(t *testing.T) {
	t.Run("picks the largest non-partial date prefix", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "2022-11-17_download.json")
		touch(t, dir, "2022-12-01_download.csv")
		touch(t, dir, "2022-11-30_download.json")
		touch(t, dir, "2023-01-05_download-partial.json")
		touch(t, dir, "2023-01-06_download-partial.csv")
		touch(t, dir, "wastewater.db")
		touch(t, dir, "app.log")

		got, ok, err := NewStore(dir, discardLogger()).LatestComplete()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, date(2022, time.December, 1), got)
	})

	t.Run("no prior data", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "2023-01-05_download-partial.json")

		_, ok, err := NewStore(dir, discardLogger()).LatestComplete()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, ok, err := NewStore(filepath.Join(t.TempDir(), "absent"), discardLogger()).LatestComplete()
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("skips names without a date prefix", func(t *testing.T) {
		dir := t.TempDir()
		touch(t, dir, "2022-11-17_download.json")
		touch(t, dir, "latest_download.json")

		got, ok, err := NewStore(dir, discardLogger()).LatestComplete()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, date(2022, time.November, 17), got)
	})
}

func TestStore_SaveAndOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	store := NewStore(dir, discardLogger())

	saved, err := store.Save(domain.Snapshot{
		CaptureDate: date(2022, time.November, 18),
		Complete:    false,
		Format:      domain.FormatJSON,
		Content:     []byte(`{"features":[]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2022-11-18_download-partial.json"), saved.Path)

	// A partial snapshot never becomes the local version.
	_, ok, err := store.LatestComplete()
	require.NoError(t, err)
	assert.False(t, ok)

	opened, err := Open(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatJSON, opened.Format)
	assert.False(t, opened.Complete)
	assert.Equal(t, date(2022, time.November, 18), opened.CaptureDate)
	assert.JSONEq(t, `{"features":[]}`, string(opened.Content))
}

func TestStore_SaveRequiresCaptureDate(t *testing.T) {
	_, err := NewStore(t.TempDir(), discardLogger()).Save(domain.Snapshot{Format: domain.FormatCSV})
	require.Error(t, err)
}

func TestOpen_UnknownExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "2022-11-18_download.xml")

	_, err := Open(filepath.Join(dir, "2022-11-18_download.xml"))
	require.Error(t, err)
}

func TestStore_OpenLatestComplete(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, discardLogger())

	_, ok, err := store.OpenLatestComplete()
	require.NoError(t, err)
	assert.False(t, ok)

	for _, snap := range []domain.Snapshot{
		{CaptureDate: date(2022, time.November, 11), Complete: true, Format: domain.FormatJSON, Content: []byte(`{"features":[]}`)},
		{CaptureDate: date(2022, time.November, 18), Complete: true, Format: domain.FormatCSV, Content: []byte("Date,Utility\n")},
		{CaptureDate: date(2022, time.November, 19), Complete: false, Format: domain.FormatJSON, Content: []byte(`{"features":[]}`)},
	} {
		_, err := store.Save(snap)
		require.NoError(t, err)
	}

	latest, ok, err := store.OpenLatestComplete()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.FormatCSV, latest.Format)
	assert.Equal(t, date(2022, time.November, 18), latest.CaptureDate)
	assert.Equal(t, "Date,Utility\n", string(latest.Content))
}

func TestStore_MarkPartial(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, discardLogger())

	saved, err := store.Save(domain.Snapshot{
		CaptureDate: date(2022, time.November, 18),
		Complete:    true,
		Format:      domain.FormatJSON,
		Content:     []byte(`{"features":[]}`),
	})
	require.NoError(t, err)

	marked, err := store.MarkPartial(saved)
	require.NoError(t, err)
	assert.False(t, marked.Complete)
	assert.Equal(t, filepath.Join(dir, "2022-11-18_download-partial.json"), marked.Path)
	assert.NoFileExists(t, saved.Path)
	assert.FileExists(t, marked.Path)

	_, ok, err := store.LatestComplete()
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := store.MarkPartial(marked)
	require.NoError(t, err)
	assert.Equal(t, marked, again)
}

package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/wastewater-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultUtility is queried when a request names none.
const DefaultUtility = "Metro WW - Platte/Central"

// defaultWindow is how far back start defaults from end.
const defaultWindow = 30 * 24 * time.Hour

// DataSource answers the read API's queries against the live table.
type DataSource interface {
	Utilities(ctx context.Context) ([]string, error)
	Samples(ctx context.Context, utility string, start, end time.Time) ([]domain.Sample, error)
	Cases(ctx context.Context, utility string, start, end time.Time) ([]domain.CaseCount, error)
}

type api struct {
	data   DataSource
	clock  clockwork.Clock
	logger *slog.Logger
}

type parameters struct {
	Utility string `json:"utility"`
	Start   string `json:"start"`
	End     string `json:"end"`

	start, end time.Time
}

func (a *api) handleUtilities(w http.ResponseWriter, r *http.Request) {
	utilities, err := a.data.Utilities(r.Context())
	if err != nil {
		a.writeQueryError(w, "utilities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"utilities": utilities})
}

func (a *api) handleSamples(w http.ResponseWriter, r *http.Request) {
	p, err := a.parseParameters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	samples, err := a.data.Samples(r.Context(), p.Utility, p.start, p.end)
	if err != nil {
		a.writeQueryError(w, "samples", err)
		return
	}

	rows := make([][]any, len(samples))
	for i, s := range samples {
		rows[i] = []any{s.Date, s.CopiesLP1, s.CopiesLP2}
	}
	writeJSON(w, http.StatusOK, map[string]any{"parameters": p, "samples": rows})
}

func (a *api) handleCases(w http.ResponseWriter, r *http.Request) {
	p, err := a.parseParameters(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cases, err := a.data.Cases(r.Context(), p.Utility, p.start, p.end)
	if err != nil {
		a.writeQueryError(w, "cases", err)
		return
	}

	rows := make([][]any, len(cases))
	for i, c := range cases {
		rows[i] = []any{c.Date, c.Cases}
	}
	writeJSON(w, http.StatusOK, map[string]any{"parameters": p, "cases": rows})
}

// parseParameters reads utility, start and end, defaulting to the default
// utility over the thirty days ending today.
func (a *api) parseParameters(r *http.Request) (parameters, error) {
	q := r.URL.Query()
	today := a.clock.Now().UTC().Truncate(24 * time.Hour)

	p := parameters{Utility: q.Get("utility"), end: today}
	if p.Utility == "" {
		p.Utility = DefaultUtility
	}
	if s := q.Get("end"); s != "" {
		end, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return p, fmt.Errorf("invalid end date %q, want YYYY-MM-DD", s)
		}
		p.end = end
	}
	p.start = p.end.Add(-defaultWindow)
	if s := q.Get("start"); s != "" {
		start, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return p, fmt.Errorf("invalid start date %q, want YYYY-MM-DD", s)
		}
		p.start = start
	}
	if p.start.After(p.end) {
		return p, fmt.Errorf("start %s is after end %s", domain.ISODate(p.start), domain.ISODate(p.end))
	}

	p.Start = domain.ISODate(p.start)
	p.End = domain.ISODate(p.end)
	return p, nil
}

func (a *api) writeQueryError(w http.ResponseWriter, query string, err error) {
	if errors.Is(err, domain.ErrNoData) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": domain.ErrNoData.Error()})
		return
	}
	a.logger.Error("read query failed", "query", query, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

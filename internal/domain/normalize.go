package domain

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
)

// Upstream attribute and column names.
const (
	FieldObjectID  = "OBJECTID"
	FieldDate      = "Date"
	FieldUtility   = "Utility"
	FieldCopiesLP1 = "SARS_COV_2_Copies_L_LP1"
	FieldCopiesLP2 = "SARS_COV_2_Copies_L_LP2"
	FieldCases     = "Cases"
	FieldLabPhase  = "Lab_Phase"
)

// shortOffsetRe matches the three-digit UTC offset the CSV export appends to
// every timestamp, e.g. "2022/11/17 00:00:00+000".
var shortOffsetRe = regexp.MustCompile(`[+-]\d{3}$`)

var csvDateLayouts = []string{
	"2006/01/02 15:04:05-0700",
	"2006/01/02 15:04:05-07:00",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// Normalized is the outcome of normalizing one snapshot.
type Normalized struct {
	Records []Record
	Dropped int // rows without a usable observation date
}

// Count returns the number of normalized records.
func (n Normalized) Count() int { return len(n.Records) }

// Normalize dispatches on the snapshot format and maps its content onto Record.
func Normalize(s Snapshot) (Normalized, error) {
	switch s.Format {
	case FormatJSON:
		return NormalizeJSON(s.Content)
	case FormatCSV:
		return NormalizeCSV(s.Content)
	default:
		return Normalized{}, fmt.Errorf("%w: unsupported source format %d", ErrSchemaMismatch, s.Format)
	}
}

type feature struct {
	Attributes map[string]json.RawMessage `json:"attributes"`
}

// NormalizeJSON unwraps every feature's attributes. The object identifier is
// discarded and dates stay in epoch milliseconds.
func NormalizeJSON(content []byte) (Normalized, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(content, &top); err != nil {
		return Normalized{}, fmt.Errorf("%w: decode feature collection: %v", ErrSchemaMismatch, err)
	}
	raw, ok := top["features"]
	if !ok {
		return Normalized{}, fmt.Errorf("%w: features array missing, observed keys %v", ErrSchemaMismatch, sortedKeys(top))
	}
	var features []feature
	if err := json.Unmarshal(raw, &features); err != nil {
		return Normalized{}, fmt.Errorf("%w: decode features: %v", ErrSchemaMismatch, err)
	}

	out := Normalized{Records: make([]Record, 0, len(features))}
	for _, f := range features {
		date := jsonFloat(f.Attributes[FieldDate])
		if date == nil {
			out.Dropped++
			continue
		}
		out.Records = append(out.Records, Record{
			DateMillis: int64(*date),
			Utility:    jsonString(f.Attributes[FieldUtility]),
			CopiesLP1:  jsonFloat(f.Attributes[FieldCopiesLP1]),
			CopiesLP2:  jsonFloat(f.Attributes[FieldCopiesLP2]),
			Cases:      jsonInt(f.Attributes[FieldCases]),
			LabPhase:   jsonString(f.Attributes[FieldLabPhase]),
		})
	}
	return out, nil
}

// csvRow mirrors the CSV export columns. OBJECTID is deliberately unmapped.
type csvRow struct {
	Date      string `csv:"Date"`
	Utility   string `csv:"Utility"`
	CopiesLP1 string `csv:"SARS_COV_2_Copies_L_LP1"`
	CopiesLP2 string `csv:"SARS_COV_2_Copies_L_LP2"`
	Cases     string `csv:"Cases"`
	LabPhase  string `csv:"Lab_Phase"`
}

// NormalizeCSV parses the flat CSV export. Dates are reinterpreted into epoch
// milliseconds so both source formats reach the loader in the same shape;
// unparseable numeric cells become nil and the row is kept.
func NormalizeCSV(content []byte) (Normalized, error) {
	content = bytes.TrimPrefix(content, []byte("\ufeff"))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1

	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Normalized{}, fmt.Errorf("%w: csv export has no header row", ErrSchemaMismatch)
		}
		return Normalized{}, fmt.Errorf("%w: read csv header: %v", ErrSchemaMismatch, err)
	}
	header := dec.Header()
	for _, col := range []string{FieldDate, FieldUtility} {
		if !slices.Contains(header, col) {
			return Normalized{}, fmt.Errorf("%w: csv column %q missing, observed header %v", ErrSchemaMismatch, col, header)
		}
	}

	var out Normalized
	for {
		var row csvRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			out.Dropped++
			continue
		}
		date, err := ParseCSVDate(row.Date)
		if err != nil {
			out.Dropped++
			continue
		}
		out.Records = append(out.Records, Record{
			DateMillis: date.UnixMilli(),
			Utility:    strings.TrimSpace(row.Utility),
			CopiesLP1:  parseFloatOrNil(row.CopiesLP1),
			CopiesLP2:  parseFloatOrNil(row.CopiesLP2),
			Cases:      parseIntOrNil(row.Cases),
			LabPhase:   strings.TrimSpace(row.LabPhase),
		})
	}
	return out, nil
}

// ParseCSVDate parses the export's "YYYY/MM/DD hh:mm:ss+000" timestamps,
// padding the truncated offset to four digits first.
func ParseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if shortOffsetRe.MatchString(s) {
		s += "0"
	}
	for _, layout := range csvDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseFloatOrNil(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func parseIntOrNil(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &v
	}
	f := parseFloatOrNil(s)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	v := int64(*f)
	return &v
}

// jsonFloat accepts JSON numbers and numeric strings; anything else is nil.
func jsonFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return &v
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseFloatOrNil(s)
	}
	return nil
}

func jsonInt(raw json.RawMessage) *int64 {
	f := jsonFloat(raw)
	if f == nil || *f != math.Trunc(*f) {
		return nil
	}
	v := int64(*f)
	return &v
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

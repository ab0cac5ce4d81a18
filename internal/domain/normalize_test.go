package domain

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUtility = "Metro WW - Platte/Central"
	nov17Millis = int64(1668643200000) // 2022-11-17T00:00:00Z
)

func ptr[T any](v T) *T { return &v }

func TestNormalizeJSON(t *testing.T) {
	t.Run("unwraps attributes and drops the object id", func(t *testing.T) {
		data := []byte(`{"objectIdFieldName":"OBJECTID","features":[
			{"attributes":{"OBJECTID":1,"Date":1668643200000,"Utility":"Metro WW - Platte/Central","SARS_COV_2_Copies_L_LP1":null,"SARS_COV_2_Copies_L_LP2":123456.5,"Cases":42,"Lab_Phase":"LP2"}},
			{"attributes":{"OBJECTID":2,"Date":1668729600000,"Utility":"Aurora","SARS_COV_2_Copies_L_LP1":99.5,"SARS_COV_2_Copies_L_LP2":null,"Cases":null,"Lab_Phase":"LP1"}}
		]}`)

		got, err := NormalizeJSON(data)
		require.NoError(t, err)

		want := []Record{
			{DateMillis: nov17Millis, Utility: testUtility, CopiesLP2: ptr(123456.5), Cases: ptr(int64(42)), LabPhase: "LP2"},
			{DateMillis: 1668729600000, Utility: "Aurora", CopiesLP1: ptr(99.5), LabPhase: "LP1"},
		}
		if diff := cmp.Diff(want, got.Records); diff != "" {
			t.Fatalf("records mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 2, got.Count())
		assert.Zero(t, got.Dropped)
	})

	t.Run("returns one record per feature", func(t *testing.T) {
		const m = 37
		var b strings.Builder
		b.WriteString(`{"features":[`)
		for i := range m {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, `{"attributes":{"OBJECTID":%d,"Date":%d,"Utility":"u%d"}}`, i, nov17Millis, i%3)
		}
		b.WriteString(`]}`)

		got, err := NormalizeJSON([]byte(b.String()))
		require.NoError(t, err)
		assert.Len(t, got.Records, m)
	})

	t.Run("malformed analyte becomes nil and keeps the row", func(t *testing.T) {
		data := []byte(`{"features":[{"attributes":{"OBJECTID":1,"Date":1668643200000,"Utility":"Aurora","SARS_COV_2_Copies_L_LP1":"n/a","SARS_COV_2_Copies_L_LP2":{"bad":true},"Cases":"3.5","Lab_Phase":"LP1"}}]}`)

		got, err := NormalizeJSON(data)
		require.NoError(t, err)
		require.Len(t, got.Records, 1)
		assert.Nil(t, got.Records[0].CopiesLP1)
		assert.Nil(t, got.Records[0].CopiesLP2)
		assert.Nil(t, got.Records[0].Cases)
		assert.Equal(t, "Aurora", got.Records[0].Utility)
	})

	t.Run("numeric strings are coerced", func(t *testing.T) {
		data := []byte(`{"features":[{"attributes":{"Date":"1668643200000","Utility":"Aurora","SARS_COV_2_Copies_L_LP1":"12.5","Cases":"7"}}]}`)

		got, err := NormalizeJSON(data)
		require.NoError(t, err)
		require.Len(t, got.Records, 1)
		assert.Equal(t, nov17Millis, got.Records[0].DateMillis)
		assert.InEpsilon(t, 12.5, *got.Records[0].CopiesLP1, 0.0001)
		assert.Equal(t, int64(7), *got.Records[0].Cases)
	})

	t.Run("feature without date is dropped", func(t *testing.T) {
		data := []byte(`{"features":[{"attributes":{"Utility":"Aurora"}},{"attributes":{"Date":null}},{"attributes":{"Date":1668643200000}}]}`)

		got, err := NormalizeJSON(data)
		require.NoError(t, err)
		assert.Len(t, got.Records, 1)
		assert.Equal(t, 2, got.Dropped)
	})

	t.Run("missing features array", func(t *testing.T) {
		_, err := NormalizeJSON([]byte(`{"error":{"code":400},"fields":[]}`))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrSchemaMismatch)
		assert.Contains(t, err.Error(), "[error fields]")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := NormalizeJSON([]byte("{invalid"))
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("empty features array", func(t *testing.T) {
		got, err := NormalizeJSON([]byte(`{"features":[]}`))
		require.NoError(t, err)
		assert.Empty(t, got.Records)
	})
}

func TestNormalizeCSV(t *testing.T) {
	t.Run("parses rows and drops the object id column", func(t *testing.T) {
		data := []byte("\ufeffOBJECTID,Date,Utility,SARS_COV_2_Copies_L_LP1,SARS_COV_2_Copies_L_LP2,Cases,Lab_Phase\n" +
			"1,2022/11/17 00:00:00+000,Metro WW - Platte/Central,,123456.5,42,LP2\n" +
			"2,2022/11/18 00:00:00+000,Aurora,99.5,,,LP1\n")

		got, err := NormalizeCSV(data)
		require.NoError(t, err)

		want := []Record{
			{DateMillis: nov17Millis, Utility: testUtility, CopiesLP2: ptr(123456.5), Cases: ptr(int64(42)), LabPhase: "LP2"},
			{DateMillis: 1668729600000, Utility: "Aurora", CopiesLP1: ptr(99.5), LabPhase: "LP1"},
		}
		if diff := cmp.Diff(want, got.Records); diff != "" {
			t.Fatalf("records mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("malformed numbers become nil", func(t *testing.T) {
		data := []byte("Date,Utility,SARS_COV_2_Copies_L_LP1,SARS_COV_2_Copies_L_LP2,Cases,Lab_Phase\n" +
			"2022/11/17 00:00:00+000,Aurora,abc,NaN,twelve,LP1\n" +
			"2022/11/17 00:00:00+000,Aurora,1e3,,12.0,LP1\n")

		got, err := NormalizeCSV(data)
		require.NoError(t, err)
		require.Len(t, got.Records, 2)

		assert.Nil(t, got.Records[0].CopiesLP1)
		assert.Nil(t, got.Records[0].CopiesLP2)
		assert.Nil(t, got.Records[0].Cases)

		assert.InEpsilon(t, 1000.0, *got.Records[1].CopiesLP1, 0.0001)
		assert.Equal(t, int64(12), *got.Records[1].Cases)
	})

	t.Run("unparseable date drops the row", func(t *testing.T) {
		data := []byte("Date,Utility\nyesterday,Aurora\n2022/11/17 00:00:00+000,Aurora\n")

		got, err := NormalizeCSV(data)
		require.NoError(t, err)
		assert.Len(t, got.Records, 1)
		assert.Equal(t, 1, got.Dropped)
	})

	t.Run("empty export", func(t *testing.T) {
		_, err := NormalizeCSV(nil)
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("missing date column", func(t *testing.T) {
		_, err := NormalizeCSV([]byte("OBJECTID,Utility\n1,Aurora\n"))
		require.ErrorIs(t, err, ErrSchemaMismatch)
		assert.Contains(t, err.Error(), `"Date"`)
	})
}

func TestParseCSVDate(t *testing.T) {
	want := time.Date(2022, 11, 17, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"three digit offset", "2022/11/17 00:00:00+000", want},
		{"four digit offset", "2022/11/17 00:00:00+0000", want},
		{"colon offset", "2022/11/17 00:00:00+00:00", want},
		{"no offset", "2022/11/17 00:00:00", want},
		{"date only", "2022/11/17", want},
		{"us date", "11/17/2022", want},
		{"negative offset shifts to UTC", "2022/11/16 17:00:00-070", want},
		{"surrounding whitespace", "  2022/11/17 00:00:00+000 ", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCSVDate(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseCSVDate("17 Nov 2022")
		require.Error(t, err)
	})
}

func TestNormalize_Dispatch(t *testing.T) {
	jsonSnap := Snapshot{Format: FormatJSON, Content: []byte(`{"features":[{"attributes":{"Date":1668643200000}}]}`)}
	csvSnap := Snapshot{Format: FormatCSV, Content: []byte("Date,Utility\n2022/11/17 00:00:00+000,Aurora\n")}

	for _, s := range []Snapshot{jsonSnap, csvSnap} {
		t.Run(s.Format.String(), func(t *testing.T) {
			got, err := Normalize(s)
			require.NoError(t, err)
			require.Len(t, got.Records, 1)
			assert.Equal(t, nov17Millis, got.Records[0].DateMillis)
			assert.Equal(t, "2022-11-17", ISODate(got.Records[0].Date()))
		})
	}

	t.Run("unknown format", func(t *testing.T) {
		_, err := Normalize(Snapshot{Format: SourceFormat(9)})
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

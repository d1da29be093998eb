package celcat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

func validRecord() Record {
	return Record{
		"id":              "E1",
		"start":           "2024-03-04T08:00:00",
		"end":             "2024-03-04T10:00:00",
		"description":     "Algorithms",
		"modules":         []any{"CS101"},
		"sites":           []any{"Main campus"},
		"eventCategory":   "Lecture",
		"backgroundColor": "#33B679",
	}
}

func TestNormalize_Valid(t *testing.T) {
	loc := paris(t)
	ev, err := Normalize(validRecord(), loc)
	require.NoError(t, err)

	assert.Equal(t, "E1", ev.ID)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, loc), ev.Start)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, loc), ev.End)
	assert.Equal(t, "Algorithms", ev.Text)
	assert.Equal(t, []string{"CS101"}, ev.Modules)
	assert.Equal(t, []string{"Main campus"}, ev.Sites)
	assert.Equal(t, "Lecture", ev.Category)
	assert.Equal(t, "#33B679", ev.BackgroundColor)
	assert.Equal(t, "Lecture", ev.Raw["eventCategory"])
}

func TestNormalize_OptionalFieldsMayBeNull(t *testing.T) {
	rec := validRecord()
	rec["modules"] = nil
	rec["sites"] = nil
	delete(rec, "backgroundColor")
	delete(rec, "eventCategory")

	ev, err := Normalize(rec, paris(t))
	require.NoError(t, err)
	assert.Empty(t, ev.Modules)
	assert.Empty(t, ev.Sites)
	assert.Equal(t, "", ev.BackgroundColor)
	assert.Equal(t, "", ev.Category)
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(Record)
		field  string
	}{
		{"missing id", func(r Record) { delete(r, "id") }, "id"},
		{"empty id", func(r Record) { r["id"] = " " }, "id"},
		{"missing description", func(r Record) { delete(r, "description") }, "description"},
		{"missing start", func(r Record) { delete(r, "start") }, "start"},
		{"bad start format", func(r Record) { r["start"] = "2024-03-04 08:00" }, "start"},
		{"timezone suffix", func(r Record) { r["end"] = "2024-03-04T10:00:00Z" }, "end"},
		{"numeric id", func(r Record) { r["id"] = 12.0 }, "id"},
		{"modules not a list", func(r Record) { r["modules"] = "CS101" }, "modules"},
		{"sites with numbers", func(r Record) { r["sites"] = []any{1.0} }, "sites"},
		{"bad color", func(r Record) { r["backgroundColor"] = "green" }, "backgroundColor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)

			_, err := Normalize(rec, paris(t))
			var mre *MalformedRecordError
			require.True(t, errors.As(err, &mre), "got %v", err)
			assert.Equal(t, tt.field, mre.Field)
		})
	}
}

func TestNormalizeAll_StopsAtFirstBadRecord(t *testing.T) {
	bad := validRecord()
	bad["id"] = "E2"
	delete(bad, "end")

	_, err := NormalizeAll([]Record{validRecord(), bad, validRecord()}, paris(t))
	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, "E2", mre.ID)
	assert.Contains(t, err.Error(), `field "end" is missing`)

	evs, err := NormalizeAll([]Record{validRecord(), validRecord()}, paris(t))
	require.NoError(t, err)
	assert.Len(t, evs, 2)
}

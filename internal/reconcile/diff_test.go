package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celcal/internal/calendar"
	"celcal/internal/celcat"
)

const lookahead = 3 * 24 * time.Hour

func ev(id, summary string, start time.Time, desc string) calendar.Event {
	return calendar.Event{
		ID:          id,
		Summary:     summary,
		Description: desc,
		Start:       start,
		End:         start.Add(2 * time.Hour),
	}
}

// insertAll mimics the destination: every insert gets a fresh ID.
func insertAll(specs []calendar.NewEvent, prefix string) []calendar.Event {
	out := make([]calendar.Event, 0, len(specs))
	for i, s := range specs {
		out = append(out, calendar.Event{
			ID:          prefix + string(rune('a'+i)),
			Summary:     s.Summary,
			Description: s.Description,
			ColorID:     s.ColorID,
			Start:       s.Start,
			End:         s.End,
		})
	}
	return out
}

func TestClassifyDiff_IdempotentWithoutSourceChange(t *testing.T) {
	source := []celcat.Event{lecture("E1", "CS101"), lecture("E2", "CS102")}
	source[1].Start = source[1].Start.Add(24 * time.Hour)
	source[1].End = source[1].End.Add(24 * time.Hour)

	cycle1 := insertAll(PlanSync(nil, source, PlanOptions{}).ToInsert, "n1-")
	plan2 := PlanSync(cycle1, source, PlanOptions{})
	cycle2 := insertAll(plan2.ToInsert, "n2-")

	assert.Empty(t, ClassifyDiff(plan2.ToDelete, cycle2, t0, lookahead))
}

func TestClassifyDiff_AddedRespectsLookahead(t *testing.T) {
	inside := ev("1", "Lecture - A", t0.Add(lookahead), "x")
	outside := ev("2", "Lecture - B", t0.Add(lookahead+time.Minute), "x")

	got := ClassifyDiff(nil, []calendar.Event{inside, outside}, t0, lookahead)
	require.Len(t, got, 1)
	assert.Equal(t, Added, got[0].Kind)
	assert.Equal(t, "1", got[0].Event.ID)
	require.NotNil(t, got[0].New)
	assert.Nil(t, got[0].Old)
}

func TestClassifyDiff_RemovedIgnoresEventsBeforeWindow(t *testing.T) {
	slidOut := ev("1", "Lecture - A", t0.Add(-time.Hour), "x")
	atStart := ev("2", "Lecture - B", t0, "x")
	farFuture := ev("3", "Lecture - C", t0.Add(20*24*time.Hour), "x")

	got := ClassifyDiff([]calendar.Event{slidOut, atStart, farFuture}, nil, t0, lookahead)
	require.Len(t, got, 2)
	assert.Equal(t, Removed, got[0].Kind)
	assert.Equal(t, "2", got[0].Event.ID)
	assert.Equal(t, Removed, got[1].Kind)
	assert.Equal(t, "3", got[1].Event.ID)
}

func TestClassifyDiff_ModifiedDisplaysOldEvent(t *testing.T) {
	start := t0.Add(30 * time.Hour)
	other := ev("o", "Lecture - Z", t0.Add(50*time.Hour), "unchanged")
	old := ev("old", "Lecture - A", start, Tag("Room 101"))
	updated := ev("new", "Lecture - A", start, Tag("Room 202"))

	got := ClassifyDiff([]calendar.Event{old, other}, []calendar.Event{updated, other}, t0, lookahead)
	require.Len(t, got, 1)
	entry := got[0]
	assert.Equal(t, Modified, entry.Kind)
	assert.Equal(t, "old", entry.Event.ID)
	assert.Equal(t, Tag("Room 101"), entry.Event.Description)
	require.NotNil(t, entry.Old)
	require.NotNil(t, entry.New)
	assert.Equal(t, "new", entry.New.ID)
}

func TestClassifyDiff_ModifiedIgnoresLookahead(t *testing.T) {
	start := t0.Add(10 * 24 * time.Hour)
	got := ClassifyDiff(
		[]calendar.Event{ev("old", "Lecture - A", start, "a")},
		[]calendar.Event{ev("new", "Lecture - A", start, "b")},
		t0, lookahead)
	require.Len(t, got, 1)
	assert.Equal(t, Modified, got[0].Kind)
}

func TestClassifyDiff_KeyIgnoresTimezoneRepresentation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	start := t0.Add(9 * time.Hour)

	old := ev("old", "Lecture - A", start.In(paris), "same")
	updated := ev("new", "Lecture - A", start, "same")

	assert.Empty(t, ClassifyDiff([]calendar.Event{old}, []calendar.Event{updated}, t0, lookahead))
}

func TestClassifyDiff_Order(t *testing.T) {
	removed := ev("r", "Lecture - R", t0.Add(time.Hour), "x")
	changedOld := ev("c1", "Lecture - C", t0.Add(2*time.Hour), "x")
	changedNew := ev("c2", "Lecture - C", t0.Add(2*time.Hour), "y")
	added := ev("a", "Lecture - A", t0.Add(3*time.Hour), "x")

	got := ClassifyDiff(
		[]calendar.Event{removed, changedOld},
		[]calendar.Event{added, changedNew},
		t0, lookahead)

	require.Len(t, got, 3)
	assert.Equal(t, []Kind{Removed, Added, Modified}, []Kind{got[0].Kind, got[1].Kind, got[2].Kind})
}

func TestDiffEntryString(t *testing.T) {
	e := DiffEntry{Kind: Added, Event: ev("1", "Lecture - CS101", t0.Add(8*time.Hour), "")}
	assert.Equal(t, "+ Lecture - CS101 (04/03 08:00 - 10:00)", e.String())
	assert.Equal(t, "-", Removed.Symbol())
	assert.Equal(t, "*", Modified.Symbol())
}

package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celcal/internal/calendar"
	"celcal/internal/celcat"
)

var t0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func lecture(id string, modules ...string) celcat.Event {
	return celcat.Event{
		ID:              id,
		Start:           t0.Add(8 * time.Hour),
		End:             t0.Add(10 * time.Hour),
		Text:            "Algorithms",
		Modules:         modules,
		Category:        "Lecture",
		BackgroundColor: "#33B679",
	}
}

func TestPlanSync_SingleRecordScenario(t *testing.T) {
	rec := celcat.Record{
		"id":              "E1",
		"start":           "2024-03-04T08:00:00",
		"end":             "2024-03-04T10:00:00",
		"description":     "Algorithms",
		"modules":         []any{"CS101"},
		"eventCategory":   "Lecture",
		"backgroundColor": "#33B679",
	}
	ev, err := celcat.Normalize(rec, time.UTC)
	require.NoError(t, err)

	plan := PlanSync(nil, []celcat.Event{ev}, PlanOptions{TimeZone: "Europe/Paris"})

	require.Len(t, plan.ToInsert, 1)
	got := plan.ToInsert[0]
	assert.Equal(t, "Lecture - CS101", got.Summary)
	assert.Equal(t, "2", got.ColorID)
	assert.True(t, strings.HasSuffix(got.Description, Sentinel))
	assert.True(t, strings.HasPrefix(got.Description, "Algorithms"))
	assert.Equal(t, "Celcat", got.Location)
	assert.Equal(t, "Europe/Paris", got.TimeZone)
	assert.Equal(t, ev.Start, got.Start)
	assert.Equal(t, ev.End, got.End)
	assert.Empty(t, plan.ToDelete)
}

func TestPlanSync_EmptyModulesUsesPlaceholder(t *testing.T) {
	plan := PlanSync(nil, []celcat.Event{lecture("E1")}, PlanOptions{})
	assert.Equal(t, "Lecture - ?", plan.ToInsert[0].Summary)
}

func TestPlanSync_JoinsModules(t *testing.T) {
	plan := PlanSync(nil, []celcat.Event{lecture("E1", "CS101", "CS102")}, PlanOptions{})
	assert.Equal(t, "Lecture - CS101+CS102", plan.ToInsert[0].Summary)
}

func TestPlanSync_MissingColorUsesDefaultSlot(t *testing.T) {
	ev := lecture("E1", "CS101")
	ev.BackgroundColor = ""
	plan := PlanSync(nil, []celcat.Event{ev}, PlanOptions{})
	assert.Equal(t, "3", plan.ToInsert[0].ColorID)
}

func TestPlanSync_KeepsSourceDuplicates(t *testing.T) {
	a := lecture("E1", "CS101")
	b := lecture("E2", "CS101")
	plan := PlanSync(nil, []celcat.Event{a, b}, PlanOptions{})

	require.Len(t, plan.ToInsert, 2)
	assert.Equal(t, plan.ToInsert[0], plan.ToInsert[1])
}

func TestPlanSync_DeletesAllPriorAndInsertsAllSource(t *testing.T) {
	priors := [][]calendar.Event{
		nil,
		{{ID: "a", Summary: "Old"}},
		{{ID: "a"}, {ID: "b"}, {ID: "c", Description: Tag("x")}},
	}
	sources := [][]celcat.Event{
		nil,
		{lecture("E1")},
		{lecture("E1"), lecture("E2", "M"), lecture("E3", "M", "N")},
	}

	for _, prior := range priors {
		for _, source := range sources {
			plan := PlanSync(prior, source, PlanOptions{})
			assert.Len(t, plan.ToInsert, len(source))
			assert.ElementsMatch(t, prior, plan.ToDelete)
		}
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "hello\n\n"+Sentinel, Tag("hello"))
	assert.True(t, IsOwned(Tag("")))
	assert.False(t, IsOwned("my own event"))
}

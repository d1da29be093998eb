// Package reconcile decides how the destination calendar changes for a
// freshly fetched timetable, and which of those changes are worth reporting.
package reconcile

import (
	"strings"

	"celcal/internal/calendar"
	"celcal/internal/celcat"
	"celcal/internal/color"
)

// Location is set on every inserted event.
const Location = "Celcat"

// PlanOptions carries the per-cycle settings applied to inserted events.
type PlanOptions struct {
	TimeZone string
}

// Plan is the full set of changes for one cycle.
type Plan struct {
	ToDelete []calendar.Event
	ToInsert []calendar.NewEvent
}

// PlanSync clears every previously owned event and reinserts one event per
// source event. Source duplicates are kept: the feed is authoritative.
func PlanSync(prior []calendar.Event, source []celcat.Event, opts PlanOptions) Plan {
	plan := Plan{
		ToDelete: append([]calendar.Event(nil), prior...),
		ToInsert: make([]calendar.NewEvent, 0, len(source)),
	}
	for _, ev := range source {
		plan.ToInsert = append(plan.ToInsert, BuildEvent(ev, opts))
	}
	return plan
}

// BuildEvent converts a source event into the event written to the destination.
func BuildEvent(ev celcat.Event, opts PlanOptions) calendar.NewEvent {
	return calendar.NewEvent{
		Summary:     Summary(ev),
		Description: Tag(ev.Text),
		Location:    Location,
		ColorID:     color.Map(ev.BackgroundColor).String(),
		Start:       ev.Start,
		End:         ev.End,
		TimeZone:    opts.TimeZone,
	}
}

// Summary renders "<category> - <module+module>", with "?" for no modules.
func Summary(ev celcat.Event) string {
	modules := "?"
	if len(ev.Modules) > 0 {
		modules = strings.Join(ev.Modules, "+")
	}
	return ev.Category + " - " + modules
}

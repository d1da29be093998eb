package reconcile

import (
	"time"

	"celcal/internal/calendar"
)

type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

// Symbol is the one-character prefix used in notifications.
func (k Kind) Symbol() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case Modified:
		return "*"
	default:
		return "?"
	}
}

// Key identifies a logical event across cycles, since the destination
// assigns a new ID on each insert.
type Key struct {
	Summary string
	Start   int64
	End     int64
}

func KeyOf(ev calendar.Event) Key {
	return Key{Summary: ev.Summary, Start: ev.Start.Unix(), End: ev.End.Unix()}
}

// DiffEntry is one reportable change.
type DiffEntry struct {
	Kind Kind
	// Event is the event shown in the notification. For Modified entries
	// it is the replaced (old) event.
	Event calendar.Event
	Old   *calendar.Event
	New   *calendar.Event
}

// String renders the entry as a notification line.
func (d DiffEntry) String() string {
	return d.Kind.Symbol() + " " + Display(d.Event)
}

// Display renders "Summary (02/01 15:04 - 15:04)".
func Display(ev calendar.Event) string {
	return ev.Summary + " (" + ev.Start.Format("02/01 15:04") + " - " + ev.End.Format("15:04") + ")"
}

// ClassifyDiff compares the events deleted this cycle with the ones
// inserted in their place.
//
//   - removed: key only in prior, and the event does not start before
//     windowStart (events that merely slid out of the window are ignored)
//   - added: key only in inserted, starting no later than windowStart+lookahead
//   - modified: key in both with a different description
//
// Entries follow the input order: removals in prior order, then additions
// and modifications in inserted order. When several events share a key the
// last one wins.
func ClassifyDiff(prior, inserted []calendar.Event, windowStart time.Time, lookahead time.Duration) []DiffEntry {
	oldMap := make(map[Key]int, len(prior))
	for i, ev := range prior {
		oldMap[KeyOf(ev)] = i
	}
	newMap := make(map[Key]int, len(inserted))
	for i, ev := range inserted {
		newMap[KeyOf(ev)] = i
	}

	var out []DiffEntry
	for i, ev := range prior {
		key := KeyOf(ev)
		if oldMap[key] != i {
			continue
		}
		if _, ok := newMap[key]; ok {
			continue
		}
		if ev.Start.Before(windowStart) {
			continue
		}
		old := prior[i]
		out = append(out, DiffEntry{Kind: Removed, Event: old, Old: &old})
	}

	addLimit := windowStart.Add(lookahead)
	for i, ev := range inserted {
		key := KeyOf(ev)
		if newMap[key] != i {
			continue
		}
		j, ok := oldMap[key]
		if !ok {
			if ev.Start.After(addLimit) {
				continue
			}
			added := inserted[i]
			out = append(out, DiffEntry{Kind: Added, Event: added, New: &added})
			continue
		}
		if prior[j].Description != ev.Description {
			old, updated := prior[j], inserted[i]
			out = append(out, DiffEntry{Kind: Modified, Event: old, Old: &old, New: &updated})
		}
	}
	return out
}

package celcat

import (
	"fmt"
	"strings"
	"time"

	"celcal/internal/color"
)

// TimeLayout is the wall-clock format of record start/end values.
const TimeLayout = "2006-01-02T15:04:05"

// Record is a raw calendar item as decoded from GetCalendarData.
type Record map[string]any

// Event is a normalized Celcat calendar item.
type Event struct {
	ID       string
	Start    time.Time
	End      time.Time
	Text     string
	Sites    []string
	Modules  []string
	Category string
	// BackgroundColor is a #RRGGBB value, or "" when Celcat sent none.
	BackgroundColor string

	Raw Record
}

// MalformedRecordError reports a record that cannot be normalized.
type MalformedRecordError struct {
	ID     string
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("malformed celcat record %s: field %q %s", id, e.Field, e.Reason)
}

// Normalize validates rec and converts it into an Event whose timestamps
// are interpreted in loc.
func Normalize(rec Record, loc *time.Location) (Event, error) {
	if loc == nil {
		loc = time.Local
	}

	id, err := requiredString(rec, "", "id")
	if err != nil {
		return Event{}, err
	}
	text, err := requiredString(rec, id, "description")
	if err != nil {
		return Event{}, err
	}
	start, err := requiredTime(rec, id, "start", loc)
	if err != nil {
		return Event{}, err
	}
	end, err := requiredTime(rec, id, "end", loc)
	if err != nil {
		return Event{}, err
	}

	sites, err := stringList(rec, id, "sites")
	if err != nil {
		return Event{}, err
	}
	modules, err := stringList(rec, id, "modules")
	if err != nil {
		return Event{}, err
	}
	category, err := optionalString(rec, id, "eventCategory")
	if err != nil {
		return Event{}, err
	}
	bg, err := optionalString(rec, id, "backgroundColor")
	if err != nil {
		return Event{}, err
	}
	if bg != "" && !color.Valid(bg) {
		return Event{}, &MalformedRecordError{ID: id, Field: "backgroundColor", Reason: fmt.Sprintf("is not a #RRGGBB color: %q", bg)}
	}

	return Event{
		ID:              id,
		Start:           start,
		End:             end,
		Text:            text,
		Sites:           sites,
		Modules:         modules,
		Category:        category,
		BackgroundColor: bg,
		Raw:             rec,
	}, nil
}

// NormalizeAll normalizes every record and stops at the first malformed one.
func NormalizeAll(recs []Record, loc *time.Location) ([]Event, error) {
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		ev, err := Normalize(rec, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func requiredString(rec Record, id, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", &MalformedRecordError{ID: id, Field: field, Reason: "is missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &MalformedRecordError{ID: id, Field: field, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	if field == "id" && strings.TrimSpace(s) == "" {
		return "", &MalformedRecordError{ID: id, Field: field, Reason: "is empty"}
	}
	return s, nil
}

func optionalString(rec Record, id, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &MalformedRecordError{ID: id, Field: field, Reason: fmt.Sprintf("must be a string, got %T", v)}
	}
	return s, nil
}

func requiredTime(rec Record, id, field string, loc *time.Location) (time.Time, error) {
	s, err := requiredString(rec, id, field)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(TimeLayout, s, loc)
	if err != nil {
		return time.Time{}, &MalformedRecordError{ID: id, Field: field, Reason: fmt.Sprintf("does not match YYYY-MM-DDTHH:MM:SS: %q", s)}
	}
	return t, nil
}

// stringList accepts a JSON array of strings or null.
func stringList(rec Record, id, field string) ([]string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &MalformedRecordError{ID: id, Field: field, Reason: fmt.Sprintf("must contain strings, got %T", item)}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &MalformedRecordError{ID: id, Field: field, Reason: fmt.Sprintf("must be a list, got %T", v)}
	}
}

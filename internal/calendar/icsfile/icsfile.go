// Package icsfile implements a destination calendar stored in a single
// .ics file, for subscribing from any calendar client or for dry runs.
package icsfile

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"celcal/internal/calendar"
	appLog "celcal/internal/log"
)

const (
	productID = "-//celcal//Celcat timetable//EN"

	propColorID = ical.ComponentProperty("X-CELCAL-COLOR-ID")
)

// Calendar is a file-backed calendar.Destination. Every mutation rewrites
// the whole file atomically.
type Calendar struct {
	path string
	name string
	loc  *time.Location

	mu sync.Mutex
}

var _ calendar.Destination = (*Calendar)(nil)

// New returns a calendar stored at path. Times are reported in loc.
func New(path, name string, loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{path: path, name: name, loc: loc}
}

func (c *Calendar) List(_ context.Context, timeMin, timeMax time.Time, query string) ([]calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.load()
	if err != nil {
		return nil, &calendar.APIError{Op: "list", Err: err}
	}

	q := strings.ToLower(query)
	out := make([]calendar.Event, 0, len(events))
	for _, ev := range events {
		if !ev.End.After(timeMin) {
			continue
		}
		if !timeMax.IsZero() && !ev.Start.Before(timeMax) {
			continue
		}
		if q != "" && !matches(ev, q) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (c *Calendar) Insert(_ context.Context, spec calendar.NewEvent) (calendar.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.load()
	if err != nil {
		return calendar.Event{}, &calendar.APIError{Op: "insert", Err: err}
	}

	ev := calendar.Event{
		ID:          uuid.NewString() + "@celcal",
		Summary:     spec.Summary,
		Description: spec.Description,
		Location:    spec.Location,
		ColorID:     spec.ColorID,
		Start:       spec.Start.In(c.loc),
		End:         spec.End.In(c.loc),
	}
	if err := c.save(append(events, ev)); err != nil {
		return calendar.Event{}, &calendar.APIError{Op: "insert", Err: err}
	}
	return ev, nil
}

func (c *Calendar) Delete(_ context.Context, target calendar.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	events, err := c.load()
	if err != nil {
		return &calendar.APIError{Op: "delete", EventID: target.ID, Err: err}
	}

	kept := events[:0]
	found := false
	for _, ev := range events {
		if ev.ID == target.ID {
			found = true
			continue
		}
		kept = append(kept, ev)
	}
	if !found {
		return &calendar.APIError{Op: "delete", EventID: target.ID, Err: fs.ErrNotExist}
	}
	if err := c.save(kept); err != nil {
		return &calendar.APIError{Op: "delete", EventID: target.ID, Err: err}
	}
	return nil
}

// Bytes returns the serialized calendar, or an empty calendar when the
// file does not exist yet.
func (c *Calendar) Bytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []byte(c.serialize(nil)), nil
	}
	return data, err
}

func matches(ev calendar.Event, q string) bool {
	return strings.Contains(strings.ToLower(ev.Summary), q) ||
		strings.Contains(strings.ToLower(ev.Description), q) ||
		strings.Contains(strings.ToLower(ev.Location), q)
}

func (c *Calendar) load() ([]calendar.Event, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		appLog.Error("ics parse failed", err, "path", c.path)
		return nil, err
	}

	events := make([]calendar.Event, 0)
	for _, ve := range cal.Events() {
		ev, err := c.parseVEvent(ve)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *Calendar) parseVEvent(ve *ical.VEvent) (calendar.Event, error) {
	var out calendar.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("vevent without UID")
	}
	out.ID = uidProp.Value

	out.Summary = textProp(ve, ical.ComponentPropertySummary)
	out.Description = textProp(ve, ical.ComponentPropertyDescription)
	out.Location = textProp(ve, ical.ComponentPropertyLocation)
	if p := ve.GetProperty(propColorID); p != nil {
		out.ColorID = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	end, err := ve.GetEndAt()
	if err != nil {
		return out, err
	}
	out.Start = start.In(c.loc)
	out.End = end.In(c.loc)
	return out, nil
}

func (c *Calendar) serialize(events []calendar.Event) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if c.name != "" {
		cal.SetXWRCalName(c.name)
	}

	sorted := append([]calendar.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	stamp := time.Now()
	for _, ev := range sorted {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetProperty(ical.ComponentPropertySummary, ev.Summary)
		ve.SetProperty(ical.ComponentPropertyDescription, ev.Description)
		if ev.Location != "" {
			ve.SetProperty(ical.ComponentPropertyLocation, ev.Location)
		}
		if ev.ColorID != "" {
			ve.SetProperty(propColorID, ev.ColorID)
		}
	}
	return cal.Serialize()
}

// save writes atomically via a temp file + rename.
func (c *Calendar) save(events []calendar.Event) error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".celcal-*.ics.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(c.serialize(events)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path)
}

func textProp(ve *ical.VEvent, prop ical.ComponentProperty) string {
	p := ve.GetProperty(prop)
	if p == nil {
		return ""
	}
	return p.Value
}

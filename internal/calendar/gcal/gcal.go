// Package gcal implements the destination calendar on the Google
// Calendar API.
package gcal

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	gcalendar "google.golang.org/api/calendar/v3"

	"celcal/internal/calendar"
)

const dateLayout = "2006-01-02"

// Calendar writes into a single Google calendar.
type Calendar struct {
	svc        *gcalendar.Service
	calendarID string
	loc        *time.Location
	limiter    *rate.Limiter
}

var _ calendar.Destination = (*Calendar)(nil)

// New wraps svc. perSecond paces API calls; zero or less disables pacing.
func New(svc *gcalendar.Service, calendarID string, loc *time.Location, perSecond float64) *Calendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Calendar{svc: svc, calendarID: calendarID, loc: loc, limiter: limiter}
}

func (c *Calendar) List(ctx context.Context, timeMin, timeMax time.Time, query string) ([]calendar.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &calendar.APIError{Op: "list", Err: err}
	}

	call := c.svc.Events.List(c.calendarID).
		Context(ctx).
		SingleEvents(true).
		ShowDeleted(false).
		TimeZone(c.loc.String()).
		MaxResults(2500)
	if !timeMin.IsZero() {
		call = call.TimeMin(timeMin.Format(time.RFC3339))
	}
	if !timeMax.IsZero() {
		call = call.TimeMax(timeMax.Format(time.RFC3339))
	}
	if query != "" {
		call = call.Q(query)
	}

	var out []calendar.Event
	err := call.Pages(ctx, func(page *gcalendar.Events) error {
		for _, item := range page.Items {
			ev, err := c.fromAPI(item)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, &calendar.APIError{Op: "list", Err: err}
	}
	return out, nil
}

func (c *Calendar) Insert(ctx context.Context, spec calendar.NewEvent) (calendar.Event, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return calendar.Event{}, &calendar.APIError{Op: "insert", Err: err}
	}

	tz := spec.TimeZone
	if tz == "" {
		tz = c.loc.String()
	}
	item := &gcalendar.Event{
		Summary:     spec.Summary,
		Description: spec.Description,
		Location:    spec.Location,
		ColorId:     spec.ColorID,
		Start:       &gcalendar.EventDateTime{DateTime: spec.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcalendar.EventDateTime{DateTime: spec.End.Format(time.RFC3339), TimeZone: tz},
	}

	created, err := c.svc.Events.Insert(c.calendarID, item).Context(ctx).Do()
	if err != nil {
		return calendar.Event{}, &calendar.APIError{Op: "insert", Err: err}
	}
	ev, err := c.fromAPI(created)
	if err != nil {
		return calendar.Event{}, &calendar.APIError{Op: "insert", EventID: created.Id, Err: err}
	}
	return ev, nil
}

func (c *Calendar) Delete(ctx context.Context, ev calendar.Event) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &calendar.APIError{Op: "delete", EventID: ev.ID, Err: err}
	}
	if err := c.svc.Events.Delete(c.calendarID, ev.ID).Context(ctx).Do(); err != nil {
		return &calendar.APIError{Op: "delete", EventID: ev.ID, Err: err}
	}
	return nil
}

func (c *Calendar) fromAPI(item *gcalendar.Event) (calendar.Event, error) {
	start, err := c.parseTime(item.Start)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := c.parseTime(item.End)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	return calendar.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		ColorID:     item.ColorId,
		Start:       start,
		End:         end,
	}, nil
}

// parseTime handles timed events and all-day events (Date only).
func (c *Calendar) parseTime(dt *gcalendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(c.loc), nil
	}
	return time.ParseInLocation(dateLayout, dt.Date, c.loc)
}

package calendar

import (
	"context"
	"fmt"
	"time"
)

// Event is an event as stored by the destination calendar.
type Event struct {
	// ID is assigned by the destination on insert and changes on every
	// reinsertion.
	ID string

	Summary     string
	Description string
	Location    string

	// ColorID is one of the palette slot ids ("1".."11").
	ColorID string

	Start time.Time
	End   time.Time
}

// NewEvent describes an event to insert.
type NewEvent struct {
	Summary     string
	Description string
	Location    string
	ColorID     string

	Start time.Time
	End   time.Time

	// TimeZone is the IANA zone attached to Start/End.
	TimeZone string
}

// Destination is the calendar the timetable is written into.
type Destination interface {
	// List returns events overlapping [timeMin, timeMax) whose text matches
	// query. A zero timeMax means unbounded.
	List(ctx context.Context, timeMin, timeMax time.Time, query string) ([]Event, error)
	// Insert creates the event and returns it with its new ID.
	Insert(ctx context.Context, ev NewEvent) (Event, error)
	Delete(ctx context.Context, ev Event) error
}

// APIError wraps any failure reported by a Destination.
type APIError struct {
	Op      string // list | insert | delete
	EventID string
	Err     error
}

func (e *APIError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("calendar %s %s: %v", e.Op, e.EventID, e.Err)
	}
	return fmt.Sprintf("calendar %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

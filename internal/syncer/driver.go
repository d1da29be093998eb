// Package syncer runs one fetch, reconcile and apply cycle.
package syncer

import (
	"context"
	"fmt"
	"time"

	"celcal/internal/calendar"
	"celcal/internal/celcat"
	appLog "celcal/internal/log"
	"celcal/internal/metrics"
	"celcal/internal/reconcile"
)

// Source fetches raw timetable records.
type Source interface {
	Fetch(ctx context.Context, groups []string, start, end time.Time) ([]celcat.Record, error)
}

// Notifier receives the changes of a cycle.
type Notifier interface {
	Enabled() bool
	NotifyDiff(ctx context.Context, entries []reconcile.DiffEntry) error
}

// Options is the immutable per-driver configuration.
type Options struct {
	Groups   []string
	Location *time.Location
	// Distance is the length of the sync window starting today at 00:00.
	Distance time.Duration
	// Lookahead limits which added events are notified.
	Lookahead time.Duration
	// DryRun plans and classifies without touching the destination.
	DryRun bool
	// Now defaults to time.Now.
	Now func() time.Time
}

// CycleResult summarizes one cycle.
type CycleResult struct {
	StartedAt   time.Time             `json:"started_at"`
	Duration    time.Duration         `json:"duration"`
	WindowStart time.Time             `json:"window_start"`
	WindowEnd   time.Time             `json:"window_end"`
	Fetched     int                   `json:"fetched"`
	Deleted     int                   `json:"deleted"`
	Inserted    int                   `json:"inserted"`
	DryRun      bool                  `json:"dry_run"`
	Diff        []reconcile.DiffEntry `json:"-"`
	Changes     []string              `json:"changes"`
}

// Driver wires the feed, the engine and the destination together.
type Driver struct {
	opts     Options
	src      Source
	dst      calendar.Destination
	notifier Notifier
}

// NewDriver creates a Driver. notifier may be nil.
func NewDriver(opts Options, src Source, dst calendar.Destination, notifier Notifier) *Driver {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Groups = append([]string(nil), opts.Groups...)
	return &Driver{opts: opts, src: src, dst: dst, notifier: notifier}
}

// Window returns the sync window for the given instant: today at 00:00 in
// the configured zone, plus Distance.
func (d *Driver) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(d.opts.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.opts.Location)
	return start, start.Add(d.opts.Distance)
}

// RunCycle performs one full synchronization. Any error aborts the cycle
// as is; the next cycle deletes and reinserts the whole window again.
func (d *Driver) RunCycle(ctx context.Context) (CycleResult, error) {
	started := d.opts.Now()
	windowStart, windowEnd := d.Window(started)
	res := CycleResult{
		StartedAt:   started,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		DryRun:      d.opts.DryRun,
	}
	tz := d.opts.Location.String()

	appLog.Info("starting update",
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", windowEnd.Format(time.RFC3339),
		"dry_run", d.opts.DryRun,
	)

	listed, err := d.dst.List(ctx, windowStart, windowEnd, reconcile.Sentinel)
	if err != nil {
		return res, fmt.Errorf("list owned events: %w", err)
	}
	prior := make([]calendar.Event, 0, len(listed))
	for _, ev := range listed {
		if reconcile.IsOwned(ev.Description) {
			prior = append(prior, ev)
		}
	}

	records, err := d.src.Fetch(ctx, d.opts.Groups, windowStart, windowEnd)
	if err != nil {
		return res, fmt.Errorf("fetch timetable: %w", err)
	}
	res.Fetched = len(records)
	metrics.AddEvents("fetched", len(records))

	source, err := celcat.NormalizeAll(records, d.opts.Location)
	if err != nil {
		return res, fmt.Errorf("normalize timetable: %w", err)
	}

	plan := reconcile.PlanSync(prior, source, reconcile.PlanOptions{TimeZone: tz})

	var inserted []calendar.Event
	if d.opts.DryRun {
		inserted = make([]calendar.Event, 0, len(plan.ToInsert))
		for _, spec := range plan.ToInsert {
			inserted = append(inserted, preview(spec))
		}
	} else {
		inserted, err = d.apply(ctx, plan, &res)
		if err != nil {
			return res, err
		}
	}

	res.Diff = reconcile.ClassifyDiff(prior, inserted, windowStart, d.opts.Lookahead)
	res.Changes = make([]string, 0, len(res.Diff))
	for _, e := range res.Diff {
		res.Changes = append(res.Changes, e.String())
		metrics.AddDiffEntry(string(e.Kind))
	}

	if !d.opts.DryRun && len(res.Diff) > 0 && d.notifier != nil && d.notifier.Enabled() {
		if err := d.notifier.NotifyDiff(ctx, res.Diff); err != nil {
			appLog.Error("webhook delivery failed", err, "kind", KindWebhook, "entries", len(res.Diff))
		}
	}

	res.Duration = time.Since(started)
	appLog.Info("update complete",
		"fetched", res.Fetched,
		"deleted", res.Deleted,
		"inserted", res.Inserted,
		"changes", len(res.Diff),
		"duration", res.Duration,
	)
	return res, nil
}

func (d *Driver) apply(ctx context.Context, plan reconcile.Plan, res *CycleResult) ([]calendar.Event, error) {
	for _, ev := range plan.ToDelete {
		appLog.Debug("deleting event", "id", ev.ID, "event", reconcile.Display(ev))
		if err := d.dst.Delete(ctx, ev); err != nil {
			return nil, fmt.Errorf("delete event: %w", err)
		}
		res.Deleted++
	}
	metrics.AddEvents("deleted", res.Deleted)

	inserted := make([]calendar.Event, 0, len(plan.ToInsert))
	for _, spec := range plan.ToInsert {
		ev, err := d.dst.Insert(ctx, spec)
		if err != nil {
			metrics.AddEvents("inserted", len(inserted))
			return nil, fmt.Errorf("insert event: %w", err)
		}
		appLog.Debug("added event", "id", ev.ID, "event", reconcile.Display(ev))
		inserted = append(inserted, ev)
		res.Inserted++
	}
	metrics.AddEvents("inserted", len(inserted))
	return inserted, nil
}

func preview(spec calendar.NewEvent) calendar.Event {
	return calendar.Event{
		Summary:     spec.Summary,
		Description: spec.Description,
		Location:    spec.Location,
		ColorID:     spec.ColorID,
		Start:       spec.Start,
		End:         spec.End,
	}
}

// Package scheduler repeats sync cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "celcal/internal/log"
	"celcal/internal/metrics"
	"celcal/internal/syncer"
)

// Runner performs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) (syncer.CycleResult, error)
}

// ErrorNotifier reports aborted cycles.
type ErrorNotifier interface {
	Enabled() bool
	NotifyError(ctx context.Context, kind string, err error) error
}

// Status is a snapshot of the scheduler, served on /api/status.
type Status struct {
	Schedule      string              `json:"schedule"`
	Running       bool                `json:"running"`
	Cycles        int                 `json:"cycles"`
	LastRun       time.Time           `json:"last_run,omitempty"`
	LastSuccess   time.Time           `json:"last_success,omitempty"`
	NextRun       time.Time           `json:"next_run,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	LastErrorKind syncer.Kind         `json:"last_error_kind,omitempty"`
	LastResult    *syncer.CycleResult `json:"last_result,omitempty"`
}

// Scheduler runs cycles one at a time: an immediate one on Start, then
// one per schedule tick. A tick that fires while a cycle is still
// running is skipped.
type Scheduler struct {
	spec     string
	loc      *time.Location
	runner   Runner
	notifier ErrorNotifier
	dryRun   bool

	cycleMu sync.Mutex

	mu     sync.RWMutex
	status Status
	cron   *cron.Cron
	entry  cron.EntryID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDryRun stops failed cycles from being reported to the notifier.
func WithDryRun(dryRun bool) Option {
	return func(s *Scheduler) { s.dryRun = dryRun }
}

// New creates a Scheduler. spec is a cron expression or "@every <dur>".
// notifier may be nil.
func New(spec string, loc *time.Location, runner Runner, notifier ErrorNotifier, opts ...Option) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		spec:     spec,
		loc:      loc,
		runner:   runner,
		notifier: notifier,
		status:   Status{Schedule: spec},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs a first cycle right away, then keeps running on schedule
// until ctx is cancelled. It waits for an in-flight cycle before
// returning.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	entry, err := c.AddFunc(s.spec, func() {
		_, _ = s.RunOnce(ctx)
		s.logNext()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.mu.Lock()
	s.cron = c
	s.entry = entry
	s.mu.Unlock()

	appLog.Info("scheduler starting", "schedule", s.spec, "timezone", s.loc.String())

	c.Start()
	if ctx.Err() == nil {
		_, _ = s.RunOnce(ctx)
		s.logNext()
	}

	<-ctx.Done()
	appLog.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

// RunOnce runs a single cycle and records its outcome. A panic inside
// the cycle is turned into an error.
func (s *Scheduler) RunOnce(ctx context.Context) (res syncer.CycleResult, err error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	started := time.Now()
	s.mu.Lock()
	s.status.Running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			appLog.Debug("cycle panic stack", "stack", string(debug.Stack()))
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		s.finish(ctx, started, res, err)
	}()

	return s.runner.RunCycle(ctx)
}

func (s *Scheduler) finish(ctx context.Context, started time.Time, res syncer.CycleResult, err error) {
	result := "ok"
	var kind syncer.Kind
	if err != nil {
		kind = syncer.Classify(err)
		result = string(kind)
	}
	metrics.ObserveCycle(result, started)

	s.mu.Lock()
	s.status.Running = false
	s.status.Cycles++
	s.status.LastRun = started
	if err != nil {
		s.status.LastError = err.Error()
		s.status.LastErrorKind = kind
	} else {
		s.status.LastError = ""
		s.status.LastErrorKind = ""
		s.status.LastSuccess = started
		r := res
		s.status.LastResult = &r
	}
	s.mu.Unlock()

	if err == nil {
		return
	}
	appLog.Error("update failed", err, "kind", kind)
	if s.dryRun || s.notifier == nil || !s.notifier.Enabled() || ctx.Err() != nil {
		return
	}
	if nerr := s.notifier.NotifyError(ctx, string(kind), err); nerr != nil {
		appLog.Error("error notification failed", nerr, "kind", syncer.KindWebhook)
	}
}

// Status returns a copy of the current state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if s.cron != nil {
		st.NextRun = s.cron.Entry(s.entry).Next
	}
	if st.LastResult != nil {
		r := *st.LastResult
		st.LastResult = &r
	}
	return st
}

func (s *Scheduler) logNext() {
	s.mu.RLock()
	c, id := s.cron, s.entry
	s.mu.RUnlock()
	if c == nil {
		return
	}
	next := c.Entry(id).Next
	if next.IsZero() {
		return
	}
	appLog.Info(fmt.Sprintf("next update at %s", next.In(s.loc).Format("15:04")))
}

// cronLogger routes cron's own messages to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

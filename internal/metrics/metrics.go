package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celcal_sync_cycles_total",
		Help: "Total number of sync cycles by outcome (ok or an error kind).",
	}, []string{"result"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "celcal_sync_cycle_duration_seconds",
		Help:    "Histogram of sync cycle durations.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celcal_events_total",
		Help: "Events fetched from Celcat, deleted from and inserted into the calendar.",
	}, []string{"op"})

	diffEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "celcal_diff_entries_total",
		Help: "Reported timetable changes by kind.",
	}, []string{"kind"})

	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "celcal_last_success_timestamp_seconds",
		Help: "Unix time of the last successful sync cycle.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records the outcome of one cycle. result is "ok" or the
// error kind that aborted it.
func ObserveCycle(result string, started time.Time) {
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(time.Since(started).Seconds())
	if result == "ok" {
		lastSuccess.SetToCurrentTime()
	}
}

// AddEvents counts events handled by op: "fetched", "deleted" or "inserted".
func AddEvents(op string, n int) {
	if n > 0 {
		eventsTotal.WithLabelValues(op).Add(float64(n))
	}
}

func AddDiffEntry(kind string) {
	diffEntriesTotal.WithLabelValues(kind).Inc()
}

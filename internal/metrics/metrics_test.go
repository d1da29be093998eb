package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCycleAndEvents(t *testing.T) {
	before := testutil.ToFloat64(cyclesTotal.WithLabelValues("fetch"))
	ObserveCycle("fetch", time.Now())
	assert.Equal(t, before+1, testutil.ToFloat64(cyclesTotal.WithLabelValues("fetch")))

	inserted := testutil.ToFloat64(eventsTotal.WithLabelValues("inserted"))
	AddEvents("inserted", 3)
	AddEvents("inserted", 0)
	assert.Equal(t, inserted+3, testutil.ToFloat64(eventsTotal.WithLabelValues("inserted")))

	ObserveCycle("ok", time.Now())
	assert.Greater(t, testutil.ToFloat64(lastSuccess), 0.0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	AddDiffEntry("added")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "celcal_diff_entries_total")
}

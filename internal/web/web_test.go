package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"celcal/internal/celcat"
	"celcal/internal/config"
	appLog "celcal/internal/log"
	"celcal/internal/scheduler"
	"celcal/internal/syncer"
)

type fakeStatus struct{ st scheduler.Status }

func (f fakeStatus) Status() scheduler.Status { return f.st }

type fakeSearcher struct {
	calls   int
	results []celcat.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]celcat.Result, error) {
	f.calls++
	return f.results, f.err
}

type fakeFeed struct{ data string }

func (f fakeFeed) Bytes() ([]byte, error) { return []byte(f.data), nil }

func do(t *testing.T, h http.Handler, method, target string, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewServer(Options{}).Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestStatus(t *testing.T) {
	st := scheduler.Status{
		Schedule:   "@every 1h",
		Cycles:     3,
		LastResult: &syncer.CycleResult{Inserted: 12, Changes: []string{"+ TD - Maths (04/03 08:00 - 10:00)"}},
	}
	rec := do(t, NewServer(Options{Status: fakeStatus{st: st}}).Handler(), http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "@every 1h", body["schedule"])
	assert.EqualValues(t, 3, body["cycles"])
	last := body["last_result"].(map[string]any)
	assert.EqualValues(t, 12, last["inserted"])
	assert.Len(t, last["changes"], 1)
}

func TestStatus_Unavailable(t *testing.T) {
	rec := do(t, NewServer(Options{}).Handler(), http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGroups_SearchesAndCaches(t *testing.T) {
	searcher := &fakeSearcher{results: []celcat.Result{{ID: "L3INF", Text: "L3 Informatique", Dept: "FSI"}}}
	h := NewServer(Options{Groups: searcher}).Handler()

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/groups?q=L3", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var got []celcat.Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "L3INF", got[0].ID)
	}
	assert.Equal(t, 1, searcher.calls)
}

func TestGroups_Errors(t *testing.T) {
	h := NewServer(Options{Groups: &fakeSearcher{err: errors.New("celcat down")}}).Handler()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/groups", nil).Code)
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodGet, "/api/groups?q=L3", nil).Code)
}

func TestFeed(t *testing.T) {
	rec := do(t, NewServer(Options{Feed: fakeFeed{data: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"}}).Handler(),
		http.MethodGet, "/calendar.ics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")

	rec = do(t, NewServer(Options{}).Handler(), http.MethodGet, "/calendar.ics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, NewServer(Options{}).Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestBasicAuth(t *testing.T) {
	h := NewServer(Options{
		BasicAuth: &config.BasicAuth{Username: "admin", Password: "secret"},
		Status:    fakeStatus{},
	}).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", nil).Code)

	rec := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/status", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") })
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/status", func(r *http.Request) { r.SetBasicAuth("admin", "secret") })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuth_DisabledWhenIncomplete(t *testing.T) {
	var buf bytes.Buffer
	appLog.SetOutput(&buf)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr) })

	h := NewServer(Options{BasicAuth: &config.BasicAuth{Username: "admin"}, Status: fakeStatus{}}).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/status", nil).Code)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "basic_auth needs both username and password")
}

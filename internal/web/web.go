// Package web serves the status API, metrics and the generated ICS feed.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"celcal/internal/celcat"
	"celcal/internal/config"
	appLog "celcal/internal/log"
	"celcal/internal/metrics"
	"celcal/internal/scheduler"
)

const (
	groupsCacheTTL   = 5 * time.Minute
	defaultMaxGroups = 30
)

// StatusProvider reports the scheduler state.
type StatusProvider interface {
	Status() scheduler.Status
}

// GroupSearcher looks up Celcat groups by name.
type GroupSearcher interface {
	Search(ctx context.Context, query string, max int) ([]celcat.Result, error)
}

// FeedSource renders the managed calendar as an ICS document.
type FeedSource interface {
	Bytes() ([]byte, error)
}

// Options wires the server to the rest of the application. Nil fields
// disable the matching routes.
type Options struct {
	BasicAuth *config.BasicAuth
	Status    StatusProvider
	Groups    GroupSearcher
	Feed      FeedSource
}

// Server provides the HTTP status API.
type Server struct {
	opts   Options
	router chi.Router

	groupsMu    sync.RWMutex
	groupsCache map[string]groupsCacheEntry
}

type groupsCacheEntry struct {
	results   []celcat.Result
	updatedAt time.Time
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:        opts,
		groupsCache: make(map[string]groupsCacheEntry),
	}
	s.router = s.routes()
	return s
}

// Handler returns the router wrapped with basic auth when configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		return s.basicAuthMiddleware(s.router)
	}
	if s.opts.BasicAuth != nil && (s.opts.BasicAuth.Username != "" || s.opts.BasicAuth.Password != "") {
		appLog.Warn("basic_auth needs both username and password; status server is unprotected")
	}
	return s.router
}

// Run serves on listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen, "basic_auth", s.basicAuthEnabled())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/groups", s.handleGroups)
	})

	r.Get("/calendar.ics", s.handleFeed)
	return r
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="celcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleStatus returns the scheduler snapshot, including the changes of
// the last successful cycle.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

// handleGroups searches Celcat groups.
//
// GET /api/groups?q=L3+INFO&max=30
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if s.opts.Groups == nil {
		writeError(w, http.StatusServiceUnavailable, "group search unavailable")
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("max"), defaultMaxGroups)
	if limit <= 0 {
		limit = defaultMaxGroups
	}

	key := strings.ToLower(q) + "|" + strconv.Itoa(limit)
	s.groupsMu.RLock()
	entry, ok := s.groupsCache[key]
	s.groupsMu.RUnlock()
	if ok && time.Since(entry.updatedAt) < groupsCacheTTL {
		writeJSON(w, http.StatusOK, entry.results)
		return
	}

	results, err := s.opts.Groups.Search(r.Context(), q, limit)
	if err != nil {
		appLog.Error("group search failed", err, "query", q)
		writeError(w, http.StatusBadGateway, "group search failed")
		return
	}
	if results == nil {
		results = []celcat.Result{}
	}

	s.groupsMu.Lock()
	s.groupsCache[key] = groupsCacheEntry{results: results, updatedAt: time.Now()}
	s.groupsMu.Unlock()

	writeJSON(w, http.StatusOK, results)
}

// handleFeed serves the managed calendar when the ics backend is in use.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		http.NotFound(w, r)
		return
	}
	data, err := s.opts.Feed.Bytes()
	if err != nil {
		appLog.Error("failed to read calendar feed", err)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

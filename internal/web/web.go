// Package web exposes the household schedule over a JSON API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"housecal/internal/config"
	appLog "housecal/internal/log"
	"housecal/internal/model"
	"housecal/internal/schedule"
	"housecal/internal/stats"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// ValueStore is the bookkeeping storage behind /api/chore-values,
// /api/completions and /api/stats.
type ValueStore interface {
	stats.CompletionStore
	ListChoreValues(ctx context.Context) ([]model.ChoreValue, error)
	ChoreValues(ctx context.Context) (stats.Values, error)
	CreateChoreValue(ctx context.Context, cv model.ChoreValue) (model.ChoreValue, error)
	UpdateChoreValue(ctx context.Context, cv model.ChoreValue) error
	DeleteChoreValue(ctx context.Context, id int64) error
}

// EventSource supplies read-only events from subscribed calendars.
type EventSource interface {
	Events(ctx context.Context, from, to model.Date) ([]model.ExternalEvent, error)
}

// Server provides the HTTP API.
type Server struct {
	cfg    *config.Config
	engine *schedule.Engine
	values ValueStore
	events EventSource
	mux    *http.ServeMux
}

// NewServer constructs a new Server. events may be nil when no calendars
// are subscribed.
func NewServer(cfg *config.Config, engine *schedule.Engine, values ValueStore, events EventSource) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		values: values,
		events: events,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := logRequests(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="housecal", charset="UTF-8"`)
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond))
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("POST /api/reconcile", s.handleReconcile)

	for _, kind := range model.Kinds {
		base := "/api/" + plural(kind)
		s.mux.HandleFunc("GET "+base, s.handleListOccurrences(kind))
		s.mux.HandleFunc("POST "+base, s.handleAddOccurrence(kind))
		s.mux.HandleFunc("DELETE "+base, s.handleClearManual(kind))
		s.mux.HandleFunc("PUT "+base+"/{id}", s.handleUpdateOccurrence(kind))
		s.mux.HandleFunc("DELETE "+base+"/{id}", s.handleDeleteOccurrence(kind))
		s.mux.HandleFunc("DELETE "+base+"/at/{date}/{ordinal}", s.handleDeleteAt(kind))

		rbase := "/api/recurring-" + plural(kind)
		s.mux.HandleFunc("GET "+rbase, s.handleListTemplates(kind))
		s.mux.HandleFunc("POST "+rbase, s.handleCreateTemplate(kind))
		s.mux.HandleFunc("DELETE "+rbase+"/{id}", s.handleDeleteAll(kind))
		s.mux.HandleFunc("POST "+rbase+"/{id}/stop-future", s.handleStopFuture(kind))
	}

	s.mux.HandleFunc("GET /api/completions", s.handleCompletions)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("GET /api/chore-values", s.handleListValues)
	s.mux.HandleFunc("POST /api/chore-values", s.handleCreateValue)
	s.mux.HandleFunc("PUT /api/chore-values/{id}", s.handleUpdateValue)
	s.mux.HandleFunc("DELETE /api/chore-values/{id}", s.handleDeleteValue)

	s.mux.HandleFunc("GET /api/external-events", s.handleExternalEvents)
}

func plural(k model.Kind) string {
	if k == model.KindEntry {
		return "entries"
	}
	return string(k) + "s"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// configResponse is the public part of the configuration. Credentials and
// feed URLs are left out.
type configResponse struct {
	Timezone  string          `json:"timezone"`
	WeekStart string          `json:"week_start"`
	Members   []config.Member `json:"members"`
	Today     model.Date      `json:"today"`
	BackDays  int             `json:"back_days"`
	AheadDays int             `json:"ahead_days"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	win := s.engine.Window()
	writeJSON(w, http.StatusOK, configResponse{
		Timezone:  s.cfg.Timezone,
		WeekStart: s.cfg.WeekStart,
		Members:   s.cfg.Members,
		Today:     s.engine.Today(),
		BackDays:  win.Back,
		AheadDays: win.Ahead,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Reconcile(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case schedule.IsInvalid(err):
		return http.StatusBadRequest
	case schedule.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict
	case schedule.IsStorageUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		appLog.Error("api request failed", err, "status", status)
	}
	writeError(w, status, err.Error())
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

// decodeJSON reads a single JSON object from the request body. Unknown
// fields are rejected so typos surface as 400s.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
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

// pathID parses the {id} path value.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id "+strconv.Quote(r.PathValue("id")))
		return 0, false
	}
	return id, true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(w http.ResponseWriter, r *http.Request, name string, def model.Date) (model.Date, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	d, err := model.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name+": "+err.Error())
		return model.Date{}, false
	}
	return d, true
}

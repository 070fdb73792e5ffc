package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/session"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

const defaultLimit = 50

type SessionSource interface {
	Snapshot() session.State
}

type ProgressSource interface {
	SessionID() string
	Entries(limit int) []progress.Entry
	ContextSummary() string
}

type ChecklistSource interface {
	Items() []checklist.Item
}

type QueueSource interface {
	Events(limit int) []taskqueue.PersistedEvent
	UnprocessedEvents() []taskqueue.PersistedEvent
	Stats() taskqueue.Stats
}

// Check is a named dependency probe reported by /health.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Sources are the read-only views the API serves.
type Sources struct {
	Agent     string
	Session   SessionSource
	Progress  ProgressSource
	Checklist ChecklistSource
	Queue     QueueSource
	Checks    []Check
}

type Server struct {
	router *chi.Mux
	src    Sources
	srv    *http.Server
}

// NewServer wires the routes. A non-empty apiToken protects /api/v1.
func NewServer(port int, apiToken string, src Sources) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		src:    src,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/ingestion/status", s.status)
		r.Get("/progress", s.progress)
		r.Get("/checklist", s.checklist)
		r.Get("/queue", s.queue)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the token. An empty token
// disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(s.src.Checks))
	for _, c := range s.src.Checks {
		if err := c.Probe(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	body := map[string]any{"status": status}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	writeJSON(w, code, body)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"agent": s.src.Agent}
	if s.src.Session != nil {
		body["session"] = s.src.Session.Snapshot()
	}
	if s.src.Queue != nil {
		body["queue"] = s.src.Queue.Stats()
	}
	if s.src.Progress != nil {
		body["progress_session_id"] = s.src.Progress.SessionID()
		body["context_summary"] = s.src.Progress.ContextSummary()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	if s.src.Progress == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "progress tracker not configured"})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries := s.src.Progress.Entries(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": s.src.Progress.SessionID(),
		"count":      len(entries),
		"entries":    entries,
	})
}

func (s *Server) checklist(w http.ResponseWriter, r *http.Request) {
	if s.src.Checklist == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "checklist not configured"})
		return
	}
	items := s.src.Checklist.Items()
	passing := 0
	for _, it := range items {
		if it.Passes {
			passing++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"passing": passing,
		"total":   len(items),
		"items":   items,
	})
}

func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	if s.src.Queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "task queue not configured"})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	var events []taskqueue.PersistedEvent
	if r.URL.Query().Get("unprocessed") == "true" {
		events = s.src.Queue.UnprocessedEvents()
		if len(events) > limit {
			events = events[:limit]
		}
	} else {
		events = s.src.Queue.Events(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":  s.src.Queue.Stats(),
		"events": events,
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/session"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

func testSources(t *testing.T) Sources {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	sess := session.New(dir, "transcript-ingestion", logger)
	if _, err := sess.Initialize(); err != nil {
		t.Fatal(err)
	}
	pr, err := progress.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := pr.LogAction("transcript-ingestion", "ingest_file", true, "a.md: 1 note"); err != nil {
		t.Fatal(err)
	}
	cl, err := checklist.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := cl.MarkFeature(checklist.TranscriptParsing, true, ""); err != nil {
		t.Fatal(err)
	}
	q, err := taskqueue.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"case-1", "case-2"} {
		if err := q.NotifyNewDiscussionNotes(context.Background(), casenote.NotesEvent{CaseID: id}); err != nil {
			t.Fatal(err)
		}
	}
	first := q.UnprocessedEvents()[0]
	if err := q.MarkProcessed(first.ID, nil); err != nil {
		t.Fatal(err)
	}

	return Sources{Agent: "transcript-ingestion", Session: sess, Progress: pr, Checklist: cl, Queue: q}
}

func get(t *testing.T, srv *Server, path string, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if len(header) == 2 {
		req.Header.Set(header[0], header[1])
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
	}
	return w, body
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(8760, "", Sources{})

	w, body := get(t, srv, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	srv := NewServer(8760, "", Sources{Checks: []Check{
		{Name: "store", Probe: func(context.Context) error { return nil }},
		{Name: "nats", Probe: func(context.Context) error { return errors.New("disconnected") }},
	}})

	w, body := get(t, srv, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	checks := body["checks"].(map[string]any)
	if checks["store"] != "ok" || checks["nats"] != "disconnected" {
		t.Errorf("unexpected checks: %v", checks)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := NewServer(8760, "", testSources(t))

	w, body := get(t, srv, "/api/v1/ingestion/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["agent"] != "transcript-ingestion" {
		t.Errorf("expected agent, got %v", body["agent"])
	}
	queue := body["queue"].(map[string]any)
	if queue["total"] != float64(2) || queue["unprocessed"] != float64(1) {
		t.Errorf("unexpected queue stats: %v", queue)
	}
	sess := body["session"].(map[string]any)
	if sess["agent_name"] != "transcript-ingestion" {
		t.Errorf("unexpected session: %v", sess)
	}
}

func TestProgressEndpoint(t *testing.T) {
	srv := NewServer(8760, "", testSources(t))

	w, body := get(t, srv, "/api/v1/progress?limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["count"] != float64(1) {
		t.Errorf("expected 1 entry, got %v", body["count"])
	}

	w, _ = get(t, srv, "/api/v1/progress?limit=zero")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestChecklistEndpoint(t *testing.T) {
	srv := NewServer(8760, "", testSources(t))

	_, body := get(t, srv, "/api/v1/checklist")
	if body["passing"] != float64(1) {
		t.Errorf("expected 1 passing, got %v", body["passing"])
	}
	if body["total"] != float64(7) {
		t.Errorf("expected 7 items, got %v", body["total"])
	}
}

func TestQueueEndpoint(t *testing.T) {
	srv := NewServer(8760, "", testSources(t))

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/queue", 2},
		{"/api/v1/queue?limit=1", 1},
		{"/api/v1/queue?unprocessed=true", 1},
	}
	for _, tt := range tests {
		w, body := get(t, srv, tt.path)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", tt.path, w.Code)
			continue
		}
		events := body["events"].([]any)
		if len(events) != tt.want {
			t.Errorf("%s: expected %d events, got %d", tt.path, tt.want, len(events))
		}
	}
}

func TestBearerAuth(t *testing.T) {
	srv := NewServer(8760, "secret", testSources(t))

	if w, _ := get(t, srv, "/api/v1/checklist"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w, _ := get(t, srv, "/api/v1/checklist", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w, _ := get(t, srv, "/api/v1/checklist", "Authorization", "Bearer secret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
	if w, _ := get(t, srv, "/health"); w.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", w.Code)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	srv := NewServer(8760, "", Sources{})

	req := httptest.NewRequest("GET", "/nonexistent", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

//go:build integration

package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/insight"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_ResolveAndUpsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	surname := randomSurname("Integration")
	worker := "Jordan " + surname

	caseID, err := s.AddCase(ctx, worker)
	if err != nil {
		t.Fatalf("AddCase failed: %v", err)
	}

	match, err := s.FindCaseByWorkerName(ctx, "J. "+surname)
	if err != nil {
		t.Fatalf("FindCaseByWorkerName failed: %v", err)
	}
	if match == nil || match.CaseID != caseID {
		t.Fatalf("expected match for case %s, got %+v", caseID, match)
	}
	if match.WorkerName != worker {
		t.Errorf("expected canonical name %q, got %q", worker, match.WorkerName)
	}

	missing, err := s.FindCaseByWorkerName(ctx, "Nobody "+randomSurname("Missing"))
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected no match, got %+v", missing)
	}

	ts := time.Date(2025, 2, 19, 10, 0, 0, 0, time.UTC)
	note := casenote.DiscussionNote{
		ID:         casenote.NoteID("/t/int.md", worker, "Missed appointment.", ts),
		CaseID:     caseID,
		WorkerName: worker,
		Timestamp:  ts,
		RawText:    "Missed appointment.",
		Summary:    "Missed appointment.",
		RiskFlags:  []string{"Attendance risk"},
		SourceFile: "/t/int.md",
	}
	insights := insight.Derive(note, ts)

	// Twice: the second write must be a no-op.
	for i := 0; i < 2; i++ {
		if err := s.UpsertCaseDiscussionNotes(ctx, []casenote.DiscussionNote{note}); err != nil {
			t.Fatalf("UpsertCaseDiscussionNotes #%d failed: %v", i, err)
		}
		if err := s.UpsertCaseDiscussionInsights(ctx, insights); err != nil {
			t.Fatalf("UpsertCaseDiscussionInsights #%d failed: %v", i, err)
		}
	}

	notes, err := s.NotesForCase(ctx, caseID, 10)
	if err != nil {
		t.Fatalf("NotesForCase failed: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	if notes[0].ID != note.ID || len(notes[0].RiskFlags) != 1 {
		t.Errorf("unexpected note: %+v", notes[0])
	}
}

// randomSurname returns a letters-only name so name tokenizing keeps it whole.
func randomSurname(prefix string) string {
	return prefix + strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return 'a' + (r - '0')
		}
		return r
	}, strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

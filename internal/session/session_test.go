package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/statefile"
)

func newTestManager(t *testing.T, dir string, now time.Time) *Manager {
	t.Helper()
	m := New(dir, "transcript-ingestion", slog.New(slog.DiscardHandler))
	m.now = func() time.Time { return now }
	return m
}

func writeState(t *testing.T, m *Manager, s State) {
	t.Helper()
	if err := statefile.Save(m.Path(), s); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func TestInitialize_NoPreviousState(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, t.TempDir(), now)

	rec, err := m.Initialize()
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if rec.IsRecovery {
		t.Error("fresh start should not be a recovery")
	}

	got, found, err := Read(dirOf(m), "transcript-ingestion")
	if err != nil || !found {
		t.Fatalf("state file not written: found=%v err=%v", found, err)
	}
	if got.Version != stateVersion || !got.StartedAt.Equal(now) {
		t.Errorf("unexpected persisted state: %+v", got)
	}
}

func TestInitialize_RecentPendingIsRecovery(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, t.TempDir(), now)
	writeState(t, m, State{
		Version:          1,
		StartedAt:        now.Add(-3 * time.Hour),
		LastActivity:     now.Add(-10 * time.Minute),
		ProcessedItems:   7,
		PendingItems:     2,
		RecoveryAttempts: 1,
	})

	rec, err := m.Initialize()
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !rec.IsRecovery {
		t.Fatal("expected recovery")
	}

	s := m.Snapshot()
	if s.RecoveryAttempts != 2 {
		t.Errorf("RecoveryAttempts = %d, want 2", s.RecoveryAttempts)
	}
	if s.ProcessedItems != 7 || s.PendingItems != 2 {
		t.Errorf("counters not resumed: %+v", s)
	}

	onDisk, _, _ := Read(dirOf(m), "transcript-ingestion")
	if onDisk.RecoveryAttempts != 2 {
		t.Errorf("recovery attempt not persisted immediately, got %d", onDisk.RecoveryAttempts)
	}
}

func TestInitialize_StalePendingIsFresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, t.TempDir(), now)
	writeState(t, m, State{
		Version:          1,
		LastActivity:     now.Add(-2 * time.Hour),
		ProcessedItems:   7,
		PendingItems:     2,
		RecoveryAttempts: 1,
		Errors:           []ErrorEntry{{Timestamp: now.Add(-2 * time.Hour), Message: "disk full"}},
	})

	rec, err := m.Initialize()
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if rec.IsRecovery {
		t.Fatal("stale pending work should not be a recovery")
	}

	s := m.Snapshot()
	if s.ProcessedItems != 0 || s.PendingItems != 0 || s.RecoveryAttempts != 0 {
		t.Errorf("counters should be zeroed: %+v", s)
	}
	if len(s.Errors) != 1 || s.Errors[0].Message != "disk full" {
		t.Errorf("error history should be kept, got %+v", s.Errors)
	}
}

func TestInitialize_NoPendingIsFresh(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	m := newTestManager(t, t.TempDir(), now)
	writeState(t, m, State{LastActivity: now.Add(-time.Minute), ProcessedItems: 3})

	rec, err := m.Initialize()
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if rec.IsRecovery {
		t.Error("no pending items means a clean previous stop")
	}
}

func TestUpdateProgress_PersistsAndClamps(t *testing.T) {
	m := newTestManager(t, t.TempDir(), time.Now().UTC())
	if _, err := m.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateProgress(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateProgress(3, -1); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateProgress(0, -5); err != nil {
		t.Fatal(err)
	}

	onDisk, _, err := Read(dirOf(m), "transcript-ingestion")
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.ProcessedItems != 3 {
		t.Errorf("ProcessedItems = %d, want 3", onDisk.ProcessedItems)
	}
	if onDisk.PendingItems != 0 {
		t.Errorf("PendingItems = %d, want 0", onDisk.PendingItems)
	}
}

func TestRecordError_RingBuffer(t *testing.T) {
	m := newTestManager(t, t.TempDir(), time.Now().UTC())
	if _, err := m.Initialize(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < MaxErrors+5; i++ {
		if err := m.RecordError(fmt.Sprintf("error %d", i)); err != nil {
			t.Fatal(err)
		}
	}

	s := m.Snapshot()
	if len(s.Errors) != MaxErrors {
		t.Fatalf("expected %d errors, got %d", MaxErrors, len(s.Errors))
	}
	if s.Errors[0].Message != "error 5" {
		t.Errorf("oldest kept = %q, want %q", s.Errors[0].Message, "error 5")
	}
	if s.Errors[MaxErrors-1].Message != fmt.Sprintf("error %d", MaxErrors+4) {
		t.Errorf("newest = %q", s.Errors[MaxErrors-1].Message)
	}
}

func TestMarkComplete_ClearsPending(t *testing.T) {
	now := time.Now().UTC()
	dir := t.TempDir()
	m := newTestManager(t, dir, now)
	if _, err := m.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateProgress(0, 4); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkComplete(); err != nil {
		t.Fatal(err)
	}

	// A restart right after a clean stop is not a recovery.
	m2 := newTestManager(t, dir, now.Add(time.Minute))
	rec, err := m2.Initialize()
	if err != nil {
		t.Fatal(err)
	}
	if rec.IsRecovery {
		t.Error("clean stop followed by restart should not be a recovery")
	}
}

func dirOf(m *Manager) string {
	return filepath.Dir(m.Path())
}

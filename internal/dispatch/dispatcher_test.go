package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/hermes"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

type fakePublisher struct {
	mu      sync.Mutex
	fail    error
	subject string
	msgs    []hermes.NotesCreated
}

func (f *fakePublisher) PublishConfirmed(_ context.Context, subject string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.subject = subject
	f.msgs = append(f.msgs, data.(hermes.NotesCreated))
	return nil
}

type fakeAlerter struct {
	fail   error
	events []string
}

func (f *fakeAlerter) PostCriticalAlert(_ context.Context, eventID string, _ casenote.NotesEvent) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.events = append(f.events, eventID)
	return "1700000000.000100", nil
}

type harness struct {
	queue     *taskqueue.Queue
	pub       *fakePublisher
	alert     *fakeAlerter
	checklist *checklist.Checklist
	progress  *progress.Tracker
	d         *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	q, err := taskqueue.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	cl, err := checklist.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	pr, err := progress.Open(dir, logger)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{queue: q, pub: &fakePublisher{}, alert: &fakeAlerter{}, checklist: cl, progress: pr}
	h.d, err = New(time.Second, Deps{
		Queue:     q,
		Publisher: h.pub,
		Alerter:   h.alert,
		Progress:  pr,
		Checklist: cl,
		Logger:    logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) enqueue(t *testing.T, caseID string, critical bool) {
	t.Helper()
	sev := casenote.SeverityInfo
	if critical {
		sev = casenote.SeverityCritical
	}
	evt := casenote.NotesEvent{
		CaseID:     caseID,
		WorkerName: "Jordan Smith",
		Notes:      []casenote.DiscussionNote{{CaseID: caseID, Summary: "Discussed duties."}},
		Insights:   []casenote.Insight{{CaseID: caseID, Severity: sev, Summary: "insight"}},
	}
	if err := h.queue.NotifyNewDiscussionNotes(context.Background(), evt); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) passing(id string) bool {
	for _, it := range h.checklist.Items() {
		if it.ID == id {
			return it.Passes
		}
	}
	return false
}

func TestDispatchOnce_DeliversAndAcks(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "case-1", false)
	h.enqueue(t, "case-2", true)

	res := h.d.DispatchOnce(context.Background())
	if res.Delivered != 2 || res.Alerted != 1 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.pub.subject != hermes.SubjectNotesCreated {
		t.Errorf("expected subject %s, got %s", hermes.SubjectNotesCreated, h.pub.subject)
	}
	if h.pub.msgs[0].CaseID != "case-1" || h.pub.msgs[1].CaseID != "case-2" {
		t.Errorf("expected enqueue order, got %+v", h.pub.msgs)
	}
	if h.pub.msgs[0].Summary != "Discussed duties." {
		t.Errorf("unexpected summary %q", h.pub.msgs[0].Summary)
	}
	if len(h.alert.events) != 1 {
		t.Errorf("expected 1 alert, got %d", len(h.alert.events))
	}
	if stats := h.queue.Stats(); stats.Unprocessed != 0 || stats.Processed != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !h.passing(checklist.TaskQueueDelivery) || !h.passing(checklist.CaseSummaryGeneration) {
		t.Error("expected delivery and summary features to pass")
	}

	// Nothing left to send.
	if res := h.d.DispatchOnce(context.Background()); res.Delivered != 0 {
		t.Errorf("expected empty pass, got %+v", res)
	}
}

func TestDispatchOnce_PublishFailureLeavesEventQueued(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "case-1", false)
	h.pub.fail = errors.New("nats: connection closed")

	res := h.d.DispatchOnce(context.Background())
	if res.Delivered != 0 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if stats := h.queue.Stats(); stats.Unprocessed != 1 {
		t.Errorf("expected event to stay unprocessed, got %+v", stats)
	}
	if h.passing(checklist.TaskQueueDelivery) {
		t.Error("delivery feature should not pass yet")
	}

	h.pub.fail = nil
	if res := h.d.DispatchOnce(context.Background()); res.Delivered != 1 {
		t.Fatalf("expected redelivery, got %+v", res)
	}
	if stats := h.queue.Stats(); stats.Unprocessed != 0 {
		t.Errorf("expected queue drained, got %+v", stats)
	}
}

func TestDispatchOnce_AlertFailureRecordedOnEvent(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "case-1", true)
	h.alert.fail = errors.New("channel_not_found")

	res := h.d.DispatchOnce(context.Background())
	if res.Delivered != 1 || res.Alerted != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	events := h.queue.Events(0)
	if len(events) != 1 || !events[0].Processed {
		t.Fatalf("expected processed event, got %+v", events)
	}
	if !strings.Contains(events[0].Error, "channel_not_found") {
		t.Errorf("expected alert error on event, got %q", events[0].Error)
	}
}

func TestDispatchOnce_NoAlerter(t *testing.T) {
	h := newHarness(t)
	h.d.alerter = nil
	h.enqueue(t, "case-1", true)

	if res := h.d.DispatchOnce(context.Background()); res.Delivered != 1 || res.Alerted != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "case-1", false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.queue.Stats().Unprocessed != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if h.queue.Stats().Unprocessed != 0 {
		t.Error("expected initial pass to drain the queue")
	}
}

func TestNew_RequiresQueueAndPublisher(t *testing.T) {
	if _, err := New(0, Deps{}); err == nil {
		t.Error("expected error without deps")
	}
}

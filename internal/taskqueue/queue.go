// Package taskqueue is a file-backed outbox of new-note events. An event is
// on disk before NotifyNewDiscussionNotes returns and stays there until a
// consumer marks it processed.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/statefile"
)

// FileName is the document name inside the data directory.
const FileName = "task-queue.json"

const docVersion = 1

// MaxEvents is the retention cap. Only processed events count toward
// eviction, so an unprocessed backlog can exceed it.
const MaxEvents = 500

// ErrEventNotFound is returned by MarkProcessed for an unknown id.
var ErrEventNotFound = errors.New("event not found")

// PersistedEvent is one queued notification.
type PersistedEvent struct {
	ID          string              `json:"id"`
	EnqueuedAt  time.Time           `json:"enqueued_at"`
	Payload     casenote.NotesEvent `json:"payload"`
	Processed   bool                `json:"processed"`
	ProcessedAt *time.Time          `json:"processed_at,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Stats summarizes the queue.
type Stats struct {
	Total       int `json:"total"`
	Unprocessed int `json:"unprocessed"`
	Processed   int `json:"processed"`
}

type document struct {
	Version int              `json:"version"`
	Events  []PersistedEvent `json:"events"`
}

// Queue is safe for concurrent use.
type Queue struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	doc document
}

// Open loads the queue in dataDir. Unprocessed events from a previous run are
// available immediately through UnprocessedEvents.
func Open(dataDir string, logger *slog.Logger) (*Queue, error) {
	q := &Queue{
		path:   filepath.Join(dataDir, FileName),
		logger: logger.With("component", "taskqueue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if _, err := statefile.Load(q.path, &q.doc); err != nil {
		return nil, fmt.Errorf("load task queue: %w", err)
	}
	q.doc.Version = docVersion

	if s := q.statsLocked(); s.Unprocessed > 0 {
		q.logger.Info("loaded pending events", "unprocessed", s.Unprocessed, "total", s.Total)
	}
	return q, nil
}

// NotifyNewDiscussionNotes enqueues evt and persists it before returning.
func (q *Queue) NotifyNewDiscussionNotes(_ context.Context, evt casenote.NotesEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	pe := PersistedEvent{
		ID:         uuid.NewString(),
		EnqueuedAt: q.now(),
		Payload:    evt,
	}
	prev := q.snapshotLocked()
	q.doc.Events = append(q.doc.Events, pe)
	q.evictLocked()

	if err := q.saveLocked(); err != nil {
		// Not durable, so not enqueued.
		q.doc.Events = prev
		return err
	}

	q.logger.Debug("event enqueued", "event_id", pe.ID, "case_id", evt.CaseID, "notes", len(evt.Notes))
	return nil
}

// UnprocessedEvents returns every unprocessed event, oldest first.
func (q *Queue) UnprocessedEvents() []PersistedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []PersistedEvent
	for _, e := range q.doc.Events {
		if !e.Processed {
			out = append(out, e)
		}
	}
	return out
}

// Events returns up to limit of the most recent events, oldest first.
// A limit <= 0 returns everything.
func (q *Queue) Events(limit int) []PersistedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.doc.Events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]PersistedEvent(nil), events...)
}

// MarkProcessed flags the event as handled. A non-nil handlerErr is recorded
// on the event for diagnostics.
func (q *Queue) MarkProcessed(id string, handlerErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.doc.Events {
		if q.doc.Events[i].ID != id {
			continue
		}
		prev := q.snapshotLocked()
		now := q.now()
		q.doc.Events[i].Processed = true
		q.doc.Events[i].ProcessedAt = &now
		if handlerErr != nil {
			q.doc.Events[i].Error = handlerErr.Error()
		}
		q.evictLocked()
		if err := q.saveLocked(); err != nil {
			q.doc.Events = prev
			return err
		}
		return nil
	}
	return fmt.Errorf("mark processed %s: %w", id, ErrEventNotFound)
}

// Stats returns current counts.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

// Read loads the queue document from dataDir without opening it for writes.
func Read(dataDir string) ([]PersistedEvent, bool, error) {
	var doc document
	found, err := statefile.Load(filepath.Join(dataDir, FileName), &doc)
	return doc.Events, found, err
}

func (q *Queue) statsLocked() Stats {
	s := Stats{Total: len(q.doc.Events)}
	for _, e := range q.doc.Events {
		if e.Processed {
			s.Processed++
		} else {
			s.Unprocessed++
		}
	}
	return s
}

// evictLocked drops the oldest processed events until the queue is within
// MaxEvents or no processed events remain.
func (q *Queue) evictLocked() {
	over := len(q.doc.Events) - MaxEvents
	if over <= 0 {
		return
	}

	kept := q.doc.Events[:0:0]
	for _, e := range q.doc.Events {
		if over > 0 && e.Processed {
			over--
			continue
		}
		kept = append(kept, e)
	}
	q.doc.Events = kept
}

// snapshotLocked copies the event list so a failed save can restore the
// in-memory state to what is on disk.
func (q *Queue) snapshotLocked() []PersistedEvent {
	return append([]PersistedEvent(nil), q.doc.Events...)
}

func (q *Queue) saveLocked() error {
	if err := statefile.Save(q.path, q.doc); err != nil {
		return fmt.Errorf("save task queue: %w", err)
	}
	return nil
}

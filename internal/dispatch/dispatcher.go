// Package dispatch drains the task queue: every queued event is published
// downstream, critical ones are also alerted on, and then the event is
// marked processed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/hermes"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

// AgentName identifies the dispatcher in progress entries.
const AgentName = "task-dispatch"

const DefaultInterval = 15 * time.Second

// Queue is the subset of taskqueue.Queue the dispatcher consumes.
type Queue interface {
	UnprocessedEvents() []taskqueue.PersistedEvent
	MarkProcessed(id string, handlerErr error) error
}

// Publisher delivers a message and reports whether the server accepted it.
type Publisher interface {
	PublishConfirmed(ctx context.Context, subject string, data any) error
}

// Alerter posts a human-facing alert for an event with critical insights.
type Alerter interface {
	PostCriticalAlert(ctx context.Context, eventID string, evt casenote.NotesEvent) (string, error)
}

type ProgressLogger interface {
	LogAction(agent, action string, success bool, details string) error
}

type FeatureMarker interface {
	MarkFeature(id string, passes bool, errMsg string) error
}

// Deps are the dispatcher's collaborators. Queue and Publisher are required.
type Deps struct {
	Queue     Queue
	Publisher Publisher
	Alerter   Alerter
	Progress  ProgressLogger
	Checklist FeatureMarker
	Logger    *slog.Logger
}

// Result counts the outcome of one pass.
type Result struct {
	Delivered int
	Alerted   int
	Failed    int
}

type Dispatcher struct {
	queue     Queue
	publisher Publisher
	alerter   Alerter
	progress  ProgressLogger
	checklist FeatureMarker
	logger    *slog.Logger
	interval  time.Duration

	mu       sync.Mutex
	features map[string]bool
}

func New(interval time.Duration, deps Deps) (*Dispatcher, error) {
	if deps.Queue == nil || deps.Publisher == nil {
		return nil, errors.New("dispatch requires a queue and a publisher")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:     deps.Queue,
		publisher: deps.Publisher,
		alerter:   deps.Alerter,
		progress:  deps.Progress,
		checklist: deps.Checklist,
		logger:    logger.With("component", "dispatch"),
		interval:  interval,
		features:  make(map[string]bool),
	}, nil
}

// Run drains the queue immediately and then on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "interval", d.interval.String())
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers every unprocessed event in enqueue order. An event
// whose publish fails stays unprocessed and is retried on the next pass.
func (d *Dispatcher) DispatchOnce(ctx context.Context) Result {
	var res Result
	for _, ev := range d.queue.UnprocessedEvents() {
		if ctx.Err() != nil {
			break
		}
		if d.deliver(ctx, ev, &res) {
			res.Delivered++
		} else {
			res.Failed++
		}
	}
	if res.Delivered > 0 || res.Failed > 0 {
		d.logger.Info("dispatch pass complete",
			"delivered", res.Delivered,
			"alerted", res.Alerted,
			"failed", res.Failed,
		)
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, ev taskqueue.PersistedEvent, res *Result) bool {
	msg := hermes.NewNotesCreated(ev.ID, ev.EnqueuedAt, ev.Payload)

	if err := d.publisher.PublishConfirmed(ctx, hermes.SubjectNotesCreated, msg); err != nil {
		d.logger.Warn("publish failed, will retry", "event_id", ev.ID, "case_id", ev.Payload.CaseID, "error", err)
		d.logAction("publish_event", false, fmt.Sprintf("event %s: %v", ev.ID, err))
		return false
	}
	if msg.Summary != "" {
		d.markFeature(checklist.CaseSummaryGeneration)
	}

	// The event is out once published; an alert failure is recorded on it
	// rather than holding it back.
	var handlerErr error
	if msg.HasCritical && d.alerter != nil {
		if _, err := d.alerter.PostCriticalAlert(ctx, ev.ID, ev.Payload); err != nil {
			d.logger.Error("critical alert failed", "event_id", ev.ID, "case_id", ev.Payload.CaseID, "error", err)
			handlerErr = fmt.Errorf("alert: %w", err)
		} else {
			res.Alerted++
		}
	}

	if err := d.queue.MarkProcessed(ev.ID, handlerErr); err != nil {
		if errors.Is(err, taskqueue.ErrEventNotFound) {
			d.logger.Warn("event vanished before ack", "event_id", ev.ID)
			return true
		}
		d.logger.Error("mark processed failed", "event_id", ev.ID, "error", err)
		d.logAction("ack_event", false, fmt.Sprintf("event %s: %v", ev.ID, err))
		return false
	}

	d.logAction("deliver_event", true, fmt.Sprintf("event %s case %s (%d notes, %d insights)",
		ev.ID, ev.Payload.CaseID, len(ev.Payload.Notes), len(ev.Payload.Insights)))
	d.markFeature(checklist.TaskQueueDelivery)
	return true
}

func (d *Dispatcher) logAction(action string, success bool, details string) {
	if d.progress == nil {
		return
	}
	if err := d.progress.LogAction(AgentName, action, success, details); err != nil {
		d.logger.Warn("log progress", "action", action, "error", err)
	}
}

func (d *Dispatcher) markFeature(id string) {
	if d.checklist == nil {
		return
	}
	d.mu.Lock()
	done := d.features[id]
	d.features[id] = true
	d.mu.Unlock()
	if done {
		return
	}
	if err := d.checklist.MarkFeature(id, true, ""); err != nil {
		d.logger.Warn("mark feature", "feature", id, "error", err)
	}
}

package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

// SubjectNotesCreated carries one message per delivered task-queue event.
const SubjectNotesCreated = "caseflow.discussion.notes.created"

// NotesCreated is the message published on SubjectNotesCreated. EventID is
// stable across redeliveries so consumers can drop duplicates.
type NotesCreated struct {
	EventID     string                    `json:"event_id"`
	EnqueuedAt  time.Time                 `json:"enqueued_at"`
	CaseID      string                    `json:"case_id"`
	WorkerName  string                    `json:"worker_name"`
	Summary     string                    `json:"summary"`
	HasCritical bool                      `json:"has_critical"`
	Notes       []casenote.DiscussionNote `json:"notes"`
	Insights    []casenote.Insight        `json:"insights"`
}

// NewNotesCreated builds the message for a queued event.
func NewNotesCreated(eventID string, enqueuedAt time.Time, evt casenote.NotesEvent) NotesCreated {
	return NotesCreated{
		EventID:     eventID,
		EnqueuedAt:  enqueuedAt,
		CaseID:      evt.CaseID,
		WorkerName:  evt.WorkerName,
		Summary:     summarize(evt),
		HasCritical: evt.HasCritical(),
		Notes:       evt.Notes,
		Insights:    evt.Insights,
	}
}

// summarize joins the note summaries, oldest first.
func summarize(evt casenote.NotesEvent) string {
	parts := make([]string, 0, len(evt.Notes))
	for _, n := range evt.Notes {
		if n.Summary != "" {
			parts = append(parts, n.Summary)
		}
	}
	return strings.Join(parts, " ")
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	logger = logger.With("component", "hermes")
	opts := []nats.Option{
		nats.Name("caseflow"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishConfirmed publishes and then flushes, so a nil error means the
// server has the message.
func (c *Client) PublishConfirmed(ctx context.Context, subject string, data any) error {
	if err := c.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Connected reports the current connection state for health checks.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

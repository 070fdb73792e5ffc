// Package slack posts critical case alerts to a channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

const maxRetries = 3

type Poster struct {
	client  *slackapi.Client
	channel string
	logger  *slog.Logger
}

// NewPoster builds a poster for channel. Extra options are passed to the
// slack client, which tests use to point it at a local server.
func NewPoster(token, channel string, logger *slog.Logger, opts ...slackapi.Option) *Poster {
	return &Poster{
		client:  slackapi.New(token, opts...),
		channel: channel,
		logger:  logger.With("component", "slack"),
	}
}

// PostCriticalAlert posts one message per event listing its critical
// insights. It returns the message timestamp.
func (p *Poster) PostCriticalAlert(ctx context.Context, eventID string, evt casenote.NotesEvent) (string, error) {
	text := formatAlert(evt)
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionAttachments(alertAttachments(evt)...),
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = p.client.PostMessageContext(ctx, p.channel, options...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}

	p.logger.Info("posted critical alert", "ts", ts, "event_id", eventID, "case_id", evt.CaseID)
	return ts, nil
}

func formatAlert(evt casenote.NotesEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Critical case update:* %s (case %s)\n", evt.WorkerName, evt.CaseID)
	fmt.Fprintf(&sb, "%d new note(s)", len(evt.Notes))
	for _, n := range evt.Notes {
		if len(n.RiskFlags) > 0 {
			fmt.Fprintf(&sb, "\nFlags: %s", strings.Join(n.RiskFlags, ", "))
		}
	}
	return sb.String()
}

func alertAttachments(evt casenote.NotesEvent) []slackapi.Attachment {
	var out []slackapi.Attachment
	for _, in := range evt.Insights {
		if in.Severity != casenote.SeverityCritical {
			continue
		}
		att := slackapi.Attachment{
			Title:    in.Summary,
			Text:     in.Detail,
			Color:    "danger",
			Fallback: in.Summary,
			Fields: []slackapi.AttachmentField{
				{Title: "Area", Value: string(in.Area), Short: true},
				{Title: "Note", Value: in.NoteID.String(), Short: true},
			},
		}
		out = append(out, att)
	}
	return out
}

func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(1<<attempt) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Package progress keeps a bounded, human-readable history of pipeline
// actions across process restarts.
package progress

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/caseflow/internal/statefile"
)

const (
	// FileName is the document name inside the data directory.
	FileName = "agent-progress.json"

	docVersion = 1

	// MaxEntries bounds the history; oldest entries are dropped first.
	MaxEntries = 1000

	summaryRecent   = 20
	summaryFailures = 5
)

// Entry is one recorded action.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	Action    string    `json:"action"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// Document is the persisted progress file.
type Document struct {
	Version     int       `json:"version"`
	SessionID   string    `json:"session_id"`
	LastUpdated time.Time `json:"last_updated"`
	Entries     []Entry   `json:"entries"`
}

// Tracker appends entries to the progress document.
type Tracker struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	doc Document
}

// Open loads the existing history in dataDir and starts a new session id.
func Open(dataDir string, logger *slog.Logger) (*Tracker, error) {
	t := &Tracker{
		path:   filepath.Join(dataDir, FileName),
		logger: logger.With("component", "progress"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if _, err := statefile.Load(t.path, &t.doc); err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	t.doc.Version = docVersion
	t.doc.SessionID = uuid.NewString()
	t.doc.LastUpdated = t.now()

	if err := t.saveLocked(); err != nil {
		return nil, err
	}
	t.logger.Info("progress session started", "session_id", t.doc.SessionID, "history", len(t.doc.Entries))
	return t, nil
}

// SessionID returns the id stamped on entries written by this process.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doc.SessionID
}

// LogAction appends an entry and persists the document.
func (t *Tracker) LogAction(agent, action string, success bool, details string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.doc.Entries = append(t.doc.Entries, Entry{
		Timestamp: now,
		SessionID: t.doc.SessionID,
		Agent:     agent,
		Action:    action,
		Success:   success,
		Details:   details,
	})
	if over := len(t.doc.Entries) - MaxEntries; over > 0 {
		t.doc.Entries = append([]Entry(nil), t.doc.Entries[over:]...)
	}
	t.doc.LastUpdated = now
	return t.saveLocked()
}

// Entries returns up to limit of the most recent entries, oldest first.
// A limit <= 0 returns everything.
func (t *Tracker) Entries(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return tail(t.doc.Entries, limit)
}

// ContextSummary renders the recent history for an operator or a restarted
// agent: the last 20 entries followed by up to 5 of the most recent failures.
func (t *Tracker) ContextSummary() string {
	t.mu.Lock()
	entries := append([]Entry(nil), t.doc.Entries...)
	session := t.doc.SessionID
	t.mu.Unlock()

	return Summarize(session, entries)
}

// Summarize renders the summary for an arbitrary entry list. Used by
// read-only tooling that loads the document directly.
func Summarize(sessionID string, entries []Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s, %d entries recorded\n", sessionID, len(entries))

	if len(entries) == 0 {
		b.WriteString("No actions recorded yet.\n")
		return b.String()
	}

	b.WriteString("\nRecent actions:\n")
	for _, e := range tail(entries, summaryRecent) {
		writeEntry(&b, e)
	}

	var failures []Entry
	for i := len(entries) - 1; i >= 0 && len(failures) < summaryFailures; i-- {
		if !entries[i].Success {
			failures = append(failures, entries[i])
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nRecent failures:\n")
		for _, e := range failures {
			writeEntry(&b, e)
		}
	}
	return b.String()
}

// Read loads the progress document from dataDir without starting a session.
func Read(dataDir string) (Document, bool, error) {
	var doc Document
	found, err := statefile.Load(filepath.Join(dataDir, FileName), &doc)
	return doc, found, err
}

func writeEntry(b *strings.Builder, e Entry) {
	status := "ok"
	if !e.Success {
		status = "FAILED"
	}
	fmt.Fprintf(b, "- %s [%s] %s/%s", e.Timestamp.Format(time.RFC3339), status, e.Agent, e.Action)
	if e.Details != "" {
		fmt.Fprintf(b, ": %s", e.Details)
	}
	b.WriteByte('\n')
}

func tail(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]Entry(nil), entries...)
}

func (t *Tracker) saveLocked() error {
	if err := statefile.Save(t.path, t.doc); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

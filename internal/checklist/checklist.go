// Package checklist records which pipeline features have been observed
// working in a running deployment.
package checklist

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/statefile"
)

// FileName is the document name inside the data directory.
const FileName = "feature-checklist.json"

const docVersion = 1

// Feature ids.
const (
	TranscriptIngestion   = "transcript-ingestion"
	TranscriptParsing     = "transcript-parsing"
	WorkerResolution      = "worker-resolution"
	InsightDerivation     = "insight-derivation"
	TaskQueueDelivery     = "task-queue-delivery"
	SessionRecovery       = "session-recovery"
	CaseSummaryGeneration = "case-summary-generation"
)

// ErrUnknownFeature is returned by MarkFeature for ids outside the seed set.
var ErrUnknownFeature = errors.New("unknown feature")

// Item is one checklist entry.
type Item struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Steps       []string   `json:"steps"`
	Passes      bool       `json:"passes"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type document struct {
	Version int    `json:"version"`
	Items   []Item `json:"items"`
}

var seed = []Item{
	{
		ID:          TranscriptIngestion,
		Category:    "ingestion",
		Description: "Transcript files dropped in the watched directory are persisted as case discussion notes",
		Steps:       []string{"Drop a transcript into the transcript directory", "Confirm notes are stored for the matching case"},
	},
	{
		ID:          TranscriptParsing,
		Category:    "ingestion",
		Description: "Transcripts are split into per-worker notes with summary, next steps and risk flags",
		Steps:       []string{"Run caseflow parse on a sample transcript", "Check worker names, summaries and flags"},
	},
	{
		ID:          WorkerResolution,
		Category:    "ingestion",
		Description: "Worker names in transcripts resolve to existing case records",
		Steps:       []string{"Ingest a transcript naming a known worker", "Confirm the note carries that worker's case id"},
	},
	{
		ID:          InsightDerivation,
		Category:    "analysis",
		Description: "Risk, compliance and recovery insights are derived from each note",
		Steps:       []string{"Ingest a transcript mentioning a missed appointment", "Confirm an attendance insight is stored"},
	},
	{
		ID:          TaskQueueDelivery,
		Category:    "delivery",
		Description: "New-note events are delivered downstream at least once",
		Steps:       []string{"Ingest a transcript", "Confirm the event is published and marked processed"},
	},
	{
		ID:          SessionRecovery,
		Category:    "durability",
		Description: "An interrupted run is detected and resumed on restart",
		Steps:       []string{"Kill the process while work is pending", "Restart within an hour and check the recovery log entry"},
	},
	{
		ID:          CaseSummaryGeneration,
		Category:    "analysis",
		Description: "Case summaries are regenerated from accumulated discussion notes",
		Steps:       []string{"Ingest several transcripts for one case", "Confirm the case summary reflects them"},
	},
}

// Checklist owns the checklist document. MarkFeature is the only mutator.
type Checklist struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	doc document
}

// Open loads the checklist in dataDir, seeding any missing features with
// Passes=false, and persists the result.
func Open(dataDir string, logger *slog.Logger) (*Checklist, error) {
	c := &Checklist{
		path:   filepath.Join(dataDir, FileName),
		logger: logger.With("component", "checklist"),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if _, err := statefile.Load(c.path, &c.doc); err != nil {
		return nil, fmt.Errorf("load checklist: %w", err)
	}

	known := make(map[string]bool, len(c.doc.Items))
	for _, it := range c.doc.Items {
		known[it.ID] = true
	}
	added := 0
	for _, it := range seed {
		if known[it.ID] {
			continue
		}
		it.Steps = append([]string(nil), it.Steps...)
		c.doc.Items = append(c.doc.Items, it)
		added++
	}
	c.doc.Version = docVersion

	if err := c.saveLocked(); err != nil {
		return nil, err
	}
	if added > 0 {
		c.logger.Info("seeded checklist features", "added", added)
	}
	return c, nil
}

// MarkFeature records the outcome of a feature check.
func (c *Checklist) MarkFeature(id string, passes bool, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.doc.Items {
		if c.doc.Items[i].ID != id {
			continue
		}
		now := c.now()
		c.doc.Items[i].Passes = passes
		c.doc.Items[i].LastChecked = &now
		c.doc.Items[i].Error = errMsg
		return c.saveLocked()
	}
	return fmt.Errorf("mark %q: %w", id, ErrUnknownFeature)
}

// Items returns a copy of every item in seed order.
func (c *Checklist) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyItems(c.doc.Items)
}

// Read loads the checklist from dataDir without seeding or writing it.
func Read(dataDir string) ([]Item, bool, error) {
	var doc document
	found, err := statefile.Load(filepath.Join(dataDir, FileName), &doc)
	return doc.Items, found, err
}

func copyItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		it.Steps = append([]string(nil), it.Steps...)
		if it.LastChecked != nil {
			t := *it.LastChecked
			it.LastChecked = &t
		}
		out[i] = it
	}
	return out
}

func (c *Checklist) saveLocked() error {
	if err := statefile.Save(c.path, c.doc); err != nil {
		return fmt.Errorf("save checklist: %w", err)
	}
	return nil
}

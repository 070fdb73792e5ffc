package casenote

import (
	"time"

	"github.com/google/uuid"
)

// Area tags what part of a case an insight speaks to.
type Area string

const (
	AreaCompliance   Area = "compliance"
	AreaRisk         Area = "risk"
	AreaRecovery     Area = "recovery"
	AreaReturnToWork Area = "returnToWork"
	AreaEngagement   Area = "engagement"
)

// Severity grades an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CaseMatch is the result of resolving a worker name against the case store.
type CaseMatch struct {
	CaseID     string  `json:"case_id"`
	WorkerName string  `json:"worker_name"` // canonical name as stored on the case
	Confidence float64 `json:"confidence"`
}

// DiscussionNote is a persisted, append-only record of one transcript section.
type DiscussionNote struct {
	ID                      uuid.UUID `json:"id"`
	CaseID                  string    `json:"case_id"`
	WorkerName              string    `json:"worker_name"`
	Timestamp               time.Time `json:"timestamp"`
	RawText                 string    `json:"raw_text"`
	Summary                 string    `json:"summary"`
	NextSteps               []string  `json:"next_steps,omitempty"`
	RiskFlags               []string  `json:"risk_flags,omitempty"`
	UpdatesCompliance       bool      `json:"updates_compliance"`
	UpdatesRecoveryTimeline bool      `json:"updates_recovery_timeline"`
	SourceFile              string    `json:"source_file"`
}

// Insight is a short tagged observation derived from a note.
type Insight struct {
	ID        uuid.UUID `json:"id"`
	NoteID    uuid.UUID `json:"note_id"`
	CaseID    string    `json:"case_id"`
	Area      Area      `json:"area"`
	Severity  Severity  `json:"severity"`
	Summary   string    `json:"summary"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotesEvent announces newly persisted notes for one case. It is the payload
// carried by the task queue and published downstream.
type NotesEvent struct {
	CaseID     string           `json:"case_id"`
	WorkerName string           `json:"worker_name"`
	Notes      []DiscussionNote `json:"notes"`
	Insights   []Insight        `json:"insights"`
}

// HasCritical reports whether any insight in the event is critical.
func (e NotesEvent) HasCritical() bool {
	for _, in := range e.Insights {
		if in.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

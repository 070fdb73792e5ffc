// Package session persists per-pipeline progress counters and error history
// and decides at startup whether the previous run was interrupted.
package session

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/statefile"
)

const (
	stateVersion = 1

	// MaxErrors bounds the error ring buffer.
	MaxErrors = 50

	// RecoveryWindow is how recent the last activity must be for pending
	// work to count as an interrupted run rather than a stale leftover.
	RecoveryWindow = time.Hour
)

// ErrorEntry is one timestamped error message.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// State is the on-disk session document.
type State struct {
	Version          int          `json:"version"`
	AgentName        string       `json:"agent_name"`
	StartedAt        time.Time    `json:"started_at"`
	LastActivity     time.Time    `json:"last_activity"`
	ProcessedItems   int          `json:"processed_items"`
	PendingItems     int          `json:"pending_items"`
	Errors           []ErrorEntry `json:"errors"`
	RecoveryAttempts int          `json:"recovery_attempts"`
}

// Recovery describes the outcome of Initialize.
type Recovery struct {
	IsRecovery bool
	// Previous is the state found on disk, zero when there was none.
	Previous State
}

// Manager owns a single session document and is its only writer.
type Manager struct {
	path      string
	agentName string
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a manager for agentName whose document lives in dataDir.
func New(dataDir, agentName string, logger *slog.Logger) *Manager {
	return &Manager{
		path:      filepath.Join(dataDir, agentName+"-session.json"),
		agentName: agentName,
		logger:    logger.With("component", "session", "agent", agentName),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the backing file.
func (m *Manager) Path() string { return m.path }

// Initialize reads any previous state and either resumes it (interrupted
// run) or starts fresh counters. The document is rewritten before return.
func (m *Manager) Initialize() (Recovery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev State
	found, err := statefile.Load(m.path, &prev)
	if err != nil {
		return Recovery{}, fmt.Errorf("load session: %w", err)
	}

	now := m.now()
	interrupted := found &&
		prev.PendingItems > 0 &&
		now.Sub(prev.LastActivity) < RecoveryWindow

	if interrupted {
		m.state = prev
		m.state.Version = stateVersion
		m.state.AgentName = m.agentName
		m.state.RecoveryAttempts++
		m.state.LastActivity = now
		m.logger.Warn("resuming interrupted session",
			"pending_items", prev.PendingItems,
			"processed_items", prev.ProcessedItems,
			"recovery_attempts", m.state.RecoveryAttempts,
		)
	} else {
		m.state = State{
			Version:      stateVersion,
			AgentName:    m.agentName,
			StartedAt:    now,
			LastActivity: now,
			// Error history survives a clean restart for diagnostics.
			Errors: prev.Errors,
		}
		m.logger.Info("starting fresh session", "previous_found", found)
	}

	if err := m.saveLocked(); err != nil {
		return Recovery{}, err
	}
	return Recovery{IsRecovery: interrupted, Previous: prev}, nil
}

// UpdateProgress adjusts the processed and pending counters. Pending never
// drops below zero.
func (m *Manager) UpdateProgress(processedDelta, pendingDelta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.ProcessedItems += processedDelta
	m.state.PendingItems += pendingDelta
	if m.state.PendingItems < 0 {
		m.state.PendingItems = 0
	}
	m.state.LastActivity = m.now()
	return m.saveLocked()
}

// RecordError appends to the error ring buffer, evicting the oldest entry
// once MaxErrors is reached.
func (m *Manager) RecordError(msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.state.Errors = append(m.state.Errors, ErrorEntry{Timestamp: now, Message: msg})
	if over := len(m.state.Errors) - MaxErrors; over > 0 {
		m.state.Errors = append([]ErrorEntry(nil), m.state.Errors[over:]...)
	}
	m.state.LastActivity = now
	return m.saveLocked()
}

// MarkComplete records a clean stop: nothing is pending.
func (m *Manager) MarkComplete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.PendingItems = 0
	m.state.LastActivity = m.now()
	return m.saveLocked()
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	s.Errors = append([]ErrorEntry(nil), m.state.Errors...)
	return s
}

// Read loads a session document without taking ownership of it. Used by
// read-only tooling.
func Read(dataDir, agentName string) (State, bool, error) {
	var s State
	found, err := statefile.Load(filepath.Join(dataDir, agentName+"-session.json"), &s)
	return s, found, err
}

func (m *Manager) saveLocked() error {
	if err := statefile.Save(m.path, m.state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

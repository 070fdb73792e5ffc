package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/insight"
	"github.com/MikeSquared-Agency/caseflow/internal/transcript"
)

// HandleFile runs one ingestion cycle for path. Overlapping calls for the
// same path return immediately. The returned error is non-nil only for
// failures that leave the file to be retried on the next trigger; skips and
// unresolved names are not errors.
func (m *Module) HandleFile(ctx context.Context, path string) error {
	if !Supported(path) {
		return nil
	}
	path = canonicalPath(path)
	if !m.acquire(path) {
		m.logger.Debug("already processing", "path", path)
		return nil
	}
	defer m.release(path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return m.fail(path, "stat", err)
	}
	if info.IsDir() {
		return nil
	}
	if m.skip(path, info) {
		return nil
	}

	info, err = m.waitStable(ctx, path, info)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return m.fail(path, "stat", err)
	}
	if m.skip(path, info) {
		return nil
	}
	mtime := info.ModTime().UTC()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return m.fail(path, "read", err)
	}

	m.updateSession(0, 1)
	persisted := 0
	defer func() { m.updateSession(persisted, -1) }()

	parsed := transcript.Parse(path, string(data), mtime)
	if len(parsed) == 0 {
		m.mu.Lock()
		m.parked[path] = mtime
		m.mu.Unlock()
		m.logger.Warn("skipping transcript", "path", path, "reason", "no notes parsed")
		return nil
	}
	m.markFeature(checklist.TranscriptParsing)

	events, notes, insights, err := m.resolve(ctx, path, parsed)
	if err != nil {
		return m.fail(path, "resolve_workers", err)
	}
	if len(notes) == 0 {
		m.recordUnresolvedPass(path, mtime)
		return nil
	}
	m.markFeature(checklist.WorkerResolution)

	if err := m.store.UpsertCaseDiscussionNotes(ctx, notes); err != nil {
		return m.fail(path, "persist_notes", err)
	}
	if len(insights) > 0 {
		if err := m.store.UpsertCaseDiscussionInsights(ctx, insights); err != nil {
			return m.fail(path, "persist_insights", err)
		}
		m.markFeature(checklist.InsightDerivation)
	}

	m.markProcessed(path, mtime)

	for _, evt := range events {
		if err := m.notifier.NotifyNewDiscussionNotes(ctx, evt); err != nil {
			m.unmark(path)
			return m.fail(path, "enqueue_notification", fmt.Errorf("case %s: %w", evt.CaseID, err))
		}
	}
	persisted = len(notes)

	m.logger.Info("transcript ingested",
		"path", path,
		"notes", len(notes),
		"insights", len(insights),
		"cases", len(events),
	)
	m.logAction("ingest_file", true, fmt.Sprintf("%s: %d notes, %d insights, %d cases", path, len(notes), len(insights), len(events)))
	m.markFeature(checklist.TranscriptIngestion)
	return nil
}

// resolve maps parsed notes to cases and groups them into one event per case
// in first-appearance order. Unresolved names are logged once and dropped.
func (m *Module) resolve(ctx context.Context, path string, parsed []transcript.Note) ([]casenote.NotesEvent, []casenote.DiscussionNote, []casenote.Insight, error) {
	var (
		events   []casenote.NotesEvent
		notes    []casenote.DiscussionNote
		insights []casenote.Insight
		byCase   = make(map[string]int)
		matches  = make(map[string]*casenote.CaseMatch)
	)
	now := m.now()

	for _, p := range parsed {
		match, seen := matches[p.WorkerName]
		if !seen {
			var err error
			match, err = m.store.FindCaseByWorkerName(ctx, p.WorkerName)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("find case for %q: %w", p.WorkerName, err)
			}
			if match != nil && match.Confidence < m.cfg.MinMatchConfidence {
				m.logger.Debug("match below confidence threshold",
					"worker_name", p.WorkerName,
					"case_id", match.CaseID,
					"confidence", match.Confidence,
				)
				match = nil
			}
			matches[p.WorkerName] = match
		}
		if match == nil {
			m.logUnresolvedOnce(path, p.WorkerName)
			continue
		}

		workerName := match.WorkerName
		if workerName == "" {
			workerName = p.WorkerName
		}
		note := casenote.DiscussionNote{
			ID:                      casenote.NoteID(path, p.WorkerName, p.Summary, p.Timestamp),
			CaseID:                  match.CaseID,
			WorkerName:              workerName,
			Timestamp:               p.Timestamp,
			RawText:                 p.RawText,
			Summary:                 p.Summary,
			NextSteps:               p.NextSteps,
			RiskFlags:               p.RiskFlags,
			UpdatesCompliance:       p.UpdatesCompliance,
			UpdatesRecoveryTimeline: p.UpdatesRecoveryTimeline,
			SourceFile:              path,
		}
		derived := insight.Derive(note, now)

		idx, ok := byCase[match.CaseID]
		if !ok {
			idx = len(events)
			byCase[match.CaseID] = idx
			events = append(events, casenote.NotesEvent{CaseID: match.CaseID, WorkerName: workerName})
		}
		events[idx].Notes = append(events[idx].Notes, note)
		events[idx].Insights = append(events[idx].Insights, derived...)

		notes = append(notes, note)
		insights = append(insights, derived...)
	}
	return events, notes, insights, nil
}

// waitStable re-stats path after the stability delay until size and mtime
// settle, giving up after a few rounds and returning the latest values.
func (m *Module) waitStable(ctx context.Context, path string, info os.FileInfo) (os.FileInfo, error) {
	for round := 0; round < maxStabilityRounds; round++ {
		if err := sleep(ctx, m.cfg.StabilityDelay); err != nil {
			return nil, err
		}
		next, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if next.Size() == info.Size() && next.ModTime().Equal(info.ModTime()) {
			return next, nil
		}
		m.logger.Debug("file still changing", "path", path, "size", next.Size())
		info = next
	}
	return info, nil
}

// skip reports whether the file should not be processed at its current
// size and mtime. Permanent rejections are logged once per mtime.
func (m *Module) skip(path string, info os.FileInfo) bool {
	mtime := info.ModTime().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.processed[path]; ok && !mtime.After(last) {
		return true
	}
	if at, ok := m.parked[path]; ok {
		if at.Equal(mtime) {
			return true
		}
		delete(m.parked, path)
	}

	var reason string
	switch {
	case info.Size() == 0:
		reason = "empty file"
	case info.Size() > m.cfg.MaxFileBytes:
		reason = "file exceeds size limit"
	default:
		return false
	}

	if at, ok := m.rejected[path]; !ok || !at.Equal(mtime) {
		m.rejected[path] = mtime
		m.logger.Warn("skipping transcript", "path", path, "reason", reason, "size", info.Size())
	}
	return true
}

// recordUnresolvedPass counts consecutive cycles in which no note of the file
// resolved, and parks the file once the limit is reached for one mtime.
func (m *Module) recordUnresolvedPass(path string, mtime time.Time) {
	m.mu.Lock()
	pass := m.unresolvedPass[path]
	if !pass.mtime.Equal(mtime) {
		pass = unresolvedPass{mtime: mtime}
	}
	pass.count++
	m.unresolvedPass[path] = pass

	parked := pass.count >= m.cfg.MaxUnresolvedAttempts
	if parked {
		m.parked[path] = mtime
		delete(m.unresolvedPass, path)
	}
	m.mu.Unlock()

	if !parked {
		m.logger.Debug("no notes resolved", "path", path, "attempt", pass.count)
		return
	}
	m.logger.Warn("parking transcript with no resolvable workers",
		"path", path,
		"attempts", pass.count,
	)
	m.logAction("park_file", false, fmt.Sprintf("%s: no worker resolved after %d attempts", path, pass.count))
}

func (m *Module) logUnresolvedOnce(path, name string) {
	key := casenote.NormalizeName(name)
	m.mu.Lock()
	_, seen := m.unresolvedNames[key]
	if !seen {
		m.unresolvedNames[key] = struct{}{}
	}
	m.mu.Unlock()

	if !seen {
		m.logger.Warn("worker name did not resolve to a case", "worker_name", name, "path", path)
	}
}

// fail records a retryable failure in the session and progress documents.
func (m *Module) fail(path, action string, err error) error {
	m.unmark(path)
	m.logger.Error("ingestion failed", "path", path, "action", action, "error", err)

	msg := fmt.Sprintf("%s %s: %v", action, path, err)
	if m.session != nil {
		if serr := m.session.RecordError(msg); serr != nil {
			m.logger.Warn("record session error", "error", serr)
		}
	}
	m.logAction(action, false, msg)
	return err
}

func (m *Module) logAction(action string, success bool, details string) {
	if m.progress == nil {
		return
	}
	if err := m.progress.LogAction(AgentName, action, success, details); err != nil {
		m.logger.Warn("log progress", "action", action, "error", err)
	}
}

func (m *Module) updateSession(processed, pending int) {
	if m.session == nil {
		return
	}
	if err := m.session.UpdateProgress(processed, pending); err != nil {
		m.logger.Warn("update session", "error", err)
	}
}

// markFeature marks a checklist feature passing the first time it is seen
// working in this process.
func (m *Module) markFeature(id string) {
	if m.checklist == nil {
		return
	}
	m.mu.Lock()
	done := m.features[id]
	m.features[id] = true
	m.mu.Unlock()
	if done {
		return
	}
	if err := m.checklist.MarkFeature(id, true, ""); err != nil {
		m.logger.Warn("mark feature", "feature", id, "error", err)
	}
}

func (m *Module) acquire(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.processing[path]; busy {
		return false
	}
	m.processing[path] = struct{}{}
	return true
}

func (m *Module) release(path string) {
	m.mu.Lock()
	delete(m.processing, path)
	m.mu.Unlock()
}

func (m *Module) markProcessed(path string, mtime time.Time) {
	m.mu.Lock()
	m.processed[path] = mtime
	delete(m.unresolvedPass, path)
	m.mu.Unlock()
}

func (m *Module) unmark(path string) {
	m.mu.Lock()
	delete(m.processed, path)
	m.mu.Unlock()
}

// canonicalPath gives one spelling per file. Cache keys, note ids and the
// stored source file all use it.
func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

const candidateLimit = 50

// ErrEmptyName is returned when a lookup or insert has no usable name.
var ErrEmptyName = errors.New("worker name is empty")

// FindCaseByWorkerName prefilters cases on the surname and ranks the
// candidates with casenote.NameScore. It returns nil when nothing scores.
func (s *Store) FindCaseByWorkerName(ctx context.Context, name string) (*casenote.CaseMatch, error) {
	norm := casenote.NormalizeName(name)
	if norm == "" {
		return nil, nil
	}
	tokens := strings.Fields(norm)
	surname := tokens[len(tokens)-1]

	rows, err := s.pool.Query(ctx, `
		SELECT id, worker_name
		FROM cases
		WHERE worker_name ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2`,
		surname, candidateLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var best *casenote.CaseMatch
	for rows.Next() {
		var id, worker string
		if err := rows.Scan(&id, &worker); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		score := casenote.NameScore(name, worker)
		if score > 0 && (best == nil || score > best.Confidence) {
			best = &casenote.CaseMatch{CaseID: id, WorkerName: worker, Confidence: score}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return best, nil
}

// AddCase inserts a case for workerName and returns its id.
func (s *Store) AddCase(ctx context.Context, workerName string) (string, error) {
	workerName = strings.TrimSpace(workerName)
	if workerName == "" {
		return "", ErrEmptyName
	}
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `INSERT INTO cases (id, worker_name) VALUES ($1, $2)`, id, workerName)
	if err != nil {
		return "", fmt.Errorf("insert case: %w", err)
	}
	return id, nil
}

// UpsertCaseDiscussionNotes writes notes in one transaction. Existing ids
// are left untouched.
func (s *Store) UpsertCaseDiscussionNotes(ctx context.Context, notes []casenote.DiscussionNote) error {
	if len(notes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range notes {
		batch.Queue(`
			INSERT INTO case_discussion_notes (
				id, case_id, worker_name, timestamp, raw_text, summary,
				next_steps, risk_flags, updates_compliance, updates_recovery_timeline, source_file
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			n.ID, n.CaseID, n.WorkerName, n.Timestamp, n.RawText, n.Summary,
			nonNil(n.NextSteps), nonNil(n.RiskFlags), n.UpdatesCompliance, n.UpdatesRecoveryTimeline, n.SourceFile,
		)
	}
	return s.sendBatch(ctx, batch, "notes")
}

// UpsertCaseDiscussionInsights writes insights in one transaction. Existing
// ids are left untouched.
func (s *Store) UpsertCaseDiscussionInsights(ctx context.Context, insights []casenote.Insight) error {
	if len(insights) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, in := range insights {
		batch.Queue(`
			INSERT INTO case_discussion_insights (id, note_id, case_id, area, severity, summary, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
			ON CONFLICT (id) DO NOTHING`,
			in.ID, in.NoteID, in.CaseID, string(in.Area), string(in.Severity), in.Summary, in.Detail, in.CreatedAt,
		)
	}
	return s.sendBatch(ctx, batch, "insights")
}

// NotesForCase returns a case's notes, newest first.
func (s *Store) NotesForCase(ctx context.Context, caseID string, limit int) ([]casenote.DiscussionNote, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, case_id, worker_name, timestamp, raw_text, summary,
		       next_steps, risk_flags, updates_compliance, updates_recovery_timeline, source_file
		FROM case_discussion_notes
		WHERE case_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`,
		caseID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var out []casenote.DiscussionNote
	for rows.Next() {
		var n casenote.DiscussionNote
		if err := rows.Scan(&n.ID, &n.CaseID, &n.WorkerName, &n.Timestamp, &n.RawText, &n.Summary,
			&n.NextSteps, &n.RiskFlags, &n.UpdatesCompliance, &n.UpdatesRecoveryTimeline, &n.SourceFile); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert %s: %w", what, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

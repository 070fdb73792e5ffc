// Package localstore is a SQLite case store for development and single-host
// deployments. It satisfies the same contract as the Postgres store.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
)

// ErrEmptyName is returned when a case is added without a worker name.
var ErrEmptyName = errors.New("worker name is empty")

// Case is a worker's injury case.
type Case struct {
	ID         string `gorm:"primaryKey;size:36"`
	WorkerName string `gorm:"not null;index"`
	CreatedAt  time.Time
}

// Note is the stored form of casenote.DiscussionNote.
type Note struct {
	ID                      string    `gorm:"primaryKey;size:36"`
	CaseID                  string    `gorm:"size:36;not null;index:idx_note_case"`
	WorkerName              string    `gorm:"not null"`
	Timestamp               time.Time `gorm:"index:idx_note_case"`
	RawText                 string    `gorm:"type:text"`
	Summary                 string    `gorm:"type:text"`
	NextSteps               []string  `gorm:"serializer:json"`
	RiskFlags               []string  `gorm:"serializer:json"`
	UpdatesCompliance       bool
	UpdatesRecoveryTimeline bool
	SourceFile              string
	CreatedAt               time.Time
}

// TableName keeps the table name aligned with the Postgres schema.
func (Note) TableName() string { return "case_discussion_notes" }

// Insight is the stored form of casenote.Insight.
type Insight struct {
	ID        string `gorm:"primaryKey;size:36"`
	NoteID    string `gorm:"size:36;not null;index"`
	CaseID    string `gorm:"size:36;not null;index"`
	Area      string `gorm:"size:32"`
	Severity  string `gorm:"size:16"`
	Summary   string
	Detail    string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName keeps the table name aligned with the Postgres schema.
func (Insight) TableName() string { return "case_discussion_insights" }

// Store wraps a gorm handle.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates it.
// ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing handle and migrates the schema.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Case{}, &Note{}, &Insight{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// AddCase creates a case for workerName and returns its id.
func (s *Store) AddCase(ctx context.Context, workerName string) (string, error) {
	workerName = strings.TrimSpace(workerName)
	if workerName == "" {
		return "", ErrEmptyName
	}
	c := Case{ID: uuid.NewString(), WorkerName: workerName}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return "", fmt.Errorf("insert case: %w", err)
	}
	return c.ID, nil
}

// FindCaseByWorkerName prefilters on the surname and ranks candidates with
// casenote.NameScore. It returns nil when nothing scores.
func (s *Store) FindCaseByWorkerName(ctx context.Context, name string) (*casenote.CaseMatch, error) {
	tokens := strings.Fields(casenote.NormalizeName(name))
	if len(tokens) == 0 {
		return nil, nil
	}
	surname := tokens[len(tokens)-1]

	var candidates []Case
	err := s.db.WithContext(ctx).
		Where("LOWER(worker_name) LIKE ?", "%"+surname+"%").
		Order("created_at DESC").
		Limit(50).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}

	var best *casenote.CaseMatch
	for _, c := range candidates {
		score := casenote.NameScore(name, c.WorkerName)
		if score > 0 && (best == nil || score > best.Confidence) {
			best = &casenote.CaseMatch{CaseID: c.ID, WorkerName: c.WorkerName, Confidence: score}
		}
	}
	return best, nil
}

// UpsertCaseDiscussionNotes inserts notes in one transaction, ignoring ids
// that already exist.
func (s *Store) UpsertCaseDiscussionNotes(ctx context.Context, notes []casenote.DiscussionNote) error {
	if len(notes) == 0 {
		return nil
	}
	rows := make([]Note, len(notes))
	for i, n := range notes {
		rows[i] = Note{
			ID:                      n.ID.String(),
			CaseID:                  n.CaseID,
			WorkerName:              n.WorkerName,
			Timestamp:               n.Timestamp,
			RawText:                 n.RawText,
			Summary:                 n.Summary,
			NextSteps:               n.NextSteps,
			RiskFlags:               n.RiskFlags,
			UpdatesCompliance:       n.UpdatesCompliance,
			UpdatesRecoveryTimeline: n.UpdatesRecoveryTimeline,
			SourceFile:              n.SourceFile,
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("upsert notes: %w", err)
	}
	return nil
}

// UpsertCaseDiscussionInsights inserts insights in one transaction, ignoring
// ids that already exist.
func (s *Store) UpsertCaseDiscussionInsights(ctx context.Context, insights []casenote.Insight) error {
	if len(insights) == 0 {
		return nil
	}
	rows := make([]Insight, len(insights))
	for i, in := range insights {
		rows[i] = Insight{
			ID:        in.ID.String(),
			NoteID:    in.NoteID.String(),
			CaseID:    in.CaseID,
			Area:      string(in.Area),
			Severity:  string(in.Severity),
			Summary:   in.Summary,
			Detail:    in.Detail,
			CreatedAt: in.CreatedAt,
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("upsert insights: %w", err)
	}
	return nil
}

// NotesForCase returns a case's notes, newest first.
func (s *Store) NotesForCase(ctx context.Context, caseID string, limit int) ([]casenote.DiscussionNote, error) {
	var rows []Note
	err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}

	out := make([]casenote.DiscussionNote, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse note id %q: %w", r.ID, err)
		}
		out = append(out, casenote.DiscussionNote{
			ID:                      id,
			CaseID:                  r.CaseID,
			WorkerName:              r.WorkerName,
			Timestamp:               r.Timestamp,
			RawText:                 r.RawText,
			Summary:                 r.Summary,
			NextSteps:               r.NextSteps,
			RiskFlags:               r.RiskFlags,
			UpdatesCompliance:       r.UpdatesCompliance,
			UpdatesRecoveryTimeline: r.UpdatesRecoveryTimeline,
			SourceFile:              r.SourceFile,
		})
	}
	return out, nil
}

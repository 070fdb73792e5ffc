// Package store is the Postgres case store used in production.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS cases (
	id          TEXT PRIMARY KEY,
	worker_name TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_discussion_notes (
	id                        UUID PRIMARY KEY,
	case_id                   TEXT NOT NULL REFERENCES cases(id),
	worker_name               TEXT NOT NULL,
	timestamp                 TIMESTAMPTZ NOT NULL,
	raw_text                  TEXT NOT NULL,
	summary                   TEXT NOT NULL,
	next_steps                TEXT[] NOT NULL DEFAULT '{}',
	risk_flags                TEXT[] NOT NULL DEFAULT '{}',
	updates_compliance        BOOLEAN NOT NULL DEFAULT false,
	updates_recovery_timeline BOOLEAN NOT NULL DEFAULT false,
	source_file               TEXT NOT NULL,
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS case_discussion_notes_case_idx ON case_discussion_notes (case_id, timestamp);

CREATE TABLE IF NOT EXISTS case_discussion_insights (
	id         UUID PRIMARY KEY,
	note_id    UUID NOT NULL REFERENCES case_discussion_notes(id),
	case_id    TEXT NOT NULL REFERENCES cases(id),
	area       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	summary    TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS case_discussion_insights_case_idx ON case_discussion_insights (case_id, created_at);
`

// EnsureSchema creates the tables the pipeline writes to when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

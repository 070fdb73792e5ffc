package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/config"
	"github.com/MikeSquared-Agency/caseflow/internal/ingest"
	"github.com/MikeSquared-Agency/caseflow/internal/localstore"
	"github.com/MikeSquared-Agency/caseflow/internal/store"
)

// caseStore is what the binary needs from either backend.
type caseStore interface {
	ingest.CaseStore
	AddCase(ctx context.Context, workerName string) (string, error)
	NotesForCase(ctx context.Context, caseID string, limit int) ([]casenote.DiscussionNote, error)
	Ping(ctx context.Context) error
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (caseStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("database connected", "driver", cfg.StoreDriver)
		return db, db.Close, nil
	case config.StoreSQLite:
		db, err := localstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("database opened", "driver", cfg.StoreDriver, "path", cfg.SQLitePath)
		closeFn := func() {
			if err := db.Close(); err != nil {
				logger.Warn("close sqlite", "error", err)
			}
		}
		return db, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

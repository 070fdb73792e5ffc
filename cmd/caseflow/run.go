package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/caseflow/internal/api"
	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/config"
	"github.com/MikeSquared-Agency/caseflow/internal/dispatch"
	"github.com/MikeSquared-Agency/caseflow/internal/hermes"
	"github.com/MikeSquared-Agency/caseflow/internal/ingest"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/session"
	"github.com/MikeSquared-Agency/caseflow/internal/slack"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

const shutdownTimeout = 10 * time.Second

func lockPath(cfg config.Config) string {
	return filepath.Join(cfg.DataDir, "caseflow.lock")
}

func newRunCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline, dispatcher and ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger := setupLogging(os.Stdout, cfg.LogLevel, cfg.LogFormat)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPipeline(ctx, cfg, logger)
		},
	}
}

func runPipeline(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("caseflow starting", "version", Version, "port", cfg.Port, "store", cfg.StoreDriver)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock, err := ingest.AcquireLock(lockPath(cfg))
	if err != nil {
		return err
	}
	defer lock.Unlock()

	tracker, err := progress.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	features, err := checklist.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	queue, err := taskqueue.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}

	sess := session.New(cfg.DataDir, ingest.AgentName, logger)
	rec, err := sess.Initialize()
	if err != nil {
		return err
	}
	announceSession(logger, tracker, features, rec)

	db, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := []api.Check{{Name: "store", Probe: db.Ping}}

	var dispatcher *dispatch.Dispatcher
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hc.Close()
		logger.Info("NATS connected", "url", cfg.NatsURL)
		checks = append(checks, api.Check{Name: "nats", Probe: func(context.Context) error {
			if !hc.Connected() {
				return errors.New("disconnected")
			}
			return nil
		}})

		deps := dispatch.Deps{Queue: queue, Publisher: hc, Progress: tracker, Checklist: features, Logger: logger}
		if cfg.SlackBotToken != "" {
			deps.Alerter = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
			logger.Info("slack alerts enabled", "channel", cfg.SlackChannel)
		} else {
			logger.Warn("slack not configured, critical alerts disabled")
		}
		dispatcher, err = dispatch.New(cfg.DispatchInterval, deps)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("NATS not configured, queued events stay on disk until acknowledged")
	}

	module, err := ingest.New(ingest.Config{
		Dir:                   cfg.TranscriptDir,
		Lock:                  lock,
		PollInterval:          cfg.PollInterval,
		StabilityDelay:        cfg.StabilityDelay,
		MaxFileBytes:          cfg.MaxFileBytes,
		MinMatchConfidence:    cfg.MinMatchConfidence,
		MaxUnresolvedAttempts: cfg.MaxUnresolvedAttempts,
	}, ingest.Deps{
		Store:     db,
		Notifier:  queue,
		Session:   sess,
		Progress:  tracker,
		Checklist: features,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := module.Start(ctx); err != nil {
		return err
	}

	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Sources{
		Agent:     ingest.AgentName,
		Session:   sess,
		Progress:  tracker,
		Checklist: features,
		Queue:     queue,
		Checks:    checks,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	if dispatcher != nil {
		g.Go(func() error { return dispatcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		module.Stop()
		module.Wait()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", "error", err)
		}
		if err := sess.MarkComplete(); err != nil {
			logger.Warn("mark session complete", "error", err)
		}
		return nil
	})

	logger.Info("caseflow ready", "transcript_dir", cfg.TranscriptDir, "data_dir", cfg.DataDir)
	err = g.Wait()
	logger.Info("caseflow stopped")
	return err
}

// announceSession records how the run started and surfaces recent history
// from the previous run.
func announceSession(logger *slog.Logger, tracker *progress.Tracker, features *checklist.Checklist, rec session.Recovery) {
	action, details := "session_start", "fresh session"
	if rec.IsRecovery {
		action = "session_recovery"
		details = fmt.Sprintf("resumed after interruption: %d processed, %d pending, %d errors, attempt %d",
			rec.Previous.ProcessedItems, rec.Previous.PendingItems, len(rec.Previous.Errors), rec.Previous.RecoveryAttempts+1)
	}
	if err := tracker.LogAction(ingest.AgentName, action, true, details); err != nil {
		logger.Warn("log progress", "action", action, "error", err)
	}
	if rec.IsRecovery {
		if err := features.MarkFeature(checklist.SessionRecovery, true, ""); err != nil {
			logger.Warn("mark feature", "feature", checklist.SessionRecovery, "error", err)
		}
	}
	logger.Debug("previous context", "summary", tracker.ContextSummary())
}

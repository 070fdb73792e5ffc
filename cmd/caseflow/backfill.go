package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/config"
	"github.com/MikeSquared-Agency/caseflow/internal/ingest"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/session"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
	"github.com/MikeSquared-Agency/caseflow/internal/transcript"
)

type backfillOptions struct {
	since  time.Time
	dryRun bool
}

type backfillResult struct {
	Files  int
	Notes  int
	Failed int
}

func newBackfillCmd(load loadFunc) *cobra.Command {
	var (
		since  string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "backfill <dir|file>...",
		Short: "Ingest historical transcripts once, without watching",
		Long:  "Walks the given files and directories and runs each supported transcript through the same pipeline as the watcher. Safe to repeat: notes are idempotent and unchanged files produce the same ids.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			opts := backfillOptions{dryRun: dryRun}
			if since != "" {
				opts.since, err = time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
			}

			files, err := discoverTranscripts(args, opts.since)
			if err != nil {
				return err
			}
			logger := setupLogging(cmd.ErrOrStderr(), cfg.LogLevel, "text")

			var res backfillResult
			if opts.dryRun {
				res = dryRunBackfill(logger, files)
			} else {
				res, err = runBackfill(cmd.Context(), cfg, logger, files)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "files=%d notes=%d failed=%d\n", res.Files, res.Notes, res.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only files modified on or after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse only; touch no store or queue")
	return cmd
}

// discoverTranscripts expands paths into supported files, oldest first.
func discoverTranscripts(paths []string, since time.Time) ([]string, error) {
	type found struct {
		path  string
		mtime time.Time
	}
	var files []found
	add := func(path string, info fs.FileInfo) {
		if !ingest.Supported(path) || info.ModTime().Before(since) {
			return
		}
		files = append(files, found{path: path, mtime: info.ModTime()})
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root, info)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			add(path, info)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func dryRunBackfill(logger *slog.Logger, files []string) backfillResult {
	var res backfillResult
	for _, path := range files {
		notes, err := transcript.ParseFile(path)
		if err != nil {
			logger.Warn("parse failed", "path", path, "error", err)
			res.Failed++
			continue
		}
		res.Files++
		res.Notes += len(notes)
		logger.Info("parsed", "path", path, "notes", len(notes))
	}
	return res
}

func runBackfill(ctx context.Context, cfg config.Config, logger *slog.Logger, files []string) (backfillResult, error) {
	var res backfillResult
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return res, fmt.Errorf("create data dir: %w", err)
	}
	lock, err := ingest.AcquireLock(lockPath(cfg))
	if errors.Is(err, ingest.ErrAlreadyRunning) {
		return res, errors.New("caseflow is running; drop files into its transcript directory instead")
	}
	if err != nil {
		return res, err
	}
	defer lock.Unlock()

	tracker, err := progress.Open(cfg.DataDir, logger)
	if err != nil {
		return res, err
	}
	features, err := checklist.Open(cfg.DataDir, logger)
	if err != nil {
		return res, err
	}
	queue, err := taskqueue.Open(cfg.DataDir, logger)
	if err != nil {
		return res, err
	}
	sess := session.New(cfg.DataDir, ingest.AgentName, logger)
	if _, err := sess.Initialize(); err != nil {
		return res, err
	}

	db, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return res, err
	}
	defer closeStore()

	module, err := ingest.New(ingest.Config{
		Dir:                   cfg.TranscriptDir,
		StabilityDelay:        -1,
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
		return res, err
	}

	before := sess.Snapshot().ProcessedItems
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		if err := module.HandleFile(ctx, path); err != nil {
			res.Failed++
			continue
		}
		res.Files++
	}
	res.Notes = sess.Snapshot().ProcessedItems - before

	if err := tracker.LogAction(ingest.AgentName, "backfill", res.Failed == 0,
		fmt.Sprintf("%d files, %d notes, %d failed", res.Files, res.Notes, res.Failed)); err != nil {
		logger.Warn("log progress", "error", err)
	}
	if err := sess.MarkComplete(); err != nil {
		logger.Warn("mark session complete", "error", err)
	}
	return res, ctx.Err()
}

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/caseflow/internal/checklist"
	"github.com/MikeSquared-Agency/caseflow/internal/ingest"
	"github.com/MikeSquared-Agency/caseflow/internal/progress"
	"github.com/MikeSquared-Agency/caseflow/internal/session"
	"github.com/MikeSquared-Agency/caseflow/internal/taskqueue"
)

func newStatusCmd(load loadFunc) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session, queue and recent progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			state, found, err := session.Read(cfg.DataDir, ingest.AgentName)
			if err != nil {
				return err
			}
			events, _, err := taskqueue.Read(cfg.DataDir)
			if err != nil {
				return err
			}
			doc, _, err := progress.Read(cfg.DataDir)
			if err != nil {
				return err
			}
			running, err := ingest.LockHeld(lockPath(cfg))
			if err != nil {
				return err
			}
			stats := queueStats(events)

			if asJSON {
				return writeJSON(cmd, map[string]any{
					"running": running,
					"session": state,
					"queue":   stats,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Running: %t\n", running)
			if !found {
				fmt.Fprintln(out, "Session: none recorded")
			} else {
				fmt.Fprintf(out, "Session: started %s, last activity %s\n",
					state.StartedAt.Format(time.RFC3339), state.LastActivity.Format(time.RFC3339))
				fmt.Fprintf(out, "  processed=%d pending=%d errors=%d recoveries=%d\n",
					state.ProcessedItems, state.PendingItems, len(state.Errors), state.RecoveryAttempts)
			}
			fmt.Fprintf(out, "Queue: %d total, %d unprocessed, %d processed\n", stats.Total, stats.Unprocessed, stats.Processed)
			if len(doc.Entries) > 0 {
				fmt.Fprintln(out)
				fmt.Fprint(out, progress.Summarize(doc.SessionID, doc.Entries))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func queueStats(events []taskqueue.PersistedEvent) taskqueue.Stats {
	s := taskqueue.Stats{Total: len(events)}
	for _, e := range events {
		if e.Processed {
			s.Processed++
		} else {
			s.Unprocessed++
		}
	}
	return s
}

func newQueueCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and acknowledge task queue events",
	}
	cmd.AddCommand(newQueueListCmd(load))
	cmd.AddCommand(newQueueAckCmd(load))
	return cmd
}

func newQueueListCmd(load loadFunc) *cobra.Command {
	var (
		all    bool
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued events (unprocessed only unless --all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			events, _, err := taskqueue.Read(cfg.DataDir)
			if err != nil {
				return err
			}
			if !all {
				pending := events[:0:0]
				for _, e := range events {
					if !e.Processed {
						pending = append(pending, e)
					}
				}
				events = pending
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			if asJSON {
				return writeJSON(cmd, events)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No events.")
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, e := range events {
				state := "pending"
				if e.Processed {
					state = "processed"
				}
				if e.Error != "" {
					state += " (error)"
				}
				rows = append(rows, []string{
					e.ID,
					e.EnqueuedAt.Format(time.RFC3339),
					e.Payload.WorkerName,
					strconv.Itoa(len(e.Payload.Notes)),
					strconv.Itoa(len(e.Payload.Insights)),
					state,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Enqueued", "Worker", "Notes", "Insights", "State"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include processed events")
	cmd.Flags().IntVar(&limit, "limit", 0, "show only the newest N events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func newQueueAckCmd(load loadFunc) *cobra.Command {
	var errMsg string

	cmd := &cobra.Command{
		Use:   "ack <event-id>",
		Short: "Mark a queued event processed (daemon must be stopped)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			lock, err := ingest.AcquireLock(lockPath(cfg))
			if errors.Is(err, ingest.ErrAlreadyRunning) {
				return errors.New("caseflow is running; stop it before acknowledging events by hand")
			}
			if err != nil {
				return err
			}
			defer lock.Unlock()

			logger := setupLogging(cmd.ErrOrStderr(), "warn", "text")
			q, err := taskqueue.Open(cfg.DataDir, logger)
			if err != nil {
				return err
			}
			var handlerErr error
			if errMsg != "" {
				handlerErr = errors.New(errMsg)
			}
			if err := q.MarkProcessed(args[0], handlerErr); err != nil {
				if errors.Is(err, taskqueue.ErrEventNotFound) {
					return fmt.Errorf("event %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Acknowledged %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&errMsg, "error", "", "record a handler error on the event")
	return cmd
}

func newChecklistCmd(load loadFunc) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "checklist",
		Short: "Show the feature verification checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			items, found, err := checklist.Read(cfg.DataDir)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, items)
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "No checklist yet; it is created on first run.")
				return nil
			}

			rows := make([][]string, 0, len(items))
			passing := 0
			for _, it := range items {
				mark := "no"
				if it.Passes {
					mark = "yes"
					passing++
				}
				checked := "-"
				if it.LastChecked != nil {
					checked = it.LastChecked.Format(time.RFC3339)
				}
				rows = append(rows, []string{it.ID, it.Category, mark, checked, strings.TrimSpace(it.Error)})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Feature", "Category", "Passes", "Last checked", "Error"}, rows, nil))
			fmt.Fprintf(out, "%d/%d passing\n", passing, len(items))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newCaseCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Manage worker cases in the configured store",
	}
	cmd.AddCommand(newCaseAddCmd(load))
	cmd.AddCommand(newCaseFindCmd(load))
	return cmd
}

func newCaseAddCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "add <worker name>",
		Short: "Create a case for a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, closeStore, err := openStore(cmd.Context(), cfg, setupLogging(io.Discard, "error", "text"))
			if err != nil {
				return err
			}
			defer closeStore()

			id, err := db.AddCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
}

func newCaseFindCmd(load loadFunc) *cobra.Command {
	var noteLimit int

	cmd := &cobra.Command{
		Use:   "find <worker name>",
		Short: "Show which case a transcript name resolves to and its latest notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, closeStore, err := openStore(cmd.Context(), cfg, setupLogging(io.Discard, "error", "text"))
			if err != nil {
				return err
			}
			defer closeStore()

			match, err := db.FindCaseByWorkerName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if match == nil {
				fmt.Fprintln(out, "No matching case.")
				return nil
			}
			verdict := "accepted"
			if match.Confidence < cfg.MinMatchConfidence {
				verdict = "below threshold"
			}
			fmt.Fprintf(out, "%s\t%s\t%.2f (%s)\n", match.CaseID, match.WorkerName, match.Confidence, verdict)

			if noteLimit <= 0 {
				return nil
			}
			notes, err := db.NotesForCase(cmd.Context(), match.CaseID, noteLimit)
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				fmt.Fprintln(out, "No notes filed yet.")
				return nil
			}
			rows := make([][]string, 0, len(notes))
			for _, n := range notes {
				rows = append(rows, []string{
					n.Timestamp.Format("2006-01-02 15:04"),
					n.Summary,
					strings.Join(n.RiskFlags, ", "),
					filepath.Base(n.SourceFile),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"When", "Summary", "Flags", "Source"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().IntVar(&noteLimit, "notes", 5, "number of recent notes to show (0 to skip)")
	return cmd
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/caseflow/internal/casenote"
	"github.com/MikeSquared-Agency/caseflow/internal/insight"
	"github.com/MikeSquared-Agency/caseflow/internal/transcript"
)

type parsedNote struct {
	Note     casenote.DiscussionNote `json:"note"`
	Insights []casenote.Insight      `json:"insights"`
}

func newParseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a transcript and print the notes and insights it would produce",
		Long:  "Runs the transcript parser and insight rules on a file without touching any store. Case ids are left empty.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			notes, err := transcript.ParseFile(path)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			results := make([]parsedNote, 0, len(notes))
			for _, n := range notes {
				dn := casenote.DiscussionNote{
					ID:                      casenote.NoteID(path, n.WorkerName, n.Summary, n.Timestamp),
					WorkerName:              n.WorkerName,
					Timestamp:               n.Timestamp,
					RawText:                 n.RawText,
					Summary:                 n.Summary,
					NextSteps:               n.NextSteps,
					RiskFlags:               n.RiskFlags,
					UpdatesCompliance:       n.UpdatesCompliance,
					UpdatesRecoveryTimeline: n.UpdatesRecoveryTimeline,
					SourceFile:              path,
				}
				results = append(results, parsedNote{Note: dn, Insights: insight.Derive(dn, now)})
			}

			if asJSON {
				return writeJSON(cmd, results)
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No notes found.")
				return nil
			}
			for i, r := range results {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s  %s\n", r.Note.WorkerName, r.Note.Timestamp.Format(time.RFC3339))
				fmt.Fprintf(out, "  Summary: %s\n", r.Note.Summary)
				if len(r.Note.NextSteps) > 0 {
					fmt.Fprintf(out, "  Next steps: %s\n", strings.Join(r.Note.NextSteps, "; "))
				}
				if len(r.Note.RiskFlags) > 0 {
					fmt.Fprintf(out, "  Risk flags: %s\n", strings.Join(r.Note.RiskFlags, ", "))
				}
				for _, in := range r.Insights {
					fmt.Fprintf(out, "  [%s/%s] %s\n", in.Area, in.Severity, in.Summary)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/caseflow/internal/config"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "caseflow",
		Short:         "Workplace injury transcript ingestion",
		Long:          "caseflow watches a directory of case-call transcripts, files structured notes against worker cases and queues them for downstream delivery.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (default $"+config.PathEnv+")")

	load := func() (config.Config, error) { return config.Load(configPath) }

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(load))
	cmd.AddCommand(newStatusCmd(load))
	cmd.AddCommand(newQueueCmd(load))
	cmd.AddCommand(newChecklistCmd(load))
	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newCaseCmd(load))
	cmd.AddCommand(newEventsCmd(load))
	cmd.AddCommand(newBackfillCmd(load))
	return cmd
}

type loadFunc func() (config.Config, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "caseflow %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func setupLogging(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

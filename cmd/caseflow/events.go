package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/caseflow/internal/hermes"
)

func newEventsCmd(load loadFunc) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print delivered note events from NATS until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.NatsURL == "" {
				return errors.New("nats_url is not configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, setupLogging(io.Discard, "error", "text"))
			if err != nil {
				return err
			}
			defer hc.Close()

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			err = hc.Subscribe(subject, func(subj string, data []byte) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s %s\n", subj, data)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", subject)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", hermes.SubjectNotesCreated, "subject to subscribe to")
	return cmd
}

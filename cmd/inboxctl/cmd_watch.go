package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/scheduler"
)

func newWatchCmd(flags *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync on a schedule until interrupted",
		Long: `Sync once, then on every tick of the cron schedule until SIGINT or
SIGTERM. Schedules accept five or six fields or descriptors such as
"@every 5m". Failed cycles are retried with backoff between ticks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, modeDaemon, stderr, func(ctx context.Context, a *app) error {
				if !a.remote {
					return errNoRemote
				}
				if schedule == "" {
					schedule = a.cfg.Sync.Schedule
				}

				s := scheduler.New(
					scheduler.WithLogger(a.logger),
					scheduler.WithTimeout(a.cfg.Sync.Timeout),
					scheduler.WithRunOnStart(true),
				)
				if err := s.Add("inbox:"+a.cfg.API.User, schedule, a.inbox); err != nil {
					return err
				}

				id := a.inbox.AddListener(inbox.ListenerFunc(func() {
					c := a.inbox.Counts()
					fmt.Fprintf(stdout, "inbox updated: %d messages, %d unread\n", c.Total, c.Unread)
				}))
				defer a.inbox.RemoveListener(id)

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return s.Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule (default: sync.schedule)")
	return cmd
}

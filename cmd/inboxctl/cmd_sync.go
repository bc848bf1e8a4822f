package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/retry"
)

// closeTimeout bounds draining the inbox when a command exits.
const closeTimeout = 30 * time.Second

var (
	errSyncRetry    = errors.New("sync failed, will retry")
	errSyncTerminal = errors.New("sync failed permanently")
)

// withApp opens the inbox, runs fn and closes the inbox, reporting errors
// to stderr.
func withApp(cmd *cobra.Command, flags *rootFlags, mode appMode, stderr io.Writer, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, flags, mode)
	if err != nil {
		fmt.Fprintf(stderr, "inboxctl %s: %v\n", cmd.Name(), err)
		return errExit
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		a.logger.Warn("close inbox", "error", err)
	}

	if runErr != nil {
		if !errors.Is(runErr, errExit) {
			fmt.Fprintf(stderr, "inboxctl %s: %v\n", cmd.Name(), runErr)
		}
		return errExit
	}
	return nil
}

func newSyncCmd(flags *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var backoff time.Duration
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the message list and report local changes",
		Long: `Run one sync cycle against the API.

Transient failures (network errors, 5xx, 429) are retried with exponential
backoff up to sync.max_retries times. Client errors and malformed responses
fail immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, modeOneShot, stderr, func(ctx context.Context, a *app) error {
				if !a.remote {
					return errNoRemote
				}
				if err := syncWithRetry(ctx, a, backoff); err != nil {
					return err
				}
				c := a.inbox.Counts()
				fmt.Fprintf(stdout, "synced: %d messages, %d unread\n", c.Total, c.Unread)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&backoff, "backoff", 2*time.Second, "delay before the first retry")
	return cmd
}

// syncWithRetry runs sync cycles until one succeeds or the policy gives up.
func syncWithRetry(ctx context.Context, a *app, backoff time.Duration) error {
	policy := retry.DefaultPolicy()
	policy.MaxRetries = a.cfg.Sync.MaxRetries
	policy.InitialBackoff = backoff
	policy.MaxBackoff = max(backoff, time.Minute)

	return policy.Do(ctx, func(ctx context.Context) error {
		switch v := a.inbox.RunSyncCycle(ctx); v {
		case inbox.VerdictSuccess:
			return nil
		case inbox.VerdictTerminal:
			return retry.Permanent(errSyncTerminal)
		default:
			a.logger.Info("sync cycle will be retried", "verdict", v.String())
			return errSyncRetry
		}
	})
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newMarkCmd builds the read, unread and delete commands.
func newMarkCmd(flags *rootFlags, action, short string, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <id>...",
		Short: short,
		Long: short + `.

The change is applied locally and written to the store before the command
exits. With an API configured and sync.state_sync enabled, read and delete
are also reported to the server.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, modeOneShot, stderr, func(_ context.Context, a *app) error {
				var ids []string
				for _, id := range args {
					if _, err := a.inbox.Message(id); err != nil {
						fmt.Fprintf(stderr, "inboxctl %s: message %q not found\n", action, id)
						continue
					}
					ids = append(ids, id)
				}
				if len(ids) == 0 {
					return errExit
				}

				switch action {
				case "read":
					a.inbox.MarkRead(ids...)
				case "unread":
					a.inbox.MarkUnread(ids...)
				case "delete":
					a.inbox.Delete(ids...)
				}
				fmt.Fprintf(stdout, "%s: %d message(s)\n", action, len(ids))
				return nil
			})
		},
	}
}

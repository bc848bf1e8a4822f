package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rbaliyan/inbox"
	"github.com/rbaliyan/inbox/content"
	"github.com/rbaliyan/inbox/store"
)

func newListCmd(flags *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		unread, read bool
		search       string
		kind         string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if unread && read {
				fmt.Fprintln(stderr, "inboxctl list: --unread and --read are mutually exclusive")
				return errExit
			}
			var preds []inbox.Predicate
			if search != "" {
				preds = append(preds, store.TitleContains(search))
			}
			if kind != "" {
				k, err := parseKind(kind)
				if err != nil {
					fmt.Fprintf(stderr, "inboxctl list: %v\n", err)
					return errExit
				}
				preds = append(preds, content.Predicate(k))
			}
			pred := store.And(preds...)

			return withApp(cmd, flags, modeOneShot, stderr, func(_ context.Context, a *app) error {
				var msgs []inbox.Message
				switch {
				case unread:
					msgs = a.inbox.UnreadMessages(pred)
				case read:
					msgs = a.inbox.ReadMessages(pred)
				default:
					msgs = a.inbox.Messages(pred)
				}
				return printMessages(stdout, msgs)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread messages")
	cmd.Flags().BoolVar(&read, "read", false, "only read messages")
	cmd.Flags().StringVar(&search, "search", "", "only messages whose title contains this text")
	cmd.Flags().StringVar(&kind, "kind", "", "only messages of this content kind (html, plain, native)")
	return cmd
}

func newShowCmd(flags *rootFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one cached message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, modeOneShot, stderr, func(_ context.Context, a *app) error {
				m, err := a.inbox.Message(args[0])
				if errors.Is(err, inbox.ErrNotFound) {
					return fmt.Errorf("message %q not found", args[0])
				}
				if err != nil {
					return err
				}
				return printMessage(stdout, m)
			})
		},
	}
}

func parseKind(s string) (content.Kind, error) {
	for _, k := range []content.Kind{content.KindHTML, content.KindPlain, content.KindNative} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown content kind %q", s)
}

func printMessages(w io.Writer, msgs []inbox.Message) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tSENT\tTITLE")
	for _, m := range msgs {
		state := "read"
		if m.Unread {
			state = "unread"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, state, m.SentAt.Format(time.DateTime), m.Title)
	}
	return tw.Flush()
}

func printMessage(w io.Writer, m inbox.Message) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", m.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", m.Title)
	if sub := m.Subtitle(); sub != "" {
		fmt.Fprintf(tw, "Subtitle:\t%s\n", sub)
	}
	fmt.Fprintf(tw, "Unread:\t%t\n", m.Unread)
	fmt.Fprintf(tw, "Sent:\t%s\n", m.SentAt.Format(time.RFC3339))
	if m.ExpiresAt != nil {
		fmt.Fprintf(tw, "Expires:\t%s\n", m.ExpiresAt.Format(time.RFC3339))
	}
	if ct, err := content.Of(m); err == nil {
		fmt.Fprintf(tw, "Content:\t%s\n", ct)
	}
	fmt.Fprintf(tw, "Body:\t%s\n", m.BodyURL)
	if m.ListIconURL != "" {
		fmt.Fprintf(tw, "Icon:\t%s\n", m.ListIconURL)
	}
	return tw.Flush()
}

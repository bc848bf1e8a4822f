// inboxctl syncs and inspects an offline inbox from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// errExit is returned by RunE functions that already reported their error.
var errExit = errors.New("exit")

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	envFile    string
}

// run executes the CLI with args and returns the exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "inboxctl: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Sync and inspect an offline inbox",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "inboxctl: unknown command %q\n", args[0])
			return errExit
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"path to a TOML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env",
		"dotenv file loaded before reading INBOX_* variables")
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(
		newSyncCmd(flags, stdout, stderr),
		newListCmd(flags, stdout, stderr),
		newShowCmd(flags, stdout, stderr),
		newMarkCmd(flags, "read", "Mark messages read", stdout, stderr),
		newMarkCmd(flags, "unread", "Mark messages unread", stdout, stderr),
		newMarkCmd(flags, "delete", "Delete messages", stdout, stderr),
		newWatchCmd(flags, stdout, stderr),
	)
	return root
}

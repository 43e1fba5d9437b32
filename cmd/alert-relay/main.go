// Command alert-relay watches an inbox of alert files (or the message table)
// and posts each new alert to the configured social feed.
//
//	alert-relay                 run the relay until SIGINT/SIGTERM
//	alert-relay create --from   author a new alert file from a template
//	alert-relay version         print build metadata
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alertstream/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	root := &cobra.Command{
		Use:           "alert-relay",
		Short:         "Relay alert files to a social feed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), flags, cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the relay until interrupted (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), flags, cmd)
		},
	}
	for _, c := range []*cobra.Command{root, run} {
		c.Flags().StringVar(&flags.inbox, "inbox", "", "inbox directory (overrides INBOX_ROOT)")
		c.Flags().IntVar(&flags.interval, "interval", 0, "poll interval in seconds (overrides ALERT_CHECK_INTERVAL)")
	}

	root.AddCommand(run, newCreateCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build metadata",
		Run: func(cmd *cobra.Command, args []string) {
			b := config.NewBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "alert-relay %s (commit %s, built %s)\n", b.Version, b.Commit, b.BuildTime)
		},
	}
}

package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	syncErrors "github.com/c0deZ3R0/carsync/errors"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued commands once",
		Long: `Probe the remote service and, if it is reachable, replay every queued
command in the order it was captured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	app, err := Open(opts.Config, opts.Logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	report, err := app.Engine.Replay(ctx)
	if err != nil {
		if syncErrors.IsConnectivity(err) {
			pending, _ := app.Engine.Pending(ctx)
			fmt.Fprintf(out, "Remote service is unreachable; %d command(s) remain queued.\n", pending)
			return nil
		}
		return err
	}

	if len(report.Outcomes) == 0 {
		fmt.Fprintln(out, "Nothing to sync.")
		return nil
	}
	fmt.Fprintln(out, report.String())
	for _, o := range report.Outcomes {
		status := "ok"
		switch {
		case o.DeadLettered:
			status = "dead-lettered"
		case o.Deferred:
			status = "deferred"
		case o.Requeued:
			status = "requeued"
		}
		fmt.Fprintf(out, "  %-13s %s\n", status, o.Command)
	}
	return nil
}

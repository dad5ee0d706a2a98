package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/carsync/cache"
	"github.com/c0deZ3R0/carsync/model"
)

// QueueOptions holds flags for the queue command.
type QueueOptions struct {
	*RootOptions
	Format string
	Limit  int
}

// QueueReport is the structured output of the queue command.
type QueueReport struct {
	Policy      string             `json:"policy" yaml:"policy"`
	MaxAttempts int                `json:"maxAttempts" yaml:"maxAttempts"`
	Pending     int                `json:"pending" yaml:"pending"`
	Commands    []model.Command    `json:"commands" yaml:"commands"`
	DeadLetters []cache.DeadLetter `json:"deadLetters" yaml:"deadLetters"`
}

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queued commands and dead letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.Format); err != nil {
				return err
			}
			return runQueue(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show at most this many queued commands (0 = all)")

	return cmd
}

func runQueue(opts *QueueOptions, cmd *cobra.Command) error {
	app, err := Open(opts.Config, opts.Logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	report, err := buildQueueReport(context.Background(), app, opts.Limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format != "text" {
		return writeStructured(out, opts.Format, report)
	}

	fmt.Fprintf(out, "Failure policy: %s (max attempts %d)\n", report.Policy, report.MaxAttempts)
	fmt.Fprintf(out, "Pending commands: %d\n", report.Pending)
	for i, c := range report.Commands {
		fmt.Fprintf(out, "  %d. %s  queued %s", i+1, c, c.EnqueuedAt.Format("2006-01-02 15:04:05"))
		if c.Attempts > 0 {
			fmt.Fprintf(out, "  attempts %d", c.Attempts)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Dead letters: %d\n", len(report.DeadLetters))
	for _, d := range report.DeadLetters {
		fmt.Fprintf(out, "  %s: %s\n", d.Command, d.Reason)
	}
	return nil
}

func buildQueueReport(ctx context.Context, app *App, limit int) (*QueueReport, error) {
	report := &QueueReport{
		Policy:      app.Engine.Policy().String(),
		MaxAttempts: app.Engine.MaxAttempts(),
		Commands:    []model.Command{},
		DeadLetters: []cache.DeadLetter{},
	}

	pending, err := app.Queue.Size(ctx)
	if err != nil {
		return nil, err
	}
	report.Pending = pending

	if p, ok := app.Queue.(cache.Peeker); ok {
		if report.Commands, err = p.Peek(ctx, limit); err != nil {
			return nil, err
		}
	}
	if report.DeadLetters, err = app.DeadLetters.List(ctx); err != nil {
		return nil, err
	}
	if report.Commands == nil {
		report.Commands = []model.Command{}
	}
	if report.DeadLetters == nil {
		report.DeadLetters = []cache.DeadLetter{}
	}
	return report, nil
}

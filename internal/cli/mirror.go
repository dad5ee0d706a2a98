package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/carsync/model"
)

// MirrorOptions holds flags for the mirror command.
type MirrorOptions struct {
	*RootOptions
	Format string
}

// NewMirrorCommand creates the mirror command.
func NewMirrorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MirrorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mirror [endpoint]",
		Short: "Inspect data saved locally",
		Long: `Without arguments, list the endpoints that have local data.
With an endpoint name, print its saved items.

Examples:
  carsync mirror
  carsync mirror createManufacturer --format yaml`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: mirrorEndpoints(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.Format); err != nil {
				return err
			}
			if len(args) == 1 && !slices.Contains(mirrorEndpoints(), args[0]) {
				return fmt.Errorf("unknown endpoint %q (want one of %v)", args[0], mirrorEndpoints())
			}
			return runMirror(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "json", "output format (text|json|yaml)")

	return cmd
}

// mirrorEndpoints lists every endpoint the engine may write to.
func mirrorEndpoints() []string {
	out := []string{model.SnapshotEndpoint}
	for _, op := range model.Operations() {
		out = append(out, op.Endpoint())
	}
	return out
}

func runMirror(opts *MirrorOptions, cmd *cobra.Command, args []string) error {
	app, err := Open(opts.Config, opts.Logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		endpoints, err := app.Mirror.Endpoints(ctx)
		if err != nil {
			return err
		}
		if opts.Format != "text" {
			return writeStructured(out, opts.Format, endpoints)
		}
		if len(endpoints) == 0 {
			fmt.Fprintln(out, "No local data.")
		}
		for _, e := range endpoints {
			fmt.Fprintln(out, e)
		}
		return nil
	}

	raw, err := app.Mirror.Read(ctx, args[0])
	if err != nil {
		return err
	}
	items := make([]any, 0, len(raw))
	for _, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return err
		}
		items = append(items, v)
	}

	if opts.Format != "text" {
		return writeStructured(out, opts.Format, items)
	}
	for _, v := range items {
		line, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(line))
	}
	return nil
}

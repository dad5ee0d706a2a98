package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/carsync/model"
	"github.com/c0deZ3R0/carsync/reconcile"
)

const helpText = `Available commands:
  c  create a manufacturer
  l  list manufacturers
  d  delete a manufacturer and its models
  v  view the models of a manufacturer
  a  add a model to a manufacturer
  h  show this help
  q  quit`

func runConsole(opts *RootOptions, cmd *cobra.Command) error {
	app, err := Open(opts.Config, opts.Logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(context.Background()); err != nil {
			opts.Logger.Error("Shutdown failed", "error", err)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if interval := opts.Config.Replay.Interval; interval > 0 {
		_ = app.Engine.Subscribe(func(r *reconcile.ReplayReport) {
			opts.Logger.Info("Background replay finished", "report", r.String())
		})
		if err := app.Engine.StartAutoReplay(ctx, interval); err != nil {
			return err
		}
	}

	return NewConsole(app.Engine, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
}

// Console reads single-letter commands and prints the results as plain lines.
type Console struct {
	engine *reconcile.Engine
	in     *bufio.Scanner
	out    io.Writer
}

func NewConsole(engine *reconcile.Engine, in io.Reader, out io.Writer) *Console {
	return &Console{engine: engine, in: bufio.NewScanner(in), out: out}
}

// Run loops until "q", end of input or ctx is done. Operation errors are printed
// and the loop continues.
func (c *Console) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		command, ok := c.ask("Enter command (c / l / d / v / a / h / q): ")
		if !ok {
			return c.in.Err()
		}

		var (
			res *reconcile.Result
			err error
		)
		switch command {
		case "c":
			name, _ := c.ask("Enter manufacturer name: ")
			res, err = c.engine.CreateManufacturer(ctx, name)
		case "l":
			res, err = c.engine.ListManufacturers(ctx)
		case "d":
			id, _ := c.ask("Enter manufacturer ID to delete: ")
			res, err = c.engine.DeleteManufacturerByID(ctx, id)
		case "v":
			id, _ := c.ask("Enter manufacturer ID to view models: ")
			res, err = c.engine.ViewModelsByManufacturerID(ctx, id)
		case "a":
			id, _ := c.ask("Enter manufacturer ID to add a model: ")
			name, _ := c.ask("Enter model name: ")
			res, err = c.engine.AddModelByManufacturerID(ctx, id, name)
		case "h":
			fmt.Fprintln(c.out, helpText)
			continue
		case "q":
			fmt.Fprintln(c.out, "Exiting... Goodbye!")
			return nil
		case "":
			continue
		default:
			fmt.Fprintln(c.out, "Invalid command. Type 'h' for help.")
			continue
		}

		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			continue
		}
		c.print(res)
	}
}

func (c *Console) ask(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

func (c *Console) print(res *reconcile.Result) {
	if !res.Online {
		fmt.Fprintln(c.out, "You are currently offline. Saving data locally...")
	}

	switch p := res.Payload.(type) {
	case model.Manufacturer:
		fmt.Fprintf(c.out, "Manufacturer created: %s (%s)\n", p.Name, p.ID)
	case []model.Manufacturer:
		if len(p) == 0 {
			fmt.Fprintln(c.out, "No manufacturers found.")
		}
		for _, m := range p {
			fmt.Fprintf(c.out, "%s  %s  (%d models)\n", m.ID, m.Name, m.ModelCount)
		}
	case model.DeleteResult:
		fmt.Fprintf(c.out, "Manufacturer %s deleted (%d models removed)\n", p.ManufacturerID, len(p.DeletedModelIDs))
	case model.CarModel:
		fmt.Fprintf(c.out, "Model added: %s (%s) to manufacturer %s\n", p.Name, p.ID, p.ManufacturerID)
	case []model.CarModel:
		if len(p) == 0 {
			fmt.Fprintln(c.out, "No models found.")
		}
		for _, m := range p {
			fmt.Fprintf(c.out, "%s  %s\n", m.ID, m.Name)
		}
	}

	if res.Replay != nil {
		fmt.Fprintln(c.out, "Server is online. Executed cached commands:", res.Replay.String())
		for _, o := range res.Replay.Outcomes {
			switch {
			case o.Deferred:
				fmt.Fprintf(c.out, "  held back: %s: %v\n", o.Command, o.Err)
			case o.Err != nil:
				fmt.Fprintf(c.out, "  failed: %s: %v\n", o.Command, o.Err)
			}
		}
	}
}

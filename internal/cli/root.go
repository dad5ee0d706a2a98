// Package cli implements the carsync command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/carsync/config"
	"github.com/c0deZ3R0/carsync/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Verbose    bool

	// Set by PersistentPreRunE.
	Config *config.Config
	Logger *logging.Logger
}

// NewRootCommand creates the root command. Run without a subcommand it starts the
// interactive console.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "carsync",
		Short: "Car manufacturer console with offline support",
		Long: `Manage car manufacturers and their models against the remote service.

While the service is unreachable, operations are saved locally and queued;
they are replayed in order the next time an operation reaches the service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(opts, cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewMirrorCommand(opts))

	return cmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.EnvFile, err)
		}
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}

	o.Config = cfg
	o.Logger = logging.NewLoggerWithWriter(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(o.Logger.Logger)
	return nil
}

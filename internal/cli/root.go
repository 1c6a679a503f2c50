// Package cli implements the housecal command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"housecal/internal/config"
	appLog "housecal/internal/log"
	"housecal/internal/schedule"
	"housecal/internal/store"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "/etc/housecal/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string // overrides the config file when set
	Verbose    bool
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the housecal CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "housecal",
		Short: "Household calendar and chore scheduler",
		Long: `housecal keeps a family's calendar entries and chores.

Recurring templates are materialized into dated occurrences 30 days back and
60 days ahead of today. The window moves with the clock on every refresh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewTemplatesCommand(opts))
	cmd.AddCommand(NewStopFutureCommand(opts))
	cmd.AddCommand(NewDeleteAllCommand(opts))
	cmd.AddCommand(NewViewCommand(opts))

	return cmd
}

// app is the wiring shared by every command.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *schedule.Engine
}

// openApp loads the config, opens the database and builds the engine. The
// view is empty until the first Reconcile.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	level := appLog.ParseLevel(cfg.LogLevel)
	if opts.Verbose {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open database", err)
	}
	engine := schedule.NewEngine(st,
		schedule.WithLocation(cfg.Location()),
		schedule.WithWindow(cfg.RecurWindow()))

	appLog.Debug("app ready", "config", opts.ConfigPath, "database", cfg.Database, "timezone", cfg.Timezone)
	return &app{cfg: cfg, store: st, engine: engine}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		appLog.Error("error closing database", err)
	}
}

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"housecal/internal/config"
	"housecal/internal/ics"
	appLog "housecal/internal/log"
	"housecal/internal/refresh"
	"housecal/internal/web"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic refresh",
		Long: `Serve the JSON API and re-run reconciliation on the configured cron
schedule so the materialization window follows the calendar.

Example:
  housecal serve --config ./housecal.yaml --listen 0.0.0.0:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Listen != "" {
		a.cfg.Listen = opts.Listen
	}

	appLog.Info("housecal starting",
		"listen", a.cfg.Listen,
		"timezone", a.cfg.Timezone,
		"database", a.cfg.Database,
		"refresh", a.cfg.RefreshCron,
		"back_days", a.cfg.Window.BackDays,
		"ahead_days", a.cfg.Window.AheadDays,
		"ics_count", len(a.cfg.ICS),
	)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := a.engine.Reconcile(ctx); err != nil {
		return WrapExitError(ExitFailure, "initial reconcile failed", err)
	}

	feed := ics.NewFeed(ics.NewFetcher(a.cfg.ICSCacheDir, nil), icsSources(a.cfg), a.cfg.Location(), 0)

	refresher, err := refresh.New(a.cfg.RefreshCron, a.cfg.Location(), a.engine, refresh.WithHook(feed.Invalidate))
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid refresh schedule", err)
	}
	refresher.Start(ctx)
	defer refresher.Stop()

	srv := web.NewServer(a.cfg, a.engine, a.store, feed)
	if err := srv.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "http server failed", err)
	}
	appLog.Info("housecal exiting")
	return nil
}

func icsSources(cfg *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		if c.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL})
	}
	return out
}

package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/notifyer/notifyer/internal/api"
	"github.com/notifyer/notifyer/internal/config"
	"github.com/notifyer/notifyer/internal/runner"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server"},
	Short:   "Start the Notifyer server",
	Long: `Start Notifyer in serve mode: an HTTP API for health, metrics and
manual triggers, plus the built-in scheduler that delivers a note every
configured interval.

Example:
  notifyer serve --config config.yaml

The server listens on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if serveFlags.Host != "" {
		a.cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		a.cfg.Server.HTTPPort = serveFlags.Port
	}

	// Reload config edits while running; the next invocation picks up
	// the new section list and schedule.
	watcher, err := config.NewWatcher(a.loader, a.logger)
	if err != nil {
		a.logger.Warn("config watcher unavailable", "error", err.Error())
	} else {
		defer watcher.Stop()
	}

	srv := api.NewServer(a.cfg.Server, a.runner, a.metrics, a.logger)

	schedulerDone := make(chan struct{})
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go a.runScheduler(schedulerCtx, schedulerDone)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-api.SetupSignalHandler():
		a.logger.Info("shutting down", "signal", sig.String())
	}

	stopScheduler()
	<-schedulerDone
	return srv.Shutdown()
}

// runScheduler delivers a note every configured interval. Ticks that
// land while an invocation is still running are skipped.
func (a *app) runScheduler(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	cfg := a.loader.Get()
	if !cfg.Schedule.Enabled {
		a.logger.Info("scheduler disabled")
		return
	}

	interval := cfg.Schedule.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	a.logger.Info("scheduler started", "interval", interval.String(), "section", cfg.Schedule.Section)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := a.loader.Get()
			runCtx, cancel := context.WithTimeout(ctx, current.Auth.Timeout)
			err := a.runner.Run(runCtx, current.Schedule.Section)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, runner.ErrBusy):
				a.logger.Warn("scheduled run skipped, invocation in flight")
			default:
				a.logger.Error("scheduled run failed", "error", err.Error())
			}
			if next := current.Schedule.Interval; next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				a.logger.Info("scheduler interval updated", "interval", interval.String())
			}
		}
	}
}

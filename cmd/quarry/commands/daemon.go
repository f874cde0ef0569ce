package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/daemon"
	"github.com/quarrylabs/quarry/logger"
)

// DaemonCmd runs the scheduling ticker and the import worker pool.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the import daemon",
	Long: `Run the import daemon: a ticker queues sources whose schedule is due
and a worker pool drains the queue batch by batch.

The daemon watches its configuration file and logs a notice when it
changes; a restart applies the new values.

Examples:
  quarry daemon               # Run with the configured worker count
  quarry daemon --workers 4   # Override the worker count`,
	RunE: runDaemon,
}

var daemonWorkersFlag int

func init() {
	DaemonCmd.Flags().IntVar(&daemonWorkersFlag, "workers", 0, "Number of concurrent import workers (0 = configured value)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	app, err := newApp("")
	if err != nil {
		return err
	}
	defer app.Close()

	workers := app.Config.Daemon.Workers
	if daemonWorkersFlag > 0 {
		workers = daemonWorkersFlag
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ticker := daemon.NewTicker(ctx, app.Sources, app.Locks, daemon.TickerConfig{
		Interval: time.Duration(app.Config.Daemon.TickerIntervalSeconds) * time.Second,
	}, nil, logger.Logger)

	pool := daemon.NewPool(ctx, app.Sources, app.Orchestrator, daemon.PoolConfig{
		Workers:      workers,
		PollInterval: time.Duration(app.Config.Daemon.PollIntervalSeconds) * time.Second,
	}, logger.Logger)

	if configPath := config.GetViper().ConfigFileUsed(); configPath != "" {
		watcher, err := config.NewConfigWatcher(configPath)
		if err != nil {
			logger.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(cfg *config.Config) error {
				logger.Infow("Configuration changed; restart the daemon to apply new worker settings")
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	ticker.Start()
	pool.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down import daemon")
	ticker.Stop()
	pool.Stop()
	return nil
}

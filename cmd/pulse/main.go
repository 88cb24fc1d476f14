package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/livinlefevreloca/pulse/internal/config"
	"github.com/livinlefevreloca/pulse/internal/db"
	"github.com/livinlefevreloca/pulse/internal/logging"
	"github.com/livinlefevreloca/pulse/internal/metrics"
	"github.com/livinlefevreloca/pulse/internal/scheduler"
	"github.com/livinlefevreloca/pulse/internal/syncer"
)

const (
	shutdownTimeout = 30 * time.Second
	pruneTaskName   = "pulse.history-prune"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "history" {
		if err := runHistory(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "pulse history:", err)
			os.Exit(1)
		}
		return
	}

	// Parse command-line flags
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	watch := flag.Bool("watch", true, "Reload [[tasks]] when the configuration file changes")
	flag.Parse()

	if err := run(*configFile, *watch); err != nil {
		slog.Error("pulse stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configFile string, watch bool) error {
	// Load configuration
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize structured logger
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting pulse",
		"config_file", configFile,
		"heartbeat_interval", cfg.Scheduler.HeartbeatInterval,
		"tasks", len(cfg.Tasks))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observers []scheduler.RunObserver

	// Execution history
	var (
		database *db.DB
		history  *syncer.Syncer
	)
	if cfg.History.Enabled {
		logger.Info("opening history database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
		database, err = db.OpenWithConfig(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer database.Close()

		version, err := database.CurrentVersion()
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}
		logger.Info("database schema ready", "version", version)

		history, err = syncer.NewSyncer(cfg.Syncer, logger)
		if err != nil {
			return fmt.Errorf("failed to create syncer: %w", err)
		}
		history.Start(database)
		observers = append(observers, history)
	}

	// Metrics
	registry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder, err := metrics.NewRecorder(registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		observers = append(observers, recorder)
	}

	if wd := newWatchdog(logger); wd != nil {
		logger.Info("systemd watchdog enabled", "interval", wd.interval)
		observers = append(observers, wd)
	}

	sched, err := scheduler.NewScheduler(cfg.Scheduler, logger, observers...)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		registry.MustRegister(metrics.NewInboxCollector(sched.InboxStats))
		if history != nil {
			registry.MustRegister(metrics.NewSyncerCollector(history.GetStats))
		}
		metricsServer = metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Port, registry, logger)
		if err := metricsServer.Start(); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if database != nil && cfg.History.Retention > 0 {
		prune := pruneTask(database, cfg.History.Retention, logger)
		if _, err := sched.AddTask(prune, pruneTaskName, cfg.History.PruneEvery, nil); err != nil {
			return fmt.Errorf("failed to register history pruning: %w", err)
		}
	}

	tasks := newReconciler(sched, logger)
	if err := tasks.Apply(cfg.Tasks); err != nil {
		logger.Error("some tasks could not be registered", "error", err)
	}

	if watch && configFile != "" {
		w := config.NewWatcher(configFile, func(next *config.Config) {
			if err := tasks.Apply(next.Tasks); err != nil {
				logger.Error("some tasks could not be reconciled", "error", err)
			}
			logger.Info("tasks reconciled; other settings apply on restart", "tasks", tasks.Len())
		}, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("systemd notify failed", "error", err)
	}
	logger.Info("pulse is running", "tasks", tasks.Len())

	// Wait for interrupt signal
	<-ctx.Done()

	logger.Info("shutting down gracefully")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	stopErr := sched.Stop(shutdownCtx)
	if stopErr != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", stopErr))
	}

	// The loop may still report runs if it did not stop in time
	if history != nil {
		if stopErr != nil {
			logger.Warn("skipping history flush, heartbeat loop still running")
		} else if err := history.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("flush history: %w", err))
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info("pulse stopped")
	return errors.Join(errs...)
}

// runHistory prints recorded runs from the history database
func runHistory(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to configuration file (TOML)")
	name := fs.String("task", "", "Show individual runs of this task instead of a summary")
	limit := fs.Int("limit", 20, "Maximum number of runs to show with -task")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		return err
	}

	dbConfig := cfg.Database
	dbConfig.SkipMigrations = true
	database, err := db.OpenWithConfig(dbConfig)
	if err != nil {
		return err
	}
	defer database.Close()

	return printHistory(database, *name, *limit, out)
}

package main

import (
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/livinlefevreloca/pulse/internal/scheduler"
)

// watchdog pings the systemd watchdog from the heartbeat loop, so a loop
// stalled by a stuck task gets the service restarted.
type watchdog struct {
	interval time.Duration
	last     time.Time
	notify   func(state string) error
	logger   *slog.Logger
}

// newWatchdog returns nil when the service runs without WatchdogSec
func newWatchdog(logger *slog.Logger) *watchdog {
	timeout, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("cannot read systemd watchdog settings", "error", err)
		return nil
	}
	if timeout == 0 {
		return nil
	}

	return &watchdog{
		interval: timeout / 2,
		notify: func(state string) error {
			_, err := daemon.SdNotify(false, state)
			return err
		},
		logger: logger.With("component", "watchdog"),
	}
}

func (w *watchdog) ObserveRun(scheduler.RunRecord) {}

func (w *watchdog) OnHeartbeat(now time.Time) {
	if !w.last.IsZero() && now.Sub(w.last) < w.interval {
		return
	}
	if err := w.notify(daemon.SdNotifyWatchdog); err != nil {
		w.logger.Warn("watchdog notify failed", "error", err)
		return
	}
	w.last = now
}

var _ scheduler.HeartbeatObserver = (*watchdog)(nil)

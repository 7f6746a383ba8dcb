package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "schedbot/pkg/logx"
)

// sdNotify sends a state to systemd. Outside systemd it is a no-op.
func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify", logx.String("state", state))
	}
}

// runWatchdog pings the systemd watchdog at half its interval while healthy
// reports true. A stalled scheduler stops the pings and lets systemd restart
// the service.
func runWatchdog(ctx context.Context, log logx.Logger, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy() {
				sdNotify(log, daemon.SdNotifyWatchdog)
			} else {
				log.Warn("skipping watchdog ping: scheduler stalled")
			}
		}
	}
}

package app

import (
	"context"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/notifier"
	"schedbot/internal/observability/ops"
	"schedbot/internal/reconcile"
	"schedbot/internal/storage"
	telegram "schedbot/internal/transport/telegram/adapter"
)

// validateRuntime covers the checks config cannot make without importing
// the components themselves.
func validateRuntime(_ context.Context, cfg *config.Config) error {
	return reconcile.ValidateTickSpec(cfg.Scheduler.Tick)
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, telegram.DefaultPollTimeout),
		SendTimeout: deliveryTimeout(cfg),
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 0),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{RatePerSec: cfg.Scheduler.RatePerSec}
}

func deliveryTimeout(cfg *config.Config) time.Duration {
	return config.DurationOr(cfg.Scheduler.DeliveryTimeout, reconcile.DefaultDeliveryTimeout)
}

// staleAfter is how long without a finished tick counts as stalled: three
// tick periods, never below ops.DefaultStaleAfter. Zero when the scheduler is off.
func staleAfter(cfg *config.Config, now time.Time) time.Duration {
	if !cfg.Scheduler.IsEnabled() {
		return 0
	}
	period, err := reconcile.TickPeriod(cfg.Scheduler.Tick, now)
	if err != nil {
		return ops.DefaultStaleAfter
	}
	return max(3*period, ops.DefaultStaleAfter)
}

func mapOpsConfig(cfg *config.Config, now time.Time) ops.Config {
	return ops.Config{
		Addr:       cfg.Ops.Addr,
		Token:      cfg.Ops.Token,
		Pprof:      cfg.Ops.Pprof,
		StaleAfter: staleAfter(cfg, now),
	}
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
)

// Validate checks a defaulted config. Every problem is reported, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token: required (or set %s)", EnvBotToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		add("storage.driver: unsupported %q (use sqlite)", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		add("storage.path: required (or set %s)", EnvDatabasePath)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := tz.Load(cfg.Scheduler.Timezone); err != nil {
		add("scheduler.timezone: %w", err)
	}
	if _, err := ParseDurationField("scheduler.delivery_timeout", cfg.Scheduler.DeliveryTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Scheduler.RatePerSec < 0 {
		add("scheduler.rate_per_sec: must be >= 0")
	}
	if cfg.Ops.Enabled {
		host, _, err := net.SplitHostPort(cfg.Ops.Addr)
		if err != nil {
			add("ops.addr: %w", err)
		} else if !isLoopback(host) && strings.TrimSpace(cfg.Ops.Token) == "" {
			add("ops.addr: %q is not loopback; set ops.token", cfg.Ops.Addr)
		}
	}
	return errors.Join(errs...)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

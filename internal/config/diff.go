package config

import (
	"strings"

	logx "schedbot/pkg/logx"
)

// Change describes what a reload touched. Tokens are never logged.
type Change struct {
	Sections []string
	Fields   []logx.Field
	// Restart lists keys that only take effect after a restart.
	Restart []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Diff compares two configs. Sections are reported in a fixed order.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	section := func(name string, changed bool, fields ...logx.Field) {
		if changed {
			ch.Sections = append(ch.Sections, name)
			ch.Fields = append(ch.Fields, fields...)
		}
	}
	restart := func(key string, changed bool) {
		if changed {
			ch.Restart = append(ch.Restart, key)
		}
	}
	o, n := oldCfg, newCfg

	tokenChanged := o.Telegram.Token != n.Telegram.Token
	pollChanged := differs(o.Telegram.PollTimeout, n.Telegram.PollTimeout)
	section("telegram", tokenChanged || pollChanged,
		logx.Bool("telegram.token_changed", tokenChanged),
		logx.String("telegram.poll_timeout", n.Telegram.PollTimeout),
	)
	restart("telegram.token", tokenChanged)
	restart("telegram.poll_timeout", pollChanged)

	section("logging", o.Logging != n.Logging,
		logx.String("logging.level", n.Logging.Level),
		logx.Bool("logging.console", n.Logging.Console),
		logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
	)

	section("storage", o.Storage != n.Storage,
		logx.String("storage.driver", n.Storage.Driver),
		logx.String("storage.path", n.Storage.Path),
	)
	restart("storage", o.Storage != n.Storage)

	oldSched, ns := o.Scheduler, n.Scheduler
	enabledChanged := oldSched.IsEnabled() != ns.IsEnabled()
	tickChanged := differs(oldSched.Tick, ns.Tick)
	section("scheduler",
		enabledChanged || tickChanged || differs(oldSched.Timezone, ns.Timezone) ||
			differs(oldSched.DeliveryTimeout, ns.DeliveryTimeout) || oldSched.RatePerSec != ns.RatePerSec,
		logx.Bool("scheduler.enabled", ns.IsEnabled()),
		logx.String("scheduler.timezone", ns.Timezone),
		logx.String("scheduler.tick", ns.Tick),
		logx.String("scheduler.delivery_timeout", ns.DeliveryTimeout),
		logx.Int("scheduler.rate_per_sec", ns.RatePerSec),
	)
	restart("scheduler.enabled", enabledChanged)
	restart("scheduler.tick", tickChanged)

	opsChanged := o.Ops.Enabled != n.Ops.Enabled || differs(o.Ops.Addr, n.Ops.Addr) ||
		o.Ops.Pprof != n.Ops.Pprof || o.Ops.Token != n.Ops.Token
	section("ops", opsChanged,
		logx.Bool("ops.enabled", n.Ops.Enabled),
		logx.String("ops.addr", n.Ops.Addr),
		logx.Bool("ops.pprof", n.Ops.Pprof),
		logx.Bool("ops.token_set", strings.TrimSpace(n.Ops.Token) != ""),
	)
	restart("ops", opsChanged)

	return ch
}

func differs(a, b string) bool { return strings.TrimSpace(a) != strings.TrimSpace(b) }

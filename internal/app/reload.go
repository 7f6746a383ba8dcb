package app

import (
	"slices"
	"strings"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/notifier"
	logx "schedbot/pkg/logx"
)

const EventConfigReloaded = "config.reloaded"

// liveTargets are the components that take config changes without a restart.
type liveTargets struct {
	logs interface{ Apply(logx.Config) error }
	tz   interface{ SetDefault(name string) error }
	loop interface{ SetDeliveryTimeout(time.Duration) }
	sink interface{ Apply(notifier.Config) }
	bus  eventbus.Bus
}

// applyReload pushes next into the live components and reports what changed.
func applyReload(log logx.Logger, t liveTargets, prev, next *config.Config) config.Change {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		log.Info("config reloaded (no changes)")
		return ch
	}

	if slices.Contains(ch.Sections, "logging") && t.logs != nil {
		if err := t.logs.Apply(next.Logging.Logx()); err != nil {
			log.Warn("file logging disabled", logx.Err(err))
		}
	}
	if slices.Contains(ch.Sections, "scheduler") {
		if t.tz != nil {
			if err := t.tz.SetDefault(next.Scheduler.Timezone); err != nil {
				log.Warn("default timezone not applied", logx.Err(err))
			}
		}
		if t.loop != nil {
			t.loop.SetDeliveryTimeout(deliveryTimeout(next))
		}
		if t.sink != nil {
			t.sink.Apply(mapNotifierConfig(next))
		}
	}
	if len(ch.Restart) > 0 {
		log.Warn("some config changes need a restart", logx.String("keys", strings.Join(ch.Restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	log.Info("config reloaded", fields...)
	if t.bus != nil {
		t.bus.Publish(eventbus.Event{Type: EventConfigReloaded, Data: ch.Sections})
	}
	return ch
}

package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/notifier"
	"schedbot/internal/observability/ops"
	"schedbot/internal/reconcile"
	"schedbot/internal/tz"
	logx "schedbot/pkg/logx"
)

func testConfig() *config.Config {
	c := &config.Config{Telegram: config.TelegramConfig{Token: "t"}}
	c.ApplyDefaults()
	return c
}

func TestValidateRuntime(t *testing.T) {
	t.Parallel()
	c := testConfig()
	if err := validateRuntime(context.Background(), c); err != nil {
		t.Fatalf("default tick: %v", err)
	}
	c.Scheduler.Tick = "every minute please"
	if err := validateRuntime(context.Background(), c); err == nil {
		t.Fatal("expected tick error")
	}
}

func TestMapping(t *testing.T) {
	t.Parallel()
	c := testConfig()
	c.Telegram.PollTimeout = "30s"
	c.Storage.BusyTimeout = "2s"
	c.Scheduler.DeliveryTimeout = "7s"

	if got := mapTelegramConfig(c); got.PollTimeout != 30*time.Second || got.SendTimeout != 7*time.Second || got.Token != "t" {
		t.Fatalf("telegram = %+v", got)
	}
	if got := mapStorageConfig(c); got.BusyTimeout != 2*time.Second || got.Path != config.DefaultStoragePath {
		t.Fatalf("storage = %+v", got)
	}
	if got := deliveryTimeout(c); got != 7*time.Second {
		t.Fatalf("delivery timeout = %v", got)
	}
	c.Scheduler.DeliveryTimeout = ""
	if got := deliveryTimeout(c); got != reconcile.DefaultDeliveryTimeout {
		t.Fatalf("default delivery timeout = %v", got)
	}
}

func TestStaleAfter(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 8, 14, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		tick    string
		enabled bool
		want    time.Duration
	}{
		{config.DefaultTick, true, ops.DefaultStaleAfter},
		{"@every 10s", true, ops.DefaultStaleAfter},
		{"@hourly", true, 3 * time.Hour},
		{config.DefaultTick, false, 0},
	}
	for _, tc := range tests {
		c := testConfig()
		c.Scheduler.Tick = tc.tick
		c.Scheduler.Enabled = &tc.enabled
		if got := staleAfter(c, now); got != tc.want {
			t.Fatalf("staleAfter(%q, enabled=%v) = %v, want %v", tc.tick, tc.enabled, got, tc.want)
		}
	}
}

type fakeLogs struct{ applied []logx.Config }

func (f *fakeLogs) Apply(c logx.Config) error {
	f.applied = append(f.applied, c)
	return nil
}

type fakeLoop struct{ timeout time.Duration }

func (f *fakeLoop) SetDeliveryTimeout(d time.Duration) { f.timeout = d }

type fakeSink struct{ cfg *notifier.Config }

func (f *fakeSink) Apply(c notifier.Config) { f.cfg = &c }

func TestApplyReload(t *testing.T) {
	t.Parallel()
	res, err := tz.NewResolver("UTC")
	if err != nil {
		t.Fatal(err)
	}
	logs, loop, sink := &fakeLogs{}, &fakeLoop{}, &fakeSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, EventConfigReloaded)
	defer unsub()
	targets := liveTargets{logs: logs, tz: res, loop: loop, sink: sink, bus: bus}

	prev := testConfig()
	same := *prev
	if ch := applyReload(logx.Nop(), targets, prev, &same); !ch.Empty() {
		t.Fatalf("no-op reload changed %v", ch.Sections)
	}
	if len(logs.applied) != 0 || loop.timeout != 0 || sink.cfg != nil {
		t.Fatal("no-op reload touched components")
	}

	next := *prev
	next.Logging.Level = "debug"
	next.Scheduler.Timezone = "Asia/Tokyo"
	next.Scheduler.DeliveryTimeout = "3s"
	next.Scheduler.RatePerSec = 5
	next.Scheduler.Tick = "@every 30s"
	ch := applyReload(logx.Nop(), targets, prev, &next)

	if len(logs.applied) != 1 || logs.applied[0].Level != "debug" {
		t.Fatalf("logs applied = %+v", logs.applied)
	}
	if res.Default().String() != "Asia/Tokyo" {
		t.Fatalf("default tz = %v", res.Default())
	}
	if loop.timeout != 3*time.Second || sink.cfg == nil || sink.cfg.RatePerSec != 5 {
		t.Fatalf("loop=%v sink=%+v", loop.timeout, sink.cfg)
	}
	if strings.Join(ch.Restart, ",") != "scheduler.tick" {
		t.Fatalf("restart = %v", ch.Restart)
	}
	select {
	case e := <-events:
		if secs, _ := e.Data.([]string); strings.Join(secs, ",") != "logging,scheduler" {
			t.Fatalf("event data = %#v", e.Data)
		}
	default:
		t.Fatal("no reload event")
	}
}

func TestSchedulerHealthy(t *testing.T) {
	t.Parallel()
	a := &App{started: time.Now().Add(-time.Hour), staleAfter: 3 * time.Minute}
	if !a.schedulerHealthy() {
		t.Fatal("no driver means healthy")
	}
	a.driver = &reconcile.Driver{}
	if a.schedulerHealthy() {
		t.Fatal("no tick for an hour must be unhealthy")
	}
	a.onTick(reconcile.Report{At: time.Now()})
	if !a.schedulerHealthy() {
		t.Fatal("fresh tick must be healthy")
	}
	a.onTick(reconcile.Report{At: time.Now().Add(-time.Hour), Err: context.Canceled})
	if !a.schedulerHealthy() {
		t.Fatal("failed tick must not move the marker")
	}
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManager(path)
	m.SetEnvLookup(envMap(env))
	return m
}

func TestParseYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: 5s
logging:
  level: debug
  console: true
scheduler:
  enabled: false
  timezone: Europe/Berlin
  tick: "@every 30s"
ops:
  enabled: true
  addr: 127.0.0.1:9191
`)
	js := writeFile(t, "config.json", `{"telegram":{"token":"123:abc"},"storage":{"path":"/tmp/x.db"}}`)

	cfg, err := newTestManager(yml, nil).Parse()
	if err != nil {
		t.Fatalf("Parse yaml: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Telegram.PollTimeout != "5s" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.IsEnabled() || cfg.Scheduler.Timezone != "Europe/Berlin" || cfg.Scheduler.Tick != "@every 30s" {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console || cfg.Ops.Addr != "127.0.0.1:9191" {
		t.Fatalf("cfg = %+v", cfg)
	}

	cfg, err = newTestManager(js, nil).Parse()
	if err != nil {
		t.Fatalf("Parse json: %v", err)
	}
	if cfg.Storage.Path != "/tmp/x.db" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if !cfg.Scheduler.IsEnabled() || cfg.Scheduler.Tick != DefaultTick || cfg.Scheduler.Timezone != DefaultTimezone {
		t.Fatalf("defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.RatePerSec != DefaultRatePerSec || cfg.Ops.Addr != DefaultOpsAddr || cfg.Logging.Level != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, file, body string
	}{
		{"unknown json key", "c.json", `{"telegram":{"token":"x","owner":1}}`},
		{"unknown yaml key", "c.yaml", "plugins:\n  foo: {}\n"},
		{"trailing json", "c.json", `{"telegram":{}} {"telegram":{}}`},
		{"broken yaml", "c.yml", "telegram: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := newTestManager(writeFile(t, tc.file, tc.body), nil).Parse(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := newTestManager(filepath.Join(t.TempDir(), "missing.yaml"), nil).Parse(); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file = %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", "telegram:\n  token: from-file\nstorage:\n  path: file.db\n")
	m := newTestManager(p, map[string]string{
		EnvBotToken:        "from-env",
		EnvDatabasePath:    "  ",
		EnvLogLevel:        "WARN",
		EnvDefaultTimezone: "Asia/Tokyo",
	})
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "from-env" || cfg.Storage.Path != "file.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Logging.Level != "warn" || cfg.Scheduler.Timezone != "Asia/Tokyo" {
		t.Fatalf("cfg = %+v", cfg)
	}

	// Env only, no file.
	cfg, err = newTestManager("", map[string]string{EnvBotToken: "t"}).Parse()
	if err != nil || cfg.Telegram.Token != "t" || cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("env-only = %+v, %v", cfg, err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "SCHEDBOT_TEST_DOTENV"
	p := writeFile(t, ".env", key+"=hello\n")
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv(key); got != "hello" {
		t.Fatalf("%s = %q", key, got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "x"}}
		c.ApplyDefaults()
		return c
	}
	if err := Validate(valid()); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad poll timeout", func(c *Config) { c.Telegram.PollTimeout = "soon" }, "telegram.poll_timeout"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "scheduler.timezone"},
		{"negative delivery timeout", func(c *Config) { c.Scheduler.DeliveryTimeout = "-1s" }, "scheduler.delivery_timeout"},
		{"public ops without token", func(c *Config) { c.Ops.Enabled = true; c.Ops.Addr = "0.0.0.0:9090" }, "ops.addr"},
		{"bad ops addr", func(c *Config) { c.Ops.Enabled = true; c.Ops.Addr = "9090" }, "ops.addr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tc.mut(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}

	c := valid()
	c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9090", Token: "secret"}
	if err := Validate(c); err != nil {
		t.Fatalf("public ops with token: %v", err)
	}
}

func TestLoadRunsValidator(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.json", `{"telegram":{"token":"x"}}`)
	m := newTestManager(p, nil)
	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("expected validator error")
	}
	if m.Get() != nil {
		t.Fatal("rejected config must not be committed")
	}

	m.SetValidator(nil)
	cfg, err := m.Load(context.Background())
	if err != nil || m.Get() != cfg {
		t.Fatalf("Load = %v, %v", cfg, err)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	base := &Config{Telegram: TelegramConfig{Token: "a"}}
	base.ApplyDefaults()

	same := *base
	if ch := Diff(base, &same); !ch.Empty() || len(ch.Restart) != 0 {
		t.Fatalf("Diff(same) = %+v", ch)
	}

	next := *base
	next.Logging.Level = "debug"
	next.Scheduler.Timezone = "Asia/Tokyo"
	next.Scheduler.Tick = "@every 10s"
	next.Telegram.Token = "b"
	ch := Diff(base, &next)
	if strings.Join(ch.Sections, ",") != "telegram,logging,scheduler" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if strings.Join(ch.Restart, ",") != "telegram.token,scheduler.tick" {
		t.Fatalf("restart = %v", ch.Restart)
	}
}

func TestWatchPublishesValidReloads(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "c.yaml", "telegram:\n  token: x\nlogging:\n  level: info\n")
	m := newTestManager(p, nil)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(p, []byte("telegram:\n  token: x\nlogging:\n  level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	if m.Get().Logging.Level != "info" {
		t.Fatal("invalid reload was committed")
	}

	if err := os.WriteFile(p, []byte("telegram:\n  token: x\nlogging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	if got := DurationOr("", time.Second); got != time.Second {
		t.Fatalf("empty = %v", got)
	}
	if got := DurationOr("2m", time.Second); got != 2*time.Minute {
		t.Fatalf("2m = %v", got)
	}
	if got := DurationOr("bogus", time.Second); got != time.Second {
		t.Fatalf("bogus = %v", got)
	}
}

// Package config loads the bot configuration from a JSON or YAML file,
// overlays environment variables (optionally from a .env file) and hot
// reloads the file on change.
package config

import (
	"strings"

	logx "schedbot/pkg/logx"
)

const (
	DefaultStoragePath = "bot_data.db"
	DefaultTimezone    = "UTC"
	DefaultTick        = "* * * * *"
	DefaultOpsAddr     = "127.0.0.1:9090"
	DefaultRatePerSec  = 20
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Ops       OpsConfig       `json:"ops"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the database. Only "sqlite" is supported.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the reconciliation loop.
//
// Enabled is a pointer so an omitted key means enabled.
type SchedulerConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Timezone is used for groups without a valid timezone of their own.
	Timezone string `json:"timezone,omitempty"`
	// Tick is a cron spec (seconds optional) for how often schedules are evaluated.
	Tick            string `json:"tick,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// OpsConfig controls the operational HTTP server (/metrics, /healthz, pprof).
//
// Bind to loopback or set a token; the token is never logged.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"`
}

// ApplyDefaults fills omitted values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(c.Scheduler.Timezone) == "" {
		c.Scheduler.Timezone = DefaultTimezone
	}
	if strings.TrimSpace(c.Scheduler.Tick) == "" {
		c.Scheduler.Tick = DefaultTick
	}
	if c.Scheduler.RatePerSec <= 0 {
		c.Scheduler.RatePerSec = DefaultRatePerSec
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = DefaultOpsAddr
	}
}

// Logx maps the section onto the logging service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

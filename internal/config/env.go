package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBotToken        = "BOT_TOKEN"
	EnvDatabasePath    = "DATABASE_PATH"
	EnvLogLevel        = "LOG_LEVEL"
	EnvDefaultTimezone = "DEFAULT_TIMEZONE"
)

// LoadDotEnv loads KEY=value pairs from files into the process environment
// without overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ApplyEnv overlays environment values on cfg. lookup defaults to os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get(EnvBotToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvDatabasePath); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get(EnvDefaultTimezone); ok {
		cfg.Scheduler.Timezone = v
	}
}

package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))

	log.Info("hello", Int64("chat_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["chat_id"] != float64(42) {
		t.Fatalf("chat_id = %v", m["chat_id"])
	}
	if m["caller"] == nil {
		t.Fatalf("expected caller field, got %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled at warn level")
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestValidLevel(t *testing.T) {
	for _, lv := range []string{"", "debug", "INFO", "warning", "error", "trace"} {
		if !ValidLevel(lv) {
			t.Fatalf("ValidLevel(%q) = false", lv)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

func TestServiceApplyFileFallsBackToConsole(t *testing.T) {
	var console bytes.Buffer
	s := &Service{console: &console}
	log := Logger{svc: s}

	bad := filepath.Join(t.TempDir(), "missing", "dir", "bot.log")
	if err := s.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: bad}}); err == nil {
		t.Fatal("expected error for unopenable log file")
	}
	log.Info("still here")
	if !strings.Contains(console.String(), "still here") {
		t.Fatalf("console = %q", console.String())
	}
}

func TestServiceApplySwapsSinks(t *testing.T) {
	var console bytes.Buffer
	s := &Service{console: &console}
	t.Cleanup(func() { _ = s.Close() })
	log := Logger{svc: s}.With(String("comp", "test"))

	path := filepath.Join(t.TempDir(), "bot.log")
	if err := s.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	log.Info("filtered")
	log.Warn("to file")
	if console.Len() != 0 {
		t.Fatalf("console should be unused, got %q", console.String())
	}

	if err := s.Apply(Config{Level: "debug", Console: true}); err != nil {
		t.Fatalf("Apply console: %v", err)
	}
	log.Debug("to console")
	if !strings.Contains(console.String(), "to console") {
		t.Fatalf("console = %q", console.String())
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &m); err != nil {
		t.Fatalf("file should hold one JSON line: %v (%q)", err, b)
	}
	if m["message"] != "to file" || m["comp"] != "test" || m["level"] != "warn" {
		t.Fatalf("file line = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

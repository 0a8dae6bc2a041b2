package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesRedactedJSONL(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := NewLogger(dir, "debug", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("startup", "auth_token", "supersecretvalue1234", "phase", "test")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "supersecretvalue1234") {
		t.Fatal("secret value leaked into log file")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatal("expected redaction marker in log output")
	}
	if !strings.Contains(out, `"timestamp"`) {
		t.Fatal("expected renamed timestamp key")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

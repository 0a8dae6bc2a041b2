package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Budget.DailyUSD != 5.0 {
		t.Fatalf("expected default budget 5.0, got %f", cfg.Budget.DailyUSD)
	}
	if cfg.Gateway.TokenTTLHours != 12 {
		t.Fatalf("expected default token ttl 12h, got %d", cfg.Gateway.TokenTTLHours)
	}
	if cfg.Planner.MinLeadMinutes != 15 {
		t.Fatalf("expected default lead time 15m, got %d", cfg.Planner.MinLeadMinutes)
	}
	if _, ok := cfg.Checkins["morning"]; !ok {
		t.Fatal("expected default morning check-in phase")
	}
}

func TestLoadFrom_FileOverridesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	yaml := `
log_level: debug
budget:
  daily_usd: 1.25
llm:
  background_model: gpt-4o
  timeout_seconds: -5
gateway:
  bind_addr: "127.0.0.1:9999"
  token_ttl_hours: 0
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log_level debug, got %q", cfg.LogLevel)
	}
	if cfg.Budget.DailyUSD != 1.25 {
		t.Fatalf("expected budget 1.25, got %f", cfg.Budget.DailyUSD)
	}
	if cfg.Gateway.BindAddr != "127.0.0.1:9999" {
		t.Fatalf("expected bind addr override, got %q", cfg.Gateway.BindAddr)
	}
	// Zero/negative values normalize back to defaults.
	if cfg.Gateway.TokenTTLHours != 12 {
		t.Fatalf("expected normalized ttl 12, got %d", cfg.Gateway.TokenTTLHours)
	}
	if cfg.LLM.TimeoutSeconds != 120 {
		t.Fatalf("expected normalized timeout 120, got %d", cfg.LLM.TimeoutSeconds)
	}
}

func TestLoadFrom_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFrom(dir); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fp1 := cfg.Fingerprint()
	if fp1 != cfg.Fingerprint() {
		t.Fatal("fingerprint not stable")
	}
	cfg.Budget.DailyUSD = 99
	if fp1 == cfg.Fingerprint() {
		t.Fatal("fingerprint did not change with config")
	}
}

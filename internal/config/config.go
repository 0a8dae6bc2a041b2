// Package config loads the daemon configuration from the Daybreak home
// directory (default ~/.daybreak), applying defaults and env overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LLMConfig holds model invocation settings. The background model is pinned
// separately from the chat model: autonomous runs always use it.
type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	ChatModel       string `yaml:"chat_model"`
	BackgroundModel string `yaml:"background_model"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
}

// BudgetConfig bounds autonomous model spend.
type BudgetConfig struct {
	DailyUSD float64 `yaml:"daily_usd"`
}

// PlannerConfig tunes the planning draft workflow.
type PlannerConfig struct {
	// MinLeadMinutes is the minimum distance from now for a same-day block start.
	MinLeadMinutes int `yaml:"min_lead_minutes"`
	// BlockMinutes is the default length of a generated theme block.
	BlockMinutes int `yaml:"block_minutes"`
	// DayStartHour/DayEndHour bound the planning window for generated drafts.
	DayStartHour int `yaml:"day_start_hour"`
	DayEndHour   int `yaml:"day_end_hour"`
}

// SchedulerConfig tunes the agent task poll loop.
type SchedulerConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	InitialDelaySeconds int `yaml:"initial_delay_seconds"`
}

// GatewayConfig tunes the tool-call protocol server.
type GatewayConfig struct {
	BindAddr      string `yaml:"bind_addr"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	MaxBodyBytes  int64  `yaml:"max_body_bytes"`
}

// OTelConfig mirrors internal/otel.Config for YAML loading.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	LLM       LLMConfig       `yaml:"llm"`
	Budget    BudgetConfig    `yaml:"budget"`
	Planner   PlannerConfig   `yaml:"planner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	OTel      OTelConfig      `yaml:"otel"`

	// Checkins maps a check-in phase name to a 5-field cron expression.
	Checkins map[string]string `yaml:"checkins"`
}

// DefaultHomeDir returns DAYBREAK_HOME or ~/.daybreak.
func DefaultHomeDir() string {
	if v := os.Getenv("DAYBREAK_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".daybreak"
	}
	return filepath.Join(home, ".daybreak")
}

// Load reads config.yaml from the default home dir.
func Load() (*Config, error) {
	return LoadFrom(DefaultHomeDir())
}

// LoadFrom reads config.yaml from the given home dir. A missing file yields
// a default config; a malformed file is an error.
func LoadFrom(homeDir string) (*Config, error) {
	cfg := defaults(homeDir)

	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.HomeDir = homeDir
	applyEnvOverrides(cfg)
	normalize(cfg)
	return cfg, nil
}

func defaults(homeDir string) *Config {
	return &Config{
		HomeDir:  homeDir,
		LogLevel: "info",
		LLM: LLMConfig{
			BaseURL:         "http://localhost:11434/v1",
			APIKeyEnv:       "DAYBREAK_LLM_API_KEY",
			ChatModel:       "gpt-4o-mini",
			BackgroundModel: "gpt-4o",
			TimeoutSeconds:  120,
		},
		Budget: BudgetConfig{DailyUSD: 5.0},
		Planner: PlannerConfig{
			MinLeadMinutes: 15,
			BlockMinutes:   60,
			DayStartHour:   9,
			DayEndHour:     18,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds:     60,
			InitialDelaySeconds: 5,
		},
		Gateway: GatewayConfig{
			BindAddr:      "127.0.0.1:8787",
			TokenTTLHours: 12,
			MaxBodyBytes:  1 << 20,
		},
		OTel: OTelConfig{Exporter: "none"},
		Checkins: map[string]string{
			"morning": "0 8 * * *",
			"midday":  "0 12 * * *",
			"evening": "0 18 * * *",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DAYBREAK_BIND_ADDR"); v != "" {
		cfg.Gateway.BindAddr = v
	}
	if v := os.Getenv("DAYBREAK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DAYBREAK_DAILY_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Budget.DailyUSD = f
		}
	}
}

func normalize(cfg *Config) {
	if cfg.Planner.MinLeadMinutes <= 0 {
		cfg.Planner.MinLeadMinutes = 15
	}
	if cfg.Planner.BlockMinutes <= 0 {
		cfg.Planner.BlockMinutes = 60
	}
	if cfg.Planner.DayStartHour <= 0 || cfg.Planner.DayStartHour > 23 {
		cfg.Planner.DayStartHour = 9
	}
	if cfg.Planner.DayEndHour <= cfg.Planner.DayStartHour || cfg.Planner.DayEndHour > 23 {
		cfg.Planner.DayEndHour = 18
	}
	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.InitialDelaySeconds < 0 {
		cfg.Scheduler.InitialDelaySeconds = 5
	}
	if cfg.Gateway.BindAddr == "" {
		cfg.Gateway.BindAddr = "127.0.0.1:8787"
	}
	if cfg.Gateway.TokenTTLHours <= 0 {
		cfg.Gateway.TokenTTLHours = 12
	}
	if cfg.Gateway.MaxBodyBytes <= 0 {
		cfg.Gateway.MaxBodyBytes = 1 << 20
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
}

// APIKey resolves the model API key from the configured env var.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// Fingerprint returns a short stable hash of the loaded config, exposed for
// status reporting so clients can detect live reloads.
func (c *Config) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "unknown"
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

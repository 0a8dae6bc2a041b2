package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/daybreak-ai/daybreak/internal/actions"
	"github.com/daybreak-ai/daybreak/internal/agent"
	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/checkin"
	"github.com/daybreak-ai/daybreak/internal/config"
	"github.com/daybreak-ai/daybreak/internal/gateway"
	"github.com/daybreak-ai/daybreak/internal/llm"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	otelPkg "github.com/daybreak-ai/daybreak/internal/otel"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/planner"
	"github.com/daybreak-ai/daybreak/internal/providers"
	"github.com/daybreak-ai/daybreak/internal/scheduler"
	"github.com/daybreak-ai/daybreak/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	loadDotEnv(".env")

	quiet := flag.Bool("quiet", false, "log to file only, no console output")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("daybreak", Version)
		return
	}
	// Piped output usually means a supervisor already captures the log file.
	if !isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("DAYBREAK_CONSOLE_LOGS") == "" {
		*quiet = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "logger init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir, "fingerprint", cfg.Fingerprint())

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "otel init", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "metrics init", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "daybreak.db"), eventBus)
	if err != nil {
		fatalStartup(logger, "store open", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	ledger, err := oplog.New(cfg.HomeDir, store, eventBus, logger)
	if err != nil {
		fatalStartup(logger, "operation log open", err)
	}
	defer ledger.Close()

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.APIKey(),
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	parser := actions.NewParser(logger)
	actionExec := actions.NewExecutor(store, ledger, &logMailer{logger: logger}, logger)
	registry := providers.NewRegistry(logger, providers.StoreProviders(store)...)

	agentExec := agent.NewExecutor(agent.Config{
		Model:          cfg.LLM.BackgroundModel,
		DailyBudgetUSD: cfg.Budget.DailyUSD,
	}, store, ledger, parser, actionExec, registry, client, eventBus, logger, metrics)
	agentExec.Start(ctx)
	defer agentExec.Stop()

	sched := scheduler.New(scheduler.Config{
		Store:        store,
		Executor:     agentExec,
		Logger:       logger,
		Interval:     time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		InitialDelay: time.Duration(cfg.Scheduler.InitialDelaySeconds) * time.Second,
	})
	sched.Start(ctx)
	defer sched.Stop()

	checkins, err := checkin.New(sched, cfg.Checkins, logger)
	if err != nil {
		fatalStartup(logger, "checkin schedules", err)
	}
	checkins.Start(ctx)
	defer checkins.Stop()

	planSvc := planner.New(planner.Config{
		MinLeadMinutes: cfg.Planner.MinLeadMinutes,
		BlockMinutes:   cfg.Planner.BlockMinutes,
		DayStartHour:   cfg.Planner.DayStartHour,
		DayEndHour:     cfg.Planner.DayEndHour,
	}, store, ledger, &planner.LocalCalendarPublisher{Store: store}, logger)

	gw, err := gateway.New(gateway.Config{
		BindAddr:     cfg.Gateway.BindAddr,
		TokenTTL:     time.Duration(cfg.Gateway.TokenTTLHours) * time.Hour,
		MaxBodyBytes: cfg.Gateway.MaxBodyBytes,
		Store:        store,
		Planner:      planSvc,
		Ledger:       ledger,
		Executor:     agentExec,
		Bus:          eventBus,
		Logger:       logger,
		Metrics:      metrics,
	})
	if err != nil {
		fatalStartup(logger, "gateway init", err)
	}
	if err := gw.Start(ctx); err != nil {
		fatalStartup(logger, "gateway start", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Stop(shutdownCtx); err != nil {
			logger.Warn("gateway shutdown", "error", err)
		}
	}()

	// The token is the only client credential; print it to the console, never
	// to the log sinks.
	fmt.Printf("daybreak %s listening on %s\n", Version, gw.Addr())
	fmt.Printf("bearer token: %s\n", gw.Token())

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go applyReloads(ctx, watcher, cfg.HomeDir, agentExec, logger)
	}

	logger.Info("startup phase", "phase", "running", "version", Version)
	<-ctx.Done()
	logger.Info("shutting down")
}

// applyReloads re-reads config.yaml on change and applies the live-safe
// fields. Everything else needs a restart.
func applyReloads(ctx context.Context, watcher *config.Watcher, homeDir string, agentExec *agent.Executor, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			cfg, err := config.LoadFrom(homeDir)
			if err != nil {
				logger.Warn("config reload failed, keeping previous", "path", ev.Path, "error", err)
				continue
			}
			agentExec.UpdateConfig(agent.Config{
				Model:          cfg.LLM.BackgroundModel,
				DailyBudgetUSD: cfg.Budget.DailyUSD,
			})
			logger.Info("config reloaded", "fingerprint", cfg.Fingerprint())
		}
	}
}

// logMailer records outbound mail in the log instead of sending it. Real
// delivery needs an SMTP or provider integration configured out of band.
type logMailer struct {
	logger *slog.Logger
}

func (m *logMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.Info("mail: outbound message recorded", "to", to, "subject", subject)
	return nil
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "daybreak: startup failure (%s): %s\n", phase, message)
	}
	os.Exit(1)
}

// loadDotEnv loads KEY=VALUE pairs from a .env file without overriding
// variables already set in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}

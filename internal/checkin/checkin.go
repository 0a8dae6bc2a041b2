// Package checkin fires the daily check-in phases (morning, midday, evening)
// on cron schedules and fans each one out to the matching agent tasks.
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Trigger fans one check-in phase out to its tasks.
type Trigger interface {
	TriggerCheckin(ctx context.Context, phase string) (int, error)
}

// Runner owns the cron schedules for all configured phases.
type Runner struct {
	trigger Trigger
	logger  *slog.Logger
	phases  map[string]cronlib.Schedule
	tick    time.Duration

	mu      sync.Mutex
	nextDue map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a runner from phase-name → cron-expression pairs. A bad
// expression is a configuration error and fails construction.
func New(trigger Trigger, schedules map[string]string, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	phases := make(map[string]cronlib.Schedule, len(schedules))
	for phase, expr := range schedules {
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("checkin %s: parse %q: %w", phase, expr, err)
		}
		phases[phase] = sched
	}
	return &Runner{
		trigger: trigger,
		logger:  logger,
		phases:  phases,
		tick:    30 * time.Second,
		nextDue: make(map[string]time.Time),
	}, nil
}

// Start begins watching the clock. No-op when no phases are configured.
func (r *Runner) Start(ctx context.Context) {
	if len(r.phases) == 0 {
		r.logger.Info("checkin: no phases configured")
		return
	}
	now := time.Now()
	r.mu.Lock()
	for phase, sched := range r.phases {
		r.nextDue[phase] = sched.Next(now)
	}
	r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("checkin: runner started", "phases", r.phaseNames())
}

// Stop cancels the loop and waits for it to exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.fireDue(ctx, now)
		}
	}
}

// fireDue triggers every phase whose scheduled instant has passed, then
// advances its next occurrence.
func (r *Runner) fireDue(ctx context.Context, now time.Time) {
	for _, phase := range r.duePhases(now) {
		n, err := r.trigger.TriggerCheckin(ctx, phase)
		if err != nil {
			r.logger.Error("checkin: trigger failed", "phase", phase, "error", err)
			continue
		}
		r.logger.Info("checkin: phase fired", "phase", phase, "tasks", n)
	}
}

func (r *Runner) duePhases(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []string
	for phase, next := range r.nextDue {
		if !next.After(now) {
			due = append(due, phase)
			r.nextDue[phase] = r.phases[phase].Next(now)
		}
	}
	sort.Strings(due)
	return due
}

func (r *Runner) phaseNames() []string {
	names := make([]string, 0, len(r.phases))
	for phase := range r.phases {
		names = append(names, phase)
	}
	sort.Strings(names)
	return names
}

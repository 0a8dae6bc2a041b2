// Package scheduler polls the store for due agent tasks and hands them to
// the executor. It decides *when* work happens; the executor decides *how*.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// Enqueuer is the executor-side interface the scheduler feeds.
type Enqueuer interface {
	Enqueue(taskID string)
}

// Config holds the dependencies for the scheduler.
type Config struct {
	Store        *persistence.Store
	Executor     Enqueuer
	Logger       *slog.Logger
	Interval     time.Duration // poll interval; defaults to 1 minute if zero
	InitialDelay time.Duration // delay before the first poll
}

// Scheduler periodically queries the store for due agent tasks and enqueues
// each one. Check-in and event triggers bypass the poll via TriggerCheckin
// and TriggerEvent.
type Scheduler struct {
	store        *persistence.Store
	executor     Enqueuer
	logger       *slog.Logger
	interval     time.Duration
	initialDelay time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        cfg.Store,
		executor:     cfg.Executor,
		logger:       logger,
		interval:     interval,
		initialDelay: cfg.InitialDelay,
	}
}

// Start begins the polling loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler: started", "interval", s.interval)
}

// Stop cancels the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	if s.initialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.initialDelay):
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick queries for due tasks and enqueues each one.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.DueAgentTasks(ctx, time.Now())
	if err != nil {
		s.logger.Error("scheduler: due query failed", "error", err)
		return
	}
	for _, task := range due {
		s.logger.Debug("scheduler: task due", "task_id", task.ID, "name", task.Name)
		s.executor.Enqueue(task.ID)
	}
}

// TriggerCheckin enqueues every active check-in task bound to the phase.
// Returns how many tasks were enqueued.
func (s *Scheduler) TriggerCheckin(ctx context.Context, phase string) (int, error) {
	tasks, err := s.store.CheckinAgentTasks(ctx, phase)
	if err != nil {
		return 0, fmt.Errorf("checkin %s: %w", phase, err)
	}
	for _, task := range tasks {
		s.executor.Enqueue(task.ID)
	}
	if len(tasks) > 0 {
		s.logger.Info("scheduler: checkin fired", "phase", phase, "tasks", len(tasks))
	}
	return len(tasks), nil
}

// TriggerEvent enqueues active event-triggered tasks bound to the event type.
func (s *Scheduler) TriggerEvent(ctx context.Context, eventType string) (int, error) {
	tasks, err := s.store.ListAgentTasks(ctx, persistence.AgentTaskActive, 0)
	if err != nil {
		return 0, fmt.Errorf("event %s: %w", eventType, err)
	}
	fired := 0
	for _, task := range tasks {
		if task.TriggerType != persistence.TriggerEvent || task.Trigger.EventType != eventType {
			continue
		}
		s.executor.Enqueue(task.ID)
		fired++
	}
	if fired > 0 {
		s.logger.Info("scheduler: event fired", "event_type", eventType, "tasks", fired)
	}
	return fired, nil
}

// TriggerManual enqueues one task immediately regardless of its next run,
// as long as it exists and is active.
func (s *Scheduler) TriggerManual(ctx context.Context, taskID string) error {
	task, err := s.store.GetAgentTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != persistence.AgentTaskActive {
		return fmt.Errorf("task %s is %s, not active", taskID, task.Status)
	}
	s.executor.Enqueue(task.ID)
	s.logger.Info("scheduler: manual trigger", "task_id", taskID)
	return nil
}

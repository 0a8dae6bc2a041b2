// Package agent runs background agent tasks. A single worker drains a FIFO
// queue, so at most one model call is in flight no matter how many callers
// enqueue at once.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/daybreak-ai/daybreak/internal/actions"
	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/llm"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/otel"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/providers"
	"github.com/daybreak-ai/daybreak/internal/shared"
)

const systemPrompt = `You are a background assistant working on the user's behalf.
Reply with a short, useful summary for the user.
If work items should change, embed a fenced block anywhere in the reply:
<actions>[{"id":"...","type":"createTask","title":"...","requiresUserApproval":false,"payload":{...}}]</actions>
Supported types: createTask, updateTask, deleteTask, createGoal, completeGoal, updateGoal, createCalendarEvent, createReminder, completeReminder, sendEmail, webTask.
Propose only actions you are confident about.`

// Config tunes the executor. Zero values disable the budget gate.
type Config struct {
	Model          string
	DailyBudgetUSD float64
}

// Executor owns the task queue and the single execution worker.
type Executor struct {
	cfg        Config
	store      *persistence.Store
	ledger     *oplog.Ledger
	parser     *actions.Parser
	actionExec *actions.Executor
	registry   *providers.Registry
	client     llm.Client
	bus        *bus.Bus
	logger     *slog.Logger
	metrics    *otel.Metrics
	now        func() time.Time

	mu     sync.Mutex
	queue  []string
	queued map[string]bool
	wake   chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(cfg Config, store *persistence.Store, ledger *oplog.Ledger,
	parser *actions.Parser, actionExec *actions.Executor, registry *providers.Registry,
	client llm.Client, eventBus *bus.Bus, logger *slog.Logger, metrics *otel.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:        cfg,
		store:      store,
		ledger:     ledger,
		parser:     parser,
		actionExec: actionExec,
		registry:   registry,
		client:     client,
		bus:        eventBus,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		queued:     make(map[string]bool),
		wake:       make(chan struct{}, 1),
	}
}

// Start launches the worker. Call Stop to shut it down.
func (e *Executor) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run(ctx)
	cfg := e.config()
	e.logger.Info("agent: executor started", "model", cfg.Model, "daily_budget_usd", cfg.DailyBudgetUSD)
}

// Stop cancels the worker and waits for an in-flight task to finish.
func (e *Executor) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("agent: executor stopped")
}

// Enqueue appends a task to the queue and wakes the worker. Never blocks.
// A task already waiting in the queue is not enqueued twice.
func (e *Executor) Enqueue(taskID string) {
	e.mu.Lock()
	if e.queued[taskID] {
		e.mu.Unlock()
		return
	}
	e.queued[taskID] = true
	e.queue = append(e.queue, taskID)
	e.mu.Unlock()

	e.bus.Publish(bus.TopicTaskEnqueued, bus.TaskLifecycleEvent{TaskID: taskID, Status: "enqueued"})
	if e.metrics != nil {
		e.metrics.QueueDepth.Add(context.Background(), 1)
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// QueueDepth reports how many tasks are waiting.
func (e *Executor) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// UpdateConfig swaps the model and budget settings live. The next task run
// sees the new values; a run in flight keeps the old ones.
func (e *Executor) UpdateConfig(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("agent: config updated", "model", cfg.Model, "daily_budget_usd", cfg.DailyBudgetUSD)
}

func (e *Executor) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Executor) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.drain(ctx)
		}
	}
}

func (e *Executor) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		taskID := e.queue[0]
		e.queue = e.queue[1:]
		delete(e.queued, taskID)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.QueueDepth.Add(ctx, -1)
		}
		e.process(ctx, taskID)
	}
}

func (e *Executor) process(ctx context.Context, taskID string) {
	task, err := e.store.GetAgentTask(ctx, taskID)
	if err != nil {
		e.logger.Warn("agent: dropping unknown task", "task_id", taskID, "error", err)
		return
	}
	if task.Status != persistence.AgentTaskActive {
		e.logger.Debug("agent: skipping inactive task", "task_id", taskID, "status", task.Status)
		return
	}

	// Budget gate. A skipped task stays active and due; no result is written,
	// so it will be retried on the next poll until the day's budget resets.
	cfg := e.config()
	if cfg.DailyBudgetUSD > 0 {
		spend, err := e.store.DailySpend(ctx, persistence.DayKey(e.now()))
		if err != nil {
			e.logger.Warn("agent: budget check failed, proceeding", "error", err)
		} else if spend >= cfg.DailyBudgetUSD {
			e.logger.Warn("agent: daily budget exhausted, skipping task",
				"task_id", taskID, "spend_usd", spend, "budget_usd", cfg.DailyBudgetUSD)
			e.bus.Publish(bus.TopicTaskSkipped, bus.TaskLifecycleEvent{
				TaskID: taskID, TaskName: task.Name, Status: "skipped", Reason: "daily budget exhausted",
			})
			return
		}
	}

	started := e.now()
	runCtx := shared.WithCorrelationID(ctx, shared.NewCorrelationID())
	runCtx = shared.WithTaskID(runCtx, task.ID)
	runCtx = shared.WithSource(runCtx, "agent")

	runCtx, span := otel.StartSpan(runCtx, otel.Tracer(), "agent.task.run",
		otel.AttrTaskID.String(task.ID),
		otel.AttrTaskTrigger.String(string(task.TriggerType)),
		otel.AttrCorrelationID.String(shared.CorrelationID(runCtx)))
	defer span.End()

	e.bus.Publish(bus.TopicTaskStarted, bus.TaskLifecycleEvent{TaskID: task.ID, TaskName: task.Name, Status: "started"})

	result := e.execute(runCtx, task, started)
	result.DurationMs = e.now().Sub(started).Milliseconds()

	if _, err := e.store.AppendAgentTaskResult(runCtx, result); err != nil {
		e.logger.Error("agent: persist result failed", "task_id", task.ID, "error", err)
	}
	if result.CostUSD != nil && *result.CostUSD > 0 {
		if _, err := e.store.AppendCost(runCtx, persistence.DayKey(started), task.ID, cfg.Model, *result.CostUSD); err != nil {
			e.logger.Error("agent: cost ledger write failed", "task_id", task.ID, "error", err)
		}
	}
	e.reschedule(runCtx, task, started)

	cost := 0.0
	if result.CostUSD != nil {
		cost = *result.CostUSD
	}
	span.SetAttributes(otel.AttrCostUSD.Float64(cost),
		attribute.String("status", string(result.Status)))
	if e.metrics != nil {
		e.metrics.TaskDuration.Record(runCtx, float64(result.DurationMs)/1000,
			metric.WithAttributes(
				otel.AttrTaskID.String(task.ID),
				otel.AttrTaskTrigger.String(string(task.TriggerType)),
				attribute.String("status", string(result.Status))))
		if cost > 0 {
			e.metrics.ModelCostUSD.Add(runCtx, cost, metric.WithAttributes(otel.AttrModel.String(cfg.Model)))
		}
	}
	e.bus.Publish(bus.TopicTaskFinished, bus.TaskLifecycleEvent{
		TaskID: task.ID, TaskName: task.Name, Status: string(result.Status), CostUSD: cost,
	})
	e.logger.Info("agent: task finished",
		"task_id", task.ID, "name", task.Name, "status", result.Status,
		"cost_usd", cost, "duration_ms", result.DurationMs)
}

// execute performs the model call and action resolution. Any failure up to
// and including the model call yields a failed result with the error text as
// output.
func (e *Executor) execute(ctx context.Context, task persistence.AgentTask, started time.Time) persistence.AgentTaskResult {
	result := persistence.AgentTaskResult{
		TaskID:    task.ID,
		Timestamp: started,
	}

	contextText := e.registry.Assemble(ctx, task.ContextNeeds)
	prompt := task.Prompt
	if contextText != "" {
		prompt = fmt.Sprintf("%s\n\n# Current context\n%s", task.Prompt, contextText)
	}

	model := e.config().Model
	resp, err := e.client.Complete(ctx, llm.Request{
		Model:  model,
		System: systemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		e.logger.Error("agent: model call failed", "task_id", task.ID, "error", err)
		result.Status = persistence.ResultFailed
		result.Output = err.Error()
		return result
	}
	if resp.CostUSD > 0 {
		cost := resp.CostUSD
		result.CostUSD = &cost
	}
	if e.metrics != nil {
		e.metrics.ModelDuration.Record(ctx, resp.Duration.Seconds(),
			metric.WithAttributes(otel.AttrModel.String(model)))
	}

	clean, proposed := e.parser.Parse(resp.Text)
	result.Output = clean
	result.ActionsProposed = marshalActions(proposed)

	var executed []actions.ActionRequest
	pending := 0
	for _, a := range proposed {
		if actions.AutoExecutable(a, task.AllowedActions) {
			if e.actionExec.Execute(ctx, task.ID, a) {
				executed = append(executed, a)
				if e.metrics != nil {
					e.metrics.ActionsExecuted.Add(ctx, 1, metric.WithAttributes(otel.AttrActionType.String(a.Type)))
				}
			}
			continue
		}
		raw, err := json.Marshal(a)
		if err != nil {
			e.logger.Warn("agent: marshal pending action", "action_id", a.ID, "error", err)
			continue
		}
		if _, err := e.store.CreatePendingAction(ctx, task.ID, string(raw)); err != nil {
			e.logger.Error("agent: queue pending action", "action_id", a.ID, "error", err)
			continue
		}
		pending++
		if e.metrics != nil {
			e.metrics.ActionsDeferred.Add(ctx, 1, metric.WithAttributes(otel.AttrActionType.String(a.Type)))
		}
	}
	result.ActionsExecuted = marshalActions(executed)

	if pending > 0 {
		result.Status = persistence.ResultPendingApproval
	} else {
		result.Status = persistence.ResultSuccess
	}
	return result
}

// reschedule computes the task's next run and lifecycle status after a run.
func (e *Executor) reschedule(ctx context.Context, task persistence.AgentTask, ranAt time.Time) {
	runCount := task.RunCount + 1
	next := NextRun(task, ranAt)
	status := task.Status

	if task.MaxRuns != nil && runCount >= *task.MaxRuns {
		status = persistence.AgentTaskCompleted
		next = nil
	} else if next == nil {
		switch task.TriggerType {
		case persistence.TriggerTime, persistence.TriggerManual:
			status = persistence.AgentTaskCompleted
		}
	}

	if err := e.store.RecordAgentTaskRun(ctx, task.ID, ranAt, next, runCount, status); err != nil {
		e.logger.Error("agent: record run failed", "task_id", task.ID, "error", err)
	}
}

func marshalActions(list []actions.ActionRequest) string {
	if len(list) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

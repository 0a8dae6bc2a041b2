package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daybreak-ai/daybreak/internal/actions"
	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/llm"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/providers"
)

// fakeClient records invocations and can block to simulate slow model calls.
type fakeClient struct {
	mu        sync.Mutex
	inflight  int32
	maxSeen   int32
	calls     []string
	response  string
	err       error
	blockEach time.Duration
}

func (c *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	cur := atomic.AddInt32(&c.inflight, 1)
	defer atomic.AddInt32(&c.inflight, -1)
	for {
		max := atomic.LoadInt32(&c.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&c.maxSeen, max, cur) {
			break
		}
	}
	if c.blockEach > 0 {
		select {
		case <-time.After(c.blockEach):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	c.mu.Lock()
	c.calls = append(c.calls, req.Prompt)
	c.mu.Unlock()
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{Text: c.response, Model: req.Model, CostUSD: 0.01}, nil
}

func (c *fakeClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestExecutor(t *testing.T, client llm.Client, cfg Config) (*Executor, *persistence.Store) {
	t.Helper()
	home := t.TempDir()
	eventBus := bus.New()
	store, err := persistence.Open(filepath.Join(home, "daybreak.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger, err := oplog.New(home, store, eventBus, logger)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	parser := actions.NewParser(logger)
	actionExec := actions.NewExecutor(store, ledger, nil, logger)
	registry := providers.NewRegistry(logger, providers.StoreProviders(store)...)
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	exec := NewExecutor(cfg, store, ledger, parser, actionExec, registry, client, eventBus, logger, nil)
	return exec, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func createActiveTask(t *testing.T, store *persistence.Store, name string, allowed []string) persistence.AgentTask {
	t.Helper()
	task, err := store.CreateAgentTask(context.Background(), persistence.AgentTask{
		Name:           name,
		Prompt:         "Review the day.",
		TriggerType:    persistence.TriggerManual,
		AllowedActions: allowed,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestSingleFlight(t *testing.T) {
	client := &fakeClient{response: "ok", blockEach: 30 * time.Millisecond}
	exec, store := newTestExecutor(t, client, Config{})
	exec.Start(context.Background())
	defer exec.Stop()

	var ids []string
	for i := 0; i < 5; i++ {
		task := createActiveTask(t, store, "t", nil)
		ids = append(ids, task.ID)
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			exec.Enqueue(id)
		}(id)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool { return client.callCount() == 5 })
	if max := atomic.LoadInt32(&client.maxSeen); max > 1 {
		t.Fatalf("saw %d concurrent model calls", max)
	}
}

func TestFIFOOrdering(t *testing.T) {
	client := &fakeClient{response: "ok", blockEach: 20 * time.Millisecond}
	exec, store := newTestExecutor(t, client, Config{})

	first := createActiveTask(t, store, "first", nil)
	second := createActiveTask(t, store, "second", nil)
	third := createActiveTask(t, store, "third", nil)

	// Queue everything before starting the worker so ordering is exact.
	exec.Enqueue(first.ID)
	exec.Enqueue(second.ID)
	exec.Enqueue(third.ID)
	exec.Start(context.Background())
	defer exec.Stop()

	waitFor(t, 5*time.Second, func() bool { return client.callCount() == 3 })

	var order []time.Time
	for _, id := range []string{first.ID, second.ID, third.ID} {
		got, err := store.GetAgentTask(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.LastRun == nil {
			t.Fatalf("task %s never ran", id)
		}
		order = append(order, *got.LastRun)
	}
	if order[0].After(order[1]) || order[1].After(order[2]) {
		t.Fatalf("run order wrong: %v", order)
	}
}

func TestEnqueueDedupes(t *testing.T) {
	client := &fakeClient{response: "ok"}
	exec, store := newTestExecutor(t, client, Config{})
	task := createActiveTask(t, store, "t", nil)

	exec.Enqueue(task.ID)
	exec.Enqueue(task.ID)
	if exec.QueueDepth() != 1 {
		t.Fatalf("queue depth = %d, want 1", exec.QueueDepth())
	}
}

func TestSuccessScenarioWithAutoAction(t *testing.T) {
	client := &fakeClient{
		response: "Done.\n<actions>[{\"id\":\"a1\",\"type\":\"createGoal\",\"title\":\"x\",\"requiresUserApproval\":false,\"payload\":{\"text\":\"ship it\"}}]</actions>",
	}
	exec, store := newTestExecutor(t, client, Config{})
	task := createActiveTask(t, store, "t", []string{actions.TypeCreateGoal})

	exec.Start(context.Background())
	defer exec.Stop()
	exec.Enqueue(task.ID)

	ctx := context.Background()
	waitFor(t, 5*time.Second, func() bool {
		results, _ := store.AgentTaskResults(ctx, task.ID, 1)
		return len(results) == 1
	})

	results, err := store.AgentTaskResults(ctx, task.ID, 1)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	r := results[0]
	if r.Status != persistence.ResultSuccess {
		t.Fatalf("status = %q, want success", r.Status)
	}
	if r.Output != "Done." {
		t.Fatalf("output = %q, want Done.", r.Output)
	}

	goals, err := store.ListGoals(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("goals: %v", err)
	}
	if len(goals) != 1 || goals[0].Title != "ship it" {
		t.Fatalf("goals = %+v", goals)
	}

	pending, err := store.PendingActions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("unexpected pending actions: %+v", pending)
	}
}

func TestDisallowedActionGoesPending(t *testing.T) {
	client := &fakeClient{
		response: "Queued.\n<actions>[{\"id\":\"a1\",\"type\":\"sendEmail\",\"payload\":{\"to\":\"x@example.com\",\"subject\":\"hi\"}}]</actions>",
	}
	exec, store := newTestExecutor(t, client, Config{})
	task := createActiveTask(t, store, "t", []string{actions.TypeSendEmail})

	exec.Start(context.Background())
	defer exec.Stop()
	exec.Enqueue(task.ID)

	ctx := context.Background()
	waitFor(t, 5*time.Second, func() bool {
		results, _ := store.AgentTaskResults(ctx, task.ID, 1)
		return len(results) == 1
	})

	results, _ := store.AgentTaskResults(ctx, task.ID, 1)
	if results[0].Status != persistence.ResultPendingApproval {
		t.Fatalf("status = %q, want pendingApproval", results[0].Status)
	}
	pending, err := store.PendingActions(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending actions", len(pending))
	}
}

func TestModelFailureYieldsFailedResult(t *testing.T) {
	client := &fakeClient{err: errors.New("model unavailable")}
	exec, store := newTestExecutor(t, client, Config{})
	task := createActiveTask(t, store, "t", nil)

	exec.Start(context.Background())
	defer exec.Stop()
	exec.Enqueue(task.ID)

	ctx := context.Background()
	waitFor(t, 5*time.Second, func() bool {
		results, _ := store.AgentTaskResults(ctx, task.ID, 1)
		return len(results) == 1
	})

	results, _ := store.AgentTaskResults(ctx, task.ID, 1)
	if results[0].Status != persistence.ResultFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if results[0].Output != "model unavailable" {
		t.Fatalf("output = %q", results[0].Output)
	}
}

func TestBudgetSkipLeavesTaskDue(t *testing.T) {
	client := &fakeClient{response: "ok"}
	exec, store := newTestExecutor(t, client, Config{DailyBudgetUSD: 1.0})
	ctx := context.Background()

	// Exhaust the budget before the task runs.
	if _, err := store.AppendCost(ctx, persistence.DayKey(time.Now()), "", "gpt-4o-mini", 2.0); err != nil {
		t.Fatalf("append cost: %v", err)
	}

	past := time.Now().Add(-time.Minute).UTC()
	task, err := store.CreateAgentTask(ctx, persistence.AgentTask{
		Name: "t", Prompt: "p", TriggerType: persistence.TriggerTime, NextRun: &past,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	eventBus := store.Bus()
	sub := eventBus.Subscribe(bus.TopicTaskSkipped)
	defer eventBus.Unsubscribe(sub)

	exec.Start(ctx)
	defer exec.Stop()
	exec.Enqueue(task.ID)

	select {
	case <-sub.Ch():
	case <-time.After(5 * time.Second):
		t.Fatal("no skip event")
	}

	if client.callCount() != 0 {
		t.Fatal("model was invoked despite exhausted budget")
	}
	results, err := store.AgentTaskResults(ctx, task.ID, 1)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 0 {
		t.Fatal("skipped task produced a result")
	}

	got, err := store.GetAgentTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != persistence.AgentTaskActive || got.NextRun == nil {
		t.Fatalf("skipped task no longer due: %+v", got)
	}

	due, err := store.DueAgentTasks(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatal("skipped task not returned by due query")
	}
}

func TestOneShotTaskCompletesAfterRun(t *testing.T) {
	client := &fakeClient{response: "ok"}
	exec, store := newTestExecutor(t, client, Config{})
	task := createActiveTask(t, store, "t", nil)

	exec.Start(context.Background())
	defer exec.Stop()
	exec.Enqueue(task.ID)

	ctx := context.Background()
	waitFor(t, 5*time.Second, func() bool {
		got, err := store.GetAgentTask(ctx, task.ID)
		return err == nil && got.Status == persistence.AgentTaskCompleted
	})

	got, _ := store.GetAgentTask(ctx, task.ID)
	if got.RunCount != 1 || got.NextRun != nil {
		t.Fatalf("task = %+v", got)
	}
}

func TestMaxRunsCompletesTask(t *testing.T) {
	client := &fakeClient{response: "ok"}
	exec, store := newTestExecutor(t, client, Config{})
	ctx := context.Background()

	maxRuns := 1
	interval := 5
	task, err := store.CreateAgentTask(ctx, persistence.AgentTask{
		Name: "t", Prompt: "p",
		TriggerType: persistence.TriggerRecurring,
		Trigger:     persistence.TriggerConfig{IntervalMinutes: &interval},
		MaxRuns:     &maxRuns,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	exec.Start(ctx)
	defer exec.Stop()
	exec.Enqueue(task.ID)

	waitFor(t, 5*time.Second, func() bool {
		got, err := store.GetAgentTask(ctx, task.ID)
		return err == nil && got.Status == persistence.AgentTaskCompleted
	})

	got, _ := store.GetAgentTask(ctx, task.ID)
	if got.NextRun != nil {
		t.Fatalf("completed task still scheduled: %+v", got)
	}
}

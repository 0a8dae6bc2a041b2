package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daybreak-ai/daybreak/internal/bus"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "daybreak.db"), bus.New())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenInitializesSchema(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestAgentTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fireAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	created, err := s.CreateAgentTask(ctx, AgentTask{
		Name:        "morning briefing",
		Prompt:      "Summarize my day.",
		TriggerType: TriggerTime,
		Trigger:     TriggerConfig{FireAt: &fireAt},
		ContextNeeds:   []string{"calendar", "tasks"},
		AllowedActions: []string{"create_task"},
		NextRun:        &fireAt,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if created.Status != AgentTaskActive {
		t.Fatalf("status = %q, want active", created.Status)
	}

	got, err := s.GetAgentTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "morning briefing" || got.TriggerType != TriggerTime {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Trigger.FireAt == nil || !got.Trigger.FireAt.Equal(fireAt) {
		t.Fatalf("fire_at = %v, want %v", got.Trigger.FireAt, fireAt)
	}
	if len(got.ContextNeeds) != 2 || got.ContextNeeds[1] != "tasks" {
		t.Fatalf("context needs = %v", got.ContextNeeds)
	}
}

func TestGetAgentTaskNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetAgentTask(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDueAgentTasksOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(name string, nextRun time.Time) string {
		t.Helper()
		task, err := s.CreateAgentTask(ctx, AgentTask{
			Name: name, Prompt: "p", TriggerType: TriggerTime, NextRun: &nextRun,
		})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return task.ID
	}

	later := mk("later", now.Add(-time.Minute))
	earlier := mk("earlier", now.Add(-time.Hour))
	mk("future", now.Add(time.Hour))

	due, err := s.DueAgentTasks(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due tasks, want 2", len(due))
	}
	if due[0].ID != earlier || due[1].ID != later {
		t.Fatalf("wrong order: %s, %s", due[0].Name, due[1].Name)
	}
}

func TestDueAgentTasksSkipsNonActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour).UTC()

	task, err := s.CreateAgentTask(ctx, AgentTask{
		Name: "paused", Prompt: "p", TriggerType: TriggerTime, NextRun: &past,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetAgentTaskStatus(ctx, task.ID, AgentTaskPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	due, err := s.DueAgentTasks(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("paused task reported due")
	}
}

func TestRecordAgentTaskRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	task, err := s.CreateAgentTask(ctx, AgentTask{
		Name: "t", Prompt: "p", TriggerType: TriggerManual,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	next := now.Add(30 * time.Minute)
	if err := s.RecordAgentTaskRun(ctx, task.ID, now, &next, 1, AgentTaskActive); err != nil {
		t.Fatalf("record run: %v", err)
	}

	got, err := s.GetAgentTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RunCount != 1 {
		t.Fatalf("run count = %d, want 1", got.RunCount)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Fatalf("last run = %v, want %v", got.LastRun, now)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) {
		t.Fatalf("next run = %v, want %v", got.NextRun, next)
	}
}

func TestNotFoundErrorsNameTheEntity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cases := []struct {
		entity string
		err    error
	}{
		{"theme block", s.SetThemeBlockStatus(ctx, "missing", BlockPlanned, "")},
		{"reminder", s.CompleteReminder(ctx, "missing")},
		{"goal", s.CompleteGoal(ctx, "missing")},
		{"theme", s.ArchiveTheme(ctx, "missing")},
		{"agent task", s.SetAgentTaskStatus(ctx, "missing", AgentTaskPaused)},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, ErrNotFound) {
			t.Fatalf("%s: err = %v, want ErrNotFound", tc.entity, tc.err)
		}
		if !strings.Contains(tc.err.Error(), tc.entity) {
			t.Fatalf("%s: message %q does not name the entity", tc.entity, tc.err)
		}
	}
}

func TestAgentTaskResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateAgentTask(ctx, AgentTask{
		Name: "t", Prompt: "p", TriggerType: TriggerManual,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cost := 0.0042
	first, err := s.AppendAgentTaskResult(ctx, AgentTaskResult{
		TaskID:          task.ID,
		Timestamp:       time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
		Output:          "older run",
		ActionsProposed: "[]",
		ActionsExecuted: "[]",
		Status:          ResultFailed,
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	second, err := s.AppendAgentTaskResult(ctx, AgentTaskResult{
		TaskID:          task.ID,
		Output:          "newer run",
		ActionsProposed: `[{"type":"createGoal"}]`,
		ActionsExecuted: "[]",
		CostUSD:         &cost,
		Status:          ResultSuccess,
		DurationMs:      120,
	})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if first.ID == "" || second.ID == "" {
		t.Fatal("expected generated result ids")
	}

	latest, err := s.LatestAgentTaskResult(ctx, task.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID || latest.Output != "newer run" {
		t.Fatalf("latest = %+v, want newest result", latest)
	}
	if latest.CostUSD == nil || *latest.CostUSD != cost {
		t.Fatalf("cost = %v, want %v", latest.CostUSD, cost)
	}
	if latest.Status != ResultSuccess {
		t.Fatalf("status = %q", latest.Status)
	}

	all, err := s.AgentTaskResults(ctx, task.ID, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("results out of order: %+v", all)
	}
}

func TestCheckinAgentTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateAgentTask(ctx, AgentTask{
		Name: "morning review", Prompt: "p", TriggerType: TriggerCheckin,
		Trigger: TriggerConfig{CheckinPhase: "morning"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = s.CreateAgentTask(ctx, AgentTask{
		Name: "evening review", Prompt: "p", TriggerType: TriggerCheckin,
		Trigger: TriggerConfig{CheckinPhase: "evening"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	morning, err := s.CheckinAgentTasks(ctx, "morning")
	if err != nil {
		t.Fatalf("checkin tasks: %v", err)
	}
	if len(morning) != 1 || morning[0].Name != "morning review" {
		t.Fatalf("got %d tasks for morning", len(morning))
	}
}

func TestThemeNameUniqueCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTheme(ctx, "Deep Work", "#0077ff"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTheme(ctx, "deep work", "#ff0000"); err == nil {
		t.Fatal("expected unique constraint violation")
	}

	got, err := s.GetThemeByName(ctx, "DEEP WORK")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.Name != "Deep Work" {
		t.Fatalf("name = %q", got.Name)
	}
}

func TestArchivedThemeFreesName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th, err := s.CreateTheme(ctx, "Admin", "#999999")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.ArchiveTheme(ctx, th.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := s.CreateTheme(ctx, "Admin", "#aaaaaa"); err != nil {
		t.Fatalf("create after archive: %v", err)
	}
}

func TestThemeBlockLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th, err := s.CreateTheme(ctx, "Writing", "#00aa55")
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	block, err := s.CreateThemeBlock(ctx, ThemeBlock{
		ThemeID: th.ID, StartAt: start, EndAt: start.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create block: %v", err)
	}
	if block.Status != BlockDraft {
		t.Fatalf("status = %q, want draft", block.Status)
	}

	if err := s.SetThemeBlockStatus(ctx, block.ID, BlockPublished, "cal-evt-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := s.GetThemeBlock(ctx, block.ID)
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if got.Status != BlockPublished || got.CalendarEventID != "cal-evt-1" {
		t.Fatalf("block = %+v", got)
	}

	inRange, err := s.ThemeBlocksInRange(ctx, start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(inRange) != 1 {
		t.Fatalf("got %d blocks in range", len(inRange))
	}
}

func TestPendingActionResolve(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePendingAction(ctx, "task-1", `{"type":"send_email"}`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	open, err := s.PendingActions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d pending", len(open))
	}

	resolved, err := s.ResolvePendingAction(ctx, p.ID, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Approved == nil || !*resolved.Approved {
		t.Fatal("expected approved")
	}
	if _, err := s.ResolvePendingAction(ctx, p.ID, false); err == nil {
		t.Fatal("expected error on double resolve")
	}

	open, err = s.PendingActions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved action still listed")
	}
}

func TestOperationEventFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insert := func(corr string, status OperationStatus) {
		t.Helper()
		_, err := s.InsertOperationEvent(ctx, OperationEvent{
			CorrelationID: corr,
			Operation:     "created",
			EntityType:    "todo_task",
			Status:        status,
			Payload:       map[string]string{"title": "x"},
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	insert("corr-a", OpSuccess)
	insert("corr-a", OpFailed)
	insert("corr-b", OpSuccess)

	byCorr, err := s.ListOperationEvents(ctx, OperationEventFilter{CorrelationID: "corr-a"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(byCorr) != 2 {
		t.Fatalf("got %d events for corr-a", len(byCorr))
	}
	if byCorr[0].EventID < byCorr[1].EventID {
		t.Fatal("expected newest first")
	}

	failed, err := s.ListOperationEvents(ctx, OperationEventFilter{Status: OpFailed})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Payload["title"] != "x" {
		t.Fatalf("failed events = %+v", failed)
	}
}

func TestDailySpend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := DayKey(time.Now())

	for _, c := range []float64{0.12, 0.3} {
		if _, err := s.AppendCost(ctx, day, "", "bg-model", c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.AppendCost(ctx, "1999-01-01", "", "bg-model", 5); err != nil {
		t.Fatalf("append other day: %v", err)
	}

	total, err := s.DailySpend(ctx, day)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if total < 0.419 || total > 0.421 {
		t.Fatalf("total = %f, want 0.42", total)
	}
}

func TestTodoThemeAssignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	th, err := s.CreateTheme(ctx, "Health", "#22cc88")
	if err != nil {
		t.Fatalf("create theme: %v", err)
	}
	todo, err := s.CreateTodoTask(ctx, TodoTask{Title: "book checkup"})
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if err := s.AssignTodoTheme(ctx, todo.ID, th.ID, th.Color); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := s.GetTodoTask(ctx, todo.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ThemeID != th.ID || got.Color != th.Color {
		t.Fatalf("todo = %+v", got)
	}
}

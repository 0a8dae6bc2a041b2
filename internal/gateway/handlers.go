package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/daybreak-ai/daybreak/internal/agent"
	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/planner"
)

// buildCatalog wires every tool the server exposes. Schemas are compiled
// once here; New fails if any of them is malformed.
func (s *Server) buildCatalog() ([]*tool, error) {
	tools := []*tool{
		{
			Name:        "get_calendar",
			Description: "List calendar events in a date range. Defaults to today through tomorrow.",
			InputSchema: schemaJSON(
				`"start_date":{"type":"string","description":"YYYY-MM-DD"},"end_date":{"type":"string","description":"YYYY-MM-DD, inclusive"}`),
			handler: s.toolGetCalendar,
		},
		{
			Name:        "get_reminders",
			Description: "List open reminders.",
			InputSchema: schemaJSON(`"limit":{"type":"integer","minimum":1}`),
			handler:     s.toolGetReminders,
		},
		{
			Name:        "get_goals",
			Description: "List goals from the last 24 hours.",
			InputSchema: schemaJSON(``),
			handler:     s.toolGetGoals,
		},
		{
			Name:        "get_notes",
			Description: "List recent notes.",
			InputSchema: schemaJSON(`"limit":{"type":"integer","minimum":1}`),
			handler:     s.toolGetNotes,
		},
		{
			Name:        "get_emails",
			Description: "List unread emails, important ones flagged.",
			InputSchema: schemaJSON(`"limit":{"type":"integer","minimum":1}`),
			handler:     s.toolGetEmails,
		},
		{
			Name:        "get_themes",
			Description: "List work themes.",
			InputSchema: schemaJSON(`"include_archived":{"type":"boolean"}`),
			handler:     s.toolGetThemes,
		},
		{
			Name:        "get_day_review",
			Description: "Summarize a day: blocks, events, goals, completed tasks, agent runs.",
			InputSchema: schemaJSON(`"date":{"type":"string","description":"YYYY-MM-DD, default today"}`),
			handler:     s.toolGetDayReview,
		},
		{
			Name:        "get_operation_events",
			Description: "Query the append-only operation log, newest first.",
			InputSchema: schemaJSON(
				`"limit":{"type":"integer","minimum":1},"status":{"type":"string","enum":["success","failed","partial_success"]},"correlation_id":{"type":"string"}`),
			handler: s.toolGetOperationEvents,
		},
		{
			Name:        "create_todo_task",
			Description: "Create a to-do task, optionally assigned to a theme by id or name.",
			Entity:      "task",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"title":{"type":"string","minLength":1},"notes":{"type":"string"},"due_date":{"type":"string"},"priority":{"type":"integer"},"theme_id":{"type":"string"},"theme_name":{"type":"string"},"create_if_missing":{"type":"boolean"},"color":{"type":"string"}`,
				"title"),
			handler: s.toolCreateTodoTask,
		},
		{
			Name:        "assign_task_theme",
			Description: "Assign an existing to-do task to a theme.",
			Entity:      "task",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"task_id":{"type":"string","minLength":1},"theme_id":{"type":"string"},"theme_name":{"type":"string"},"create_if_missing":{"type":"boolean"},"color":{"type":"string"}`,
				"task_id"),
			handler: s.toolAssignTaskTheme,
		},
		{
			Name:        "create_agent_task",
			Description: "Create an autonomous agent task with a trigger schedule.",
			Entity:      "agent_task",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"name":{"type":"string","minLength":1},"prompt":{"type":"string","minLength":1},"trigger_type":{"type":"string","enum":["time","recurring","event","checkin","manual"]},"fire_at":{"type":"string"},"cron_hour":{"type":"integer","minimum":0,"maximum":23},"cron_minute":{"type":"integer","minimum":0,"maximum":59},"interval_minutes":{"type":"integer","minimum":1},"checkin_phase":{"type":"string"},"event_type":{"type":"string"},"context_needs":{"type":"array","items":{"type":"string"}},"allowed_actions":{"type":"array","items":{"type":"string"}},"max_runs":{"type":"integer","minimum":1},"linked_todo_id":{"type":"string"}`,
				"name", "prompt", "trigger_type"),
			handler: s.toolCreateAgentTask,
		},
		{
			Name:        "list_agent_tasks",
			Description: "List agent tasks with their schedule and latest result.",
			InputSchema: schemaJSON(
				`"status":{"type":"string","enum":["active","paused","completed"]},"limit":{"type":"integer","minimum":1}`),
			handler: s.toolListAgentTasks,
		},
		{
			Name:        "cancel_agent_task",
			Description: "Cancel, pause, or resume an agent task.",
			Entity:      "agent_task",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"task_id":{"type":"string","minLength":1},"action":{"type":"string","enum":["cancel","pause","resume"]}`,
				"task_id"),
			handler: s.toolCancelAgentTask,
		},
		{
			Name:        "run_agent_task",
			Description: "Queue an agent task to run now, outside its schedule.",
			Entity:      "agent_task",
			Mutating:    true,
			InputSchema: schemaJSON(`"task_id":{"type":"string","minLength":1}`, "task_id"),
			handler:     s.toolRunAgentTask,
		},
		{
			Name:        "create_theme",
			Description: "Create a work theme. Names are unique, case-insensitive.",
			Entity:      "theme",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"name":{"type":"string","minLength":1},"color":{"type":"string"}`, "name"),
			handler: s.toolCreateTheme,
		},
		{
			Name:        "delete_theme",
			Description: "Archive or hard-delete a theme by id or name.",
			Entity:      "theme",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"theme_id":{"type":"string"},"theme_name":{"type":"string"},"mode":{"type":"string","enum":["archive","delete"]},"force":{"type":"boolean"}`),
			handler: s.toolDeleteTheme,
		},
		{
			Name:        "plan_day",
			Description: "Generate a draft plan of theme blocks for one day.",
			InputSchema: schemaJSON(`"date":{"type":"string","description":"YYYY-MM-DD, default today"}`),
			handler:     s.toolPlanDay,
		},
		{
			Name:        "plan_week",
			Description: "Generate a draft plan of theme blocks for five weekdays.",
			InputSchema: schemaJSON(`"start_date":{"type":"string","description":"YYYY-MM-DD, default today"}`),
			handler:     s.toolPlanWeek,
		},
		{
			Name:        "apply_plan_blocks",
			Description: "Persist a draft's blocks, optionally overriding times or publishing.",
			Entity:      "theme_block",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"draft_id":{"type":"string","minLength":1},"status":{"type":"string","enum":["draft","planned"]},"theme_name":{"type":"string"},"start_time":{"type":"string"},"end_time":{"type":"string"},"publish":{"type":"boolean"}`,
				"draft_id"),
			handler: s.toolApplyPlanBlocks,
		},
		{
			Name:        "publish_plan_blocks",
			Description: "Publish planned blocks to the calendar. Defaults to today's planned blocks.",
			Entity:      "theme_block",
			Mutating:    true,
			InputSchema: schemaJSON(`"block_ids":{"type":"array","items":{"type":"string"}}`),
			handler:     s.toolPublishPlanBlocks,
		},
		{
			Name:        "create_theme_block",
			Description: "Create a single theme block at an explicit time.",
			Entity:      "theme_block",
			Mutating:    true,
			InputSchema: schemaJSON(
				`"theme_id":{"type":"string","minLength":1},"start_time":{"type":"string","minLength":1},"end_time":{"type":"string","minLength":1},"publish":{"type":"boolean"}`,
				"theme_id", "start_time", "end_time"),
			handler: s.toolCreateThemeBlock,
		},
	}
	if err := compileTools(tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// ---- read-only tools ----

func (s *Server) toolGetCalendar(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	now := time.Now()
	from := startOfDay(now)
	to := from.AddDate(0, 0, 2)
	if d, ok, err := argDate(args, "start_date"); err != nil {
		return "", nil, err
	} else if ok {
		from = d
		to = d.AddDate(0, 0, 1)
	}
	if d, ok, err := argDate(args, "end_date"); err != nil {
		return "", nil, err
	} else if ok {
		to = d.AddDate(0, 0, 1)
	}
	events, err := s.cfg.Store.CalendarEventsInRange(ctx, from, to)
	if err != nil {
		return "", nil, err
	}
	if len(events) == 0 {
		return "No calendar events in range.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s):\n", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "- %s  %s to %s", e.Title, e.StartAt.Format("Mon 15:04"), e.EndAt.Format("15:04"))
		if e.Calendar != "" {
			fmt.Fprintf(&b, "  [%s]", e.Calendar)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"events": events}, nil
}

func (s *Server) toolGetReminders(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	reminders, err := s.cfg.Store.ListReminders(ctx)
	if err != nil {
		return "", nil, err
	}
	if limit := argIntDefault(args, "limit", 0); limit > 0 && len(reminders) > limit {
		reminders = reminders[:limit]
	}
	if len(reminders) == 0 {
		return "No open reminders.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d reminder(s):\n", len(reminders))
	for _, r := range reminders {
		fmt.Fprintf(&b, "- %s", r.Title)
		if r.DueAt != nil {
			fmt.Fprintf(&b, " (due %s)", r.DueAt.Format("2006-01-02 15:04"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"reminders": reminders}, nil
}

func (s *Server) toolGetGoals(ctx context.Context, _ map[string]any) (string, map[string]any, error) {
	goals, err := s.cfg.Store.ListGoals(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return "", nil, err
	}
	if len(goals) == 0 {
		return "No goals in the last 24 hours.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d goal(s):\n", len(goals))
	for _, g := range goals {
		mark := " "
		if g.Completed {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, g.Title)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"goals": goals}, nil
}

func (s *Server) toolGetNotes(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	notes, err := s.cfg.Store.RecentNotes(ctx, argIntDefault(args, "limit", 10))
	if err != nil {
		return "", nil, err
	}
	if len(notes) == 0 {
		return "No notes.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d note(s):\n", len(notes))
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s (%s)\n", n.Title, n.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"notes": notes}, nil
}

func (s *Server) toolGetEmails(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	emails, err := s.cfg.Store.UnreadEmails(ctx, argIntDefault(args, "limit", 15))
	if err != nil {
		return "", nil, err
	}
	if len(emails) == 0 {
		return "No unread emails.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d unread email(s):\n", len(emails))
	for _, e := range emails {
		if e.Important {
			b.WriteString("- [important] ")
		} else {
			b.WriteString("- ")
		}
		fmt.Fprintf(&b, "%s: %s\n", e.Address, e.Subject)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"emails": emails}, nil
}

func (s *Server) toolGetThemes(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	themes, err := s.cfg.Store.ListThemes(ctx, argBoolDefault(args, "include_archived", false))
	if err != nil {
		return "", nil, err
	}
	if len(themes) == 0 {
		return "No themes defined.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d theme(s):\n", len(themes))
	for _, th := range themes {
		fmt.Fprintf(&b, "- %s (%s)", th.Name, th.ID)
		if th.Archived {
			b.WriteString(" [archived]")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"themes": themes}, nil
}

func (s *Server) toolGetDayReview(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	day := startOfDay(time.Now())
	if d, ok, err := argDate(args, "date"); err != nil {
		return "", nil, err
	} else if ok {
		day = d
	}
	next := day.AddDate(0, 0, 1)

	var b strings.Builder
	fmt.Fprintf(&b, "# Review for %s\n", day.Format("2006-01-02"))

	blocks, err := s.cfg.Store.ThemeBlocksInRange(ctx, day, next)
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(&b, "\n## Theme blocks (%d)\n", len(blocks))
	for _, blk := range blocks {
		name := blk.ThemeID
		if th, err := s.cfg.Store.GetTheme(ctx, blk.ThemeID); err == nil {
			name = th.Name
		}
		fmt.Fprintf(&b, "- %s %s-%s [%s]\n", name, blk.StartAt.Format("15:04"), blk.EndAt.Format("15:04"), blk.Status)
	}

	events, err := s.cfg.Store.CalendarEventsInRange(ctx, day, next)
	if err != nil {
		return "", nil, err
	}
	fmt.Fprintf(&b, "\n## Calendar (%d)\n", len(events))
	for _, e := range events {
		fmt.Fprintf(&b, "- %s %s-%s\n", e.Title, e.StartAt.Format("15:04"), e.EndAt.Format("15:04"))
	}

	goals, err := s.cfg.Store.ListGoals(ctx, day)
	if err != nil {
		return "", nil, err
	}
	done := 0
	for _, g := range goals {
		if g.Completed {
			done++
		}
	}
	fmt.Fprintf(&b, "\n## Goals: %d of %d completed\n", done, len(goals))

	tasks, err := s.cfg.Store.ListTodoTasks(ctx, true)
	if err != nil {
		return "", nil, err
	}
	var completed []persistence.TodoTask
	for _, t := range tasks {
		if t.Completed && !t.UpdatedAt.Before(day) && t.UpdatedAt.Before(next) {
			completed = append(completed, t)
		}
	}
	fmt.Fprintf(&b, "\n## Completed tasks (%d)\n", len(completed))
	for _, t := range completed {
		fmt.Fprintf(&b, "- %s\n", t.Title)
	}

	runs, err := s.cfg.Store.ListOperationEvents(ctx, persistence.OperationEventFilter{Limit: 200})
	if err != nil {
		return "", nil, err
	}
	agentOps := 0
	for _, ev := range runs {
		if ev.Source == "agent" && !ev.CreatedAt.Before(day) && ev.CreatedAt.Before(next) {
			agentOps++
		}
	}
	fmt.Fprintf(&b, "\n## Agent operations: %d", agentOps)
	return b.String(), nil, nil
}

func (s *Server) toolGetOperationEvents(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	f := persistence.OperationEventFilter{
		Limit:         argIntDefault(args, "limit", 50),
		CorrelationID: argStringDefault(args, "correlation_id", ""),
	}
	if v := argStringDefault(args, "status", ""); v != "" {
		f.Status = persistence.OperationStatus(v)
	}
	events, err := s.cfg.Ledger.Query(ctx, f)
	if err != nil {
		return "", nil, err
	}
	if len(events) == 0 {
		return "No operation events match.", nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d event(s), newest first:\n", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "- #%d %s %s %s/%s: %s\n",
			ev.EventID, ev.CreatedAt.Format("01-02 15:04:05"), ev.Status, ev.EntityType, ev.Operation, ev.Message)
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"events": events}, nil
}

// ---- mutating tools ----

// resolveTheme finds a theme by id or by case-insensitive name, creating an
// unarchived one when asked. Returns the zero Theme and nil error when no
// theme reference was supplied at all.
func (s *Server) resolveTheme(ctx context.Context, args map[string]any) (persistence.Theme, bool, error) {
	if id := argStringDefault(args, "theme_id", ""); id != "" {
		th, err := s.cfg.Store.GetTheme(ctx, id)
		if err != nil {
			return persistence.Theme{}, false, fmt.Errorf("theme %s: %w", id, err)
		}
		return th, true, nil
	}
	name := strings.TrimSpace(argStringDefault(args, "theme_name", ""))
	if name == "" {
		return persistence.Theme{}, false, nil
	}
	th, err := s.cfg.Store.GetThemeByName(ctx, name)
	if err == nil {
		return th, true, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return persistence.Theme{}, false, err
	}
	if !argBoolDefault(args, "create_if_missing", false) {
		return persistence.Theme{}, false, fmt.Errorf("theme %q not found", name)
	}
	th, err = s.cfg.Store.CreateTheme(ctx, name, argStringDefault(args, "color", ""))
	if err != nil {
		return persistence.Theme{}, false, fmt.Errorf("create theme %q: %w", name, err)
	}
	s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "theme",
		EntityID:   th.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("created theme %q", th.Name),
	})
	return th, true, nil
}

func (s *Server) toolCreateTodoTask(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	todo := persistence.TodoTask{
		Title:    strings.TrimSpace(argStringDefault(args, "title", "")),
		Notes:    argStringDefault(args, "notes", ""),
		Priority: argIntDefault(args, "priority", 0),
		Color:    argStringDefault(args, "color", ""),
	}
	if due, ok, err := argTime(args, "due_date"); err != nil {
		return "", nil, err
	} else if ok {
		todo.DueAt = &due
	}
	th, found, err := s.resolveTheme(ctx, args)
	if err != nil {
		return "", nil, err
	}
	if found {
		todo.ThemeID = th.ID
		if todo.Color == "" {
			todo.Color = th.Color
		}
	}
	created, err := s.cfg.Store.CreateTodoTask(ctx, todo)
	if err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "task",
		EntityID:   created.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("created task %q", created.Title),
	})
	text := fmt.Sprintf("Created task %q (%s).", created.Title, created.ID)
	if found {
		text = fmt.Sprintf("Created task %q (%s) in theme %q.", created.Title, created.ID, th.Name)
	}
	return text, receiptFields(ev), nil
}

func (s *Server) toolAssignTaskTheme(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	taskID := argStringDefault(args, "task_id", "")
	todo, err := s.cfg.Store.GetTodoTask(ctx, taskID)
	if err != nil {
		return "", nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	th, found, err := s.resolveTheme(ctx, args)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errors.New("theme_id or theme_name is required")
	}
	color := argStringDefault(args, "color", th.Color)
	if err := s.cfg.Store.AssignTodoTheme(ctx, todo.ID, th.ID, color); err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "assigned",
		EntityType: "task",
		EntityID:   todo.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("assigned task %q to theme %q", todo.Title, th.Name),
		Payload:    map[string]string{"theme_id": th.ID},
	})
	return fmt.Sprintf("Assigned task %q to theme %q.", todo.Title, th.Name), receiptFields(ev), nil
}

func (s *Server) toolCreateAgentTask(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	task := persistence.AgentTask{
		Name:           strings.TrimSpace(argStringDefault(args, "name", "")),
		Prompt:         argStringDefault(args, "prompt", ""),
		TriggerType:    persistence.TriggerType(argStringDefault(args, "trigger_type", "")),
		ContextNeeds:   argStringSlice(args, "context_needs"),
		AllowedActions: argStringSlice(args, "allowed_actions"),
		CreatedBy:      "tool",
		LinkedTodoID:   argStringDefault(args, "linked_todo_id", ""),
	}
	if n, ok := argInt(args, "max_runs"); ok {
		task.MaxRuns = &n
	}
	if task.LinkedTodoID != "" {
		if _, err := s.cfg.Store.GetTodoTask(ctx, task.LinkedTodoID); err != nil {
			return "", nil, fmt.Errorf("linked todo %s: %w", task.LinkedTodoID, err)
		}
	}

	switch task.TriggerType {
	case persistence.TriggerTime:
		fireAt, ok, err := argTime(args, "fire_at")
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return "", nil, errors.New("time trigger needs fire_at")
		}
		task.Trigger.FireAt = &fireAt
	case persistence.TriggerRecurring:
		if n, ok := argInt(args, "interval_minutes"); ok {
			task.Trigger.IntervalMinutes = &n
		} else if h, ok := argInt(args, "cron_hour"); ok {
			task.Trigger.CronHour = &h
			if m, ok := argInt(args, "cron_minute"); ok {
				task.Trigger.CronMinute = &m
			}
		} else {
			return "", nil, errors.New("recurring trigger needs interval_minutes or cron_hour")
		}
	case persistence.TriggerCheckin:
		task.Trigger.CheckinPhase = argStringDefault(args, "checkin_phase", "")
		if task.Trigger.CheckinPhase == "" {
			return "", nil, errors.New("checkin trigger needs checkin_phase")
		}
	case persistence.TriggerEvent:
		task.Trigger.EventType = argStringDefault(args, "event_type", "")
		if task.Trigger.EventType == "" {
			return "", nil, errors.New("event trigger needs event_type")
		}
	case persistence.TriggerManual:
		// Nothing to configure.
	default:
		return "", nil, fmt.Errorf("unknown trigger_type %q", task.TriggerType)
	}

	task.NextRun = agent.InitialNextRun(task, time.Now())
	created, err := s.cfg.Store.CreateAgentTask(ctx, task)
	if err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "agent_task",
		EntityID:   created.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("created agent task %q (%s)", created.Name, created.TriggerType),
	})
	text := fmt.Sprintf("Created agent task %q (%s).", created.Name, created.ID)
	if created.NextRun != nil {
		text += fmt.Sprintf(" Next run %s.", created.NextRun.Format("2006-01-02 15:04"))
	}
	return text, receiptFields(ev), nil
}

func (s *Server) toolListAgentTasks(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	status := persistence.AgentTaskStatus(argStringDefault(args, "status", ""))
	tasks, err := s.cfg.Store.ListAgentTasks(ctx, status, argIntDefault(args, "limit", 50))
	if err != nil {
		return "", nil, err
	}
	if len(tasks) == 0 {
		return "No agent tasks.", nil, nil
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	var b strings.Builder
	fmt.Fprintf(&b, "%d agent task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s [%s, %s] (%s), %d run(s)", t.Name, t.Status, t.TriggerType, t.ID, t.RunCount)
		if t.NextRun != nil {
			fmt.Fprintf(&b, ", next %s", t.NextRun.Format("2006-01-02 15:04"))
		}
		if last, err := s.cfg.Store.LatestAgentTaskResult(ctx, t.ID); err == nil {
			fmt.Fprintf(&b, ", last result %s", last.Status)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), map[string]any{"tasks": tasks}, nil
}

func (s *Server) toolCancelAgentTask(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	taskID := argStringDefault(args, "task_id", "")
	task, err := s.cfg.Store.GetAgentTask(ctx, taskID)
	if err != nil {
		return "", nil, fmt.Errorf("agent task %s: %w", taskID, err)
	}
	action := argStringDefault(args, "action", "cancel")
	var target persistence.AgentTaskStatus
	switch action {
	case "cancel":
		target = persistence.AgentTaskCompleted
	case "pause":
		target = persistence.AgentTaskPaused
	case "resume":
		if task.Status != persistence.AgentTaskPaused {
			return "", nil, fmt.Errorf("agent task %q is %s, only paused tasks resume", task.Name, task.Status)
		}
		target = persistence.AgentTaskActive
	default:
		return "", nil, fmt.Errorf("unknown action %q", action)
	}
	if err := s.cfg.Store.SetAgentTaskStatus(ctx, task.ID, target); err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "updated",
		EntityType: "agent_task",
		EntityID:   task.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("agent task %q: %s", task.Name, action),
		Payload:    map[string]string{"status": string(target)},
	})
	return fmt.Sprintf("Agent task %q is now %s.", task.Name, target), receiptFields(ev), nil
}

func (s *Server) toolRunAgentTask(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	taskID := argStringDefault(args, "task_id", "")
	task, err := s.cfg.Store.GetAgentTask(ctx, taskID)
	if err != nil {
		return "", nil, fmt.Errorf("agent task %s: %w", taskID, err)
	}
	if task.Status != persistence.AgentTaskActive {
		return "", nil, fmt.Errorf("agent task %q is %s, only active tasks run", task.Name, task.Status)
	}
	s.cfg.Executor.Enqueue(task.ID)
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "updated",
		EntityType: "agent_task",
		EntityID:   task.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("queued agent task %q for immediate run", task.Name),
	})
	return fmt.Sprintf("Queued %q to run now.", task.Name), receiptFields(ev), nil
}

func (s *Server) toolCreateTheme(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	th, err := s.cfg.Store.CreateTheme(ctx,
		argStringDefault(args, "name", ""), argStringDefault(args, "color", ""))
	if err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "created",
		EntityType: "theme",
		EntityID:   th.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("created theme %q", th.Name),
	})
	return fmt.Sprintf("Created theme %q (%s).", th.Name, th.ID), receiptFields(ev), nil
}

func (s *Server) toolDeleteTheme(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	th, found, err := s.resolveTheme(ctx, args)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errors.New("theme_id or theme_name is required")
	}
	mode := argStringDefault(args, "mode", "archive")
	if mode == "delete" {
		blocks, err := s.cfg.Store.ThemeBlocksInRange(ctx, time.Time{}, time.Now().AddDate(10, 0, 0))
		if err != nil {
			return "", nil, err
		}
		owned := 0
		for _, blk := range blocks {
			if blk.ThemeID == th.ID {
				owned++
			}
		}
		if owned > 0 && !argBoolDefault(args, "force", false) {
			return "", nil, fmt.Errorf("theme %q has %d block(s); pass force to delete them too", th.Name, owned)
		}
		if err := s.cfg.Store.DeleteTheme(ctx, th.ID); err != nil {
			return "", nil, err
		}
		ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
			Operation:  "deleted",
			EntityType: "theme",
			EntityID:   th.ID,
			Status:     persistence.OpSuccess,
			Message:    fmt.Sprintf("deleted theme %q and %d block(s)", th.Name, owned),
		})
		return fmt.Sprintf("Deleted theme %q.", th.Name), receiptFields(ev), nil
	}
	if err := s.cfg.Store.ArchiveTheme(ctx, th.ID); err != nil {
		return "", nil, err
	}
	ev := s.cfg.Ledger.Record(ctx, oplog.Entry{
		Operation:  "updated",
		EntityType: "theme",
		EntityID:   th.ID,
		Status:     persistence.OpSuccess,
		Message:    fmt.Sprintf("archived theme %q", th.Name),
	})
	return fmt.Sprintf("Archived theme %q; its name is free for reuse.", th.Name), receiptFields(ev), nil
}

func (s *Server) toolPlanDay(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	date := startOfDay(time.Now())
	if d, ok, err := argDate(args, "date"); err != nil {
		return "", nil, err
	} else if ok {
		date = d
	}
	draft, err := s.cfg.Planner.PlanDay(ctx, date)
	if err != nil {
		return "", nil, err
	}
	return draftSummary(draft), map[string]any{"draft": draft}, nil
}

func (s *Server) toolPlanWeek(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	start := startOfDay(time.Now())
	if d, ok, err := argDate(args, "start_date"); err != nil {
		return "", nil, err
	} else if ok {
		start = d
	}
	draft, err := s.cfg.Planner.PlanWeek(ctx, start)
	if err != nil {
		return "", nil, err
	}
	return draftSummary(draft), map[string]any{"draft": draft}, nil
}

func draftSummary(draft planner.PlanDraft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft %s with %d proposed block(s):\n", draft.ID, len(draft.Proposals))
	for _, p := range draft.Proposals {
		fmt.Fprintf(&b, "- %s  %s %s-%s\n",
			p.ThemeName, p.StartAt.Format("Mon 2006-01-02"), p.StartAt.Format("15:04"), p.EndAt.Format("15:04"))
	}
	b.WriteString("Apply with apply_plan_blocks to persist.")
	return b.String()
}

func (s *Server) toolApplyPlanBlocks(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	draftID := argStringDefault(args, "draft_id", "")
	status := persistence.BlockPlanned
	if v := argStringDefault(args, "status", ""); v != "" {
		status = persistence.BlockStatus(v)
	}
	var overrides map[string]planner.TimeOverride
	start, hasStart, err := argTime(args, "start_time")
	if err != nil {
		return "", nil, err
	}
	end, hasEnd, err := argTime(args, "end_time")
	if err != nil {
		return "", nil, err
	}
	if hasStart || hasEnd {
		ov := planner.TimeOverride{}
		if hasStart {
			ov.Start = &start
		}
		if hasEnd {
			ov.End = &end
		}
		// theme_name scopes the override to one proposal; absent, it
		// rewrites every proposal in the draft.
		overrides = map[string]planner.TimeOverride{
			argStringDefault(args, "theme_name", ""): ov,
		}
	}

	blocks, err := s.cfg.Planner.ApplyDraft(ctx, draftID, status, overrides)
	if err != nil {
		return "", nil, err
	}

	text := fmt.Sprintf("Applied draft %s: %d block(s) persisted as %s.", draftID, len(blocks), status)
	extra := map[string]any{"blocks": blocks}
	if argBoolDefault(args, "publish", false) && len(blocks) > 0 {
		ids := make([]string, 0, len(blocks))
		for _, blk := range blocks {
			ids = append(ids, blk.ID)
		}
		res, err := s.cfg.Planner.PublishThemeBlocks(ctx, ids)
		if err != nil {
			return "", nil, err
		}
		text += fmt.Sprintf(" Published %d, failed %d.", len(res.PublishedBlockIDs), len(res.FailedBlockIDs))
		extra["publish_result"] = res
	}
	return text, extra, nil
}

func (s *Server) toolPublishPlanBlocks(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	res, err := s.cfg.Planner.PublishThemeBlocks(ctx, argStringSlice(args, "block_ids"))
	if err != nil {
		return "", nil, err
	}
	switch {
	case len(res.PublishedBlockIDs) == 0 && len(res.FailedBlockIDs) == 0:
		return "No planned blocks to publish.", map[string]any{"publish_result": res}, nil
	case len(res.FailedBlockIDs) == 0:
		return fmt.Sprintf("Published %d block(s).", len(res.PublishedBlockIDs)),
			map[string]any{"publish_result": res}, nil
	case len(res.PublishedBlockIDs) == 0:
		return "", map[string]any{"publish_result": res},
			fmt.Errorf("all %d block(s) failed to publish", len(res.FailedBlockIDs))
	default:
		return fmt.Sprintf("Published %d block(s); %d failed and stay planned for retry.",
			len(res.PublishedBlockIDs), len(res.FailedBlockIDs)), map[string]any{"publish_result": res}, nil
	}
}

func (s *Server) toolCreateThemeBlock(ctx context.Context, args map[string]any) (string, map[string]any, error) {
	start, ok, err := argTime(args, "start_time")
	if err != nil || !ok {
		if err == nil {
			err = errors.New("start_time is required")
		}
		return "", nil, err
	}
	end, ok, err := argTime(args, "end_time")
	if err != nil || !ok {
		if err == nil {
			err = errors.New("end_time is required")
		}
		return "", nil, err
	}
	block, err := s.cfg.Planner.CreateBlock(ctx, argStringDefault(args, "theme_id", ""), start, end, persistence.BlockPlanned)
	if err != nil {
		return "", nil, err
	}
	text := fmt.Sprintf("Created block %s from %s to %s.",
		block.ID, block.StartAt.Format("2006-01-02 15:04"), block.EndAt.Format("15:04"))
	extra := map[string]any{"block": block}
	if argBoolDefault(args, "publish", false) {
		res, err := s.cfg.Planner.PublishThemeBlocks(ctx, []string{block.ID})
		if err != nil {
			return "", nil, err
		}
		if len(res.PublishedBlockIDs) == 1 {
			text += " Published to calendar."
		} else {
			text += " Publish failed; block stays planned."
		}
		extra["publish_result"] = res
	}
	return text, extra, nil
}

// ---- argument helpers ----

func argStringDefault(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func argIntDefault(args map[string]any, key string, def int) int {
	if n, ok := argInt(args, key); ok {
		return n
	}
	return def
}

func argBoolDefault(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// argTime parses a timestamp argument. Layouts without a zone are read in
// local time.
func argTime(args map[string]any, key string) (time.Time, bool, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%s: cannot parse %q as a time", key, v)
}

func argDate(args map[string]any, key string) (time.Time, bool, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: cannot parse %q as YYYY-MM-DD", key, v)
	}
	return t, true, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

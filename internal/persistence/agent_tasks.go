package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// CreateAgentTask inserts a new agent task and returns it with identity and
// timestamps filled in. A zero Status defaults to active.
func (s *Store) CreateAgentTask(ctx context.Context, task AgentTask) (AgentTask, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = AgentTaskActive
	}
	if task.CreatedBy == "" {
		task.CreatedBy = "chat"
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (
			id, name, prompt, trigger_type,
			fire_at, cron_hour, cron_minute, interval_minutes, checkin_phase, event_type,
			context_needs, allowed_actions, status, created_by,
			last_run_at, next_run_at, run_count, max_runs, linked_todo_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		task.ID, task.Name, task.Prompt, string(task.TriggerType),
		nullTime(task.Trigger.FireAt), nullInt(task.Trigger.CronHour), nullInt(task.Trigger.CronMinute),
		nullInt(task.Trigger.IntervalMinutes), task.Trigger.CheckinPhase, task.Trigger.EventType,
		joinTags(task.ContextNeeds), joinTags(task.AllowedActions), string(task.Status), task.CreatedBy,
		nullTime(task.LastRun), nullTime(task.NextRun), task.RunCount, nullInt(task.MaxRuns), task.LinkedTodoID,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return AgentTask{}, fmt.Errorf("insert agent task: %w", err)
	}
	return task, nil
}

// GetAgentTask fetches one agent task by id.
func (s *Store) GetAgentTask(ctx context.Context, id string) (AgentTask, error) {
	row := s.db.QueryRowContext(ctx, agentTaskSelect+` WHERE id = ?;`, id)
	task, err := scanAgentTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AgentTask{}, fmt.Errorf("agent task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return AgentTask{}, fmt.Errorf("get agent task: %w", err)
	}
	return task, nil
}

// ListAgentTasks returns tasks, optionally filtered by status, newest first.
func (s *Store) ListAgentTasks(ctx context.Context, status AgentTaskStatus, limit int) ([]AgentTask, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query := agentTaskSelect
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agent tasks: %w", err)
	}
	defer rows.Close()
	return collectAgentTasks(rows)
}

// DueAgentTasks returns active tasks whose next_run_at has passed, ordered by
// next_run_at ascending. Tasks with a null next_run_at are never due here.
func (s *Store) DueAgentTasks(ctx context.Context, now time.Time) ([]AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, agentTaskSelect+`
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC;
	`, string(AgentTaskActive), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("due agent tasks: %w", err)
	}
	defer rows.Close()
	return collectAgentTasks(rows)
}

// CheckinAgentTasks returns active checkin-triggered tasks bound to the given
// phase, ignoring next_run_at entirely (checkins fire externally).
func (s *Store) CheckinAgentTasks(ctx context.Context, phase string) ([]AgentTask, error) {
	rows, err := s.db.QueryContext(ctx, agentTaskSelect+`
		WHERE status = ? AND trigger_type = ? AND checkin_phase = ?
		ORDER BY created_at ASC;
	`, string(AgentTaskActive), string(TriggerCheckin), phase)
	if err != nil {
		return nil, fmt.Errorf("checkin agent tasks: %w", err)
	}
	defer rows.Close()
	return collectAgentTasks(rows)
}

// RecordAgentTaskRun persists post-run bookkeeping: last/next run timestamps,
// incremented run count, and any status transition. Only the executor calls
// this.
func (s *Store) RecordAgentTaskRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time, runCount int, status AgentTaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks
		SET last_run_at = ?, next_run_at = ?, run_count = ?, status = ?, updated_at = ?
		WHERE id = ?;
	`, lastRun.UTC(), nullTime(nextRun), runCount, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("record agent task run: %w", err)
	}
	return requireRowAffected(res, "agent task", id)
}

// SetAgentTaskStatus transitions a task's lifecycle status (pause/resume/cancel).
func (s *Store) SetAgentTaskStatus(ctx context.Context, id string, status AgentTaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_tasks SET status = ?, updated_at = ? WHERE id = ?;
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set agent task status: %w", err)
	}
	return requireRowAffected(res, "agent task", id)
}

const agentTaskSelect = `
	SELECT id, name, prompt, trigger_type,
		fire_at, cron_hour, cron_minute, interval_minutes, checkin_phase, event_type,
		context_needs, allowed_actions, status, created_by,
		last_run_at, next_run_at, run_count, max_runs, linked_todo_id,
		created_at, updated_at
	FROM agent_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentTask(row rowScanner) (AgentTask, error) {
	var (
		task            AgentTask
		triggerType     string
		status          string
		fireAt          sql.NullTime
		cronHour        sql.NullInt64
		cronMinute      sql.NullInt64
		intervalMinutes sql.NullInt64
		contextNeeds    string
		allowedActions  string
		lastRun         sql.NullTime
		nextRun         sql.NullTime
		maxRuns         sql.NullInt64
	)
	err := row.Scan(
		&task.ID, &task.Name, &task.Prompt, &triggerType,
		&fireAt, &cronHour, &cronMinute, &intervalMinutes, &task.Trigger.CheckinPhase, &task.Trigger.EventType,
		&contextNeeds, &allowedActions, &status, &task.CreatedBy,
		&lastRun, &nextRun, &task.RunCount, &maxRuns, &task.LinkedTodoID,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return AgentTask{}, err
	}
	task.TriggerType = TriggerType(triggerType)
	task.Status = AgentTaskStatus(status)
	task.ContextNeeds = splitTags(contextNeeds)
	task.AllowedActions = splitTags(allowedActions)
	if fireAt.Valid {
		t := fireAt.Time
		task.Trigger.FireAt = &t
	}
	if cronHour.Valid {
		v := int(cronHour.Int64)
		task.Trigger.CronHour = &v
	}
	if cronMinute.Valid {
		v := int(cronMinute.Int64)
		task.Trigger.CronMinute = &v
	}
	if intervalMinutes.Valid {
		v := int(intervalMinutes.Int64)
		task.Trigger.IntervalMinutes = &v
	}
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRun = &t
	}
	if nextRun.Valid {
		t := nextRun.Time
		task.NextRun = &t
	}
	if maxRuns.Valid {
		v := int(maxRuns.Int64)
		task.MaxRuns = &v
	}
	return task, nil
}

func collectAgentTasks(rows *sql.Rows) ([]AgentTask, error) {
	var out []AgentTask
	for rows.Next() {
		task, err := scanAgentTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func requireRowAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

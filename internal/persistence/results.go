package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AppendAgentTaskResult stores the record of one task execution.
func (s *Store) AppendAgentTaskResult(ctx context.Context, result AgentTaskResult) (AgentTaskResult, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_task_results (
			id, task_id, created_at, output, actions_proposed, actions_executed,
			cost_usd, status, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		result.ID, result.TaskID, result.Timestamp.UTC(), result.Output,
		result.ActionsProposed, result.ActionsExecuted,
		nullFloat(result.CostUSD), string(result.Status), result.DurationMs,
	)
	if err != nil {
		return AgentTaskResult{}, fmt.Errorf("append agent task result: %w", err)
	}
	return result, nil
}

// AgentTaskResults returns the most recent results for a task, newest first.
func (s *Store) AgentTaskResults(ctx context.Context, taskID string, limit int) ([]AgentTaskResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, created_at, output, actions_proposed, actions_executed,
			cost_usd, status, duration_ms
		FROM agent_task_results
		WHERE task_id = ?
		ORDER BY created_at DESC
		LIMIT ?;
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("agent task results: %w", err)
	}
	defer rows.Close()

	var out []AgentTaskResult
	for rows.Next() {
		var (
			r      AgentTaskResult
			cost   sql.NullFloat64
			status string
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Timestamp, &r.Output,
			&r.ActionsProposed, &r.ActionsExecuted, &cost, &status, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scan agent task result: %w", err)
		}
		if cost.Valid {
			v := cost.Float64
			r.CostUSD = &v
		}
		r.Status = ResultStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestAgentTaskResult returns the most recent result for a task, or
// ErrNotFound when the task has never produced one.
func (s *Store) LatestAgentTaskResult(ctx context.Context, taskID string) (AgentTaskResult, error) {
	results, err := s.AgentTaskResults(ctx, taskID, 1)
	if err != nil {
		return AgentTaskResult{}, err
	}
	if len(results) == 0 {
		return AgentTaskResult{}, fmt.Errorf("results for task %s: %w", taskID, ErrNotFound)
	}
	return results[0], nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

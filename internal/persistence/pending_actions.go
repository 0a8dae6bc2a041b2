package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePendingAction queues an action proposed by a task run that needs
// explicit user approval before execution.
func (s *Store) CreatePendingAction(ctx context.Context, taskID, actionJSON string) (PendingAction, error) {
	p := PendingAction{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		ActionJSON: actionJSON,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, task_id, action_json, created_at)
		VALUES (?, ?, ?, ?);
	`, p.ID, p.TaskID, p.ActionJSON, p.CreatedAt)
	if err != nil {
		return PendingAction{}, fmt.Errorf("create pending action: %w", err)
	}
	return p, nil
}

// PendingActions lists unresolved pending actions, oldest first.
func (s *Store) PendingActions(ctx context.Context) ([]PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, action_json, created_at, resolved_at, approved
		FROM pending_actions
		WHERE resolved_at IS NULL
		ORDER BY created_at ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("pending actions: %w", err)
	}
	defer rows.Close()
	return collectPendingActions(rows)
}

// ResolvePendingAction marks a pending action approved or rejected. The
// action JSON is returned so an approved action can be executed by the caller.
func (s *Store) ResolvePendingAction(ctx context.Context, id string, approved bool) (PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, action_json, created_at, resolved_at, approved
		FROM pending_actions WHERE id = ?;
	`, id)
	p, err := scanPendingAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PendingAction{}, fmt.Errorf("pending action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return PendingAction{}, fmt.Errorf("resolve pending action: %w", err)
	}
	if p.ResolvedAt != nil {
		return PendingAction{}, fmt.Errorf("pending action %s already resolved", id)
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET resolved_at = ?, approved = ? WHERE id = ?;
	`, now, approved, id); err != nil {
		return PendingAction{}, fmt.Errorf("resolve pending action: %w", err)
	}
	p.ResolvedAt = &now
	p.Approved = &approved
	return p, nil
}

// RecordExecutedAction writes an audit row for an action that actually ran.
func (s *Store) RecordExecutedAction(ctx context.Context, actionID, taskID string, approved bool) (ExecutedAction, error) {
	e := ExecutedAction{
		ID:         uuid.NewString(),
		ActionID:   actionID,
		TaskID:     taskID,
		Approved:   approved,
		ExecutedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executed_actions (id, action_id, task_id, approved, executed_at)
		VALUES (?, ?, ?, ?, ?);
	`, e.ID, e.ActionID, e.TaskID, e.Approved, e.ExecutedAt)
	if err != nil {
		return ExecutedAction{}, fmt.Errorf("record executed action: %w", err)
	}
	return e, nil
}

// ExecutedActions lists the execution audit trail for one task, newest first.
func (s *Store) ExecutedActions(ctx context.Context, taskID string, limit int) ([]ExecutedAction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action_id, task_id, approved, executed_at
		FROM executed_actions
		WHERE task_id = ?
		ORDER BY executed_at DESC
		LIMIT ?;
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("executed actions: %w", err)
	}
	defer rows.Close()

	var out []ExecutedAction
	for rows.Next() {
		var e ExecutedAction
		if err := rows.Scan(&e.ID, &e.ActionID, &e.TaskID, &e.Approved, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan executed action: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPendingAction(row rowScanner) (PendingAction, error) {
	var (
		p        PendingAction
		resolved sql.NullTime
		approved sql.NullBool
	)
	if err := row.Scan(&p.ID, &p.TaskID, &p.ActionJSON, &p.CreatedAt, &resolved, &approved); err != nil {
		return PendingAction{}, err
	}
	if resolved.Valid {
		t := resolved.Time
		p.ResolvedAt = &t
	}
	if approved.Valid {
		v := approved.Bool
		p.Approved = &v
	}
	return p, nil
}

func collectPendingActions(rows *sql.Rows) ([]PendingAction, error) {
	var out []PendingAction
	for rows.Next() {
		p, err := scanPendingAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending action: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// InsertOperationEvent appends one row to the operation event table and
// returns the row with its assigned event id.
func (s *Store) InsertOperationEvent(ctx context.Context, ev OperationEvent) (OperationEvent, error) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = "-"
	}
	payload := "{}"
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return OperationEvent{}, fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(raw)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operation_events (correlation_id, operation, entity_type, entity_id, source, status, message, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, ev.CorrelationID, ev.Operation, ev.EntityType, ev.EntityID, ev.Source, string(ev.Status), ev.Message, payload, ev.CreatedAt)
	if err != nil {
		return OperationEvent{}, fmt.Errorf("insert operation event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return OperationEvent{}, fmt.Errorf("insert operation event: %w", err)
	}
	ev.EventID = id
	return ev, nil
}

// OperationEventFilter narrows ListOperationEvents. Zero values mean no
// filtering on that field.
type OperationEventFilter struct {
	Status        OperationStatus
	CorrelationID string
	EntityType    string
	Limit         int
}

// ListOperationEvents returns events newest first.
func (s *Store) ListOperationEvents(ctx context.Context, f OperationEventFilter) ([]OperationEvent, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	query := `
		SELECT event_id, correlation_id, operation, entity_type, entity_id, source, status, message, payload_json, created_at
		FROM operation_events WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, f.CorrelationID)
	}
	if f.EntityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, f.EntityType)
	}
	query += ` ORDER BY event_id DESC LIMIT ?;`
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operation events: %w", err)
	}
	defer rows.Close()

	var out []OperationEvent
	for rows.Next() {
		var (
			ev      OperationEvent
			status  string
			payload string
		)
		if err := rows.Scan(&ev.EventID, &ev.CorrelationID, &ev.Operation, &ev.EntityType,
			&ev.EntityID, &ev.Source, &status, &ev.Message, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan operation event: %w", err)
		}
		ev.Status = OperationStatus(status)
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

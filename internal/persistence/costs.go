package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DayKey formats a timestamp as the cost ledger's day bucket, in local time.
func DayKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// AppendCost records spend against the daily budget.
func (s *Store) AppendCost(ctx context.Context, day, sessionID, model string, costUSD float64) (CostEntry, error) {
	e := CostEntry{
		ID:        uuid.NewString(),
		Day:       day,
		SessionID: sessionID,
		Model:     model,
		CostUSD:   costUSD,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cost_ledger (id, day, session_id, model, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?);
	`, e.ID, e.Day, e.SessionID, e.Model, e.CostUSD, e.CreatedAt)
	if err != nil {
		return CostEntry{}, fmt.Errorf("append cost: %w", err)
	}
	return e, nil
}

// DailySpend sums all costs recorded for the given day bucket.
func (s *Store) DailySpend(ctx context.Context, day string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger WHERE day = ?;
	`, day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("daily spend: %w", err)
	}
	return total, nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateThemeBlock inserts a scheduled block of time for a theme.
func (s *Store) CreateThemeBlock(ctx context.Context, block ThemeBlock) (ThemeBlock, error) {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.Status == "" {
		block.Status = BlockDraft
	}
	now := time.Now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO theme_blocks (
			id, theme_id, start_at, end_at, status,
			calendar_event_id, recurrence, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		block.ID, block.ThemeID, block.StartAt.UTC(), block.EndAt.UTC(), string(block.Status),
		block.CalendarEventID, block.Recurrence, block.CreatedAt, block.UpdatedAt,
	)
	if err != nil {
		return ThemeBlock{}, fmt.Errorf("create theme block: %w", err)
	}
	return block, nil
}

// GetThemeBlock fetches one block by id.
func (s *Store) GetThemeBlock(ctx context.Context, id string) (ThemeBlock, error) {
	row := s.db.QueryRowContext(ctx, themeBlockSelect+` WHERE id = ?;`, id)
	b, err := scanThemeBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ThemeBlock{}, fmt.Errorf("theme block %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ThemeBlock{}, fmt.Errorf("get theme block: %w", err)
	}
	return b, nil
}

// ThemeBlocksInRange returns blocks overlapping [from, to), ordered by start.
func (s *Store) ThemeBlocksInRange(ctx context.Context, from, to time.Time) ([]ThemeBlock, error) {
	rows, err := s.db.QueryContext(ctx, themeBlockSelect+`
		WHERE start_at < ? AND end_at > ?
		ORDER BY start_at ASC;
	`, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("theme blocks in range: %w", err)
	}
	defer rows.Close()
	return collectThemeBlocks(rows)
}

// ThemeBlocksByStatus returns blocks in a given lifecycle state, ordered by
// start time.
func (s *Store) ThemeBlocksByStatus(ctx context.Context, status BlockStatus) ([]ThemeBlock, error) {
	rows, err := s.db.QueryContext(ctx, themeBlockSelect+`
		WHERE status = ?
		ORDER BY start_at ASC;
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("theme blocks by status: %w", err)
	}
	defer rows.Close()
	return collectThemeBlocks(rows)
}

// UpdateThemeBlockTimes moves a block to a new start and end.
func (s *Store) UpdateThemeBlockTimes(ctx context.Context, id string, startAt, endAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE theme_blocks SET start_at = ?, end_at = ?, updated_at = ? WHERE id = ?;
	`, startAt.UTC(), endAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update theme block times: %w", err)
	}
	return requireRowAffected(res, "theme block", id)
}

// SetThemeBlockStatus records a lifecycle transition. A published block only
// moves backward to planned; the planner enforces which transitions are legal,
// the store records them. CalendarEventID is written alongside so a publish
// and its external event id land atomically.
func (s *Store) SetThemeBlockStatus(ctx context.Context, id string, status BlockStatus, calendarEventID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE theme_blocks SET status = ?, calendar_event_id = ?, updated_at = ? WHERE id = ?;
	`, string(status), calendarEventID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set theme block status: %w", err)
	}
	return requireRowAffected(res, "theme block", id)
}

// DeleteThemeBlock removes a block outright.
func (s *Store) DeleteThemeBlock(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM theme_blocks WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete theme block: %w", err)
	}
	return requireRowAffected(res, "theme block", id)
}

const themeBlockSelect = `
	SELECT id, theme_id, start_at, end_at, status,
		calendar_event_id, recurrence, created_at, updated_at
	FROM theme_blocks`

func scanThemeBlock(row rowScanner) (ThemeBlock, error) {
	var (
		b      ThemeBlock
		status string
	)
	err := row.Scan(&b.ID, &b.ThemeID, &b.StartAt, &b.EndAt, &status,
		&b.CalendarEventID, &b.Recurrence, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return ThemeBlock{}, err
	}
	b.Status = BlockStatus(status)
	return b, nil
}

func collectThemeBlocks(rows *sql.Rows) ([]ThemeBlock, error) {
	var out []ThemeBlock
	for rows.Next() {
		b, err := scanThemeBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theme block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateTheme inserts a theme. Names are unique case-insensitively among
// unarchived themes; the sqlite unique index enforces it.
func (s *Store) CreateTheme(ctx context.Context, name, color string) (Theme, error) {
	t := Theme{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Color:     color,
		CreatedAt: time.Now().UTC(),
	}
	if t.Name == "" {
		return Theme{}, fmt.Errorf("create theme: empty name")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO themes (id, name, color, archived, created_at)
		VALUES (?, ?, ?, 0, ?);
	`, t.ID, t.Name, t.Color, t.CreatedAt)
	if err != nil {
		return Theme{}, fmt.Errorf("create theme: %w", err)
	}
	return t, nil
}

// GetTheme fetches a theme by id.
func (s *Store) GetTheme(ctx context.Context, id string) (Theme, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, archived, created_at FROM themes WHERE id = ?;
	`, id)
	t, err := scanTheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Theme{}, fmt.Errorf("theme %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Theme{}, fmt.Errorf("get theme: %w", err)
	}
	return t, nil
}

// GetThemeByName resolves an unarchived theme by case-insensitive name.
func (s *Store) GetThemeByName(ctx context.Context, name string) (Theme, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, archived, created_at
		FROM themes
		WHERE lower(name) = lower(?) AND archived = 0;
	`, strings.TrimSpace(name))
	t, err := scanTheme(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Theme{}, fmt.Errorf("theme %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Theme{}, fmt.Errorf("get theme by name: %w", err)
	}
	return t, nil
}

// ListThemes returns themes, unarchived first, then by name.
func (s *Store) ListThemes(ctx context.Context, includeArchived bool) ([]Theme, error) {
	query := `SELECT id, name, color, archived, created_at FROM themes`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY archived ASC, name COLLATE NOCASE ASC;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list themes: %w", err)
	}
	defer rows.Close()

	var out []Theme
	for rows.Next() {
		t, err := scanTheme(rows)
		if err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTheme renames or recolors a theme. Empty fields are left untouched.
func (s *Store) UpdateTheme(ctx context.Context, id, name, color string) (Theme, error) {
	t, err := s.GetTheme(ctx, id)
	if err != nil {
		return Theme{}, err
	}
	if strings.TrimSpace(name) != "" {
		t.Name = strings.TrimSpace(name)
	}
	if color != "" {
		t.Color = color
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE themes SET name = ?, color = ? WHERE id = ?;
	`, t.Name, t.Color, id); err != nil {
		return Theme{}, fmt.Errorf("update theme: %w", err)
	}
	return t, nil
}

// ArchiveTheme soft-deletes a theme. Its blocks survive for history.
func (s *Store) ArchiveTheme(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE themes SET archived = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("archive theme: %w", err)
	}
	return requireRowAffected(res, "theme", id)
}

// DeleteTheme removes a theme and all of its blocks. Hard delete, meant for
// themes created by mistake.
func (s *Store) DeleteTheme(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete theme: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM theme_blocks WHERE theme_id = ?;`, id); err != nil {
		return fmt.Errorf("delete theme blocks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM themes WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete theme: %w", err)
	}
	if err := requireRowAffected(res, "theme", id); err != nil {
		return err
	}
	return tx.Commit()
}

func scanTheme(row rowScanner) (Theme, error) {
	var t Theme
	if err := row.Scan(&t.ID, &t.Name, &t.Color, &t.Archived, &t.CreatedAt); err != nil {
		return Theme{}, err
	}
	return t, nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The workspace tables hold the user's working data: todos, goals, reminders,
// calendar events, notes, and an email snapshot. Background tasks read them
// for context and mutate them through executed actions.

// CreateTodoTask inserts a todo.
func (s *Store) CreateTodoTask(ctx context.Context, t TodoTask) (TodoTask, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO todo_tasks (id, title, notes, due_at, priority, theme_id, color, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`, t.ID, t.Title, t.Notes, nullTime(t.DueAt), t.Priority, t.ThemeID, t.Color, t.Completed, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return TodoTask{}, fmt.Errorf("create todo: %w", err)
	}
	return t, nil
}

// GetTodoTask fetches one todo by id.
func (s *Store) GetTodoTask(ctx context.Context, id string) (TodoTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, notes, due_at, priority, theme_id, color, completed, created_at, updated_at
		FROM todo_tasks WHERE id = ?;
	`, id)
	t, err := scanTodoTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TodoTask{}, fmt.Errorf("todo %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return TodoTask{}, fmt.Errorf("get todo: %w", err)
	}
	return t, nil
}

// ListTodoTasks returns todos, open first, then by due date and priority.
func (s *Store) ListTodoTasks(ctx context.Context, includeCompleted bool) ([]TodoTask, error) {
	query := `
		SELECT id, title, notes, due_at, priority, theme_id, color, completed, created_at, updated_at
		FROM todo_tasks`
	if !includeCompleted {
		query += ` WHERE completed = 0`
	}
	query += ` ORDER BY completed ASC, due_at IS NULL, due_at ASC, priority DESC;`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var out []TodoTask
	for rows.Next() {
		t, err := scanTodoTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTodoTask overwrites a todo's mutable fields.
func (s *Store) UpdateTodoTask(ctx context.Context, t TodoTask) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE todo_tasks
		SET title = ?, notes = ?, due_at = ?, priority = ?, theme_id = ?, color = ?, completed = ?, updated_at = ?
		WHERE id = ?;
	`, t.Title, t.Notes, nullTime(t.DueAt), t.Priority, t.ThemeID, t.Color, t.Completed, time.Now().UTC(), t.ID)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	return requireRowAffected(res, "todo task", t.ID)
}

// AssignTodoTheme links a todo to a theme and carries the theme's color onto
// the todo for display.
func (s *Store) AssignTodoTheme(ctx context.Context, todoID, themeID, color string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE todo_tasks SET theme_id = ?, color = ?, updated_at = ? WHERE id = ?;
	`, themeID, color, time.Now().UTC(), todoID)
	if err != nil {
		return fmt.Errorf("assign todo theme: %w", err)
	}
	return requireRowAffected(res, "todo task", todoID)
}

// DeleteTodoTask removes a todo.
func (s *Store) DeleteTodoTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM todo_tasks WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	return requireRowAffected(res, "todo task", id)
}

// CreateGoal inserts a daily goal.
func (s *Store) CreateGoal(ctx context.Context, title, notes string) (Goal, error) {
	g := Goal{ID: uuid.NewString(), Title: title, Notes: notes, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goals (id, title, notes, completed, created_at) VALUES (?, ?, ?, 0, ?);
	`, g.ID, g.Title, g.Notes, g.CreatedAt)
	if err != nil {
		return Goal{}, fmt.Errorf("create goal: %w", err)
	}
	return g, nil
}

// ListGoals returns goals created since the cutoff, newest first.
func (s *Store) ListGoals(ctx context.Context, since time.Time) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, notes, completed, created_at, completed_at
		FROM goals WHERE created_at >= ? ORDER BY created_at DESC;
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []Goal
	for rows.Next() {
		var (
			g           Goal
			completedAt sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.Title, &g.Notes, &g.Completed, &g.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			g.CompletedAt = &t
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGoal rewrites a goal's text fields. Empty arguments keep the stored
// value.
func (s *Store) UpdateGoal(ctx context.Context, id, title, notes string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			notes = CASE WHEN ? != '' THEN ? ELSE notes END
		WHERE id = ?;
	`, title, title, notes, notes, id)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	return requireRowAffected(res, "goal", id)
}

// CompleteGoal marks a goal done.
func (s *Store) CompleteGoal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goals SET completed = 1, completed_at = ? WHERE id = ?;
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete goal: %w", err)
	}
	return requireRowAffected(res, "goal", id)
}

// UpsertReminder writes a reminder row, replacing any existing one with the
// same id. Snapshot syncs call this repeatedly.
func (s *Store) UpsertReminder(ctx context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, title, due_at, completed, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, due_at = excluded.due_at, completed = excluded.completed;
	`, r.ID, r.Title, nullTime(r.DueAt), r.Completed, r.CreatedAt)
	if err != nil {
		return Reminder{}, fmt.Errorf("upsert reminder: %w", err)
	}
	return r, nil
}

// ListReminders returns open reminders ordered by due date.
func (s *Store) ListReminders(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, due_at, completed, created_at
		FROM reminders WHERE completed = 0
		ORDER BY due_at IS NULL, due_at ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r   Reminder
			due sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.Title, &due, &r.Completed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		if due.Valid {
			t := due.Time
			r.DueAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompleteReminder marks a reminder done.
func (s *Store) CompleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET completed = 1 WHERE id = ?;
	`, id)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	return requireRowAffected(res, "reminder", id)
}

// UpsertCalendarEvent writes a calendar event row, replacing an existing one
// with the same id.
func (s *Store) UpsertCalendarEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_events (id, title, start_at, end_at, calendar, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, start_at = excluded.start_at,
			end_at = excluded.end_at, calendar = excluded.calendar;
	`, e.ID, e.Title, e.StartAt.UTC(), e.EndAt.UTC(), e.Calendar, e.CreatedAt)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("upsert calendar event: %w", err)
	}
	return e, nil
}

// CalendarEventsInRange returns events overlapping [from, to), ordered by start.
func (s *Store) CalendarEventsInRange(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, start_at, end_at, calendar, created_at
		FROM calendar_events
		WHERE start_at < ? AND end_at > ?
		ORDER BY start_at ASC;
	`, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("calendar events in range: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		var e CalendarEvent
		if err := rows.Scan(&e.ID, &e.Title, &e.StartAt, &e.EndAt, &e.Calendar, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan calendar event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteCalendarEvent removes a locally mirrored event.
func (s *Store) DeleteCalendarEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calendar_events WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return requireRowAffected(res, "calendar event", id)
}

// CreateNote inserts a note.
func (s *Store) CreateNote(ctx context.Context, title, body string) (Note, error) {
	n := Note{ID: uuid.NewString(), Title: title, Body: body, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, title, body, created_at) VALUES (?, ?, ?, ?);
	`, n.ID, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return Note{}, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

// RecentNotes returns the newest notes.
func (s *Store) RecentNotes(ctx context.Context, limit int) ([]Note, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, created_at FROM notes ORDER BY created_at DESC LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertEmail writes an inbox snapshot row or an outgoing send record.
func (s *Store) UpsertEmail(ctx context.Context, e Email) (Email, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Direction == "" {
		e.Direction = "in"
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (id, direction, address, subject, snippet, unread, important, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET subject = excluded.subject, snippet = excluded.snippet,
			unread = excluded.unread, important = excluded.important;
	`, e.ID, e.Direction, e.Address, e.Subject, e.Snippet, e.Unread, e.Important, e.ReceivedAt.UTC())
	if err != nil {
		return Email{}, fmt.Errorf("upsert email: %w", err)
	}
	return e, nil
}

// UnreadEmails returns unread inbound emails, important first.
func (s *Store) UnreadEmails(ctx context.Context, limit int) ([]Email, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, address, subject, snippet, unread, important, received_at
		FROM emails
		WHERE direction = 'in' AND unread = 1
		ORDER BY important DESC, received_at DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("unread emails: %w", err)
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.ID, &e.Direction, &e.Address, &e.Subject, &e.Snippet,
			&e.Unread, &e.Important, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanTodoTask(row rowScanner) (TodoTask, error) {
	var (
		t   TodoTask
		due sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Title, &t.Notes, &due, &t.Priority, &t.ThemeID, &t.Color,
		&t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return TodoTask{}, err
	}
	if due.Valid {
		d := due.Time
		t.DueAt = &d
	}
	return t, nil
}

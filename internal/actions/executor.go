package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/daybreak-ai/daybreak/internal/oplog"
	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// Mailer sends one outbound email. The real transport lives outside this
// subsystem; tests and the default wiring use a store-backed recorder.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Executor dispatches approved actions to their handlers. Handlers validate
// the loose payload, convert it to typed arguments, perform the effect, and
// report success as a bool. A failing action is logged and recorded but never
// stops the rest of the batch.
type Executor struct {
	store  *persistence.Store
	ledger *oplog.Ledger
	mailer Mailer
	logger *slog.Logger
}

func NewExecutor(store *persistence.Store, ledger *oplog.Ledger, mailer Mailer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  store,
		ledger: ledger,
		mailer: mailer,
		logger: logger,
	}
}

// Execute runs one approved action and reports whether it succeeded. Every
// attempt produces an operation event; failures additionally log at warn.
func (e *Executor) Execute(ctx context.Context, taskID string, a ActionRequest) bool {
	var (
		entityType string
		entityID   string
		err        error
	)
	switch a.Type {
	case TypeCreateTask:
		entityType = "todo_task"
		entityID, err = e.createTask(ctx, a)
	case TypeUpdateTask:
		entityType = "todo_task"
		entityID, err = e.updateTask(ctx, a)
	case TypeDeleteTask:
		entityType = "todo_task"
		entityID, err = e.deleteTask(ctx, a)
	case TypeCreateGoal:
		entityType = "goal"
		entityID, err = e.createGoal(ctx, a)
	case TypeCompleteGoal:
		entityType = "goal"
		entityID, err = e.completeGoal(ctx, a)
	case TypeUpdateGoal:
		entityType = "goal"
		entityID, err = e.updateGoal(ctx, a)
	case TypeCreateCalendarEvent:
		entityType = "calendar_event"
		entityID, err = e.createCalendarEvent(ctx, a)
	case TypeCreateReminder:
		entityType = "reminder"
		entityID, err = e.createReminder(ctx, a)
	case TypeCompleteReminder:
		entityType = "reminder"
		entityID, err = e.completeReminder(ctx, a)
	case TypeSendEmail:
		entityType = "email"
		entityID, err = e.sendEmail(ctx, a)
	case TypeWebTask:
		entityType = "todo_task"
		entityID, err = e.webTask(ctx, a)
	default:
		entityType = "action"
		err = fmt.Errorf("unknown action type %q", a.Type)
	}

	if err != nil {
		e.logger.Warn("actions: execution failed",
			"action_id", a.ID, "type", a.Type, "task_id", taskID, "error", err)
		e.ledger.Fail(ctx, "failed", entityType, entityID, err)
		return false
	}

	e.ledger.Record(ctx, oplog.Entry{
		Operation:  operationFor(a.Type),
		EntityType: entityType,
		EntityID:   entityID,
		Message:    fmt.Sprintf("action %s executed", a.Type),
		Payload:    map[string]string{"action_id": a.ID},
	})
	if _, err := e.store.RecordExecutedAction(ctx, a.ID, taskID, !a.RequiresUserApproval); err != nil {
		e.logger.Warn("actions: audit write failed", "action_id", a.ID, "error", err)
	}
	return true
}

func operationFor(actionType string) string {
	switch actionType {
	case TypeCreateTask, TypeCreateGoal, TypeCreateCalendarEvent, TypeCreateReminder:
		return "created"
	case TypeUpdateTask, TypeCompleteGoal, TypeUpdateGoal, TypeCompleteReminder:
		return "updated"
	case TypeDeleteTask:
		return "deleted"
	case TypeSendEmail:
		return "sent"
	default:
		return "executed"
	}
}

// Typed payload forms, converted at the top of each handler.

type taskPayload struct {
	ID       string
	Title    string
	Notes    string
	DueAt    *time.Time
	Priority int
	ThemeID  string
}

func (e *Executor) createTask(ctx context.Context, a ActionRequest) (string, error) {
	p := taskPayloadFrom(a)
	if p.Title == "" {
		return "", fmt.Errorf("createTask: missing title")
	}
	created, err := e.store.CreateTodoTask(ctx, persistence.TodoTask{
		Title:    p.Title,
		Notes:    p.Notes,
		DueAt:    p.DueAt,
		Priority: p.Priority,
		ThemeID:  p.ThemeID,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (e *Executor) updateTask(ctx context.Context, a ActionRequest) (string, error) {
	p := taskPayloadFrom(a)
	if p.ID == "" {
		return "", fmt.Errorf("updateTask: missing id")
	}
	existing, err := e.store.GetTodoTask(ctx, p.ID)
	if err != nil {
		return p.ID, err
	}
	if p.Title != "" {
		existing.Title = p.Title
	}
	if p.Notes != "" {
		existing.Notes = p.Notes
	}
	if p.DueAt != nil {
		existing.DueAt = p.DueAt
	}
	if p.Priority != 0 {
		existing.Priority = p.Priority
	}
	if done, ok := payloadBool(a.Payload, "completed"); ok {
		existing.Completed = done
	}
	return p.ID, e.store.UpdateTodoTask(ctx, existing)
}

func (e *Executor) deleteTask(ctx context.Context, a ActionRequest) (string, error) {
	id := payloadString(a.Payload, "id")
	if id == "" {
		return "", fmt.Errorf("deleteTask: missing id")
	}
	return id, e.store.DeleteTodoTask(ctx, id)
}

func (e *Executor) createGoal(ctx context.Context, a ActionRequest) (string, error) {
	text := payloadString(a.Payload, "text")
	if text == "" {
		text = a.Title
	}
	if text == "" {
		return "", fmt.Errorf("createGoal: missing text")
	}
	created, err := e.store.CreateGoal(ctx, text, payloadString(a.Payload, "notes"))
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (e *Executor) completeGoal(ctx context.Context, a ActionRequest) (string, error) {
	id := payloadString(a.Payload, "id")
	if id == "" {
		return "", fmt.Errorf("completeGoal: missing id")
	}
	return id, e.store.CompleteGoal(ctx, id)
}

func (e *Executor) updateGoal(ctx context.Context, a ActionRequest) (string, error) {
	id := payloadString(a.Payload, "id")
	if id == "" {
		return "", fmt.Errorf("updateGoal: missing id")
	}
	title := payloadString(a.Payload, "text")
	if title == "" {
		title = payloadString(a.Payload, "title")
	}
	return id, e.store.UpdateGoal(ctx, id, title, payloadString(a.Payload, "notes"))
}

func (e *Executor) createCalendarEvent(ctx context.Context, a ActionRequest) (string, error) {
	title := payloadString(a.Payload, "title")
	if title == "" {
		title = a.Title
	}
	if title == "" {
		return "", fmt.Errorf("createCalendarEvent: missing title")
	}
	start, ok := payloadTime(a.Payload, "start")
	if !ok {
		return "", fmt.Errorf("createCalendarEvent: missing or malformed start")
	}
	end, ok := payloadTime(a.Payload, "end")
	if !ok {
		// No end given: default to one hour.
		end = start.Add(time.Hour)
	}
	if !end.After(start) {
		return "", fmt.Errorf("createCalendarEvent: end must follow start")
	}
	created, err := e.store.UpsertCalendarEvent(ctx, persistence.CalendarEvent{
		Title:    title,
		StartAt:  start,
		EndAt:    end,
		Calendar: payloadString(a.Payload, "calendar"),
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (e *Executor) createReminder(ctx context.Context, a ActionRequest) (string, error) {
	title := payloadString(a.Payload, "title")
	if title == "" {
		title = a.Title
	}
	if title == "" {
		return "", fmt.Errorf("createReminder: missing title")
	}
	var due *time.Time
	if t, ok := payloadTime(a.Payload, "due"); ok {
		due = &t
	}
	created, err := e.store.UpsertReminder(ctx, persistence.Reminder{Title: title, DueAt: due})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (e *Executor) completeReminder(ctx context.Context, a ActionRequest) (string, error) {
	id := payloadString(a.Payload, "id")
	if id == "" {
		return "", fmt.Errorf("completeReminder: missing id")
	}
	return id, e.store.CompleteReminder(ctx, id)
}

func (e *Executor) sendEmail(ctx context.Context, a ActionRequest) (string, error) {
	to := payloadString(a.Payload, "to")
	subject := payloadString(a.Payload, "subject")
	body := payloadString(a.Payload, "body")
	if to == "" || subject == "" {
		return "", fmt.Errorf("sendEmail: missing to or subject")
	}
	if e.mailer == nil {
		return "", fmt.Errorf("sendEmail: no mailer configured")
	}
	if err := e.mailer.Send(ctx, to, subject, body); err != nil {
		return "", err
	}
	sent, err := e.store.UpsertEmail(ctx, persistence.Email{
		Direction: "out",
		Address:   to,
		Subject:   subject,
		Snippet:   snippet(body),
	})
	if err != nil {
		return "", err
	}
	return sent.ID, nil
}

// webTask cannot be automated here; it lands as a to-do carrying the manual
// steps so the user can pick it up.
func (e *Executor) webTask(ctx context.Context, a ActionRequest) (string, error) {
	title := payloadString(a.Payload, "title")
	if title == "" {
		title = a.Title
	}
	if title == "" {
		return "", fmt.Errorf("webTask: missing title")
	}
	notes := payloadString(a.Payload, "url")
	if len(a.HumanSteps) > 0 {
		if notes != "" {
			notes += "\n"
		}
		notes += "Steps:\n- " + strings.Join(a.HumanSteps, "\n- ")
	}
	created, err := e.store.CreateTodoTask(ctx, persistence.TodoTask{Title: title, Notes: notes})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func taskPayloadFrom(a ActionRequest) taskPayload {
	p := taskPayload{
		ID:      payloadString(a.Payload, "id"),
		Title:   payloadString(a.Payload, "title"),
		Notes:   payloadString(a.Payload, "notes"),
		ThemeID: payloadString(a.Payload, "theme_id"),
	}
	if p.Title == "" {
		p.Title = a.Title
	}
	if v, ok := payloadInt(a.Payload, "priority"); ok {
		p.Priority = v
	}
	if t, ok := payloadTime(a.Payload, "due"); ok {
		p.DueAt = &t
	}
	return p
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadBool(p map[string]any, key string) (bool, bool) {
	v, ok := p[key].(bool)
	return v, ok
}

func payloadInt(p map[string]any, key string) (int, bool) {
	switch v := p[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func payloadTime(p map[string]any, key string) (time.Time, bool) {
	s := payloadString(p, key)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func snippet(body string) string {
	const max = 140
	if len(body) <= max {
		return body
	}
	return body[:max]
}

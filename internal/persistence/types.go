package persistence

import "time"

// TriggerType names the mechanism that makes an agent task runnable.
type TriggerType string

const (
	TriggerTime      TriggerType = "time"
	TriggerRecurring TriggerType = "recurring"
	TriggerEvent     TriggerType = "event"
	TriggerCheckin   TriggerType = "checkin"
	TriggerManual    TriggerType = "manual"
)

// AgentTaskStatus is the lifecycle state of an agent task.
type AgentTaskStatus string

const (
	AgentTaskActive    AgentTaskStatus = "active"
	AgentTaskPaused    AgentTaskStatus = "paused"
	AgentTaskCompleted AgentTaskStatus = "completed"
)

// TriggerConfig is the one-of trigger parameter bag. Exactly the fields
// meaningful for the task's TriggerType are set; the rest stay zero.
type TriggerConfig struct {
	// FireAt is the absolute fire time for one-shot "time" triggers.
	FireAt *time.Time `json:"fire_at,omitempty"`
	// CronHour/CronMinute give a daily occurrence for "recurring" triggers.
	CronHour   *int `json:"cron_hour,omitempty"`
	CronMinute *int `json:"cron_minute,omitempty"`
	// IntervalMinutes gives a fixed period for "recurring" triggers.
	IntervalMinutes *int `json:"interval_minutes,omitempty"`
	// CheckinPhase names the phase for "checkin" triggers.
	CheckinPhase string `json:"checkin_phase,omitempty"`
	// EventType tags "event" triggers.
	EventType string `json:"event_type,omitempty"`
}

// AgentTask is a schedulable unit of autonomous model-driven work.
type AgentTask struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Prompt         string          `json:"prompt"`
	TriggerType    TriggerType     `json:"trigger_type"`
	Trigger        TriggerConfig   `json:"trigger"`
	ContextNeeds   []string        `json:"context_needs"`
	AllowedActions []string        `json:"allowed_actions"`
	Status         AgentTaskStatus `json:"status"`
	CreatedBy      string          `json:"created_by"`
	LastRun        *time.Time      `json:"last_run,omitempty"`
	NextRun        *time.Time      `json:"next_run,omitempty"`
	RunCount       int             `json:"run_count"`
	MaxRuns        *int            `json:"max_runs,omitempty"`
	LinkedTodoID   string          `json:"linked_todo_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ResultStatus is the outcome class of one agent task execution.
type ResultStatus string

const (
	ResultSuccess         ResultStatus = "success"
	ResultFailed          ResultStatus = "failed"
	ResultPendingApproval ResultStatus = "pendingApproval"
)

// AgentTaskResult is one immutable record per execution attempt.
type AgentTaskResult struct {
	ID              string       `json:"id"`
	TaskID          string       `json:"task_id"`
	Timestamp       time.Time    `json:"timestamp"`
	Output          string       `json:"output"`
	ActionsProposed string       `json:"actions_proposed"` // raw proposals, JSON array
	ActionsExecuted string       `json:"actions_executed"` // executed subset, JSON array
	CostUSD         *float64     `json:"cost_usd,omitempty"`
	Status          ResultStatus `json:"status"`
	DurationMs      int64        `json:"duration_ms"`
}

// Theme is a user-defined work category anchoring tasks and time blocks.
type Theme struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// BlockStatus is the planning state of a theme block.
type BlockStatus string

const (
	BlockDraft     BlockStatus = "draft"
	BlockPlanned   BlockStatus = "planned"
	BlockPublished BlockStatus = "published"
)

// ThemeBlock is a durable time interval assigned to a theme.
type ThemeBlock struct {
	ID              string      `json:"id"`
	ThemeID         string      `json:"theme_id"`
	StartAt         time.Time   `json:"start_at"`
	EndAt           time.Time   `json:"end_at"`
	Status          BlockStatus `json:"status"`
	CalendarEventID string      `json:"calendar_event_id,omitempty"`
	Recurrence      string      `json:"recurrence,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TodoTask is a canonical to-do record.
type TodoTask struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Priority  int        `json:"priority"`
	ThemeID   string     `json:"theme_id,omitempty"`
	Color     string     `json:"color,omitempty"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Goal is a short-horizon intention, typically scoped to a day.
type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Reminder mirrors an external reminders item.
type Reminder struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Completed bool       `json:"completed"`
	CreatedAt time.Time  `json:"created_at"`
}

// CalendarEvent mirrors an external calendar item.
type CalendarEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Calendar  string    `json:"calendar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Note is a free-form user note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is an inbox snapshot row or an outgoing send record.
type Email struct {
	ID         string    `json:"id"`
	Direction  string    `json:"direction"` // "in" or "out"
	Address    string    `json:"address"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet,omitempty"`
	Unread     bool      `json:"unread"`
	Important  bool      `json:"important"`
	ReceivedAt time.Time `json:"received_at"`
}

// OperationStatus classifies the outcome of a mutating operation.
type OperationStatus string

const (
	OpSuccess        OperationStatus = "success"
	OpFailed         OperationStatus = "failed"
	OpPartialSuccess OperationStatus = "partial_success"
)

// OperationEvent is one append-only audit record of a mutating operation.
type OperationEvent struct {
	EventID       int64             `json:"event_id"`
	CorrelationID string            `json:"correlation_id"`
	Operation     string            `json:"operation"` // created/updated/deleted/assigned/linked/published/failed
	EntityType    string            `json:"entity_type"`
	EntityID      string            `json:"entity_id,omitempty"`
	Source        string            `json:"source"`
	Status        OperationStatus   `json:"status"`
	Message       string            `json:"message"`
	Payload       map[string]string `json:"payload,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ExecutedAction is the durable record of an action that actually ran.
type ExecutedAction struct {
	ID         string    `json:"id"`
	ActionID   string    `json:"action_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Approved   bool      `json:"approved"`
	ExecutedAt time.Time `json:"executed_at"`
}

// PendingAction is a proposed action awaiting user approval.
type PendingAction struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id,omitempty"`
	ActionJSON string     `json:"action_json"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Approved   *bool      `json:"approved,omitempty"`
}

// CostEntry is one row of the model spend ledger.
type CostEntry struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"` // YYYY-MM-DD, local time
	SessionID string    `json:"session_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	CostUSD   float64   `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// Package oplog records every mutating operation the system performs so the
// user can always answer "what did the agent do, and why". Events land in two
// sinks: an append-only JSONL file for offline inspection and the sqlite
// operation_events table for queries.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/shared"
)

// Ledger is the operation log service. All writes go through Record; reads
// go through Query.
type Ledger struct {
	store  *persistence.Store
	bus    *bus.Bus
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// Entry describes one operation to record.
type Entry struct {
	Operation  string // created, updated, deleted, assigned, linked, published, failed
	EntityType string
	EntityID   string
	Status     persistence.OperationStatus
	Message    string
	Payload    map[string]string
}

// New opens the JSONL sink under homeDir/logs and returns a ready ledger.
func New(homeDir string, store *persistence.Store, eventBus *bus.Bus, logger *slog.Logger) (*Ledger, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "operations.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open operations log: %w", err)
	}
	return &Ledger{
		store:  store,
		bus:    eventBus,
		logger: logger,
		file:   f,
	}, nil
}

// Close flushes and closes the file sink.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Record writes one operation event to both sinks and publishes it on the
// bus. The correlation id, source, and task id ride in on ctx; a missing
// correlation id is recorded as "-" rather than dropped. Record never fails
// the caller's operation: sink errors are logged and swallowed.
func (l *Ledger) Record(ctx context.Context, e Entry) persistence.OperationEvent {
	if e.Status == "" {
		e.Status = persistence.OpSuccess
	}
	ev := persistence.OperationEvent{
		CorrelationID: shared.CorrelationID(ctx),
		Operation:     e.Operation,
		EntityType:    e.EntityType,
		EntityID:      e.EntityID,
		Source:        shared.Source(ctx),
		Status:        e.Status,
		Message:       shared.Redact(e.Message),
		Payload:       e.Payload,
		CreatedAt:     time.Now().UTC(),
	}
	if taskID := shared.TaskID(ctx); taskID != "" {
		if ev.Payload == nil {
			ev.Payload = map[string]string{}
		}
		ev.Payload["task_id"] = taskID
	}

	stored, err := l.store.InsertOperationEvent(ctx, ev)
	if err != nil {
		l.logger.Error("oplog: store sink failed", "error", err, "operation", e.Operation, "entity_type", e.EntityType)
		stored = ev
	}

	l.appendLine(stored)
	l.bus.Publish(bus.TopicOperationRecorded, stored)
	return stored
}

// Fail is shorthand for recording a failed operation with an error message.
func (l *Ledger) Fail(ctx context.Context, operation, entityType, entityID string, err error) persistence.OperationEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return l.Record(ctx, Entry{
		Operation:  operation,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     persistence.OpFailed,
		Message:    msg,
	})
}

// Query returns stored events matching the filter, newest first.
func (l *Ledger) Query(ctx context.Context, f persistence.OperationEventFilter) ([]persistence.OperationEvent, error) {
	return l.store.ListOperationEvents(ctx, f)
}

func (l *Ledger) appendLine(ev persistence.OperationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Error("oplog: marshal event", "error", err)
		return
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.logger.Error("oplog: file sink failed", "error", err)
	}
}

package oplog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/persistence"
	"github.com/daybreak-ai/daybreak/internal/shared"
)

func newTestLedger(t *testing.T) (*Ledger, *bus.Bus, string) {
	t.Helper()
	home := t.TempDir()
	eventBus := bus.New()
	store, err := persistence.Open(filepath.Join(home, "daybreak.db"), eventBus)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger, err := New(home, store, eventBus, logger)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger, eventBus, home
}

func TestRecordWritesBothSinks(t *testing.T) {
	ledger, _, home := newTestLedger(t)
	ctx := shared.WithCorrelationID(context.Background(), "corr-1")
	ctx = shared.WithSource(ctx, "chat")

	ev := ledger.Record(ctx, Entry{
		Operation:  "created",
		EntityType: "todo_task",
		EntityID:   "todo-1",
		Message:    "created via chat",
	})
	if ev.EventID == 0 {
		t.Fatal("expected assigned event id")
	}
	if ev.CorrelationID != "corr-1" || ev.Source != "chat" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Status != persistence.OpSuccess {
		t.Fatalf("status = %q, want success", ev.Status)
	}

	stored, err := ledger.Query(ctx, persistence.OperationEventFilter{CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stored) != 1 || stored[0].EntityID != "todo-1" {
		t.Fatalf("stored = %+v", stored)
	}

	f, err := os.Open(filepath.Join(home, "logs", "operations.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("jsonl sink is empty")
	}
	var line persistence.OperationEvent
	if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal jsonl line: %v", err)
	}
	if line.Operation != "created" || line.CorrelationID != "corr-1" {
		t.Fatalf("jsonl line = %+v", line)
	}
}

func TestRecordPublishesOnBus(t *testing.T) {
	ledger, eventBus, _ := newTestLedger(t)
	sub := eventBus.Subscribe(bus.TopicOperationRecorded)
	defer eventBus.Unsubscribe(sub)

	ledger.Record(context.Background(), Entry{Operation: "updated", EntityType: "goal", EntityID: "g1"})

	select {
	case ev := <-sub.Ch():
		op, ok := ev.Payload.(persistence.OperationEvent)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if op.EntityID != "g1" {
			t.Fatalf("entity id = %q", op.EntityID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event on bus")
	}
}

func TestRecordMissingCorrelationID(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ev := ledger.Record(context.Background(), Entry{Operation: "deleted", EntityType: "note"})
	if ev.CorrelationID != "-" {
		t.Fatalf("correlation id = %q, want -", ev.CorrelationID)
	}
}

func TestFailRecordsFailedStatus(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ev := ledger.Fail(context.Background(), "published", "theme_block", "b1", errors.New("calendar unavailable"))
	if ev.Status != persistence.OpFailed {
		t.Fatalf("status = %q", ev.Status)
	}
	if ev.Message != "calendar unavailable" {
		t.Fatalf("message = %q", ev.Message)
	}
}

func TestRecordRedactsSecrets(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ev := ledger.Record(context.Background(), Entry{
		Operation:  "updated",
		EntityType: "config",
		Message:    "token sk-abcdefghijklmnopqrstuvwx rotated",
	})
	if ev.Message == "token sk-abcdefghijklmnopqrstuvwx rotated" {
		t.Fatal("secret not redacted")
	}
}

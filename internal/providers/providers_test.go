package providers

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/daybreak-ai/daybreak/internal/bus"
	"github.com/daybreak-ai/daybreak/internal/persistence"
)

func newTestRegistry(t *testing.T) (*Registry, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "daybreak.db"), bus.New())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(logger, StoreProviders(store)...), store
}

func TestAssembleEmptyWorkspace(t *testing.T) {
	r, _ := newTestRegistry(t)
	got := r.Assemble(context.Background(), []string{"tasks", "goals"})
	if got != "No context available." {
		t.Fatalf("got %q", got)
	}
}

func TestAssembleLabelsSections(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	if _, err := store.CreateTodoTask(ctx, persistence.TodoTask{Title: "file taxes"}); err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if _, err := store.CreateGoal(ctx, "inbox zero", ""); err != nil {
		t.Fatalf("create goal: %v", err)
	}

	got := r.Assemble(ctx, []string{"tasks", "goals"})
	if !strings.Contains(got, "## tasks") || !strings.Contains(got, "file taxes") {
		t.Fatalf("missing tasks section: %q", got)
	}
	if !strings.Contains(got, "## goals") || !strings.Contains(got, "inbox zero") {
		t.Fatalf("missing goals section: %q", got)
	}
}

func TestAssembleSkipsUnknownNeeds(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	if _, err := store.CreateTodoTask(ctx, persistence.TodoTask{Title: "x"}); err != nil {
		t.Fatalf("create todo: %v", err)
	}
	got := r.Assemble(ctx, []string{"weather", "tasks"})
	if !strings.Contains(got, "## tasks") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "weather") {
		t.Fatalf("unknown need leaked: %q", got)
	}
}

func TestAssembleEmailNeedAndAlias(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	_, err := store.UpsertEmail(ctx, persistence.Email{
		Direction: "in", Address: "boss@corp.test", Subject: "quarterly review",
		Unread: true, Important: true,
	})
	if err != nil {
		t.Fatalf("upsert email: %v", err)
	}
	for _, need := range []string{"email", "emails"} {
		got := r.Assemble(ctx, []string{need})
		if !strings.Contains(got, "quarterly review") {
			t.Fatalf("need %q: got %q", need, got)
		}
		if !strings.Contains(got, "[important]") {
			t.Fatalf("need %q: missing importance marker: %q", need, got)
		}
	}
}

func TestCalendarProviderWindow(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	soon := time.Now().Add(time.Hour)
	if _, err := store.UpsertCalendarEvent(ctx, persistence.CalendarEvent{
		Title: "dentist", StartAt: soon, EndAt: soon.Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("upsert event: %v", err)
	}
	farOut := time.Now().AddDate(0, 0, 10)
	if _, err := store.UpsertCalendarEvent(ctx, persistence.CalendarEvent{
		Title: "conference", StartAt: farOut, EndAt: farOut.Add(time.Hour),
	}); err != nil {
		t.Fatalf("upsert event: %v", err)
	}

	got := r.Assemble(ctx, []string{"calendar"})
	if !strings.Contains(got, "dentist") {
		t.Fatalf("missing near event: %q", got)
	}
	if strings.Contains(got, "conference") {
		t.Fatalf("event outside window included: %q", got)
	}
}

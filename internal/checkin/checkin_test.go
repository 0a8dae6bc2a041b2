package checkin

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeTrigger struct {
	mu     sync.Mutex
	phases []string
}

func (f *fakeTrigger) TriggerCheckin(_ context.Context, phase string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phases = append(f.phases, phase)
	return 1, nil
}

func (f *fakeTrigger) fired() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.phases...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRejectsBadExpression(t *testing.T) {
	_, err := New(&fakeTrigger{}, map[string]string{"morning": "not a cron"}, discard())
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFireDueAdvancesSchedule(t *testing.T) {
	trigger := &fakeTrigger{}
	r, err := New(trigger, map[string]string{
		"morning": "0 8 * * *",
		"evening": "0 20 * * *",
	}, discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// Pretend both phases came due in the past.
	past := time.Now().Add(-time.Minute)
	r.mu.Lock()
	r.nextDue["morning"] = past
	r.nextDue["evening"] = past
	r.mu.Unlock()

	now := time.Now()
	r.fireDue(context.Background(), now)

	fired := trigger.fired()
	if len(fired) != 2 || fired[0] != "evening" || fired[1] != "morning" {
		t.Fatalf("fired = %v", fired)
	}

	// Both phases must have advanced to a future instant.
	r.mu.Lock()
	defer r.mu.Unlock()
	for phase, next := range r.nextDue {
		if !next.After(now) {
			t.Fatalf("phase %s not advanced: %v", phase, next)
		}
	}
}

func TestFireDueSkipsFuturePhases(t *testing.T) {
	trigger := &fakeTrigger{}
	r, err := New(trigger, map[string]string{"morning": "0 8 * * *"}, discard())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.mu.Lock()
	r.nextDue["morning"] = time.Now().Add(time.Hour)
	r.mu.Unlock()

	r.fireDue(context.Background(), time.Now())
	if len(trigger.fired()) != 0 {
		t.Fatalf("fired = %v", trigger.fired())
	}
}

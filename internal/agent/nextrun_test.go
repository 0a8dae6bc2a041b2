package agent

import (
	"testing"
	"time"

	"github.com/daybreak-ai/daybreak/internal/persistence"
)

func intPtr(v int) *int { return &v }

func TestNextRunOneShotTriggers(t *testing.T) {
	now := time.Now()
	for _, tt := range []persistence.TriggerType{
		persistence.TriggerTime,
		persistence.TriggerManual,
		persistence.TriggerEvent,
		persistence.TriggerCheckin,
	} {
		task := persistence.AgentTask{TriggerType: tt}
		if next := NextRun(task, now); next != nil {
			t.Errorf("trigger %s: next = %v, want nil", tt, next)
		}
	}
}

func TestNextRunRecurringInterval(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local)
	task := persistence.AgentTask{
		TriggerType: persistence.TriggerRecurring,
		Trigger:     persistence.TriggerConfig{IntervalMinutes: intPtr(45)},
	}
	next := NextRun(task, now)
	if next == nil || !next.Equal(now.Add(45*time.Minute)) {
		t.Fatalf("next = %v", next)
	}
}

func TestNextRunRecurringDailySlot(t *testing.T) {
	task := persistence.AgentTask{
		TriggerType: persistence.TriggerRecurring,
		Trigger:     persistence.TriggerConfig{CronHour: intPtr(9), CronMinute: intPtr(0)},
	}

	// Before the slot: fires today at 09:00.
	at0830 := time.Date(2026, 8, 30, 8, 30, 0, 0, time.Local)
	next := NextRun(task, at0830)
	want := time.Date(2026, 8, 30, 9, 0, 0, 0, time.Local)
	if next == nil || !next.Equal(want) {
		t.Fatalf("at 08:30 next = %v, want %v", next, want)
	}

	// After the slot: fires tomorrow at 09:00.
	at0930 := time.Date(2026, 8, 30, 9, 30, 0, 0, time.Local)
	next = NextRun(task, at0930)
	want = time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local)
	if next == nil || !next.Equal(want) {
		t.Fatalf("at 09:30 next = %v, want %v", next, want)
	}
}

func TestNextRunRecurringExactlyAtSlot(t *testing.T) {
	task := persistence.AgentTask{
		TriggerType: persistence.TriggerRecurring,
		Trigger:     persistence.TriggerConfig{CronHour: intPtr(9)},
	}
	at0900 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.Local)
	next := NextRun(task, at0900)
	want := time.Date(2026, 8, 31, 9, 0, 0, 0, time.Local)
	if next == nil || !next.Equal(want) {
		t.Fatalf("at 09:00 next = %v, want tomorrow %v", next, want)
	}
}

func TestNextRunRecurringFallback(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local)
	task := persistence.AgentTask{TriggerType: persistence.TriggerRecurring}
	next := NextRun(task, now)
	if next == nil || !next.Equal(now.Add(time.Hour)) {
		t.Fatalf("next = %v, want now+1h", next)
	}
}

func TestInitialNextRun(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.Local)
	fireAt := now.Add(3 * time.Hour)

	timed := persistence.AgentTask{
		TriggerType: persistence.TriggerTime,
		Trigger:     persistence.TriggerConfig{FireAt: &fireAt},
	}
	if next := InitialNextRun(timed, now); next == nil || !next.Equal(fireAt) {
		t.Fatalf("time trigger next = %v, want %v", next, fireAt)
	}

	manual := persistence.AgentTask{TriggerType: persistence.TriggerManual}
	if next := InitialNextRun(manual, now); next != nil {
		t.Fatalf("manual trigger next = %v, want nil", next)
	}

	recurring := persistence.AgentTask{
		TriggerType: persistence.TriggerRecurring,
		Trigger:     persistence.TriggerConfig{IntervalMinutes: intPtr(30)},
	}
	if next := InitialNextRun(recurring, now); next == nil || !next.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("recurring next = %v", next)
	}
}

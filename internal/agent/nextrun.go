package agent

import (
	"time"

	"github.com/daybreak-ai/daybreak/internal/persistence"
)

// NextRun computes when a task should fire again after running at now.
// One-shot and externally triggered tasks never get a next run. Recurring
// tasks prefer an explicit interval, then a daily hour/minute slot, then an
// hourly fallback.
func NextRun(task persistence.AgentTask, now time.Time) *time.Time {
	switch task.TriggerType {
	case persistence.TriggerTime, persistence.TriggerManual:
		return nil
	case persistence.TriggerEvent, persistence.TriggerCheckin:
		return nil
	case persistence.TriggerRecurring:
		return nextRecurring(task.Trigger, now)
	default:
		return nil
	}
}

func nextRecurring(tc persistence.TriggerConfig, now time.Time) *time.Time {
	if tc.IntervalMinutes != nil && *tc.IntervalMinutes > 0 {
		t := now.Add(time.Duration(*tc.IntervalMinutes) * time.Minute)
		return &t
	}
	if tc.CronHour != nil {
		minute := 0
		if tc.CronMinute != nil {
			minute = *tc.CronMinute
		}
		t := time.Date(now.Year(), now.Month(), now.Day(), *tc.CronHour, minute, 0, 0, now.Location())
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return &t
	}
	t := now.Add(time.Hour)
	return &t
}

// InitialNextRun computes the first scheduling instant for a newly created
// task. Time triggers fire at their configured instant; recurring triggers at
// their first occurrence; everything else is externally driven.
func InitialNextRun(task persistence.AgentTask, now time.Time) *time.Time {
	switch task.TriggerType {
	case persistence.TriggerTime:
		if task.Trigger.FireAt != nil {
			t := *task.Trigger.FireAt
			return &t
		}
		return nil
	case persistence.TriggerRecurring:
		return nextRecurring(task.Trigger, now)
	default:
		return nil
	}
}

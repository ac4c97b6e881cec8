// Package task holds the reminder Task model and the Registry that validates,
// creates and persists the ordered task collection.
package task

import (
	"context"
	"strings"
	"time"
)

// Status is the delivery state of a task.
//
// The only transition is pending -> completed; completed is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool { return s == StatusPending || s == StatusCompleted }

// Task is a one-shot reminder.
//
// ScheduledTime is kept in UTC; encoding/json renders it as RFC 3339
// ("2025-01-01T09:00:00Z").
type Task struct {
	ID            int64     `json:"id"`
	Description   string    `json:"description"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Status        Status    `json:"status"`

	// Attempts counts failed delivery attempts; LastError keeps the latest one.
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// Due reports whether the task should be delivered in a tick that captured now.
func (t Task) Due(now time.Time) bool {
	return t.Status == StatusPending && !t.ScheduledTime.After(now)
}

// Complete marks the task completed. It reports false when the task was
// already completed.
func (t *Task) Complete() bool {
	if t.Status == StatusCompleted {
		return false
	}
	t.Status = StatusCompleted
	t.LastError = ""
	return true
}

// RecordFailure notes a failed delivery attempt. Status stays pending.
func (t *Task) RecordFailure(err error) {
	if t.Status == StatusCompleted {
		return
	}
	t.Attempts++
	if err != nil {
		t.LastError = truncate(err.Error(), 300)
	}
}

// Store is the durable persistence the Registry needs.
//
// WriteAll must replace the whole collection atomically: a concurrent reader
// never observes a partial write.
type Store interface {
	ReadAll(ctx context.Context) ([]Task, error)
	WriteAll(ctx context.Context, tasks []Task) error
}

// Outcome is the result of one delivery attempt for one task.
type Outcome struct {
	TaskID int64
	Err    error // nil means delivered
}

func truncate(s string, maxN int) string {
	s = strings.TrimSpace(s)
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	return s[:maxN-3] + "..."
}

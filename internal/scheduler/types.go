package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskminder/internal/task"
)

// ErrNotConfigured is returned by Start when no notifier is available.
var ErrNotConfigured = errors.New("notifier not configured; run setup-notifier first")

// ConfigurationError is a start-time precondition failure. The loop never
// begins when it is returned.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "scheduler: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config controls the tick loop.
type Config struct {
	// Every is the tick cadence (see ParseEvery). Default "* * * * *".
	Every string
	// Timezone for cron evaluation (IANA name). Empty means Local.
	Timezone string
	// SendTimeout bounds a single notification attempt. Default 30s.
	SendTimeout time.Duration
	// Concurrency bounds parallel sends within one tick. Default 4.
	Concurrency int
	// Subject of reminder messages.
	Subject string
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Registry is the part of task.Registry the loop uses.
type Registry interface {
	LoadAll(ctx context.Context) ([]task.Task, error)
	Apply(ctx context.Context, outcomes []task.Outcome) ([]int64, error)
}

// Report summarizes one tick.
type Report struct {
	ID      string
	Now     time.Time
	Scanned int
	Due     int
	Sent    int
	Failed  int
	Took    time.Duration
}

func (r Report) String() string {
	return fmt.Sprintf("tick %s: scanned=%d due=%d sent=%d failed=%d took=%s",
		r.ID, r.Scanned, r.Due, r.Sent, r.Failed, r.Took)
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	Tick        string    `json:"tick"`
	TaskID      int64     `json:"task_id"`
	Description string    `json:"description"`
	Scheduled   time.Time `json:"scheduled"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
}

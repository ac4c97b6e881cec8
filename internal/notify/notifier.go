// Package notify delivers reminder messages.
//
// A Notifier sends one message and reports success or failure; it may block
// for the duration of a network call and must honor ctx cancellation.
//
// # Channels
//
// Two channels are available, selected by Settings.Channel:
//   - "email": SMTP with authentication (defaults to Gmail, as app passwords do)
//   - "telegram": a bot posting into one chat
//
// # Throttling
//
// Build wraps the channel in a token bucket so a burst of due tasks doesn't
// trip the provider's rate limits.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskminder/internal/task"
)

var (
	ErrNotConfigured = errors.New("notifier not configured")
	ErrEmptyMessage  = errors.New("empty message")
)

// Message is a single outbound notification.
type Message struct {
	Subject string
	Text    string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to the Notifier interface.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// DefaultSubject is the subject used when none is configured.
const DefaultSubject = "Task Reminder"

// ReminderMessage builds the payload for a due task.
func ReminderMessage(t task.Task, subject string) Message {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultSubject
	}
	return Message{Subject: subject, Text: "Reminder: " + t.Description}
}

// DeliveryError reports a failed attempt for one task in one tick.
// The task stays pending and is retried on the next tick.
type DeliveryError struct {
	TaskID int64
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver task %d: %v", e.TaskID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

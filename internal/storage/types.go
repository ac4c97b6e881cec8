package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskminder/internal/task"
)

var ErrClosed = errors.New("storage closed")

// DefaultKey is the application identity used when Config.Key is empty.
const DefaultKey = "taskminder"

// Store is the persistence API used by the registry and the notifier setup.
//
// WriteAll replaces the whole task collection atomically. ReadNotifier
// returns (nil, nil) when no notifier has been configured yet.
type Store interface {
	ReadAll(ctx context.Context) ([]task.Task, error)
	WriteAll(ctx context.Context, tasks []task.Task) error
	ReadNotifier(ctx context.Context) (json.RawMessage, error)
	WriteNotifier(ctx context.Context, raw json.RawMessage) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot file, replaced via tmp file + rename
//   - "sqlite": SQLite database file
//   - "redis": one string key per record
//   - "memory": process-local, lost on exit
//
// If Driver is empty, "file" is used.
type Config struct {
	Driver      string
	Path        string
	Key         string        // application identity; default "taskminder"
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PersistenceError wraps any backend failure. Callers abort the current
// operation; the previously persisted state is left untouched.
type PersistenceError struct {
	Op     string // "read" | "write" | "read_notifier" | "write_notifier" | "open"
	Driver string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Driver, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrapErr(op, driver string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Driver: driver, Err: err}
}

// state is the serialized record layout shared by the file and redis drivers.
type state struct {
	App            string          `json:"app,omitempty"`
	Tasks          []task.Task     `json:"tasks"`
	NotifierConfig json.RawMessage `json:"notifierConfig,omitempty"`
}

func cloneTasks(in []task.Task) []task.Task {
	out := make([]task.Task, len(in))
	copy(out, in)
	for i := range out {
		out[i].ScheduledTime = out[i].ScheduledTime.UTC()
	}
	return out
}

package storage

import (
	"context"
	"encoding/json"
	"sync"

	"taskminder/internal/task"
)

// Memory is an in-process Store. It keeps copies, so callers can't mutate
// persisted state through returned slices.
type Memory struct {
	mu       sync.Mutex
	tasks    []task.Task
	notifier json.RawMessage
	closed   bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) ReadAll(ctx context.Context) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("read", "memory", ErrClosed)
	}
	return cloneTasks(m.tasks), nil
}

func (m *Memory) WriteAll(ctx context.Context, tasks []task.Task) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("write", "memory", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("write", "memory", ErrClosed)
	}
	m.tasks = cloneTasks(tasks)
	return nil
}

func (m *Memory) ReadNotifier(ctx context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, wrapErr("read_notifier", "memory", ErrClosed)
	}
	if m.notifier == nil {
		return nil, nil
	}
	return append(json.RawMessage(nil), m.notifier...), nil
}

func (m *Memory) WriteNotifier(ctx context.Context, raw json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return wrapErr("write_notifier", "memory", ErrClosed)
	}
	m.notifier = append(json.RawMessage(nil), raw...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

// fileStore keeps the whole record in one JSON file.
//
// Writes go to a uniquely named temp file next to <path>, are fsynced, then
// renamed over <path>. A reader or a second writer (add while start runs)
// sees either the old or the new snapshot, never a partial one.
type fileStore struct {
	log logx.Logger
	app string

	mu     sync.Mutex
	path   string
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, app: cfg.Key, path: path}

	// Fail early on an unreadable or corrupt file instead of on the first tick.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) ReadAll(ctx context.Context) ([]task.Task, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wrapErr("read", "file", ErrClosed)
	}
	st, err := s.load()
	if err != nil {
		return nil, wrapErr("read", "file", err)
	}
	return cloneTasks(st.Tasks), nil
}

func (s *fileStore) WriteAll(ctx context.Context, tasks []task.Task) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("write", "file", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("write", "file", ErrClosed)
	}
	st, err := s.load()
	if err != nil {
		return wrapErr("write", "file", err)
	}
	st.Tasks = cloneTasks(tasks)
	return wrapErr("write", "file", s.replace(st))
}

func (s *fileStore) ReadNotifier(ctx context.Context) (json.RawMessage, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, wrapErr("read_notifier", "file", ErrClosed)
	}
	st, err := s.load()
	if err != nil {
		return nil, wrapErr("read_notifier", "file", err)
	}
	if len(st.NotifierConfig) == 0 || bytes.Equal(st.NotifierConfig, []byte("null")) {
		return nil, nil
	}
	return st.NotifierConfig, nil
}

func (s *fileStore) WriteNotifier(ctx context.Context, raw json.RawMessage) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("write_notifier", "file", ErrClosed)
	}
	st, err := s.load()
	if err != nil {
		return wrapErr("write_notifier", "file", err)
	}
	st.NotifierConfig = raw
	return wrapErr("write_notifier", "file", s.replace(st))
}

// load reads the current snapshot. A missing file is an empty record.
// Call with s.mu held.
func (s *fileStore) load() (state, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state{App: s.app, Tasks: []task.Task{}}, nil
	}
	if err != nil {
		return state{}, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return state{App: s.app, Tasks: []task.Task{}}, nil
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return state{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if st.App != "" && st.App != s.app {
		return state{}, fmt.Errorf("%s belongs to app %q, not %q", s.path, st.App, s.app)
	}
	if st.Tasks == nil {
		st.Tasks = []task.Task{}
	}
	st.App = s.app
	return st, nil
}

// replace writes st atomically. Call with s.mu held.
func (s *fileStore) replace(st state) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.log.Debug("snapshot written", logx.String("path", s.path), logx.Int("tasks", len(st.Tasks)))
	return nil
}

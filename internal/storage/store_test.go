package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

func sampleTasks() []task.Task {
	loc := time.FixedZone("UTC+7", 7*3600)
	return []task.Task{
		{ID: 1735722000000, Description: "Ship release", ScheduledTime: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC), Status: task.StatusPending},
		{ID: 1735722000001, Description: "Pay rent", ScheduledTime: time.Date(2025, 1, 2, 16, 30, 0, 0, loc), Status: task.StatusCompleted},
		{ID: 1735722000002, Description: "Call mom", ScheduledTime: time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC), Status: task.StatusPending, Attempts: 2, LastError: "dial tcp: timeout"},
	}
}

func openers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db"), BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return st
		},
		"redis": func(t *testing.T) Store {
			m, err := miniredis.Run()
			if err != nil {
				t.Fatalf("start miniredis: %v", err)
			}
			t.Cleanup(m.Close)
			return NewRedis(redis.NewClient(&redis.Options{Addr: m.Addr()}), "test", logx.Nop())
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, open := range openers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			empty, err := st.ReadAll(ctx)
			if err != nil {
				t.Fatalf("ReadAll on empty store: %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("expected empty collection, got %d", len(empty))
			}

			want := sampleTasks()
			if err := st.WriteAll(ctx, want); err != nil {
				t.Fatalf("WriteAll: %v", err)
			}
			got, err := st.ReadAll(ctx)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].ID != want[i].ID || got[i].Description != want[i].Description ||
					got[i].Status != want[i].Status || !got[i].ScheduledTime.Equal(want[i].ScheduledTime) ||
					got[i].Attempts != want[i].Attempts || got[i].LastError != want[i].LastError {
					t.Fatalf("task %d mismatch:\n got  %+v\n want %+v", i, got[i], want[i])
				}
				if got[i].ScheduledTime.Location() != time.UTC {
					t.Fatalf("task %d: scheduled time not UTC: %v", i, got[i].ScheduledTime)
				}
			}

			// Overwrite with a shorter collection: nothing of the old one may survive.
			if err := st.WriteAll(ctx, want[:1]); err != nil {
				t.Fatalf("WriteAll (shrink): %v", err)
			}
			got, err = st.ReadAll(ctx)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(got) != 1 || got[0].ID != want[0].ID {
				t.Fatalf("unexpected collection after overwrite: %+v", got)
			}
		})
	}
}

func TestStoreNotifierRecord(t *testing.T) {
	for name, open := range openers(t) {
		open := open
		t.Run(name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })
			ctx := context.Background()

			raw, err := st.ReadNotifier(ctx)
			if err != nil {
				t.Fatalf("ReadNotifier: %v", err)
			}
			if raw != nil {
				t.Fatalf("expected no notifier config, got %s", raw)
			}

			in := json.RawMessage(`{"channel":"email","email":{"address":"me@example.com"}}`)
			if err := st.WriteNotifier(ctx, in); err != nil {
				t.Fatalf("WriteNotifier: %v", err)
			}
			if err := st.WriteAll(ctx, sampleTasks()); err != nil {
				t.Fatalf("WriteAll: %v", err)
			}
			raw, err = st.ReadNotifier(ctx)
			if err != nil {
				t.Fatalf("ReadNotifier: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("stored notifier is not JSON: %v (%s)", err, raw)
			}
			if got["channel"] != "email" {
				t.Fatalf("unexpected notifier record: %s", raw)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.WriteAll(ctx, sampleTasks()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	_ = st.Close()

	if left, _ := filepath.Glob(path + ".*.tmp"); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks after reopen, got %d", len(got))
	}
}

func TestFileStoreConcurrentWritersShareOnePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	// Two stores on one path stand in for `add` running next to `start`.
	a, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	defer a.Close()
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	defer b.Close()

	big := make([]task.Task, 500)
	for i := range big {
		big[i] = task.Task{ID: int64(i + 1), Description: "reminder", ScheduledTime: time.Unix(int64(i), 0).UTC(), Status: task.StatusPending}
	}

	const rounds = 50
	errs := make(chan error, 2*rounds)
	var wg sync.WaitGroup
	for _, st := range []Store{a, b} {
		for i := 0; i < rounds; i++ {
			wg.Add(1)
			go func(st Store) {
				defer wg.Done()
				errs <- st.WriteAll(ctx, big)
			}(st)
		}
	}
	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				readErr <- nil
				return
			default:
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				readErr <- err
				return
			}
			var st state
			if err := json.Unmarshal(raw, &st); err != nil {
				readErr <- err
				return
			}
		}
	}()
	wg.Wait()
	close(stop)
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("WriteAll: %v", err)
		}
	}
	if err := <-readErr; err != nil {
		t.Fatalf("reader saw a torn snapshot: %v", err)
	}
	got, err := a.ReadAll(ctx)
	if err != nil || len(got) != len(big) {
		t.Fatalf("ReadAll = %d tasks, %v", len(got), err)
	}
	if left, _ := filepath.Glob(path + ".*.tmp"); len(left) != 0 {
		t.Fatalf("temp files left behind: %v", left)
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty file path")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestFileStoreRejectsForeignApp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"app":"other","tasks":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Driver: "file", Path: path, Key: "mine"}, logx.Nop()); err == nil {
		t.Fatal("expected error for a file owned by another app")
	}
}

func TestClosedStoreFails(t *testing.T) {
	st := NewMemory()
	_ = st.Close()
	_, err := st.ReadAll(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

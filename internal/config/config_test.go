package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseYAMLAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./tasks.db
  busy_timeout: 5s
scheduler:
  timezone: UTC
  send_timeout: 10s
`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != filepath.Join(filepath.Dir(path), "tasks.db") {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Scheduler.Every != DefaultEvery || cfg.Scheduler.Concurrency != DefaultConcurrency {
		t.Fatalf("scheduler defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Notifier.Subject != DefaultSubject || cfg.Notifier.RatePerSec != DefaultRatePerSec {
		t.Fatalf("notifier defaults not applied: %+v", cfg.Notifier)
	}
	if cfg.App.Name != DefaultAppName {
		t.Fatalf("app name = %q", cfg.App.Name)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("location = %v, want UTC", cfg.Location())
	}
}

func TestParseJSONRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"scheduler":{"every":"1m","workers":3}}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"app":{"name":"a"}}{"app":{"name":"b"}}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml")).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "file" || cfg.Scheduler.Every != DefaultEvery {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestDefaultStoragePathIgnoresWorkingDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	want := filepath.Join(home, DefaultAppName, DefaultAppName+".json")

	chdir(t, t.TempDir())
	first := Default().Storage.Path
	chdir(t, t.TempDir())
	second := Default().Storage.Path

	if first != want || second != want {
		t.Fatalf("storage paths = %q, %q; want %q", first, second, want)
	}
	p, err := DefaultPath()
	if err != nil || p != filepath.Join(home, DefaultAppName, "config.yaml") {
		t.Fatalf("DefaultPath = %q, %v", p, err)
	}

	sq := Config{Storage: StorageConfig{Driver: "sqlite"}}
	sq.Normalize()
	if sq.Storage.Path != filepath.Join(home, DefaultAppName, DefaultAppName+".db") {
		t.Fatalf("sqlite path = %q", sq.Storage.Path)
	}
	rd := Config{Storage: StorageConfig{Driver: "redis"}}
	rd.Normalize()
	if rd.Storage.Path != "" {
		t.Fatalf("redis path = %q, want empty", rd.Storage.Path)
	}
}

func TestRelativePathsAnchorAtConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"storage":{"path":"data/tasks.json"},"logging":{"file":{"enabled":true,"path":"app.log"}}}`)

	chdir(t, t.TempDir())
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != filepath.Join(dir, "data", "tasks.json") {
		t.Fatalf("storage path = %q", cfg.Storage.Path)
	}
	if cfg.Logging.File.Path != filepath.Join(dir, "app.log") {
		t.Fatalf("log path = %q", cfg.Logging.File.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad driver", Config{Storage: StorageConfig{Driver: "mongo"}}, "storage.driver"},
		{"redis without addr", Config{Storage: StorageConfig{Driver: "redis"}}, "storage.redis.addr"},
		{"bad duration", Config{Scheduler: SchedulerConfig{SendTimeout: "soon"}}, "scheduler.send_timeout"},
		{"negative duration", Config{Scheduler: SchedulerConfig{SendTimeout: "-1s"}}, "scheduler.send_timeout"},
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}, "scheduler.timezone"},
		{"file log without path", Config{Logging: LoggingConfig{File: LoggingFile{Enabled: true}}}, "logging.file.path"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.Normalize()
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tc.want)
			}
		})
	}

	ok := Default()
	if err := ok.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 30*time.Second)
	if err != nil || d != 30*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "5s", 30*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("notifier.timeout", "soon", time.Second); err == nil || !strings.Contains(err.Error(), "notifier.timeout") {
		t.Fatalf("err = %v, want key in message", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	a := Default()
	b := Default()
	b.Scheduler.Concurrency = 8
	b.Storage.Redis = &RedisConfig{Addr: "localhost:6379", Password: "hunter2"}
	b.Storage.Driver = "redis"

	changed, _ := SummarizeChange(a, b)
	if len(changed) != 2 || changed[0] != "storage" || changed[1] != "scheduler" {
		t.Fatalf("changed = %v", changed)
	}
	if !RequiresRestart(changed) {
		t.Fatal("storage change should require restart")
	}
	if changed, _ := SummarizeChange(a, Default()); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "scheduler:\n  concurrency: 2\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Keep rewriting until the watcher is up and picks it up.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-ch:
			if cfg.Scheduler.Concurrency != 6 {
				t.Fatalf("concurrency = %d, want 6", cfg.Scheduler.Concurrency)
			}
			if m.Get().Scheduler.Concurrency != 6 {
				t.Fatal("reload not committed")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			writeFile(t, path, "scheduler:\n  concurrency: 6\n")
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore working dir: %v", err)
		}
	})
}

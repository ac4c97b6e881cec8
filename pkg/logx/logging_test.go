package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "scheduler"))

	log.Debug("hidden")
	log.Info("tick done", Int("due", 2), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["message"] != "tick done" || rec["comp"] != "scheduler" || rec["err"] != "boom" {
		t.Fatalf("record = %v", rec)
	}
	if rec["due"] != float64(2) {
		t.Fatalf("due = %v", rec["due"])
	}
	if c, _ := rec["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", rec["caller"])
	}
}

func TestZeroAndNop(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop should not be zero")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("below level")
	log.Warn("kept")

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "below level") {
		t.Fatal("info written at warn level")
	}
	if !strings.Contains(out, "kept") || !strings.Contains(out, "now visible") {
		t.Fatalf("log file = %q", out)
	}
}

package systemd

import (
	"context"
	"testing"
	"time"
)

func TestNoopOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	sent, err := Ready()
	if err != nil || sent {
		t.Fatalf("Ready = %v, %v; want false, nil", sent, err)
	}
	if d := WatchdogInterval(); d != 0 {
		t.Fatalf("WatchdogInterval = %v, want 0", d)
	}
}

func TestWatchdogDisabledWaitsForCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watchdog(ctx, 0, nil) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watchdog: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watchdog did not return")
	}
}

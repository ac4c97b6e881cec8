// Package systemd speaks the sd_notify protocol for Type=notify units.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Ready reports READY=1. It returns false when not running under systemd.
func Ready() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}

// Stopping reports STOPPING=1.
func Stopping() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyStopping)
}

// Status sets the free-form STATUS= line shown by systemctl status.
func Status(msg string) (bool, error) {
	return daemon.SdNotify(false, "STATUS="+msg)
}

// WatchdogInterval returns how often to ping the watchdog, or 0 when the
// unit has no WatchdogSec.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings WATCHDOG=1 every interval until ctx ends.
// alive is consulted before each ping; a false result skips it so systemd
// restarts a wedged process.
func Watchdog(ctx context.Context, interval time.Duration, alive func() bool) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if alive != nil && !alive() {
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}

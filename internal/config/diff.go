package config

import (
	"strings"

	logx "taskminder/pkg/logx"
)

// SummarizeChange returns the changed sections and log-safe attrs describing
// them. Secrets (redis password) are never included.
//
// Sections reported: app, logging, storage, scheduler, notifier. Changes to
// app and storage only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldCfg.App.Name) != strings.TrimSpace(newCfg.App.Name) {
		changed = append(changed, "app")
		attrs = append(attrs, logx.String("app.name", newCfg.App.Name))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.every", newCfg.Scheduler.Every),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.send_timeout", newCfg.Scheduler.SendTimeout),
			logx.Int("scheduler.concurrency", newCfg.Scheduler.Concurrency),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.subject", newCfg.Notifier.Subject),
		)
	}

	return changed, attrs
}

// RequiresRestart reports whether any changed section can't be applied live.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		if s == "app" || s == "storage" {
			return true
		}
	}
	return false
}

func storageChanged(a, b StorageConfig) bool {
	if a.Driver != b.Driver || a.Path != b.Path || a.BusyTimeout != b.BusyTimeout {
		return true
	}
	if (a.Redis == nil) != (b.Redis == nil) {
		return true
	}
	return a.Redis != nil && *a.Redis != *b.Redis
}

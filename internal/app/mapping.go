package app

import (
	"time"

	"taskminder/internal/config"
	"taskminder/internal/notify"
	"taskminder/internal/scheduler"
	"taskminder/internal/storage"
	logx "taskminder/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out := storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		Key:         cfg.App.Name,
		BusyTimeout: busy,
	}
	if sc.Redis != nil {
		out.Redis = storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		}
		if sc.Redis.Key != "" {
			out.Key = sc.Redis.Key
		}
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("scheduler.send_timeout", cfg.Scheduler.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Every:       cfg.Scheduler.Every,
		Timezone:    cfg.Scheduler.Timezone,
		SendTimeout: sendTimeout,
		Concurrency: cfg.Scheduler.Concurrency,
		Subject:     cfg.Notifier.Subject,
	}, nil
}

// notifierOptions caps the provider timeout at the scheduler's send timeout
// so a call abandoned by the tick is also torn down at the transport.
func notifierOptions(cfg *config.Config, log logx.Logger) (notify.Options, error) {
	timeout, err := config.ParseDurationOrDefault("notifier.timeout", cfg.Notifier.Timeout, 20*time.Second)
	if err != nil {
		return notify.Options{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("scheduler.send_timeout", cfg.Scheduler.SendTimeout, config.DefaultSendTimeout)
	if err != nil {
		return notify.Options{}, err
	}
	timeout = min(timeout, sendTimeout)
	return notify.Options{
		Timeout:    timeout,
		RatePerSec: cfg.Notifier.RatePerSec,
		Log:        log.With(logx.String("comp", "notify")),
	}, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the on-disk configuration (JSON or YAML).
//
// Notifier credentials are not part of it; setup-notifier stores them next
// to the tasks.
type Config struct {
	App       AppConfig       `json:"app"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
}

// AppConfig identifies the application. Name keys the durable record, so two
// installs sharing one redis or sqlite database stay apart.
type AppConfig struct {
	Name string `json:"name"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "tasks.db", "busy_timeout": "5s" }
//
// A relative Path is taken from the config file's directory; an empty one
// becomes <DataDir>/<app name>.json (or .db).
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

// SchedulerConfig controls the tick loop.
//
// Every accepts cron ("* * * * *", "@every 1m") or an interval ("1m", "00:01").
// SendTimeout is a Go duration string.
type SchedulerConfig struct {
	Every       string `json:"every,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

type NotifierConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Subject    string `json:"subject,omitempty"`
	// Timeout bounds dialing the provider (Go duration string).
	Timeout string `json:"timeout,omitempty"`
}

const (
	DefaultAppName     = "taskminder"
	DefaultEvery       = "* * * * *"
	DefaultSendTimeout = 30 * time.Second
	DefaultConcurrency = 4
	DefaultRatePerSec  = 2
	DefaultSubject     = "Task Reminder"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "file"},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills empty fields with defaults.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.App.Name) == "" {
		c.App.Name = DefaultAppName
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = defaultStoragePath(c.Storage.Driver, c.App.Name)
	}
	if strings.TrimSpace(c.Scheduler.Every) == "" {
		c.Scheduler.Every = DefaultEvery
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = DefaultConcurrency
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = DefaultRatePerSec
	}
	if strings.TrimSpace(c.Notifier.Subject) == "" {
		c.Notifier.Subject = DefaultSubject
	}
}

// Validate checks fields that can be checked without touching the outside
// world. Cadence syntax is validated by the scheduler.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "file", "sqlite", "sqlite3", "memory":
	case "redis":
		if c.Storage.Redis == nil || strings.TrimSpace(c.Storage.Redis.Addr) == "" {
			errs = append(errs, errors.New("storage.redis.addr: required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.send_timeout", c.Scheduler.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.timeout", c.Notifier.Timeout); err != nil {
		errs = append(errs, err)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	return errors.Join(errs...)
}

// Location resolves scheduler.timezone. Empty or "local" is the process zone.
func (c *Config) Location() *time.Location {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

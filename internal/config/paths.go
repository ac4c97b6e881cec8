package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDir is the per-user directory that holds the config file and the
// durable record, e.g. ~/.config/taskminder on Linux. Every invocation of
// the CLI resolves the same directory regardless of its working directory.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(base, DefaultAppName), nil
}

// DefaultPath is the config file used when -config is not given.
func DefaultPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// defaultStoragePath names the record for file-backed drivers. It is empty
// for network drivers or when no user config dir exists; the store then
// refuses to open.
func defaultStoragePath(driver, app string) string {
	var ext string
	switch driver {
	case "file":
		ext = ".json"
	case "sqlite", "sqlite3":
		ext = ".db"
	default:
		return ""
	}
	dir, err := DataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, app+ext)
}

// resolvePaths anchors relative file paths at dir, the directory of the
// config file they were read from.
func (c *Config) resolvePaths(dir string) {
	c.Storage.Path = anchor(dir, c.Storage.Path)
	c.Logging.File.Path = anchor(dir, c.Logging.File.Path)
}

func anchor(dir, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

package storage

import (
	"errors"
	"strings"

	logx "taskminder/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "file"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		cfg.Key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "redis":
		st, err = openRedis(cfg, log)
	case "memory":
		st = NewMemory()
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, wrapErr("open", driver, err)
	}
	return st, nil
}

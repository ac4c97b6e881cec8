package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	app string
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, app: cfg.Key}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ReadAll(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, scheduled_at, status, attempts, last_error
		 FROM tasks WHERE app = ? ORDER BY position`, s.app)
	if err != nil {
		return nil, wrapErr("read", "sqlite", err)
	}
	defer rows.Close()

	out := []task.Task{}
	for rows.Next() {
		var (
			t       task.Task
			at      string
			status  string
			lastErr sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Description, &at, &status, &t.Attempts, &lastErr); err != nil {
			return nil, wrapErr("read", "sqlite", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, wrapErr("read", "sqlite", fmt.Errorf("task %d: scheduled_at: %w", t.ID, err))
		}
		t.ScheduledTime = ts.UTC()
		t.Status = task.Status(status)
		t.LastError = lastErr.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("read", "sqlite", err)
	}
	return out, nil
}

// WriteAll replaces the collection inside one transaction.
func (s *sqliteStore) WriteAll(ctx context.Context, tasks []task.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("write", "sqlite", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE app = ?`, s.app); err != nil {
		return wrapErr("write", "sqlite", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks(app, position, id, description, scheduled_at, status, attempts, last_error)
		 VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return wrapErr("write", "sqlite", err)
	}
	defer stmt.Close()

	for i, t := range tasks {
		_, err := stmt.ExecContext(ctx, s.app, i, t.ID, t.Description,
			t.ScheduledTime.UTC().Format(time.RFC3339Nano), string(t.Status), t.Attempts, nullStr(t.LastError))
		if err != nil {
			return wrapErr("write", "sqlite", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("write", "sqlite", err)
	}
	return nil
}

func (s *sqliteStore) ReadNotifier(ctx context.Context) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM notifier WHERE app = ?`, s.app).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("read_notifier", "sqlite", err)
	}
	return json.RawMessage(raw), nil
}

func (s *sqliteStore) WriteNotifier(ctx context.Context, raw json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifier(app, config, updated_at) VALUES(?,?,?)
		 ON CONFLICT(app) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		s.app, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	return wrapErr("write_notifier", "sqlite", err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

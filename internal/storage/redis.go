package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

// redisStore keeps each record under its own string key:
//
//	<key>:tasks     JSON array of tasks
//	<key>:notifier  JSON notifier settings
//
// A single SET replaces the collection, which Redis applies atomically.
type redisStore struct {
	client *redis.Client
	log    logx.Logger
	prefix string
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("storage.redis.addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedis(client, cfg.Key, log), nil
}

// NewRedis wraps an existing client. The caller keeps ownership of the
// client's lifetime only until Close is called on the returned store.
func NewRedis(client *redis.Client, key string, log logx.Logger) Store {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisStore{client: client, log: log, prefix: key}
}

func (s *redisStore) tasksKey() string    { return s.prefix + ":tasks" }
func (s *redisStore) notifierKey() string { return s.prefix + ":notifier" }

func (s *redisStore) ReadAll(ctx context.Context) ([]task.Task, error) {
	b, err := s.client.Get(ctx, s.tasksKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return []task.Task{}, nil
	}
	if err != nil {
		return nil, wrapErr("read", "redis", err)
	}
	var tasks []task.Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, wrapErr("read", "redis", err)
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return cloneTasks(tasks), nil
}

func (s *redisStore) WriteAll(ctx context.Context, tasks []task.Task) error {
	b, err := json.Marshal(cloneTasks(tasks))
	if err != nil {
		return wrapErr("write", "redis", err)
	}
	if err := s.client.Set(ctx, s.tasksKey(), b, 0).Err(); err != nil {
		return wrapErr("write", "redis", err)
	}
	s.log.Debug("snapshot written", logx.String("key", s.tasksKey()), logx.Int("tasks", len(tasks)))
	return nil
}

func (s *redisStore) ReadNotifier(ctx context.Context) (json.RawMessage, error) {
	b, err := s.client.Get(ctx, s.notifierKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("read_notifier", "redis", err)
	}
	return json.RawMessage(b), nil
}

func (s *redisStore) WriteNotifier(ctx context.Context, raw json.RawMessage) error {
	return wrapErr("write_notifier", "redis", s.client.Set(ctx, s.notifierKey(), []byte(raw), 0).Err())
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

package app

import (
	"context"
	"errors"
	"time"

	"taskminder/internal/config"
	"taskminder/internal/eventbus"
	"taskminder/internal/notify"
	"taskminder/internal/scheduler"
	"taskminder/internal/storage"
	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

// ChannelFactory builds a delivery channel from stored settings.
type ChannelFactory = notify.Factory

// App wires config, logging, storage, the task registry, the notifier and
// the scheduler. Every CLI command goes through it.
type App struct {
	cfgPath string
	cfgm    *config.Manager
	cfg     *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	reg   *task.Registry
	sched *scheduler.Service

	newChannel ChannelFactory
	now        func() time.Time
}

type Option func(*App)

// WithStore replaces the configured backend (tests, dry runs).
func WithStore(st storage.Store) Option {
	return func(a *App) { a.store = st }
}

// WithChannelFactory replaces notify.NewChannel.
func WithChannelFactory(fn ChannelFactory) Option {
	return func(a *App) {
		if fn != nil {
			a.newChannel = fn
		}
	}
}

// WithClock overrides the time source for task ids and due checks.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// New loads cfgPath (a missing file means defaults) and opens the store.
// The notifier is resolved lazily from stored settings.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:    cfgPath,
		cfgm:       cfgm,
		cfg:        cfg,
		bus:        eventbus.New(),
		newChannel: notify.NewChannel,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a.logs = logs
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if a.store == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
		a.store = st
		a.log.Debug("storage opened", logx.String("driver", sc.Driver))
	}

	a.reg = task.NewRegistry(a.store,
		task.WithLocation(cfg.Location()),
		task.WithClock(a.now),
		task.WithLogger(log.With(logx.String("comp", "registry"))),
	)

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = a.store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, a.reg, nil,
		log.With(logx.String("comp", "scheduler")),
		scheduler.WithBus(a.bus),
		scheduler.WithClock(a.now),
	)
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Registry() *task.Registry { return a.reg }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Close releases the store and log sinks.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// notifier builds the delivery channel from stored settings. It returns
// notify.ErrNotConfigured when setup-notifier has not been run.
func (a *App) notifier(ctx context.Context) (notify.Notifier, error) {
	s, err := notify.LoadSettings(ctx, a.store)
	if err != nil {
		return nil, err
	}
	opt, err := notifierOptions(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	n, err := notify.Build(s, opt, a.newChannel)
	if err != nil {
		return nil, err
	}
	a.log.Debug("notifier loaded", logx.String("channel", s.Channel), logx.Duration("timeout", opt.Timeout))
	return n, nil
}

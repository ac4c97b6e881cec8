package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskminder/internal/config"
	"taskminder/internal/notify"
	"taskminder/internal/runtime/supervisor"
	"taskminder/internal/scheduler"
	logx "taskminder/pkg/logx"
	"taskminder/pkg/systemd"
)

const shutdownTimeout = 15 * time.Second

// Start runs the scheduler and blocks until ctx is canceled or a supervised
// goroutine fails. Without a configured notifier it returns a
// *scheduler.ConfigurationError before anything is scheduled.
func (a *App) Start(ctx context.Context) error {
	n, err := a.notifier(ctx)
	if err != nil {
		if errors.Is(err, notify.ErrNotConfigured) {
			return &scheduler.ConfigurationError{Err: scheduler.ErrNotConfigured}
		}
		return err
	}
	a.sched.SetNotifier(n)

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	if err := a.sched.Start(sup.Context()); err != nil {
		sup.Cancel()
		return err
	}

	a.cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		sc, err := mapSchedulerConfig(cfg)
		if err != nil {
			return err
		}
		_, err = scheduler.ParseEvery(sc.Every)
		return err
	})
	sup.GoRestart("config.watch", a.cfgm.Watch)
	sup.Go0("config.apply", a.applyLoop)
	sup.Go0("events.log", a.logEvents)
	if wd := systemd.WatchdogInterval(); wd > 0 {
		sup.GoRestart("systemd.watchdog", func(ctx context.Context) error {
			return systemd.Watchdog(ctx, wd, a.sched.Running)
		})
	}

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if sent {
		_, _ = systemd.Status("monitoring tasks every " + a.cfg.Scheduler.Every)
		a.log.Debug("systemd notified ready")
	}
	a.log.Info("task monitoring started", logx.String("every", a.cfg.Scheduler.Every))

	<-sup.Context().Done()
	runErr := sup.Err()

	_, _ = systemd.Stopping()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.sched.Stop(stopCtx)
	if err := sup.Stop(stopCtx); err != nil && runErr == nil && !errors.Is(err, context.Canceled) {
		runErr = err
	}
	a.log.Info("task monitoring stopped")
	return runErr
}

// applyLoop applies hot-reloaded config to the running services.
func (a *App) applyLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(prev, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change applied", fields...)
	if config.RequiresRestart(sections) {
		a.log.Warn("app or storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(cfg))

	sc, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	if err := a.sched.Apply(sc); err != nil {
		a.log.Warn("scheduler rejected config; keeping previous", logx.Err(err))
		return
	}
	a.cfg = cfg
	// The rate lives in the limiter, so a notifier change needs a rebuild.
	if prev == nil || prev.Notifier != cfg.Notifier {
		if n, err := a.notifier(context.Background()); err != nil {
			a.log.Warn("notifier rebuild failed; keeping previous", logx.Err(err))
		} else {
			a.sched.SetNotifier(n)
		}
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch ev := e.Data.(type) {
			case scheduler.TaskEvent:
				a.log.Debug("event", logx.String("type", e.Type), logx.Int64("task_id", ev.TaskID), logx.Int("attempt", ev.Attempt))
			case scheduler.Report:
				a.log.Debug("event", logx.String("type", e.Type), logx.String("tick", ev.ID), logx.Int("due", ev.Due))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

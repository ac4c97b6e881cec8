package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"taskminder/internal/notify"
	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

// Add registers a new pending reminder.
func (a *App) Add(ctx context.Context, description, date, clock string) (task.Task, error) {
	t, err := a.reg.Create(ctx, description, date, clock)
	if err != nil {
		return task.Task{}, err
	}
	a.log.Info("task added",
		logx.Int64("id", t.ID),
		logx.Time("scheduled", t.ScheduledTime),
	)
	return t, nil
}

// List returns every task in insertion order.
func (a *App) List(ctx context.Context) ([]task.Task, error) {
	return a.reg.List(ctx)
}

// displayLayout renders like "Jan 1, 2025, 9:00:00 AM".
const displayLayout = "Jan 2, 2006, 3:04:05 PM"

// WriteTasks prints tasks for humans, with times in loc.
func WriteTasks(w io.Writer, tasks []task.Task, loc *time.Location) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "No tasks scheduled")
		return err
	}
	if loc == nil {
		loc = time.Local
	}
	for _, t := range tasks {
		if _, err := fmt.Fprintf(w, "\nTask: %s\nScheduled: %s\nStatus: %s\n",
			t.Description, t.ScheduledTime.In(loc).Format(displayLayout), t.Status); err != nil {
			return err
		}
		if t.Attempts > 0 {
			if _, err := fmt.Fprintf(w, "Failed attempts: %d (last: %s)\n", t.Attempts, t.LastError); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetupNotifier validates s, optionally checks the credentials against the
// provider, and stores them. Nothing is stored when any step fails.
func (a *App) SetupNotifier(ctx context.Context, s notify.Settings, verify bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if verify {
		opt, err := notifierOptions(a.cfg, a.log)
		if err != nil {
			return err
		}
		ch, err := a.newChannel(s, opt)
		if err != nil {
			return err
		}
		vctx, cancel := context.WithTimeout(ctx, opt.Timeout+5*time.Second)
		err = ch.Verify(vctx)
		cancel()
		if err != nil {
			a.log.Warn("notifier verification failed; settings discarded",
				logx.String("channel", s.Channel), logx.Err(err))
			return fmt.Errorf("verify %s notifier: %w", s.Channel, err)
		}
	}
	if err := notify.SaveSettings(ctx, a.store, s); err != nil {
		return err
	}
	a.log.Info("notifier configured", logx.Any("settings", s.Redacted()), logx.Bool("verified", verify))
	return nil
}

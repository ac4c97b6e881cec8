package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskminder/internal/eventbus"
	"taskminder/internal/notify"
	"taskminder/internal/task"
	logx "taskminder/pkg/logx"
)

// persistTimeout bounds the consolidated write, which runs detached from the
// tick context so a shutdown mid-tick still records finished sends.
const persistTimeout = 10 * time.Second

type sendResult struct {
	task    task.Task
	err     error
	skipped bool
}

// Tick runs one pass: load, filter due tasks against a single now, send,
// then persist every outcome in one write. Concurrent calls are serialized.
//
// Delivery failures are not returned; they are counted in the report and
// recorded on the task. A load or persist failure is returned.
func (s *Service) Tick(ctx context.Context) (Report, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	cfg := s.cfg
	n := s.notifier
	s.mu.Unlock()

	start := time.Now()
	rep := Report{ID: uuid.NewString(), Now: s.now()}
	log := s.log.With(logx.String("tick", rep.ID))

	if n == nil {
		return rep, &ConfigurationError{Err: ErrNotConfigured}
	}

	tasks, err := s.reg.LoadAll(ctx)
	if err != nil {
		rep.Took = time.Since(start)
		log.Error("load tasks failed", logx.Err(err))
		s.publish(eventbus.TickFailed, rep)
		return rep, fmt.Errorf("load tasks: %w", err)
	}
	rep.Scanned = len(tasks)

	due := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Due(rep.Now) {
			due = append(due, t)
		}
	}
	rep.Due = len(due)
	if len(due) == 0 {
		rep.Took = time.Since(start)
		log.Debug("tick done; nothing due", logx.Int("scanned", rep.Scanned))
		s.publish(eventbus.TickDone, rep)
		return rep, nil
	}

	results := s.dispatch(ctx, cfg, n, due, log)

	outcomes := make([]task.Outcome, 0, len(results))
	for _, r := range results {
		if r.skipped {
			continue
		}
		outcomes = append(outcomes, task.Outcome{TaskID: r.task.ID, Err: r.err})
		if r.err == nil {
			rep.Sent++
		} else {
			rep.Failed++
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	completed, err := s.reg.Apply(wctx, outcomes)
	rep.Took = time.Since(start)
	if err != nil {
		// Sent reminders stay pending and go out again next tick.
		log.Error("persist outcomes failed", logx.Err(err), logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed))
		s.publish(eventbus.TickFailed, rep)
		return rep, fmt.Errorf("persist outcomes: %w", err)
	}

	s.publishOutcomes(rep.ID, results, completed)
	log.Info("tick done",
		logx.Int("scanned", rep.Scanned),
		logx.Int("due", rep.Due),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
	s.publish(eventbus.TickDone, rep)
	return rep, nil
}

// dispatch sends one reminder per due task with at most cfg.Concurrency in
// flight. Sends start in collection order. Results keep that order.
func (s *Service) dispatch(ctx context.Context, cfg Config, n notify.Notifier, due []task.Task, log logx.Logger) []sendResult {
	results := make([]sendResult, len(due))
	sem := make(chan struct{}, cfg.Concurrency)
	var wg sync.WaitGroup

	for i, t := range due {
		results[i].task = t
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(due); j++ {
				results[j] = sendResult{task: due[j], skipped: true}
			}
			wg.Wait()
			return results
		}
		wg.Add(1)
		go func(i int, t task.Task) {
			defer wg.Done()
			defer func() { <-sem }()

			sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
			err := sendOne(sctx, n, notify.ReminderMessage(t, cfg.Subject))
			cancel()

			if err != nil && ctx.Err() != nil {
				// Interrupted by shutdown, not a delivery failure.
				results[i].skipped = true
				log.Debug("send interrupted", logx.Int64("task_id", t.ID), logx.Err(err))
				return
			}
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("send timed out after %s: %w", cfg.SendTimeout, err)
				}
				err = &notify.DeliveryError{TaskID: t.ID, Err: err}
				log.Warn("reminder delivery failed",
					logx.Int64("task_id", t.ID),
					logx.Int("attempt", t.Attempts+1),
					logx.Err(err),
				)
			} else {
				log.Info("reminder sent", logx.Int64("task_id", t.ID), logx.String("description", t.Description))
			}
			results[i].err = err
		}(i, t)
	}
	wg.Wait()
	return results
}

func sendOne(ctx context.Context, n notify.Notifier, msg notify.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v\n%s", r, debug.Stack())
		}
	}()
	return n.Send(ctx, msg)
}

func (s *Service) publish(typ string, rep Report) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: rep})
}

func (s *Service) publishOutcomes(tick string, results []sendResult, completed []int64) {
	if s.bus == nil {
		return
	}
	done := make(map[int64]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	for _, r := range results {
		if r.skipped {
			continue
		}
		ev := TaskEvent{
			Tick:        tick,
			TaskID:      r.task.ID,
			Description: r.task.Description,
			Scheduled:   r.task.ScheduledTime,
			Attempt:     r.task.Attempts + 1,
		}
		if r.err != nil {
			ev.Error = r.err.Error()
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskDeliveryFailed, Data: ev})
			continue
		}
		if _, ok := done[r.task.ID]; ok {
			s.bus.Publish(eventbus.Event{Type: eventbus.TaskCompleted, Data: ev})
		}
	}
}

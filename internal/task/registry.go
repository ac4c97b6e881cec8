package task

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "taskminder/pkg/logx"
)

// Accepted date layouts, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"02 Jan 2006",
	"Jan 2 2006",
	"January 2 2006",
}

// 24-hour clock, single-digit hours allowed ("9:05").
var reClock = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// Registry validates and creates tasks and owns read/write access to the
// persisted collection. A single mutex serializes every read-modify-write
// done through it, so Create and Apply never lose each other's updates
// within one process.
type Registry struct {
	mu sync.Mutex

	store Store
	loc   *time.Location
	now   func() time.Time
	log   logx.Logger
}

type RegistryOption func(*Registry)

// WithLocation sets the zone used to interpret entered dates and times.
func WithLocation(loc *time.Location) RegistryOption {
	return func(r *Registry) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithClock overrides time.Now (used for id assignment).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(log logx.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		store: store,
		loc:   time.Local,
		now:   time.Now,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	return r
}

// Location returns the zone used to interpret entered dates and times.
func (r *Registry) Location() *time.Location { return r.loc }

// ParseSchedule combines a calendar date and an HH:mm clock time into a UTC
// instant, interpreting both in loc.
func ParseSchedule(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, &ValidationError{Field: "date", Reason: "required"}
	}
	var day time.Time
	var err error
	for _, layout := range dateLayouts {
		day, err = time.ParseInLocation(layout, date, loc)
		if err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Value: date, Reason: "expected YYYY-MM-DD"}
	}

	clock = strings.TrimSpace(clock)
	m := reClock.FindStringSubmatch(clock)
	if len(m) != 3 {
		return time.Time{}, &ValidationError{Field: "time", Value: clock, Reason: "expected HH:mm (24-hour)"}
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])

	at := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)
	return at.UTC(), nil
}

// Create validates the input, appends a new pending task and persists the
// collection. Validation failures return *ValidationError and touch nothing.
func (r *Registry) Create(ctx context.Context, description, date, clock string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	at, err := ParseSchedule(date, clock, r.loc)
	if err != nil {
		return Task{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tasks, err := r.store.ReadAll(ctx)
	if err != nil {
		return Task{}, err
	}

	t := Task{
		ID:            nextID(tasks, r.now()),
		Description:   description,
		ScheduledTime: at,
		Status:        StatusPending,
	}
	tasks = append(tasks, t)
	if err := r.store.WriteAll(ctx, tasks); err != nil {
		return Task{}, err
	}
	r.log.Info("task created", logx.Int64("id", t.ID), logx.Time("scheduled", t.ScheduledTime))
	return t, nil
}

// nextID derives the id from the creation instant (unix millis) and bumps it
// past every existing id so ids stay unique and increasing.
func nextID(tasks []Task, now time.Time) int64 {
	id := now.UnixMilli()
	for _, t := range tasks {
		if t.ID >= id {
			id = t.ID + 1
		}
	}
	return id
}

// List returns the full collection in insertion order.
func (r *Registry) List(ctx context.Context) ([]Task, error) {
	return r.LoadAll(ctx)
}

func (r *Registry) LoadAll(ctx context.Context) ([]Task, error) {
	return r.store.ReadAll(ctx)
}

// SaveAll overwrites the persisted collection.
func (r *Registry) SaveAll(ctx context.Context, tasks []Task) error {
	if err := checkUnique(tasks); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.WriteAll(ctx, tasks)
}

// Apply merges delivery outcomes into a fresh read of the collection and
// writes it back once. Successful outcomes complete their task; failures
// bump the attempt counter. Tasks added since the caller's read are kept,
// and a completed task is never reverted.
//
// It returns the ids that transitioned to completed in this call.
func (r *Registry) Apply(ctx context.Context, outcomes []Outcome) ([]int64, error) {
	if len(outcomes) == 0 {
		return nil, nil
	}
	byID := make(map[int64]error, len(outcomes))
	for _, o := range outcomes {
		byID[o.TaskID] = o.Err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tasks, err := r.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	var completed []int64
	for i := range tasks {
		oerr, ok := byID[tasks[i].ID]
		if !ok {
			continue
		}
		if oerr == nil {
			if tasks[i].Complete() {
				completed = append(completed, tasks[i].ID)
			}
			continue
		}
		tasks[i].RecordFailure(oerr)
	}
	if err := r.store.WriteAll(ctx, tasks); err != nil {
		return nil, err
	}
	return completed, nil
}

func checkUnique(tasks []Task) error {
	seen := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateID, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

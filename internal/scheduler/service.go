package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskminder/internal/eventbus"
	"taskminder/internal/notify"
	logx "taskminder/pkg/logx"
)

// Service owns the cron trigger and the tick body.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	reg      Registry
	notifier notify.Notifier
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
	parser   cron.Parser

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc

	// serializes tick bodies, including manual Tick calls racing the cron trigger
	tickMu sync.Mutex
}

type Option func(*Service)

// WithClock overrides the time source used to decide what is due.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBus publishes tick and task events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// New builds a stopped scheduler. n may be nil; Start then refuses to run.
func New(cfg Config, reg Registry, n notify.Notifier, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		reg:      reg,
		notifier: n,
		log:      log,
		now:      time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetNotifier swaps the delivery channel. The next tick picks it up.
func (s *Service) SetNotifier(n notify.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

// Running reports whether the cron trigger is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Start begins triggering ticks on the configured cadence. It returns a
// *ConfigurationError without scheduling anything when no notifier is set
// or the cadence is invalid. Ticks run under ctx until Stop or ctx ends.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if s.notifier == nil {
		return &ConfigurationError{Err: ErrNotConfigured}
	}
	if _, err := s.parseLocked(); err != nil {
		return &ConfigurationError{Err: err}
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	if err := s.startCronLocked(); err != nil {
		s.cancel()
		s.runCtx, s.cancel = nil, nil
		return &ConfigurationError{Err: err}
	}
	return nil
}

// Stop halts the trigger and waits for an in-flight tick, bounded by ctx.
// A tick interrupted here still persists the outcomes of sends that finished.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c, s.cancel, s.runCtx = nil, nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	s.log.Info("stop requested")
	stopped := c.Stop()
	if cancel != nil {
		cancel()
	}
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for tick", logx.Err(ctx.Err()))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Apply swaps the runtime config. A running trigger is rebuilt when the
// cadence or timezone changed; other fields apply from the next tick.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	ps, err := ParseEvery(cfg.Every)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(ps.CronSpec()); err != nil {
		return fmt.Errorf("invalid cadence %q: %w", cfg.Every, err)
	}
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	if strings.TrimSpace(old.Every) == strings.TrimSpace(cfg.Every) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	s.log.Info("cadence changed; restarting trigger",
		logx.String("every", cfg.Every), logx.String("tz", cfg.Timezone))
	// Stop returns immediately; a running tick finishes on its own and
	// tickMu keeps the new trigger from overlapping it.
	s.c.Stop()
	s.c = nil
	return s.startCronLocked()
}

func (s *Service) parseLocked() (ParsedSpec, error) {
	ps, err := ParseEvery(s.cfg.Every)
	if err != nil {
		return ParsedSpec{}, err
	}
	if _, err := s.parser.Parse(ps.CronSpec()); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cadence %q: %w", s.cfg.Every, err)
	}
	return ps, nil
}

func (s *Service) startCronLocked() error {
	ps, err := s.parseLocked()
	if err != nil {
		return err
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	runCtx := s.runCtx
	if _, err := c.AddFunc(ps.CronSpec(), func() {
		if runCtx.Err() != nil {
			return
		}
		_, _ = s.Tick(runCtx)
	}); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	c.Start()
	s.c = c

	args := []logx.Field{logx.String("every", ps.CronSpec()), logx.String("tz", loc.String())}
	if entries := c.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
		args = append(args, logx.Time("next", entries[0].Next))
	}
	s.log.Info("scheduler started", args...)
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

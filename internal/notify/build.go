package notify

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	logx "taskminder/pkg/logx"
)

// Options tune a built notifier.
type Options struct {
	// Timeout bounds a single network call (dial + send).
	Timeout time.Duration
	// RatePerSec caps sends per second; <= 0 means 2.
	RatePerSec int
	Log        logx.Logger
}

// Verifier is implemented by channels that can check credentials without
// delivering a message.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Channel is a concrete delivery channel.
type Channel interface {
	Notifier
	Verifier
}

// NewChannel constructs the channel selected by s.
func NewChannel(s Settings, opt Options) (Channel, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.withDefaults()
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	switch s.Channel {
	case ChannelEmail:
		return NewEmail(*s.Email, opt.Timeout, log.With(logx.String("channel", ChannelEmail))), nil
	case ChannelTelegram:
		tg, err := NewTelegram(*s.Telegram, opt.Timeout, log.With(logx.String("channel", ChannelTelegram)))
		if err != nil {
			return nil, err
		}
		return tg, nil
	default:
		return nil, fmt.Errorf("unknown notifier channel %q", s.Channel)
	}
}

// Factory constructs a delivery channel. NewChannel is the real one.
type Factory func(s Settings, opt Options) (Channel, error)

// Build constructs the channel selected by s through factory (nil means
// NewChannel) and throttles it per Options.
func Build(s Settings, opt Options, factory Factory) (Notifier, error) {
	if factory == nil {
		factory = NewChannel
	}
	ch, err := factory(s, opt)
	if err != nil {
		return nil, fmt.Errorf("build notifier: %w", err)
	}
	return NewLimited(ch, opt.RatePerSec), nil
}

// Limited throttles an underlying Notifier with a token bucket.
type Limited struct {
	next    Notifier
	limiter *rate.Limiter
}

func NewLimited(next Notifier, perSec int) *Limited {
	if perSec <= 0 {
		perSec = 2
	}
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

// Send waits for a token (honoring ctx) and forwards the message.
func (l *Limited) Send(ctx context.Context, msg Message) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return l.next.Send(ctx, msg)
}

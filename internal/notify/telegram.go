package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "taskminder/pkg/logx"
)

// Telegram posts reminders into one chat through a bot.
type Telegram struct {
	cfg TelegramSettings
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(cfg TelegramSettings, timeout time.Duration, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// Offline: no getMe round-trip at construction; Verify does that explicitly.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{cfg: cfg, bot: b, log: log}, nil
}

// Send delivers msg to the configured chat. Delivery is at-least-once: when
// ctx ends first the request may still complete, bounded by the client
// timeout, and the reminder is sent again on a later tick.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	text := msg.Text
	if msg.Subject != "" {
		text = msg.Subject + "\n" + msg.Text
	}

	// telebot has no context-aware Send; race it against ctx so the
	// per-send timeout holds. The http client timeout bounds the goroutine.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		t.log.Debug("telegram message sent", logx.Int64("chat_id", t.cfg.ChatID))
		return nil
	}
}

// Verify checks the token with getMe.
func (t *Telegram) Verify(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Raw("getMe", nil)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram getMe: %w", err)
		}
		return nil
	}
}

package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	logx "taskminder/pkg/logx"
)

// Email sends reminders over authenticated SMTP (STARTTLS required).
type Email struct {
	cfg     EmailSettings
	timeout time.Duration
	log     logx.Logger
}

func NewEmail(cfg EmailSettings, timeout time.Duration, log logx.Logger) *Email {
	if cfg.To == "" {
		cfg.To = cfg.Address
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Email{cfg: cfg, timeout: timeout, log: log}
}

func (e *Email) client() (*mail.Client, error) {
	return mail.NewClient(e.cfg.Host,
		mail.WithPort(e.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Address),
		mail.WithPassword(e.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(e.timeout),
	)
}

func (e *Email) Send(ctx context.Context, msg Message) error {
	if msg.Text == "" {
		return ErrEmptyMessage
	}
	m := mail.NewMsg()
	if err := m.From(e.cfg.Address); err != nil {
		return fmt.Errorf("email from: %w", err)
	}
	if err := m.To(e.cfg.To); err != nil {
		return fmt.Errorf("email to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, msg.Text)

	c, err := e.client()
	if err != nil {
		return fmt.Errorf("email client: %w", err)
	}
	start := time.Now()
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email send: %w", err)
	}
	e.log.Debug("email sent", logx.String("to", e.cfg.To), logx.Duration("took", time.Since(start)))
	return nil
}

// Verify dials the server and authenticates without sending anything.
func (e *Email) Verify(ctx context.Context) error {
	c, err := e.client()
	if err != nil {
		return fmt.Errorf("email client: %w", err)
	}
	if err := c.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp login %s:%d: %w", e.cfg.Host, e.cfg.Port, err)
	}
	return c.Close()
}

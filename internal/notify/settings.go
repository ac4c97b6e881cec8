package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// Settings holds delivery credentials. They live in the store (not in the
// config file) and are written by setup-notifier after verification.
type Settings struct {
	Channel  string            `json:"channel" validate:"required,oneof=email telegram"`
	Email    *EmailSettings    `json:"email,omitempty" validate:"required_if=Channel email"`
	Telegram *TelegramSettings `json:"telegram,omitempty" validate:"required_if=Channel telegram"`
}

type EmailSettings struct {
	Address  string `json:"address" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	To       string `json:"to,omitempty" validate:"omitempty,email"` // default: Address
	Host     string `json:"host,omitempty" validate:"omitempty,hostname_rfc1123"`
	Port     int    `json:"port,omitempty" validate:"omitempty,gt=0,lt=65536"`
}

type TelegramSettings struct {
	Token  string `json:"token" validate:"required"`
	ChatID int64  `json:"chat_id" validate:"required"`
}

var validate = validator.New()

// withDefaults fills Gmail SMTP defaults.
func (s Settings) withDefaults() Settings {
	s.Channel = strings.ToLower(strings.TrimSpace(s.Channel))
	if s.Email != nil {
		e := *s.Email
		e.Address = strings.TrimSpace(e.Address)
		e.To = strings.TrimSpace(e.To)
		if e.Host == "" {
			e.Host = "smtp.gmail.com"
		}
		if e.Port == 0 {
			e.Port = 587
		}
		s.Email = &e
	}
	return s
}

// Validate checks the settings and returns a readable error.
func (s Settings) Validate() error {
	s = s.withDefaults()
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid notifier settings: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("invalid notifier settings: %w", err)
	}
	return nil
}

// SettingsStore is the part of the Task Store that keeps notifier settings.
type SettingsStore interface {
	ReadNotifier(ctx context.Context) (json.RawMessage, error)
	WriteNotifier(ctx context.Context, raw json.RawMessage) error
}

// LoadSettings reads persisted settings. It returns ErrNotConfigured when
// nothing has been stored yet.
func LoadSettings(ctx context.Context, st SettingsStore) (Settings, error) {
	raw, err := st.ReadNotifier(ctx)
	if err != nil {
		return Settings{}, err
	}
	if len(raw) == 0 {
		return Settings{}, ErrNotConfigured
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decode notifier settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s.withDefaults(), nil
}

func SaveSettings(ctx context.Context, st SettingsStore, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s.withDefaults())
	if err != nil {
		return err
	}
	return st.WriteNotifier(ctx, raw)
}

// Redacted returns a copy safe to log.
func (s Settings) Redacted() Settings {
	s = s.withDefaults()
	if s.Email != nil {
		e := *s.Email
		if e.Password != "" {
			e.Password = "***"
		}
		s.Email = &e
	}
	if s.Telegram != nil {
		tg := *s.Telegram
		if tg.Token != "" {
			tg.Token = "***"
		}
		s.Telegram = &tg
	}
	return s
}

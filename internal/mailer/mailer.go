// Package mailer delivers verification codes and password-reset links.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"fitstudio/internal/config"

	"go.uber.org/zap"
)

// Mailer is implemented by every transport in this package.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, resetURL string) error
}

// Closer is a Mailer holding a connection.
type Closer interface {
	Mailer
	Close() error
}

// Kind tags queued messages so the worker knows which template to render.
type Kind string

const (
	KindVerificationCode Kind = "verification_code"
	KindPasswordReset    Kind = "password_reset"
)

// Message is the transport-neutral form of an outgoing mail.
type Message struct {
	Kind Kind   `json:"kind"`
	To   string `json:"to"`
	Code string `json:"code,omitempty"`
	URL  string `json:"url,omitempty"`
}

func (m Message) Subject() string {
	switch m.Kind {
	case KindVerificationCode:
		return "Your fitstudio verification code"
	case KindPasswordReset:
		return "Reset your fitstudio password"
	}
	return "fitstudio"
}

func (m Message) Body() string {
	switch m.Kind {
	case KindVerificationCode:
		return fmt.Sprintf("Your verification code is %s.\n\nIt expires in 10 minutes.", m.Code)
	case KindPasswordReset:
		return fmt.Sprintf("Follow this link to choose a new password:\n\n%s\n\nIf you did not ask for a reset, ignore this email.", m.URL)
	}
	return ""
}

// RFC822 renders a minimal plain-text message.
func (m Message) RFC822(from string) []byte {
	return []byte(strings.Join([]string{
		"From: " + from,
		"To: " + m.To,
		"Subject: " + m.Subject(),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		m.Body(),
	}, "\r\n"))
}

// New builds the configured transport.
func New(cfg config.Mail, log *zap.Logger) (Closer, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTP(SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			Timeout:  cfg.Timeout,
		}, log), nil
	case "amqp":
		m, err := DialAMQP(cfg.AMQPURL, cfg.AMQPQueue, log)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "console", "":
		return NewConsole(log), nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Driver)
}

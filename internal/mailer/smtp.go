package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type SMTPOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTP delivers directly to a relay, upgrading with STARTTLS when offered.
type SMTP struct {
	opts SMTPOptions
	log  *zap.Logger
}

func NewSMTP(opts SMTPOptions, log *zap.Logger) *SMTP {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTP{opts: opts, log: log.Named("smtp")}
}

func (m *SMTP) SendVerificationCode(ctx context.Context, email, code string) error {
	return m.send(ctx, Message{Kind: KindVerificationCode, To: email, Code: code})
}

func (m *SMTP) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	return m.send(ctx, Message{Kind: KindPasswordReset, To: email, URL: resetURL})
}

func (m *SMTP) send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	addr := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.opts.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.opts.User != "" {
		auth := smtp.PlainAuth("", m.opts.User, m.opts.Password, m.opts.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.opts.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write(msg.RFC822(m.opts.From)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}

	m.log.Info("mail sent", zap.String("kind", string(msg.Kind)))
	return nil
}

func (m *SMTP) Close() error { return nil }

package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Console writes mails to the log. Dev only; config refuses it in prod.
type Console struct {
	log *zap.Logger
}

func NewConsole(log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{log: log.Named("mail")}
}

func (m *Console) SendVerificationCode(_ context.Context, email, code string) error {
	m.log.Info("[DEV-EMAIL] verification code", zap.String("email", email), zap.String("code", code))
	return nil
}

func (m *Console) SendPasswordReset(_ context.Context, email, resetURL string) error {
	m.log.Info("[DEV-EMAIL] password reset", zap.String("email", email), zap.String("url", resetURL))
	return nil
}

func (m *Console) Close() error { return nil }

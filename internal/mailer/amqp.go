package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP hands mails to a durable queue drained by a separate sender worker.
type AMQP struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
	log   *zap.Logger
}

func DialAMQP(url, queue string, log *zap.Logger) (*AMQP, error) {
	const op = "mailer.DialAMQP"
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: declare queue %s: %w", op, queue, err)
	}
	m := newAMQP(ch, queue, log)
	m.conn = conn
	return m, nil
}

func newAMQP(ch publisher, queue string, log *zap.Logger) *AMQP {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQP{ch: ch, queue: queue, log: log.Named("amqp-mail")}
}

func (m *AMQP) SendVerificationCode(ctx context.Context, email, code string) error {
	return m.publish(ctx, Message{Kind: KindVerificationCode, To: email, Code: code})
}

func (m *AMQP) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	return m.publish(ctx, Message{Kind: KindPasswordReset, To: email, URL: resetURL})
}

func (m *AMQP) publish(ctx context.Context, msg Message) error {
	const op = "mailer.AMQP.publish"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = m.ch.Publish("", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.log.Debug("mail queued", zap.String("kind", string(msg.Kind)), zap.String("queue", m.queue))
	return nil
}

func (m *AMQP) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}

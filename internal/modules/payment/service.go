package payment

import (
	"context"
	"errors"
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/paymentprovider"

	"go.uber.org/zap"
)

// Consumer authenticates webhook deliveries and hands the decoded event to
// the entitlement engine.
type Consumer struct {
	secret    string
	tolerance time.Duration
	applier   EventApplier
	log       *zap.Logger
	now       func() time.Time
}

func NewConsumer(secret string, applier EventApplier, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		secret:    secret,
		tolerance: paymentprovider.DefaultTolerance,
		applier:   applier,
		log:       log,
		now:       time.Now,
	}
}

// WithClock replaces the time source used for the signature window.
func (c *Consumer) WithClock(now func() time.Time) *Consumer {
	c.now = now
	return c
}

// Handle verifies signature over the raw body and applies the event. A nil
// error means the outcome is durable and the delivery may be acknowledged.
func (c *Consumer) Handle(ctx context.Context, body []byte, signature string) (*WebhookResponse, error) {
	if err := paymentprovider.VerifySignature(c.secret, signature, body, c.now(), c.tolerance); err != nil {
		c.log.Warn("payment webhook rejected", zap.Error(err))
		return nil, apperror.Wrap(apperror.KindInvalidRequest, "Invalid signature", err)
	}

	evt, err := paymentprovider.ParseEvent(body)
	if err != nil {
		c.log.Warn("payment webhook malformed", zap.Error(err))
		return nil, apperror.Wrap(apperror.KindInvalidRequest, "Malformed event", err)
	}

	outcome, err := c.applier.ApplyEvent(ctx, evt)
	if err != nil {
		c.log.Error("payment event not applied",
			zap.String("event_id", evt.ID), zap.String("event_type", evt.Type), zap.Error(err))
		if errors.Is(err, user.ErrStoreUnavailable) {
			return nil, apperror.Upstream(err)
		}
		return nil, apperror.Internal(err)
	}
	return &WebhookResponse{EventID: evt.ID, Outcome: outcome}, nil
}

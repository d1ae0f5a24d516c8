package payment

import (
	"context"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/paymentprovider"
)

// EventApplier commits a verified provider event; *entitlement.Service
// satisfies it.
type EventApplier interface {
	ApplyEvent(ctx context.Context, evt *paymentprovider.Event) (user.Outcome, error)
}

package entitlement

import (
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/paymentprovider"
)

// Step is the outcome of feeding one provider event to the subscription
// state machine. When Outcome is empty, Next is written conditionally on the
// stored period start being <= MinPeriodStart.
type Step struct {
	Next           *user.Subscription
	MinPeriodStart time.Time
	Outcome        user.Outcome
	Reason         string
}

func drop(outcome user.Outcome, reason string) Step {
	return Step{Outcome: outcome, Reason: reason}
}

// Transition computes the next subscription record for evt. It never touches
// the store.
func Transition(current *user.Subscription, evt *paymentprovider.Event) Step {
	d := evt.Data
	extID := d.SubscriptionID

	if current != nil && extID != "" && current.ExternalSubscriptionID != "" && extID != current.ExternalSubscriptionID {
		if current.Status.Grants() {
			return drop(user.OutcomeIgnored, "event for another subscription while one is active")
		}
		// The old subscription is finished; this event starts a new one.
		current = nil
	}
	if current != nil && current.Status == user.StatusCanceled {
		return drop(user.OutcomeIgnored, "subscription already canceled")
	}
	if current != nil && d.HasPeriod() && d.Start().Before(current.CurrentPeriodStart) {
		return drop(user.OutcomeStale, "event period predates stored period")
	}

	var next user.Subscription
	if current != nil {
		next = *current
	}
	if extID != "" {
		next.ExternalSubscriptionID = extID
	}
	if plan := firstNonEmpty(d.PlanID, d.Metadata.PlanID); plan != "" {
		next.PlanID = plan
	}
	if d.HasPeriod() {
		next.CurrentPeriodStart = d.Start()
		next.CurrentPeriodEnd = d.End()
	}

	switch evt.Type {
	case paymentprovider.EventSubscriptionCreated:
		if current != nil && current.ExternalSubscriptionID == extID {
			return drop(user.OutcomeIgnored, "subscription already recorded")
		}
		if extID == "" {
			return drop(user.OutcomeIgnored, "subscription id missing")
		}
		next.Status = user.StatusIncomplete
		if s := user.SubscriptionStatus(d.Status); s.Valid() && s != user.StatusCanceled {
			next.Status = s
		}
		next.CancelAtPeriodEnd = d.CancelAtPeriodEnd != nil && *d.CancelAtPeriodEnd

	case paymentprovider.EventSubscriptionUpdated:
		if current == nil && extID == "" {
			return drop(user.OutcomeIgnored, "no subscription to update")
		}
		if s := user.SubscriptionStatus(d.Status); s.Valid() {
			next.Status = s
		} else if current == nil {
			return drop(user.OutcomeIgnored, "unknown subscription status")
		}
		if d.CancelAtPeriodEnd != nil {
			next.CancelAtPeriodEnd = *d.CancelAtPeriodEnd
		}

	case paymentprovider.EventInvoicePaymentSucceeded:
		if current == nil && extID == "" {
			return drop(user.OutcomeIgnored, "invoice without subscription")
		}
		next.Status = user.StatusActive

	case paymentprovider.EventInvoicePaymentFailed:
		if current == nil {
			return drop(user.OutcomeIgnored, "no subscription to mark past due")
		}
		next.Status = user.StatusPastDue

	case paymentprovider.EventSubscriptionDeleted:
		if current == nil {
			return drop(user.OutcomeIgnored, "no subscription to cancel")
		}
		next.Status = user.StatusCanceled
		next.CancelAtPeriodEnd = false

	default:
		return drop(user.OutcomeIgnored, "event type does not change subscriptions")
	}

	if next.CurrentPeriodStart.IsZero() || next.CurrentPeriodEnd.IsZero() {
		return drop(user.OutcomeIgnored, "subscription period unknown")
	}

	return Step{Next: &next, MinPeriodStart: next.CurrentPeriodStart}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package paymentprovider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types delivered to the webhook.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

var ErrMalformedEvent = errors.New("malformed payment event")

type Metadata struct {
	UserID      string `json:"userId,omitempty"`
	PlanID      string `json:"planId,omitempty"`
	ProgramSlug string `json:"programSlug,omitempty"`
}

// EventData carries the subscription snapshot the provider attaches. Period
// bounds are unix seconds.
type EventData struct {
	CustomerID        string   `json:"customerId"`
	SubscriptionID    string   `json:"subscriptionId,omitempty"`
	PlanID            string   `json:"planId,omitempty"`
	Status            string   `json:"status,omitempty"`
	PeriodStart       int64    `json:"periodStart,omitempty"`
	PeriodEnd         int64    `json:"periodEnd,omitempty"`
	CancelAtPeriodEnd *bool    `json:"cancelAtPeriodEnd,omitempty"`
	Metadata          Metadata `json:"metadata"`
}

type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    EventData `json:"data"`
}

func (d EventData) Start() time.Time { return time.Unix(d.PeriodStart, 0).UTC() }
func (d EventData) End() time.Time   { return time.Unix(d.PeriodEnd, 0).UTC() }

// HasPeriod reports whether the event carries a usable billing period.
func (d EventData) HasPeriod() bool {
	return d.PeriodStart > 0 && d.PeriodEnd >= d.PeriodStart
}

// ParseEvent decodes a verified webhook body.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}
	if evt.Data.PeriodEnd != 0 && evt.Data.PeriodEnd < evt.Data.PeriodStart {
		return nil, fmt.Errorf("%w: period end before start", ErrMalformedEvent)
	}
	return &evt, nil
}

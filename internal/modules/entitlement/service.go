package entitlement

import (
	"context"
	"errors"
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/metrics"
	"fitstudio/internal/paymentprovider"

	"go.uber.org/zap"
)

// Store is the part of the identity store the engine uses.
type Store interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
	FindByPaymentCustomerID(ctx context.Context, customerID string) (*user.User, error)
	SetPaymentCustomerID(ctx context.Context, id, customerID string) error
	PatchSubscription(ctx context.Context, id string, patch user.SubscriptionPatch) (bool, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	ApplyEvent(ctx context.Context, evt user.ProcessedEvent, userID string, change user.Change) (user.Outcome, error)
	RecordEvent(ctx context.Context, evt user.ProcessedEvent) (bool, error)
	CancelEndedSubscriptions(ctx context.Context, now time.Time) (int64, error)
	PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// Gateway is the payment provider API; *paymentprovider.Client satisfies it.
type Gateway interface {
	CreateCustomer(ctx context.Context, req paymentprovider.CreateCustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req paymentprovider.CheckoutRequest) (*paymentprovider.CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*paymentprovider.SubscriptionState, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionState, error)
}

// patchAttempts bounds re-reads when provider events race an owner action.
const patchAttempts = 3

// Catalog maps plan ids and program slugs to provider price ids.
type Catalog struct {
	Plans      map[string]string
	Programs   map[string]string
	SuccessURL string
	CancelURL  string
}

type Service struct {
	store   Store
	gateway Gateway
	catalog Catalog
	log     *zap.Logger
	now     func() time.Time
}

func NewService(store Store, gateway Gateway, catalog Catalog, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, gateway: gateway, catalog: catalog, log: log, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) HasAccess(u *user.User, t Target) bool {
	return HasAccess(u, t, s.now())
}

// CreateSubscriptionCheckout opens a hosted checkout for plan. The
// subscription itself appears once the provider reports it.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, u *user.User, plan, paymentMethodID string) (*CheckoutResponse, error) {
	price, ok := s.catalog.Plans[plan]
	if !ok {
		return nil, apperror.Validation("Unknown plan")
	}
	if s.HasAccess(u, Subscription()) {
		return nil, apperror.Validation("You already have an active subscription")
	}

	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}
	return s.checkout(ctx, paymentprovider.CheckoutRequest{
		CustomerID:      customerID,
		Mode:            paymentprovider.ModeSubscription,
		PriceID:         price,
		PaymentMethodID: paymentMethodID,
		Metadata:        paymentprovider.Metadata{UserID: u.ID, PlanID: plan},
	})
}

// CreateProgramCheckout opens a one-off checkout for a program.
func (s *Service) CreateProgramCheckout(ctx context.Context, u *user.User, slug string) (*CheckoutResponse, error) {
	price, ok := s.catalog.Programs[slug]
	if !ok {
		return nil, apperror.NotFound("Program not found")
	}
	if u.HasProgram(slug) {
		return nil, apperror.Validation("Program already purchased")
	}

	customerID, err := s.ensureCustomer(ctx, u)
	if err != nil {
		return nil, err
	}
	return s.checkout(ctx, paymentprovider.CheckoutRequest{
		CustomerID: customerID,
		Mode:       paymentprovider.ModePayment,
		PriceID:    price,
		Metadata:   paymentprovider.Metadata{UserID: u.ID, ProgramSlug: slug},
	})
}

func (s *Service) checkout(ctx context.Context, req paymentprovider.CheckoutRequest) (*CheckoutResponse, error) {
	req.SuccessURL = s.catalog.SuccessURL
	req.CancelURL = s.catalog.CancelURL
	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.log.Error("create checkout session", zap.String("user_id", req.Metadata.UserID), zap.Error(err))
		return nil, apperror.Upstream(err)
	}
	s.log.Info("checkout session created",
		zap.String("user_id", req.Metadata.UserID),
		zap.String("mode", string(req.Mode)),
		zap.String("session_id", session.ID))
	return &CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID}, nil
}

// ensureCustomer creates the provider customer on first checkout.
func (s *Service) ensureCustomer(ctx context.Context, u *user.User) (string, error) {
	if u.PaymentCustomerID != "" {
		return u.PaymentCustomerID, nil
	}
	id, err := s.gateway.CreateCustomer(ctx, paymentprovider.CreateCustomerRequest{
		Email:    u.Email,
		Metadata: paymentprovider.Metadata{UserID: u.ID},
	})
	if err != nil {
		s.log.Error("create payment customer", zap.String("user_id", u.ID), zap.Error(err))
		return "", apperror.Upstream(err)
	}
	if err := s.store.SetPaymentCustomerID(ctx, u.ID, id); err != nil {
		return "", storeError(err)
	}
	u.PaymentCustomerID = id
	return id, nil
}

// CurrentSubscription returns the caller's record, or nil.
func (s *Service) CurrentSubscription(u *user.User) *SubscriptionResponse {
	return &SubscriptionResponse{
		Subscription: u.ActiveSubscription,
		HasAccess:    s.HasAccess(u, Subscription()),
	}
}

// ProgramAccess reports whether u may open program slug.
func (s *Service) ProgramAccess(u *user.User, slug string) AccessResponse {
	return AccessResponse{Program: slug, HasAccess: s.HasAccess(u, Program(slug))}
}

func (s *Service) owned(u *user.User, extID string) (*user.Subscription, error) {
	sub := u.ActiveSubscription
	if sub == nil || sub.ExternalSubscriptionID == "" || sub.ExternalSubscriptionID != extID {
		return nil, apperror.New(apperror.KindForbidden, "Subscription does not belong to you")
	}
	if sub.Status == user.StatusCanceled {
		return nil, apperror.Validation("Subscription is already canceled")
	}
	cp := *sub
	return &cp, nil
}

// stored re-reads the caller so owner actions start from the committed record
// rather than the one loaded with the bearer.
func (s *Service) stored(ctx context.Context, u *user.User, extID string) (*user.Subscription, error) {
	fresh, err := s.store.FindByID(ctx, u.ID)
	if err != nil {
		return nil, storeError(err)
	}
	return s.owned(fresh, extID)
}

// patch writes the flags set by apply. A miss means a provider event moved
// the period in the meantime; apply is then re-run on the newer record.
func (s *Service) patch(ctx context.Context, u *user.User, sub *user.Subscription, apply func(*user.Subscription)) (*user.Subscription, error) {
	for attempt := 0; attempt < patchAttempts; attempt++ {
		apply(sub)
		ok, err := s.store.PatchSubscription(ctx, u.ID, user.SubscriptionPatch{
			ExternalID:        sub.ExternalSubscriptionID,
			PeriodStart:       sub.CurrentPeriodStart,
			Status:            sub.Status,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		})
		if err != nil {
			return nil, storeError(err)
		}
		if ok {
			return sub, nil
		}
		if sub, err = s.stored(ctx, u, sub.ExternalSubscriptionID); err != nil {
			return nil, err
		}
	}
	return nil, apperror.Internal(errors.New("subscription changed during update"))
}

// Cancel stops the caller's subscription, now or at the end of the period.
func (s *Service) Cancel(ctx context.Context, u *user.User, extID string, atPeriodEnd bool) (*user.Subscription, error) {
	sub, err := s.stored(ctx, u, extID)
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.CancelSubscription(ctx, extID, atPeriodEnd); err != nil {
		s.log.Error("cancel subscription at provider", zap.String("user_id", u.ID), zap.Error(err))
		return nil, apperror.Upstream(err)
	}

	sub, err = s.patch(ctx, u, sub, func(sub *user.Subscription) {
		if atPeriodEnd {
			sub.CancelAtPeriodEnd = true
			return
		}
		sub.Status = user.StatusCanceled
		sub.CancelAtPeriodEnd = false
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subscription canceled", zap.String("user_id", u.ID), zap.Bool("at_period_end", atPeriodEnd))
	return sub, nil
}

// Resume undoes a pending cancellation before the period ends. Only a
// granting subscription scheduled to cancel can be resumed.
func (s *Service) Resume(ctx context.Context, u *user.User, extID string) (*user.Subscription, error) {
	sub, err := s.stored(ctx, u, extID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd || !sub.Status.Grants() {
		return nil, apperror.Validation("Subscription is not scheduled for cancellation")
	}
	if !s.now().Before(sub.CurrentPeriodEnd) {
		return nil, apperror.Validation("Subscription period has ended")
	}

	if _, err := s.gateway.ResumeSubscription(ctx, extID); err != nil {
		s.log.Error("resume subscription at provider", zap.String("user_id", u.ID), zap.Error(err))
		return nil, apperror.Upstream(err)
	}

	sub, err = s.patch(ctx, u, sub, func(sub *user.Subscription) {
		sub.Status = user.StatusActive
		sub.CancelAtPeriodEnd = false
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("subscription resumed", zap.String("user_id", u.ID))
	return sub, nil
}

// ApplyEvent feeds one verified provider event through the state machine and
// commits the result together with the event id. Events that change nothing
// are still recorded so a replay short-circuits.
func (s *Service) ApplyEvent(ctx context.Context, evt *paymentprovider.Event) (user.Outcome, error) {
	outcome, err := s.applyEvent(ctx, evt)
	typ := evt.Type
	if !knownEvent(typ) {
		typ = "other"
	}
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(typ, "error").Inc()
	} else {
		metrics.PaymentEvents.WithLabelValues(typ, string(outcome)).Inc()
	}
	return outcome, err
}

func (s *Service) applyEvent(ctx context.Context, evt *paymentprovider.Event) (user.Outcome, error) {
	log := s.log.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	done, err := s.store.IsEventProcessed(ctx, evt.ID)
	if err != nil {
		return "", err
	}
	if done {
		log.Info("duplicate payment event")
		return user.OutcomeDuplicate, nil
	}

	record := user.ProcessedEvent{ID: evt.ID, Type: evt.Type, ProcessedAt: s.now().UTC()}

	if !knownEvent(evt.Type) {
		log.Warn("unsupported payment event type")
		return s.ignore(ctx, record)
	}

	u, err := s.eventUser(ctx, evt)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			log.Warn("payment event for unknown customer", zap.String("customer_id", evt.Data.CustomerID))
			return s.ignore(ctx, record)
		}
		return "", err
	}

	var change user.Change
	if evt.Data.CustomerID != "" && u.PaymentCustomerID == "" {
		change.PaymentCustomerID = evt.Data.CustomerID
	}

	if evt.Type == paymentprovider.EventCheckoutCompleted {
		if slug := evt.Data.Metadata.ProgramSlug; slug != "" {
			if _, ok := s.catalog.Programs[slug]; !ok {
				log.Warn("checkout for program missing from catalog", zap.String("program", slug))
				return s.ignore(ctx, record)
			}
			change.ProgramSlug = slug
		}
		if change.ProgramSlug == "" && change.PaymentCustomerID == "" {
			return s.ignore(ctx, record)
		}
	} else {
		step := Transition(u.ActiveSubscription, evt)
		if step.Outcome != "" {
			log.Info("payment event dropped", zap.String("user_id", u.ID), zap.String("reason", step.Reason))
			if _, err := s.store.RecordEvent(ctx, record); err != nil {
				return "", err
			}
			return step.Outcome, nil
		}
		change.Subscription = step.Next
		change.MinPeriodStart = step.MinPeriodStart
	}

	outcome, err := s.store.ApplyEvent(ctx, record, u.ID, change)
	if err != nil {
		return "", err
	}
	fields := []zap.Field{zap.String("user_id", u.ID), zap.String("outcome", string(outcome))}
	if change.Subscription != nil {
		fields = append(fields, zap.String("status", string(change.Subscription.Status)))
	}
	log.Info("payment event processed", fields...)
	return outcome, nil
}

func (s *Service) ignore(ctx context.Context, record user.ProcessedEvent) (user.Outcome, error) {
	if _, err := s.store.RecordEvent(ctx, record); err != nil {
		return "", err
	}
	return user.OutcomeIgnored, nil
}

// eventUser finds the user by provider customer id; checkout events may
// instead name the user in metadata, since the customer link can still be
// in flight.
func (s *Service) eventUser(ctx context.Context, evt *paymentprovider.Event) (*user.User, error) {
	if evt.Data.CustomerID != "" {
		u, err := s.store.FindByPaymentCustomerID(ctx, evt.Data.CustomerID)
		if err == nil || !errors.Is(err, user.ErrNotFound) {
			return u, err
		}
	}
	if evt.Type == paymentprovider.EventCheckoutCompleted && user.ValidID(evt.Data.Metadata.UserID) {
		u, err := s.store.FindByID(ctx, evt.Data.Metadata.UserID)
		if err != nil {
			return nil, err
		}
		if u.PaymentCustomerID != "" && evt.Data.CustomerID != "" && u.PaymentCustomerID != evt.Data.CustomerID {
			return nil, user.ErrNotFound
		}
		return u, nil
	}
	return nil, user.ErrNotFound
}

func knownEvent(t string) bool {
	switch t {
	case paymentprovider.EventCheckoutCompleted,
		paymentprovider.EventSubscriptionCreated,
		paymentprovider.EventSubscriptionUpdated,
		paymentprovider.EventSubscriptionDeleted,
		paymentprovider.EventInvoicePaymentSucceeded,
		paymentprovider.EventInvoicePaymentFailed:
		return true
	}
	return false
}

// ReconcileCancellations ends every subscription whose cancel-at-period-end
// date has passed.
func (s *Service) ReconcileCancellations(ctx context.Context) (int64, error) {
	n, err := s.store.CancelEndedSubscriptions(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("subscriptions canceled at period end", zap.Int64("count", n))
	}
	return n, nil
}

// PurgeProcessedEvents drops dedup records older than their TTL.
func (s *Service) PurgeProcessedEvents(ctx context.Context) (int64, error) {
	return s.store.PurgeProcessedEvents(ctx, s.now().Add(-user.ProcessedEventTTL))
}

// RunReconciler reconciles every interval until ctx is done.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReconcileCancellations(ctx); err != nil {
				s.log.Error("reconcile cancellations", zap.Error(err))
			}
			if _, err := s.PurgeProcessedEvents(ctx); err != nil {
				s.log.Error("purge processed events", zap.Error(err))
			}
		}
	}
}

func storeError(err error) error {
	if errors.Is(err, user.ErrStoreUnavailable) {
		return apperror.Upstream(err)
	}
	return apperror.Internal(err)
}

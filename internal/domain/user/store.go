package user

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ProcessedEvent is the dedup record for a payment-provider event.
type ProcessedEvent struct {
	ID          string
	Type        string
	ProcessedAt time.Time
}

// ProcessedEventTTL is how long dedup records are kept.
const ProcessedEventTTL = 30 * 24 * time.Hour

// Change is what a payment event does to a user. Set fields are applied in one
// unit together with recording the event.
type Change struct {
	// Subscription replaces the embedded record, but only if the stored
	// currentPeriodStart is absent or <= MinPeriodStart.
	Subscription   *Subscription
	MinPeriodStart time.Time

	ProgramSlug       string
	PaymentCustomerID string
}

// SubscriptionPatch flips the owner-controlled flags of a subscription. It
// matches only while the stored record is still ExternalID for the period
// starting at PeriodStart, so a renewal committed in between is never undone.
type SubscriptionPatch struct {
	ExternalID        string
	PeriodStart       time.Time
	Status            SubscriptionStatus
	CancelAtPeriodEnd bool
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
)

// Store is the identity store. Implementations: repository.UserRepository
// (postgres/sqlite through gorm) and mongostore.Store.
type Store interface {
	Create(ctx context.Context, u *User) error
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	FindByResetTokenHash(ctx context.Context, hash string) (*User, error)
	FindByPaymentCustomerID(ctx context.Context, customerID string) (*User, error)

	UpdateProfileFields(ctx context.Context, id string, patch ProfilePatch) (*User, error)

	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	SetLockout(ctx context.Context, id string, until time.Time) error

	SetEmailVerification(ctx context.Context, id, otpHash string, expiresAt time.Time) error
	SetEmailVerified(ctx context.Context, id string) error
	SetPasswordResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	// RehashPassword swaps oldHash for newHash without touching tokenVersion.
	// It is a no-op when the stored hash is no longer oldHash.
	RehashPassword(ctx context.Context, id, oldHash, newHash string) error
	BumpTokenVersion(ctx context.Context, id string) error
	SetRole(ctx context.Context, id string, role Role) error

	SetSubscription(ctx context.Context, id string, sub *Subscription) error
	PatchSubscription(ctx context.Context, id string, patch SubscriptionPatch) (bool, error)
	AddPurchasedProgram(ctx context.Context, id, slug string) error
	SetPaymentCustomerID(ctx context.Context, id, customerID string) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	ApplyEvent(ctx context.Context, evt ProcessedEvent, userID string, change Change) (Outcome, error)
	RecordEvent(ctx context.Context, evt ProcessedEvent) (bool, error)
	CancelEndedSubscriptions(ctx context.Context, now time.Time) (int64, error)
	PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)

	Close(ctx context.Context) error
}

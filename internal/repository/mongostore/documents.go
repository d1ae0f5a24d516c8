package mongostore

import (
	"time"

	"fitstudio/internal/domain/user"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type subscriptionDoc struct {
	PlanID                 string    `bson:"planId"`
	Status                 string    `bson:"status"`
	CurrentPeriodStart     time.Time `bson:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time `bson:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool      `bson:"cancelAtPeriodEnd"`
	ExternalSubscriptionID string    `bson:"externalSubscriptionId"`
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"passwordHash"`
	FirstName    string             `bson:"firstName"`
	LastName     string             `bson:"lastName"`
	Phone        string             `bson:"phone,omitempty"`
	Role         string             `bson:"role"`

	IsEmailVerified            bool       `bson:"isEmailVerified"`
	EmailVerificationOTPHash   *string    `bson:"emailVerificationOtp"`
	EmailVerificationExpiresAt *time.Time `bson:"emailVerificationExpiresAt"`
	PasswordResetTokenHash     *string    `bson:"passwordResetTokenHash,omitempty"`
	PasswordResetExpiresAt     *time.Time `bson:"passwordResetExpiresAt,omitempty"`

	FailedLoginAttempts int        `bson:"failedLoginAttempts"`
	LockoutUntil        *time.Time `bson:"lockoutUntil"`
	TokenVersion        int64      `bson:"tokenVersion"`

	PaymentCustomerID     *string          `bson:"paymentCustomerId,omitempty"`
	ActiveSubscription    *subscriptionDoc `bson:"activeSubscription"`
	PurchasedProgramSlugs []string         `bson:"purchasedProgramSlugs"`

	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type eventDoc struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	ProcessedAt time.Time `bson:"processedAt"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toSubscriptionDoc(s *user.Subscription) *subscriptionDoc {
	if s == nil {
		return nil
	}
	return &subscriptionDoc{
		PlanID:                 s.PlanID,
		Status:                 string(s.Status),
		CurrentPeriodStart:     s.CurrentPeriodStart.UTC(),
		CurrentPeriodEnd:       s.CurrentPeriodEnd.UTC(),
		CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
		ExternalSubscriptionID: s.ExternalSubscriptionID,
	}
}

func toDoc(u *user.User, id primitive.ObjectID) userDoc {
	slugs := u.PurchasedProgramSlugs
	if slugs == nil {
		slugs = []string{}
	}
	return userDoc{
		ID:                         id,
		Email:                      user.NormalizeEmail(u.Email),
		PasswordHash:               u.PasswordHash,
		FirstName:                  u.FirstName,
		LastName:                   u.LastName,
		Phone:                      u.Phone,
		Role:                       string(u.Role),
		IsEmailVerified:            u.IsEmailVerified,
		EmailVerificationOTPHash:   optString(u.EmailVerificationOTPHash),
		EmailVerificationExpiresAt: utc(u.EmailVerificationExpiresAt),
		PasswordResetTokenHash:     optString(u.PasswordResetTokenHash),
		PasswordResetExpiresAt:     utc(u.PasswordResetExpiresAt),
		FailedLoginAttempts:        u.FailedLoginAttempts,
		LockoutUntil:               utc(u.LockoutUntil),
		TokenVersion:               u.TokenVersion,
		PaymentCustomerID:          optString(u.PaymentCustomerID),
		ActiveSubscription:         toSubscriptionDoc(u.ActiveSubscription),
		PurchasedProgramSlugs:      slugs,
		CreatedAt:                  u.CreatedAt.UTC(),
		UpdatedAt:                  u.UpdatedAt.UTC(),
	}
}

func (d userDoc) toDomain() *user.User {
	u := &user.User{
		ID:                         d.ID.Hex(),
		Email:                      d.Email,
		PasswordHash:               d.PasswordHash,
		FirstName:                  d.FirstName,
		LastName:                   d.LastName,
		Phone:                      d.Phone,
		Role:                       user.Role(d.Role),
		IsEmailVerified:            d.IsEmailVerified,
		EmailVerificationOTPHash:   derefString(d.EmailVerificationOTPHash),
		EmailVerificationExpiresAt: utc(d.EmailVerificationExpiresAt),
		PasswordResetTokenHash:     derefString(d.PasswordResetTokenHash),
		PasswordResetExpiresAt:     utc(d.PasswordResetExpiresAt),
		FailedLoginAttempts:        d.FailedLoginAttempts,
		LockoutUntil:               utc(d.LockoutUntil),
		TokenVersion:               d.TokenVersion,
		PaymentCustomerID:          derefString(d.PaymentCustomerID),
		PurchasedProgramSlugs:      d.PurchasedProgramSlugs,
		CreatedAt:                  d.CreatedAt.UTC(),
		UpdatedAt:                  d.UpdatedAt.UTC(),
	}
	if u.PurchasedProgramSlugs == nil {
		u.PurchasedProgramSlugs = []string{}
	}
	if s := d.ActiveSubscription; s != nil {
		u.ActiveSubscription = &user.Subscription{
			PlanID:                 s.PlanID,
			Status:                 user.SubscriptionStatus(s.Status),
			CurrentPeriodStart:     s.CurrentPeriodStart.UTC(),
			CurrentPeriodEnd:       s.CurrentPeriodEnd.UTC(),
			CancelAtPeriodEnd:      s.CancelAtPeriodEnd,
			ExternalSubscriptionID: s.ExternalSubscriptionID,
		}
	}
	return u
}

package repository

import (
	"time"

	"fitstudio/internal/domain/user"

	"gorm.io/gorm"
)

type userModel struct {
	ID           string `gorm:"column:id;primaryKey;size:24"`
	Email        string `gorm:"column:email;size:320;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;not null"`
	FirstName    string `gorm:"column:first_name;size:100"`
	LastName     string `gorm:"column:last_name;size:100"`
	Phone        string `gorm:"column:phone;size:32"`
	Role         string `gorm:"column:role;size:16;not null"`

	IsEmailVerified            bool       `gorm:"column:is_email_verified;not null"`
	EmailVerificationOTPHash   *string    `gorm:"column:email_verification_otp_hash"`
	EmailVerificationExpiresAt *time.Time `gorm:"column:email_verification_expires_at"`
	PasswordResetTokenHash     *string    `gorm:"column:password_reset_token_hash;index"`
	PasswordResetExpiresAt     *time.Time `gorm:"column:password_reset_expires_at"`

	FailedLoginAttempts int        `gorm:"column:failed_login_attempts;not null"`
	LockoutUntil        *time.Time `gorm:"column:lockout_until"`
	TokenVersion        int64      `gorm:"column:token_version;not null"`

	PaymentCustomerID *string `gorm:"column:payment_customer_id;uniqueIndex"`

	SubPlanID            *string    `gorm:"column:sub_plan_id"`
	SubStatus            *string    `gorm:"column:sub_status"`
	SubPeriodStart       *time.Time `gorm:"column:sub_period_start"`
	SubPeriodEnd         *time.Time `gorm:"column:sub_period_end;index"`
	SubCancelAtPeriodEnd bool       `gorm:"column:sub_cancel_at_period_end;not null"`
	SubExternalID        *string    `gorm:"column:sub_external_id;index"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

type userProgramModel struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:24"`
	Slug        string    `gorm:"column:slug;primaryKey;size:128"`
	PurchasedAt time.Time `gorm:"column:purchased_at"`
}

func (userProgramModel) TableName() string { return "user_programs" }

type processedEventModel struct {
	ID          string    `gorm:"column:id;primaryKey;size:255"`
	Type        string    `gorm:"column:type;size:64"`
	ProcessedAt time.Time `gorm:"column:processed_at;index"`
}

func (processedEventModel) TableName() string { return "processed_events" }

// AutoMigrate creates or updates the identity tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&userModel{}, &userProgramModel{}, &processedEventModel{})
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toDomainUser(m userModel, programs []string) *user.User {
	u := &user.User{
		ID:                         m.ID,
		Email:                      m.Email,
		FirstName:                  m.FirstName,
		LastName:                   m.LastName,
		Phone:                      m.Phone,
		Role:                       user.Role(m.Role),
		PasswordHash:               m.PasswordHash,
		IsEmailVerified:            m.IsEmailVerified,
		EmailVerificationOTPHash:   strVal(m.EmailVerificationOTPHash),
		EmailVerificationExpiresAt: utcPtr(m.EmailVerificationExpiresAt),
		PasswordResetTokenHash:     strVal(m.PasswordResetTokenHash),
		PasswordResetExpiresAt:     utcPtr(m.PasswordResetExpiresAt),
		FailedLoginAttempts:        m.FailedLoginAttempts,
		LockoutUntil:               utcPtr(m.LockoutUntil),
		TokenVersion:               m.TokenVersion,
		PaymentCustomerID:          strVal(m.PaymentCustomerID),
		PurchasedProgramSlugs:      programs,
		CreatedAt:                  m.CreatedAt.UTC(),
		UpdatedAt:                  m.UpdatedAt.UTC(),
	}
	if m.SubStatus != nil {
		sub := &user.Subscription{
			PlanID:                 strVal(m.SubPlanID),
			Status:                 user.SubscriptionStatus(*m.SubStatus),
			CancelAtPeriodEnd:      m.SubCancelAtPeriodEnd,
			ExternalSubscriptionID: strVal(m.SubExternalID),
		}
		if m.SubPeriodStart != nil {
			sub.CurrentPeriodStart = m.SubPeriodStart.UTC()
		}
		if m.SubPeriodEnd != nil {
			sub.CurrentPeriodEnd = m.SubPeriodEnd.UTC()
		}
		u.ActiveSubscription = sub
	}
	return u
}

func toUserModel(u *user.User) userModel {
	m := userModel{
		ID:                         u.ID,
		Email:                      user.NormalizeEmail(u.Email),
		PasswordHash:               u.PasswordHash,
		FirstName:                  u.FirstName,
		LastName:                   u.LastName,
		Phone:                      u.Phone,
		Role:                       string(u.Role),
		IsEmailVerified:            u.IsEmailVerified,
		EmailVerificationOTPHash:   strPtr(u.EmailVerificationOTPHash),
		EmailVerificationExpiresAt: utcPtr(u.EmailVerificationExpiresAt),
		PasswordResetTokenHash:     strPtr(u.PasswordResetTokenHash),
		PasswordResetExpiresAt:     utcPtr(u.PasswordResetExpiresAt),
		FailedLoginAttempts:        u.FailedLoginAttempts,
		LockoutUntil:               utcPtr(u.LockoutUntil),
		TokenVersion:               u.TokenVersion,
		PaymentCustomerID:          strPtr(u.PaymentCustomerID),
		CreatedAt:                  u.CreatedAt.UTC(),
		UpdatedAt:                  u.UpdatedAt.UTC(),
	}
	if sub := u.ActiveSubscription; sub != nil {
		status := string(sub.Status)
		start, end := sub.CurrentPeriodStart.UTC(), sub.CurrentPeriodEnd.UTC()
		m.SubPlanID = strPtr(sub.PlanID)
		m.SubStatus = &status
		m.SubPeriodStart = &start
		m.SubPeriodEnd = &end
		m.SubCancelAtPeriodEnd = sub.CancelAtPeriodEnd
		m.SubExternalID = strPtr(sub.ExternalSubscriptionID)
	}
	return m
}

// subscriptionColumns flattens the embedded record; nil clears it.
func subscriptionColumns(sub *user.Subscription) map[string]interface{} {
	if sub == nil {
		return map[string]interface{}{
			"sub_plan_id":              (*string)(nil),
			"sub_status":               (*string)(nil),
			"sub_period_start":         (*time.Time)(nil),
			"sub_period_end":           (*time.Time)(nil),
			"sub_cancel_at_period_end": false,
			"sub_external_id":          (*string)(nil),
		}
	}
	start := sub.CurrentPeriodStart.UTC()
	end := sub.CurrentPeriodEnd.UTC()
	status := string(sub.Status)
	return map[string]interface{}{
		"sub_plan_id":              strPtr(sub.PlanID),
		"sub_status":               &status,
		"sub_period_start":         &start,
		"sub_period_end":           &end,
		"sub_cancel_at_period_end": sub.CancelAtPeriodEnd,
		"sub_external_id":          strPtr(sub.ExternalSubscriptionID),
	}
}

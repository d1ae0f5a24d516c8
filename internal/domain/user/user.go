package user

import (
	"regexp"
	"strings"
	"time"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleTrainer Role = "trainer"
	RoleAdmin   Role = "admin"
)

var roleRank = map[Role]int{
	RoleUser:    1,
	RoleTrainer: 2,
	RoleAdmin:   3,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Satisfies reports whether a caller holding r may use a route requiring
// required. admin satisfies everything, trainer satisfies trainer and user.
func (r Role) Satisfies(required Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	need, ok := roleRank[required]
	if !ok {
		return false
	}
	return have >= need
}

type SubscriptionStatus string

const (
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusTrialing   SubscriptionStatus = "trialing"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusIncomplete, StatusActive, StatusPastDue, StatusCanceled, StatusTrialing:
		return true
	}
	return false
}

// Grants is true for the statuses that unlock subscription features.
func (s SubscriptionStatus) Grants() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is the record embedded in the user.
type Subscription struct {
	PlanID                 string             `json:"planId"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time          `json:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool               `json:"cancelAtPeriodEnd"`
	ExternalSubscriptionID string             `json:"externalSubscriptionId"`
}

// User is the identity record. Secrets and counters never leave the server:
// handlers render Public() instead.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
	Role      Role   `json:"role"`

	PasswordHash string `json:"-"`

	IsEmailVerified            bool       `json:"isEmailVerified"`
	EmailVerificationOTPHash   string     `json:"-"`
	EmailVerificationExpiresAt *time.Time `json:"-"`

	PasswordResetTokenHash string     `json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`

	FailedLoginAttempts int        `json:"-"`
	LockoutUntil        *time.Time `json:"-"`
	TokenVersion        int64      `json:"-"`

	PaymentCustomerID     string        `json:"-"`
	ActiveSubscription    *Subscription `json:"activeSubscription,omitempty"`
	PurchasedProgramSlugs []string      `json:"purchasedProgramSlugs"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsLocked reports whether login is refused at now. A past lockout is the
// same as none.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockoutUntil != nil && now.Before(*u.LockoutUntil)
}

func (u *User) HasProgram(slug string) bool {
	for _, s := range u.PurchasedProgramSlugs {
		if s == slug {
			return true
		}
	}
	return false
}

// Public is the projection returned by /auth/me and friends.
type Public struct {
	ID                    string        `json:"id"`
	Email                 string        `json:"email"`
	FirstName             string        `json:"firstName"`
	LastName              string        `json:"lastName"`
	Phone                 string        `json:"phone,omitempty"`
	Role                  Role          `json:"role"`
	IsEmailVerified       bool          `json:"isEmailVerified"`
	ActiveSubscription    *Subscription `json:"activeSubscription,omitempty"`
	PurchasedProgramSlugs []string      `json:"purchasedProgramSlugs"`
	CreatedAt             time.Time     `json:"createdAt"`
}

func (u *User) Public() Public {
	slugs := u.PurchasedProgramSlugs
	if slugs == nil {
		slugs = []string{}
	}
	return Public{
		ID:                    u.ID,
		Email:                 u.Email,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		Phone:                 u.Phone,
		Role:                  u.Role,
		IsEmailVerified:       u.IsEmailVerified,
		ActiveSubscription:    u.ActiveSubscription,
		PurchasedProgramSlugs: slugs,
		CreatedAt:             u.CreatedAt,
	}
}

// ProfilePatch holds the self-service editable fields. Nil means unchanged.
type ProfilePatch struct {
	FirstName *string
	LastName  *string
	Phone     *string
}

func (p ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Phone == nil
}

// Profile field caps.
const (
	MaxNameLength  = 100
	MaxPhoneLength = 32
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// ValidID reports whether id has the store's identifier shape.
func ValidID(id string) bool { return idPattern.MatchString(id) }

// NormalizeEmail lowercases and trims.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

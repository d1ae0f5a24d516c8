package auth

import (
	"context"
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/ratelimit"
)

// UserStore is the part of the identity store the auth pipeline uses.
type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	FindByID(ctx context.Context, id string) (*user.User, error)
	FindByResetTokenHash(ctx context.Context, hash string) (*user.User, error)
	UpdateProfileFields(ctx context.Context, id string, patch user.ProfilePatch) (*user.User, error)

	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	ResetFailedAttempts(ctx context.Context, id string) error
	SetLockout(ctx context.Context, id string, until time.Time) error

	SetEmailVerification(ctx context.Context, id, otpHash string, expiresAt time.Time) error
	SetEmailVerified(ctx context.Context, id string) error
	SetPasswordResetToken(ctx context.Context, id, hash string, expiresAt time.Time) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	RehashPassword(ctx context.Context, id, oldHash, newHash string) error
	BumpTokenVersion(ctx context.Context, id string) error
}

// PasswordHasher is satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, hash string) bool
	DummyHash() string
	NeedsRehash(hash string) bool
}

// TokenIssuer is satisfied by *token.Service.
type TokenIssuer interface {
	Issue(userID, role string, tokenVersion int64) (string, time.Time, error)
}

// Limiter is satisfied by *ratelimit.Guard.
type Limiter interface {
	Allow(ctx context.Context, endpoint ratelimit.Endpoint, key string) (ratelimit.Decision, error)
}

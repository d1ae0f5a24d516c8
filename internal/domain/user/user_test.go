package user

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Satisfies(t *testing.T) {
	tests := []struct {
		have, need Role
		want       bool
	}{
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleTrainer, true},
		{RoleAdmin, RoleUser, true},
		{RoleTrainer, RoleTrainer, true},
		{RoleTrainer, RoleUser, true},
		{RoleTrainer, RoleAdmin, false},
		{RoleUser, RoleUser, true},
		{RoleUser, RoleTrainer, false},
		{Role("root"), RoleUser, false},
		{RoleAdmin, Role("root"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.have.Satisfies(tt.need), "%s satisfies %s", tt.have, tt.need)
	}
}

func TestUser_IsLocked(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&User{}).IsLocked(now))
	assert.False(t, (&User{LockoutUntil: &past}).IsLocked(now))
	assert.True(t, (&User{LockoutUntil: &future}).IsLocked(now))
}

func TestUser_PublicHidesSecrets(t *testing.T) {
	exp := time.Now()
	u := &User{
		ID:                       "65a1f0c2e4b0a1b2c3d4e5f6",
		Email:                    "a@b.com",
		PasswordHash:             "$2a$04$secret",
		EmailVerificationOTPHash: "otp-digest",
		PasswordResetTokenHash:   "reset-digest",
		PasswordResetExpiresAt:   &exp,
		FailedLoginAttempts:      3,
		TokenVersion:             7,
		PaymentCustomerID:        "cus_1",
		Role:                     RoleUser,
	}

	for _, v := range []any{u, u.Public()} {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		body := string(raw)
		for _, secret := range []string{"$2a$04$secret", "otp-digest", "reset-digest", "cus_1", "tokenVersion", "failedLoginAttempts"} {
			assert.NotContains(t, body, secret)
		}
	}
	assert.Equal(t, []string{}, u.Public().PurchasedProgramSlugs)
}

func TestValidIDAndEmail(t *testing.T) {
	assert.True(t, ValidID("65a1f0c2e4b0a1b2c3d4e5f6"))
	assert.False(t, ValidID("65A1F0C2E4B0A1B2C3D4E5F6"))
	assert.False(t, ValidID("1"))
	assert.False(t, ValidID(`{"$ne":null}`))
	assert.Equal(t, "a@b.com", NormalizeEmail("  A@B.Com "))
}

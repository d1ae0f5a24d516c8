package entitlement

import (
	"testing"
	"time"

	"fitstudio/internal/domain/user"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func subWith(status user.SubscriptionStatus, end time.Time) *user.Subscription {
	return &user.Subscription{
		PlanID:                 "monthly",
		Status:                 status,
		CurrentPeriodStart:     end.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:       end,
		ExternalSubscriptionID: "sub_1",
	}
}

func TestHasAccess_SubscriptionFeature(t *testing.T) {
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name string
		sub  *user.Subscription
		want bool
	}{
		{"no subscription", nil, false},
		{"active in period", subWith(user.StatusActive, future), true},
		{"trialing in period", subWith(user.StatusTrialing, future), true},
		{"active ends exactly now", subWith(user.StatusActive, now), true},
		{"active but period over", subWith(user.StatusActive, past), false},
		{"past due", subWith(user.StatusPastDue, future), false},
		{"incomplete", subWith(user.StatusIncomplete, future), false},
		{"canceled", subWith(user.StatusCanceled, future), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &user.User{Role: user.RoleUser, ActiveSubscription: tt.sub}
			assert.Equal(t, tt.want, HasAccess(u, Subscription(), now))
		})
	}
}

func TestHasAccess_ProgramIgnoresSubscription(t *testing.T) {
	owner := &user.User{PurchasedProgramSlugs: []string{"back-program"}}
	assert.True(t, HasAccess(owner, Program("back-program"), now))
	assert.False(t, HasAccess(owner, Program("mobility"), now))
	assert.False(t, HasAccess(owner, Subscription(), now))

	subscriber := &user.User{ActiveSubscription: subWith(user.StatusActive, now.Add(time.Hour))}
	assert.False(t, HasAccess(subscriber, Program("back-program"), now))
	assert.False(t, HasAccess(owner, Program(""), now))
}

func TestHasAccess_AdminFeature(t *testing.T) {
	assert.True(t, HasAccess(&user.User{Role: user.RoleAdmin}, Admin(), now))
	assert.False(t, HasAccess(&user.User{Role: user.RoleTrainer}, Admin(), now))
	assert.False(t, HasAccess(nil, Admin(), now))
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "subscription_feature", Subscription().String())
	assert.Equal(t, "program(yoga)", Program("yoga").String())
	assert.Equal(t, "admin_feature", Admin().String())
}

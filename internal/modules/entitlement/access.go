// Package entitlement decides what a user may use and keeps the
// subscription and program-purchase state in step with the payment provider.
package entitlement

import (
	"time"

	"fitstudio/internal/domain/user"
)

type TargetKind int

const (
	SubscriptionFeature TargetKind = iota
	ProgramContent
	AdminFeature
)

// Target is what access is being asked for. Slug is set for ProgramContent only.
type Target struct {
	Kind TargetKind
	Slug string
}

func Subscription() Target       { return Target{Kind: SubscriptionFeature} }
func Program(slug string) Target { return Target{Kind: ProgramContent, Slug: slug} }
func Admin() Target              { return Target{Kind: AdminFeature} }

func (t Target) String() string {
	switch t.Kind {
	case SubscriptionFeature:
		return "subscription_feature"
	case ProgramContent:
		return "program(" + t.Slug + ")"
	case AdminFeature:
		return "admin_feature"
	}
	return "unknown"
}

// HasAccess is the single access decision. One-off program purchases ignore
// the subscription entirely.
func HasAccess(u *user.User, t Target, now time.Time) bool {
	if u == nil {
		return false
	}
	switch t.Kind {
	case SubscriptionFeature:
		return subscriptionGrants(u.ActiveSubscription, now)
	case ProgramContent:
		return t.Slug != "" && u.HasProgram(t.Slug)
	case AdminFeature:
		return u.Role == user.RoleAdmin
	}
	return false
}

func subscriptionGrants(s *user.Subscription, now time.Time) bool {
	return s != nil && s.Status.Grants() && !s.CurrentPeriodEnd.Before(now)
}

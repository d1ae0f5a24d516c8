package entitlement

import "fitstudio/internal/domain/user"

type CreateSubscriptionRequest struct {
	Plan            string `json:"plan" binding:"required,max=64" example:"monthly"`
	PaymentMethodID string `json:"paymentMethodId" binding:"omitempty,max=128" example:"pm_123"`
}

type CancelRequest struct {
	AtPeriodEnd *bool `json:"atPeriodEnd" example:"true"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl" example:"https://pay.example.com/c/cs_123"`
	SessionID   string `json:"sessionId" example:"cs_123"`
}

type SubscriptionResponse struct {
	Subscription *user.Subscription `json:"subscription"`
	HasAccess    bool               `json:"hasAccess"`
}

type AccessResponse struct {
	Program   string `json:"program" example:"strength-101"`
	HasAccess bool   `json:"hasAccess"`
}

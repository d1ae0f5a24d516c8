package payment

import "fitstudio/internal/domain/user"

// WebhookResponse acknowledges a delivery. Any 2xx stops provider retries.
type WebhookResponse struct {
	EventID string       `json:"eventId" example:"evt_1N2b3c"`
	Outcome user.Outcome `json:"outcome" example:"applied"`
}

package admin

import (
	"time"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/logging"
)

// UserView is the admin projection: the public profile plus account state
// support staff need. Secrets are never included.
type UserView struct {
	user.Public
	FailedLoginAttempts int        `json:"failedLoginAttempts"`
	LockoutUntil        *time.Time `json:"lockoutUntil,omitempty"`
	HasPaymentCustomer  bool       `json:"hasPaymentCustomer"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

func newUserView(u *user.User) UserView {
	return UserView{
		Public:              u.Public(),
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockoutUntil:        u.LockoutUntil,
		HasPaymentCustomer:  u.PaymentCustomerID != "",
		UpdatedAt:           u.UpdatedAt,
	}
}

type LogsQuery struct {
	Level    string `form:"level" binding:"omitempty,oneof=debug info warn error"`
	Contains string `form:"contains" binding:"omitempty,max=200"`
	Since    string `form:"since"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

type LogsResponse struct {
	Entries []logging.Entry `json:"entries"`
	Count   int             `json:"count"`
}

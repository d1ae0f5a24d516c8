package admin

import (
	"context"

	"fitstudio/internal/domain/user"
	"fitstudio/internal/logging"
)

type UserStore interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
	SetRole(ctx context.Context, id string, role user.Role) error
	BumpTokenVersion(ctx context.Context, id string) error
}

// LogSource is the in-process log buffer.
type LogSource interface {
	Query(f logging.Filter) []logging.Entry
}

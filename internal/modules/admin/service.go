package admin

import (
	"context"
	"errors"
	"time"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogLimit = 200

type Service struct {
	users UserStore
	logs  LogSource
	log   *zap.Logger
}

func NewService(users UserStore, logs LogSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: users, logs: logs, log: log}
}

// -------------------- Users --------------------

func (s *Service) GetUser(ctx context.Context, id string) (*UserView, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	v := newUserView(u)
	return &v, nil
}

// SetRole changes a user's role. The token version moves with it, so bearers
// carrying the old role stop working.
func (s *Service) SetRole(ctx context.Context, actor *user.User, id string, role user.Role) (*UserView, error) {
	if !role.Valid() {
		return nil, apperror.Validation("Unknown role")
	}
	if actor != nil && actor.ID == id {
		return nil, apperror.Validation("Admins cannot change their own role")
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == role {
		v := newUserView(u)
		return &v, nil
	}

	if err := s.users.SetRole(ctx, id, role); err != nil {
		return nil, storeError(err)
	}
	s.log.Info("user role changed",
		zap.String("user_id", id),
		zap.String("from", string(u.Role)),
		zap.String("to", string(role)),
		zap.String("by", actorID(actor)))

	return s.GetUser(ctx, id)
}

// RevokeSessions invalidates every bearer issued to the user.
func (s *Service) RevokeSessions(ctx context.Context, actor *user.User, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.users.BumpTokenVersion(ctx, id); err != nil {
		return storeError(err)
	}
	s.log.Info("user sessions revoked", zap.String("user_id", id), zap.String("by", actorID(actor)))
	return nil
}

func (s *Service) load(ctx context.Context, id string) (*user.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, apperror.NotFound("User not found")
		}
		return nil, storeError(err)
	}
	return u, nil
}

// -------------------- Logs --------------------

func (s *Service) Logs(q LogsQuery) (*LogsResponse, error) {
	f := logging.Filter{Contains: q.Contains, Limit: q.Limit}
	if f.Limit == 0 {
		f.Limit = defaultLogLimit
	}
	if q.Level != "" {
		if err := f.MinLevel.UnmarshalText([]byte(q.Level)); err != nil {
			return nil, apperror.Validation("Unknown log level")
		}
	} else {
		f.MinLevel = zapcore.InfoLevel
	}
	if q.Since != "" {
		since, err := time.Parse(time.RFC3339, q.Since)
		if err != nil {
			return nil, apperror.Validation("since must be an RFC 3339 timestamp")
		}
		f.Since = since
	}

	entries := s.logs.Query(f)
	if entries == nil {
		entries = []logging.Entry{}
	}
	return &LogsResponse{Entries: entries, Count: len(entries)}, nil
}

func actorID(u *user.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func storeError(err error) error {
	if errors.Is(err, user.ErrStoreUnavailable) {
		return apperror.Upstream(err)
	}
	return apperror.Internal(err)
}

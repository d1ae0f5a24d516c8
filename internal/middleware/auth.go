package middleware

import (
	"context"
	"errors"
	"strings"

	"fitstudio/internal/apperror"
	"fitstudio/internal/domain/user"
	"fitstudio/internal/pkg/response"
	"fitstudio/internal/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	ctxUserKey   = "user"
	ctxUserIDKey = "user_id"
	ctxRoleKey   = "role"
)

// UserLoader is the part of the identity store the middleware needs.
type UserLoader interface {
	FindByID(ctx context.Context, id string) (*user.User, error)
}

// Authenticator resolves the bearer on a request into the stored user.
type Authenticator struct {
	tokens *token.Service
	users  UserLoader
	log    *zap.Logger
}

func NewAuthenticator(tokens *token.Service, users UserLoader, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{tokens: tokens, users: users, log: log}
}

// BearerFromHeader extracts the token from "Bearer <token>". The scheme is
// case-insensitive.
func BearerFromHeader(h string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(h), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

// Resolve verifies raw and loads its user, checking the token version.
func (a *Authenticator) Resolve(ctx context.Context, raw string) (*user.User, error) {
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, unauthenticated(err)
	}

	u, err := a.users.FindByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, user.ErrNotFound):
		return nil, apperror.New(apperror.KindUnauthenticated, "Invalid or expired session")
	case errors.Is(err, user.ErrStoreUnavailable):
		return nil, apperror.Upstream(err)
	case err != nil:
		return nil, apperror.Internal(err)
	}

	if err := token.CheckVersion(claims, u.TokenVersion); err != nil {
		return nil, unauthenticated(err)
	}
	return u, nil
}

func unauthenticated(cause error) error {
	msg := "Invalid or expired session"
	if errors.Is(cause, token.ErrExpired) || errors.Is(cause, token.ErrStaleVersion) {
		msg = "Session expired, please log in again"
	}
	return apperror.Wrap(apperror.KindUnauthenticated, msg, cause)
}

// RequireAuth rejects requests without a valid, current bearer and attaches
// the caller to the context.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := BearerFromHeader(c.GetHeader("Authorization"))
		if !ok {
			response.Abort(c, apperror.KindUnauthenticated, "Authorization header must be 'Bearer <token>'")
			return
		}

		u, err := a.Resolve(c.Request.Context(), raw)
		if err != nil {
			a.log.Debug("bearer rejected", zap.Error(err), zap.String("path", c.FullPath()))
			response.FromError(c, err)
			return
		}

		SetCurrentUser(c, u)
		c.Next()
	}
}

// SetCurrentUser stores the resolved caller on the request.
func SetCurrentUser(c *gin.Context, u *user.User) {
	c.Set(ctxUserKey, u)
	c.Set(ctxUserIDKey, u.ID)
	c.Set(ctxRoleKey, string(u.Role))
}

// CurrentUser returns the caller attached by RequireAuth.
func CurrentUser(c *gin.Context) (*user.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*user.User)
	return u, ok && u != nil
}

// Package token issues and verifies session bearers (HS256 JWT) and the
// single-use secrets mailed to users (email OTPs and password-reset tokens).
package token

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrStaleVersion     = errors.New("token version is stale")
	ErrMalformed        = errors.New("token malformed")
)

// Claims is everything a bearer carries. Nothing else about the user goes in.
type Claims struct {
	UserID       string `json:"uid"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"tv"`
	jwtlib.RegisteredClaims
}

type Service struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

func NewService(secret string, ttl, leeway time.Duration) *Service {
	return &Service{
		secret: []byte(secret),
		ttl:    ttl,
		leeway: leeway,
		now:    time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Issue signs a bearer for the given identity and version.
func (s *Service) Issue(userID, role string, tokenVersion int64) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		UserID:       userID,
		Role:         role,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature and expiry. The version is checked by the caller
// against the stored user with CheckVersion.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithLeeway(s.leeway),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwtlib.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwtlib.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}
	if !parsed.Valid || claims.UserID == "" || claims.Role == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// CheckVersion fails with ErrStaleVersion when the bearer predates the
// user's current token version.
func CheckVersion(c *Claims, current int64) error {
	if c.TokenVersion != current {
		return ErrStaleVersion
	}
	return nil
}

// Package ratelimit implements per-endpoint token buckets keyed by identity
// or source address.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fitstudio/internal/config"
	"fitstudio/internal/metrics"

	"go.uber.org/zap"
)

type Endpoint string

const (
	Login              Endpoint = "login"
	VerifyEmail        Endpoint = "verify-email"
	ResendVerification Endpoint = "resend-verification"
	ForgotPassword     Endpoint = "forgot-password"
	ResetPassword      Endpoint = "reset-password"
	Signup             Endpoint = "signup"
	PaymentWebhook     Endpoint = "payment-webhook"
)

// Policy is a token bucket: Capacity tokens, one added every Refill.
type Policy struct {
	Capacity int
	Refill   time.Duration
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// ErrUnknownEndpoint is returned for endpoints without a configured policy.
var ErrUnknownEndpoint = errors.New("no rate limit policy for endpoint")

type Limiter interface {
	Allow(ctx context.Context, endpoint Endpoint, key string) (Decision, error)
}

// Backend is a Limiter that owns resources.
type Backend interface {
	Limiter
	Close() error
}

// Policies converts the configured bucket table.
func Policies(cfg config.RateLimit) map[Endpoint]Policy {
	out := make(map[Endpoint]Policy)
	for name, b := range cfg.Buckets() {
		out[Endpoint(name)] = Policy{Capacity: b.Capacity, Refill: b.Refill}
	}
	return out
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg config.RateLimit) (Backend, error) {
	policies := Policies(cfg)
	switch cfg.Backend {
	case "redis":
		return NewRedis(ctx, RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB}, policies)
	case "memory", "":
		return NewMemory(policies), nil
	}
	return nil, fmt.Errorf("unknown rate limit backend %q", cfg.Backend)
}

// Guard is what handlers and middleware consult. It lets requests through
// when the backend fails and counts rejections.
type Guard struct {
	backend Limiter
	log     *zap.Logger
}

func NewGuard(backend Limiter, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{backend: backend, log: log}
}

func (g *Guard) Allow(ctx context.Context, endpoint Endpoint, key string) (Decision, error) {
	if g == nil || g.backend == nil {
		return Decision{Allowed: true}, nil
	}
	d, err := g.backend.Allow(ctx, endpoint, key)
	if err != nil {
		g.log.Warn("rate limiter unavailable, allowing request",
			zap.String("endpoint", string(endpoint)), zap.Error(err))
		return Decision{Allowed: true}, nil
	}
	if !d.Allowed {
		metrics.RateLimitRejections.WithLabelValues(string(endpoint)).Inc()
	}
	return d, nil
}

// Key joins key parts into one bucket key.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}

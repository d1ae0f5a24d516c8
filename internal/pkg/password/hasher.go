// Package password hashes and verifies user passwords with bcrypt and
// enforces the signup/reset password policy.
package password

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Hasher runs bcrypt with a bounded number of concurrent operations so a burst
// of logins cannot occupy every CPU.
type Hasher struct {
	cost  int
	sem   *semaphore.Weighted
	dummy string
}

// NewHasher builds a hasher. workers <= 0 means GOMAXPROCS.
func NewHasher(cost, workers int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", cost)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	h := &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(workers))}

	dummy, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	h.dummy = string(dummy)
	return h, nil
}

func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether plain matches hash. A malformed hash or a cancelled
// context is a mismatch.
func (h *Hasher) Verify(ctx context.Context, plain, hash string) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// DummyHash is compared against when the account does not exist, so both
// login paths pay for one bcrypt verification.
func (h *Hasher) DummyHash() string { return h.dummy }

// NeedsRehash reports whether hash was produced with a lower cost than the
// current one.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

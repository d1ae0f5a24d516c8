package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
	// idle after which the bucket is full again
	idle time.Duration
}

// Memory keeps one x/time/rate limiter per (endpoint, key) in process.
// Buckets idle long enough to have refilled are evicted.
type Memory struct {
	policies map[Endpoint]Policy
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry

	stop chan struct{}
	once sync.Once
}

func NewMemory(policies map[Endpoint]Policy) *Memory {
	m := &Memory{
		policies: policies,
		now:      time.Now,
		entries:  make(map[string]*memoryEntry),
		stop:     make(chan struct{}),
	}
	go m.janitor(time.Minute)
	return m
}

func (m *Memory) Allow(_ context.Context, endpoint Endpoint, key string) (Decision, error) {
	p, ok := m.policies[endpoint]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, endpoint)
	}
	now := m.now()
	id := string(endpoint) + "|" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		e = &memoryEntry{
			lim:  rate.NewLimiter(rate.Every(p.Refill), p.Capacity),
			idle: time.Duration(p.Capacity) * p.Refill,
		}
		m.entries[id] = e
	}
	e.lastSeen = now

	r := e.lim.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: p.Refill}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

func (m *Memory) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.evictIdle()
		}
	}
}

func (m *Memory) evictIdle() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if now.Sub(e.lastSeen) >= e.idle {
			delete(m.entries, id)
		}
	}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

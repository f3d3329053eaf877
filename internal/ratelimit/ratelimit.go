// Package ratelimit throttles the ingestion endpoint with a fixed-window
// counter. The counter itself is a swappable capability (increment + expire
// semantics, Redis-shaped); an in-process counter is provided and the no-op
// counter makes an unconfigured limiter admit everything.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Counter is the storage capability behind the limiter.
type Counter interface {
	// Increment adds one to key and returns the new count.
	Increment(ctx context.Context, key string) (int64, error)
	// Expire schedules key for deletion after the given TTL. Called once,
	// right after a key's first increment.
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Limiter admits up to Limit requests per rolling Window, keyed by caller-
// chosen names (one per endpoint). Exhausted budgets reject immediately,
// they never queue.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	now     func() time.Time
}

const defaultWindow = time.Minute

// New creates a Limiter over the given counter. A nil counter admits
// everything; a non-positive window falls back to one minute.
func New(counter Counter, limit int, window time.Duration) *Limiter {
	if counter == nil {
		counter = NoopCounter{}
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Limiter{counter: counter, limit: int64(limit), window: window, now: time.Now}
}

// Allow reports whether the request fits the current window's budget.
// Counter failures admit the request: a broken limiter backend must not
// take down ingestion.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	bucket := l.now().Unix() / int64(l.window.Seconds())
	counterKey := fmt.Sprintf("rl:%s:%d", key, bucket)

	count, err := l.counter.Increment(ctx, counterKey)
	if err != nil {
		return true
	}
	if count == 1 {
		_ = l.counter.Expire(ctx, counterKey, l.window)
	}
	return count <= l.limit
}

// NoopCounter always allows; it is the legal substitute when no counter
// backend is configured.
type NoopCounter struct{}

func (NoopCounter) Increment(ctx context.Context, key string) (int64, error) { return 0, nil }

func (NoopCounter) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

// MemoryCounter is an in-process Counter for single-instance deployments
// and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryCounter) Increment(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *MemoryCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = m.now().Add(ttl)
	return nil
}

// sweep drops expired keys; called with the lock held.
func (m *MemoryCounter) sweep() {
	now := m.now()
	for key, deadline := range m.expires {
		if now.After(deadline) {
			delete(m.expires, key)
			delete(m.counts, key)
		}
	}
}

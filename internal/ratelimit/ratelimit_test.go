package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	counter := NewMemoryCounter()
	counter.now = func() time.Time { return now }

	l := New(counter, 3, time.Minute)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(ctx, "ingest"), "request %d should be admitted", i+1)
	}
	assert.False(t, l.Allow(ctx, "ingest"), "budget exhausted")

	// A different key has its own budget.
	assert.True(t, l.Allow(ctx, "other"))

	// The next window starts fresh.
	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow(ctx, "ingest"))
}

func TestLimiterNilCounterAdmitsEverything(t *testing.T) {
	l := New(nil, 1, time.Minute)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.True(t, l.Allow(ctx, "ingest"))
	}
}

// A zero or negative window from a hand-edited config must not divide by
// zero; the limiter falls back to its default window.
func TestLimiterGuardsNonPositiveWindow(t *testing.T) {
	l := New(NewMemoryCounter(), 2, 0)
	assert.Equal(t, defaultWindow, l.window)
	assert.True(t, l.Allow(context.Background(), "ingest"))

	l = New(NewMemoryCounter(), 2, -time.Second)
	assert.Equal(t, defaultWindow, l.window)
	assert.True(t, l.Allow(context.Background(), "ingest"))
}

type failingCounter struct{}

func (failingCounter) Increment(ctx context.Context, key string) (int64, error) {
	return 0, eris.New("backend down")
}

func (failingCounter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return eris.New("backend down")
}

// A broken counter backend must not block ingestion.
func TestLimiterFailsOpen(t *testing.T) {
	l := New(failingCounter{}, 1, time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(context.Background(), "ingest"))
	}
}

func TestMemoryCounterSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryCounter()
	m.now = func() time.Time { return now }

	ctx := context.Background()
	n, err := m.Increment(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, m.Expire(ctx, "k", time.Minute))

	n, err = m.Increment(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	now = now.Add(2 * time.Minute)
	n, err = m.Increment(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "expired key restarts at 1")
}

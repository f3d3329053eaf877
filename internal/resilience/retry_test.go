package resilience

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fastRetry keeps the places defaults but shrinks the backoffs so tests
// finish in milliseconds.
func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

// Throttled upstream: two 429s, then the result. The whole places client
// call path hangs off this shape.
func TestDoValRecoversFromThrottling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"id":"ChIJC7cDVTQoQg0RBPZ6dYOdNkM"}`) //nolint:errcheck
	}))
	defer srv.Close()

	body, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close() //nolint:errcheck
		data, _ := io.ReadAll(resp.Body)
		if IsTransientHTTPStatus(resp.StatusCode) {
			return "", NewTransientError(eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
		}
		return string(data), nil
	})

	require.NoError(t, err)
	assert.Contains(t, body, "ChIJ")
	assert.Equal(t, int32(3), hits.Load())
}

func TestDoValDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			return "", err
		}
		resp.Body.Close() //nolint:errcheck
		if IsTransientHTTPStatus(resp.StatusCode) {
			return "", NewTransientError(eris.Errorf("status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return "", eris.Errorf("status %d", resp.StatusCode)
		}
		return "", nil
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "a 404 means the place is gone, not busy")
}

func TestDoValExhaustsAttempts(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		calls++
		return "partial", NewTransientError(eris.New("upstream down"), 503)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "default budget is three attempts")
	assert.Empty(t, val, "failures never leak a partial value")
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := fastRetry()
	cfg.MaxAttempts = 5

	err := Do(ctx, cfg, func(ctx context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(eris.New("still down"), 503)
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2, "cancellation ends the attempt loop")
}

func TestDoCustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastRetry()
	cfg.ShouldRetry = func(err error) bool {
		return err.Error() == "search returned nothing yet"
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return eris.New("search returned nothing yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoReportsRetryAttempts(t *testing.T) {
	var attempts []int
	cfg := fastRetry()
	cfg.OnRetry = func(attempt int, _ error) {
		attempts = append(attempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return NewTransientError(eris.New("down"), 502)
	})

	assert.Equal(t, []int{1, 2}, attempts, "callback fires before each sleep, never after the last attempt")
}

func TestApplyDefaultsFillsZeroConfig(t *testing.T) {
	cfg := applyDefaults(RetryConfig{})

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestComputeBackoff(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	})

	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, 500*time.Millisecond, computeBackoff(3, cfg), "growth stops at the cap")
	assert.Equal(t, 500*time.Millisecond, computeBackoff(8, cfg))
}

func TestComputeBackoffJitterStaysInRange(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	})

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, cfg)
		seen[d] = true
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
	assert.Greater(t, len(seen), 1, "jitter must actually vary the delay")
}

func TestRetryLogger(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	RetryLogger("places", "search_text")(2, eris.New("status 503"))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "places", fields["provider"])
	assert.Equal(t, "search_text", fields["operation"])
	assert.Equal(t, int64(2), fields["attempt"])
}

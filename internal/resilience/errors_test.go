package resilience

import (
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", eris.New("field mask rejected"), false},
		{
			"tagged transient",
			NewTransientError(eris.New("places quota exceeded"), 429),
			true,
		},
		{
			"tagged transient deep in an eris chain",
			eris.Wrap(NewTransientError(eris.New("upstream 503"), 503), "search text"),
			true,
		},
		{
			"dns timeout",
			&net.DNSError{Err: "lookup places.googleapis.com", IsTimeout: true},
			true,
		},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused wrapped", eris.Wrap(syscall.ECONNREFUSED, "details fetch"), true},
		{"reset by message only", eris.New("read tcp: connection reset by peer"), true},
		{"idle connection dropped", eris.New("http: server closed idle connection"), true},
		{"tls handshake timeout", eris.New("net/http: TLS handshake timeout"), true},
		{"missing host", eris.New("dial tcp: lookup places.googleapis.com: no such host"), true},
		{"auth failure stays permanent", eris.New("API key not valid"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientErrorChain(t *testing.T) {
	inner := eris.New("quota exceeded")
	err := NewTransientError(inner, 429)

	require.EqualError(t, err, "quota exceeded")
	assert.ErrorIs(t, err, inner, "the wrapped cause stays reachable")
	assert.Equal(t, 429, err.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	// The retryable set: timeouts, throttling and server-side failures.
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	// Client-side errors mean the request itself is wrong; retrying them
	// just burns quota.
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

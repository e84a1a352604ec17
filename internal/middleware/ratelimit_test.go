package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(okHandler())

	require.Equal(t, http.StatusOK, hit(h, "198.51.100.10:1234").Code)
	require.Equal(t, http.StatusOK, hit(h, "198.51.100.10:1234").Code)

	rec := hit(h, "198.51.100.10:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitIsPerClientIP(t *testing.T) {
	h := RateLimit(1, time.Minute)(okHandler())

	require.Equal(t, http.StatusOK, hit(h, "198.51.100.10:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "198.51.100.10:9999").Code)
	assert.Equal(t, http.StatusOK, hit(h, "203.0.113.7:1234").Code)
}

func TestRateLimitWindowResets(t *testing.T) {
	h := RateLimit(1, 30*time.Millisecond)(okHandler())

	require.Equal(t, http.StatusOK, hit(h, "198.51.100.10:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "198.51.100.10:1234").Code)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, http.StatusOK, hit(h, "198.51.100.10:1234").Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded single hop", "203.0.113.1", "198.51.100.10:1234", "203.0.113.1"},
		{"forwarded first valid hop wins", " 203.0.113.1 , 198.51.100.2 ", "198.51.100.10:1234", "203.0.113.1"},
		{"invalid forwarded falls back to remote", "not-an-ip", "198.51.100.10:1234", "198.51.100.10"},
		{"no forwarded header", "", "198.51.100.10:1234", "198.51.100.10"},
		{"ipv6 forwarded", "2001:db8::1", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::1"},
		{"ipv6 remote fallback", "not-an-ip", net.JoinHostPort("2001:db8::2", "443"), "2001:db8::2"},
		{"remote without port", "not-an-ip", "203.0.113.1", "203.0.113.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}

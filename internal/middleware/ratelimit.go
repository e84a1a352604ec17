package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimit caps requests per client IP to limit per window. Rejections carry
// a JSON error body matching the handlers' error shape and a Retry-After
// hint.
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	type counter struct {
		hits    int
		resetAt time.Time
	}
	var (
		mu       sync.Mutex
		counters = make(map[string]*counter)
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			now := time.Now()

			mu.Lock()
			c, ok := counters[ip]
			if !ok || now.After(c.resetAt) {
				c = &counter{resetAt: now.Add(window)}
				counters[ip] = c
			}
			c.hits++
			exceeded := c.hits > limit
			retryAfter := c.resetAt.Sub(now)
			mu.Unlock()

			if exceeded {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP picks the first valid X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := strings.TrimSpace(hop); ip != "" && net.ParseIP(ip) != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}

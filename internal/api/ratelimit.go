package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter table. When full, the table is
// reset instead of growing without bound; fresh clients start with a
// full bucket either way.
const maxTrackedClients = 8192

// RateLimiter enforces a per-client-IP token bucket across all routes.
// Exhausted clients get 429 with the structured error body.
func RateLimiter(rps float64, burst int) echo.MiddlewareFunc {
	if burst < 1 {
		burst = 1
	}
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			ip := clientIP(c.Request())

			mu.Lock()
			lim, ok := limiters[ip]
			if !ok {
				if len(limiters) >= maxTrackedClients {
					limiters = make(map[string]*rate.Limiter)
				}
				lim = rate.NewLimiter(rate.Limit(rps), burst)
				limiters[ip] = lim
			}
			mu.Unlock()

			if !lim.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests", "", "")
			}
			return next(c)
		}
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

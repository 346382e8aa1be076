package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/allokapri/workspace-core/internal/infrastructure/config"
)

// Bucket housekeeping for the login limiter.
const (
	limiterBucketTTL     = 5 * time.Minute
	limiterSweepInterval = time.Minute
)

// loginLimiter is a per-client-IP token bucket for the login endpoint.
type loginLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newLoginLimiter returns nil when rate limiting is disabled.
func newLoginLimiter(cfg config.RateLimitConfig) *loginLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &loginLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60), //nolint:mnd // per minute to per second
		burst:   burst,
		now:     time.Now,
	}
}

// allow reports whether the client at ip may attempt a login now.
func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterBucketTTL and returns
// how many were removed.
func (l *loginLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > limiterBucketTTL {
			delete(l.buckets, ip)
			removed++
		}
	}
	return removed
}

// run sweeps idle buckets every interval until ctx is cancelled.
func (l *loginLimiter) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// rateLimitLogin rejects login attempts over the per-IP budget with 429.
func (s *Server) rateLimitLogin(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.metrics.rateLimited.Inc()
			s.logger.Warn("login rate limited",
				"client_ip", ip,
				"request_id", requestIDFrom(r.Context()),
			)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many login attempts, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of the connection's remote address.
// X-Forwarded-For is client-controlled and ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

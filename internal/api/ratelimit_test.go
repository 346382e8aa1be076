package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/allokapri/workspace-core/internal/infrastructure/config"
)

func TestNewLoginLimiter(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.RateLimitConfig
		wantNil   bool
		wantBurst int
	}{
		{"disabled", config.RateLimitConfig{Enabled: false, RequestsPerMinute: 20, Burst: 5}, true, 0},
		{"zero rate", config.RateLimitConfig{Enabled: true, RequestsPerMinute: 0, Burst: 5}, true, 0},
		{"configured", config.RateLimitConfig{Enabled: true, RequestsPerMinute: 20, Burst: 5}, false, 5},
		{"burst floor", config.RateLimitConfig{Enabled: true, RequestsPerMinute: 20, Burst: 0}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLoginLimiter(tt.cfg)
			if (l == nil) != tt.wantNil {
				t.Fatalf("newLoginLimiter() nil = %v, want %v", l == nil, tt.wantNil)
			}
			if l != nil && l.burst != tt.wantBurst {
				t.Errorf("burst = %d, want %d", l.burst, tt.wantBurst)
			}
		})
	}
}

func TestLoginLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := newLoginLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 2})
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1") || !l.allow("10.0.0.1") {
		t.Fatal("burst of 2 not allowed")
	}
	if l.allow("10.0.0.1") {
		t.Error("third attempt within the same instant allowed")
	}
	if !l.allow("10.0.0.2") {
		t.Error("a different client was limited")
	}

	// One token per second refills.
	now = now.Add(time.Second)
	if !l.allow("10.0.0.1") {
		t.Error("attempt after refill denied")
	}
	if l.allow("10.0.0.1") {
		t.Error("second attempt after a single refill allowed")
	}
}

func TestLoginLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := newLoginLimiter(config.RateLimitConfig{Enabled: true, RequestsPerMinute: 60, Burst: 1})
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(limiterBucketTTL / 2)
	l.allow("10.0.0.2")

	now = now.Add(limiterBucketTTL/2 + time.Second)
	if removed := l.sweep(); removed != 1 {
		t.Errorf("sweep() = %d, want 1", removed)
	}
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket survived the sweep")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Error("recent bucket was swept")
	}
}

func TestRateLimitLogin(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})

	attempt := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(loginBody(testOwnerEmail, "wrong-password")))
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", "198.51.100.7")
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		if w := attempt("192.0.2.10:5000"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want %d", i+1, w.Code, http.StatusUnauthorized)
		}
	}

	w := attempt("192.0.2.10:5001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("attempt 3 status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want %q", got, "60")
	}
	if got := decodeError(t, w).Code; got != ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", got, ErrCodeRateLimited)
	}
	if got := testutil.ToFloat64(env.srv.metrics.rateLimited); got != 1 {
		t.Errorf("rate_limited_total = %v, want 1", got)
	}

	// The spoofed X-Forwarded-For was ignored, so another address still has budget.
	if w := attempt("192.0.2.11:5000"); w.Code != http.StatusUnauthorized {
		t.Errorf("other client status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Only the login route is limited.
	if w := env.do(t, http.MethodGet, "/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", "203.0.113.9")
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

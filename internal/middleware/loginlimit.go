package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/audit"
	apperrors "github.com/devicelocator/locator-relay/internal/errors"
	"github.com/devicelocator/locator-relay/internal/httputil"
	"github.com/devicelocator/locator-relay/internal/metrics"
)

const (
	loginWindowDuration = time.Minute
	loginCleanupPeriod  = 5 * time.Minute
)

// LoginLimiter decides whether another login attempt from ip is allowed in
// the current window.
type LoginLimiter interface {
	Allow(ctx context.Context, ip string) bool
}

type loginAttempt struct {
	count       int
	windowStart time.Time
}

type LoginRateLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	attempts    map[string]*loginAttempt
	lastCleanup time.Time
	now         func() time.Time
}

func NewLoginRateLimiter(maxAttempts int) *LoginRateLimiter {
	return &LoginRateLimiter{
		maxAttempts: maxAttempts,
		attempts:    make(map[string]*loginAttempt),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (l *LoginRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > loginWindowDuration {
			delete(l.attempts, ip)
		}
	}
}

func (l *LoginRateLimiter) Allow(ctx context.Context, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanup(now)

	attempt, exists := l.attempts[ip]
	if !exists || now.Sub(attempt.windowStart) > loginWindowDuration {
		l.attempts[ip] = &loginAttempt{count: 1, windowStart: now}
		return true
	}

	if attempt.count >= l.maxAttempts {
		return false
	}

	attempt.count++
	return true
}

// LoginRateLimitMiddleware limits credential submissions per client IP.
// Only POST requests count against the limit.
type LoginRateLimitMiddleware struct {
	limiter LoginLimiter
}

func NewLoginRateLimitMiddleware(limiter LoginLimiter) *LoginRateLimitMiddleware {
	return &LoginRateLimitMiddleware{limiter: limiter}
}

func (m *LoginRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		ip := audit.ClientIP(r)
		if !m.limiter.Allow(r.Context(), ip) {
			log.Warn().Str("ip", ip).Msg("login rate limit exceeded")
			metrics.LoginAttempts.WithLabelValues(metrics.LoginRateLimited).Inc()
			audit.LogFromRequest(r, audit.Event{Type: audit.EventRateLimitExceed})
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

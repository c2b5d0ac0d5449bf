package middleware

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parsecraft/devgate/pkg/config"
)

// LoginRateLimiter throttles password attempts per remote address using a
// sliding window with a lockout once the window is exhausted.
type LoginRateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*loginLimiter

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// loginLimiter tracks rate limiting state for a single remote address
type loginLimiter struct {
	limiter    *rate.Limiter
	lastSeen   time.Time
	lockedOut  bool
	lockoutEnd time.Time
}

// NewLoginRateLimiter creates a rate limiter for the login router
func NewLoginRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *LoginRateLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 14
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 60
	}
	if cfg.LockoutSeconds <= 0 {
		cfg.LockoutSeconds = 600
	}
	return &LoginRateLimiter{
		config:          cfg,
		logger:          logger.Named("login-ratelimit"),
		limiters:        make(map[string]*loginLimiter),
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

// Allow checks if a login attempt is allowed for the given remote address
func (r *LoginRateLimiter) Allow(addr string) bool {
	if !r.config.Enabled {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.lastCleanup) > r.cleanupInterval {
		r.cleanup()
	}

	l, exists := r.limiters[addr]
	if !exists {
		rateLimit := rate.Limit(float64(r.config.MaxAttempts) / float64(r.config.WindowSeconds))
		burst := int(math.Ceil(float64(r.config.MaxAttempts) / 2.0))
		if burst < 1 {
			burst = 1
		}
		l = &loginLimiter{
			limiter: rate.NewLimiter(rateLimit, burst),
		}
		r.limiters[addr] = l
	}
	l.lastSeen = time.Now()

	if l.lockedOut {
		if time.Now().Before(l.lockoutEnd) {
			return false
		}
		l.lockedOut = false
	}

	if !l.limiter.Allow() {
		l.lockedOut = true
		l.lockoutEnd = time.Now().Add(time.Duration(r.config.LockoutSeconds) * time.Second)
		r.logger.Warn("login attempts locked out", zap.String("addr", addr))
		return false
	}

	return true
}

// cleanup removes limiters that haven't been used recently.
// Caller must hold r.mu.
func (r *LoginRateLimiter) cleanup() {
	cutoff := time.Now().Add(-30 * time.Minute)
	for key, l := range r.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = time.Now()
}

package failsafe

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the token-bucket rate limiter.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		BurstSize:         50,
	}
}

// RateLimiter is a lazily-initialized, non-blocking token bucket. A
// disabled limiter is a pass-through.
type RateLimiter struct {
	cfg     RateLimitConfig
	once    sync.Once
	limiter *rate.Limiter
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{cfg: cfg}
}

func (r *RateLimiter) ensure() *rate.Limiter {
	r.once.Do(func() {
		r.limiter = rate.NewLimiter(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.BurstSize)
	})
	return r.limiter
}

// TryAcquire is non-blocking: it returns true if a token was immediately
// available, false otherwise.
func (r *RateLimiter) TryAcquire() bool {
	if !r.cfg.Enabled {
		return true
	}
	return r.ensure().Allow()
}

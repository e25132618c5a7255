package failsafe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_DisabledIsPassThrough(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: false})
	for i := 0; i < 1000; i++ {
		assert.True(t, rl.TryAcquire())
	}
}

func TestRateLimiter_BurstThenDenies(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSecond: 1, BurstSize: 2})

	assert.True(t, rl.TryAcquire())
	assert.True(t, rl.TryAcquire())
	// Burst exhausted; refill is slow (1/s), so the immediate next call is denied.
	assert.False(t, rl.TryAcquire())
}

func TestRateLimiter_LazyInitialization(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{Enabled: true, RequestsPerSecond: 10, BurstSize: 5})
	assert.Nil(t, rl.limiter)
	rl.TryAcquire()
	assert.NotNil(t, rl.limiter)
}

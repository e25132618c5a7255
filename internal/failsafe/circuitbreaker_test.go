package failsafe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
	})

	// Two failures: stays closed (boundary: threshold - 1).
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanProceed())

	// Third failure opens it.
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanProceed())
}

func TestCircuitBreaker_RecoversAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.CanProceed())

	time.Sleep(60 * time.Millisecond)

	// First probe after the timeout transitions to half-open and succeeds.
	assert.True(t, cb.CanProceed())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		SuccessThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.CanProceed())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_DisabledIsPassThrough(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{Enabled: false})
	for i := 0; i < 100; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.CanProceed())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_SuccessInClosedResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     time.Second,
	})
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	// Only 2 consecutive-from-reset failures recorded: still closed.
	assert.Equal(t, StateClosed, cb.State())
}

package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/saiset-co/sai-player-cache/logger"
	"github.com/saiset-co/sai-player-cache/types"
)

func newTestBreaker(recovery time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(&types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeout:  types.Duration(recovery),
		HalfOpenRequests: 2,
	}, logger.NewNopLogger())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateBreakerClosed, cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, StateBreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, StateBreakerClosed, cb.State())
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.CanExecute())

	time.Sleep(30 * time.Millisecond)

	assert.True(t, cb.CanExecute(), "the recovery timeout admits a probe")
	assert.Equal(t, StateBreakerHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateBreakerHalfOpen, cb.State(), "one probe is not enough")

	cb.RecordSuccess()
	assert.Equal(t, StateBreakerClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := newTestBreaker(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)
	assert.True(t, cb.CanExecute())

	cb.RecordFailure()
	assert.Equal(t, StateBreakerOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_DisabledPassesEverything(t *testing.T) {
	cb := NewCircuitBreaker(&types.CircuitBreakerConfig{Enabled: false}, logger.NewNopLogger())

	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}

	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateBreakerClosed, cb.State())
}

func TestCircuitBreaker_NilConfig(t *testing.T) {
	cb := NewCircuitBreaker(nil, logger.NewNopLogger())
	assert.True(t, cb.CanExecute())
}

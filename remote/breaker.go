package remote

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-player-cache/types"
)

type BreakerState int32

const (
	StateBreakerClosed BreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
)

// CircuitBreaker keeps a flapping remote from being hammered by every
// cache miss. Closed passes everything; enough consecutive failures open
// it; after the recovery timeout a bounded number of half-open probes
// decide whether to close again.
type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	state     atomic.Value
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger) *CircuitBreaker {
	if config == nil {
		config = &types.CircuitBreakerConfig{Enabled: false}
	}

	cb := &CircuitBreaker{
		config: config,
		logger: logger,
	}

	cb.state.Store(StateBreakerClosed)
	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if !cb.config.Enabled {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state.Load().(BreakerState) {
	case StateBreakerClosed:
		return true
	case StateBreakerOpen:
		if time.Since(time.Unix(0, cb.lastFail.Load())) > cb.config.RecoveryTimeout.Std() {
			cb.state.Store(StateBreakerHalfOpen)
			cb.successes.Store(0)
			cb.logger.Info("Circuit breaker half-open, probing remote")
			return true
		}
		return false
	case StateBreakerHalfOpen:
		return true
	}

	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures.Store(0)

	if cb.state.Load().(BreakerState) == StateBreakerHalfOpen {
		if cb.successes.Add(1) >= int32(cb.config.HalfOpenRequests) {
			cb.state.Store(StateBreakerClosed)
			cb.logger.Info("Circuit breaker closed")
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.config.Enabled {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(time.Now().UnixNano())

	state := cb.state.Load().(BreakerState)
	if state == StateBreakerHalfOpen {
		cb.state.Store(StateBreakerOpen)
		cb.logger.Warn("Circuit breaker reopened after failed probe")
		return
	}

	if cb.failures.Add(1) >= int32(cb.config.FailureThreshold) && state == StateBreakerClosed {
		cb.state.Store(StateBreakerOpen)
		cb.logger.Warn("Circuit breaker opened",
			zap.Int32("failures", cb.failures.Load()),
			zap.Duration("recovery_timeout", cb.config.RecoveryTimeout.Std()))
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	return cb.state.Load().(BreakerState)
}

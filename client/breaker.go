package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/giro-sync/types"
)

type CircuitBreakerState int32

const (
	StateBreakerClosed CircuitBreakerState = iota
	StateBreakerOpen
	StateBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateBreakerClosed:
		return "closed"
	case StateBreakerOpen:
		return "open"
	case StateBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling the backend after FailureThreshold consecutive
// transport-level failures and probes it again after RecoveryTimeout.
type CircuitBreaker struct {
	config    types.CircuitBreakerConfig
	logger    types.Logger
	now       func() time.Time
	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	lastFail  time.Time
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		logger: logger,
		now:    time.Now,
		state:  StateBreakerClosed,
	}

	if config != nil {
		cb.config = *config
	}
	if cb.config.FailureThreshold <= 0 {
		cb.config.FailureThreshold = 5
	}
	if cb.config.HalfOpenRequests <= 0 {
		cb.config.HalfOpenRequests = 1
	}
	if cb.config.RecoveryTimeout <= 0 {
		cb.config.RecoveryTimeout = 30 * time.Second
	}

	return cb
}

func (cb *CircuitBreaker) CanExecute() bool {
	if cb == nil || !cb.config.Enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateBreakerOpen {
		if cb.now().Sub(cb.lastFail) < cb.config.RecoveryTimeout {
			return false
		}
		cb.transition(StateBreakerHalfOpen)
	}

	return true
}

func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateBreakerClosed:
		cb.failures = 0
	case StateBreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.HalfOpenRequests {
			cb.transition(StateBreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil || !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFail = cb.now()

	switch cb.state {
	case StateBreakerClosed:
		cb.failures++
		cb.logger.Debug("Failure recorded in closed state",
			zap.Int("failures", cb.failures),
			zap.Int("threshold", cb.config.FailureThreshold))

		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateBreakerOpen)
		}
	case StateBreakerHalfOpen:
		cb.transition(StateBreakerOpen)
	}
}

func (cb *CircuitBreaker) State() CircuitBreakerState {
	if cb == nil {
		return StateBreakerClosed
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateBreakerClosed)
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to
	cb.successes = 0
	if to == StateBreakerClosed {
		cb.failures = 0
		cb.lastFail = time.Time{}
	}

	lvl := cb.logger.Info
	if to == StateBreakerOpen {
		lvl = cb.logger.Warn
	}
	lvl("Circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// isBreakerFailure reports failures that say something about backend health;
// ordinary 4xx answers do not count.
func isBreakerFailure(err *types.RequestError) bool {
	return err != nil && err.Kind != types.KindClient
}

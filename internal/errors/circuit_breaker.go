package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"oats/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits probe requests to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // cooldown before probing recovery
	OnStateChange    func(from, to CircuitState, name string)
}

// DefaultCircuitBreakerConfig returns the oracle call policy.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker protects a downstream dependency from cascading failures.
// Strikes count consecutive failures while closed; probes count consecutive
// successes while half-open.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger logging.Logger

	mu       sync.Mutex
	state    CircuitState
	strikes  int
	probes   int
	openedAt time.Time
}

// NewCircuitBreaker creates a circuit breaker named for its protected target.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: logging.NewComponentLogger("breaker"),
		state:  StateClosed,
	}
}

// Allow reports whether a request may proceed. An open breaker whose
// cooldown has elapsed moves to half-open and admits the request as a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}

	remaining := cb.cfg.Timeout - time.Since(cb.openedAt)
	if remaining > 0 {
		return NewDegradedError(
			fmt.Errorf("%s: circuit open", cb.name),
			fmt.Sprintf("Calls to %s are paused after repeated failures; the next probe runs in about %v.",
				cb.name, remaining.Round(time.Second)),
			"",
		)
	}

	cb.logger.Info("cooldown for %s elapsed, admitting a probe", cb.name)
	cb.shift(StateHalfOpen)
	cb.probes = 0
	return nil
}

// Mark records a request outcome. Pass nil to mark success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil && cb.state == StateHalfOpen:
		cb.probes++
		if cb.probes >= cb.cfg.SuccessThreshold {
			cb.shift(StateClosed)
			cb.strikes = 0
			cb.logger.Info("%s recovered, circuit closed", cb.name)
		}
	case err == nil:
		cb.strikes = 0
	case cb.state == StateHalfOpen:
		cb.shift(StateOpen)
		cb.openedAt = time.Now()
		cb.logger.Warn("probe against %s failed, circuit reopened", cb.name)
	case cb.state == StateClosed:
		cb.strikes++
		if cb.strikes >= cb.cfg.FailureThreshold {
			cb.shift(StateOpen)
			cb.openedAt = time.Now()
			cb.logger.Warn("%s failed %d times in a row, circuit opened", cb.name, cb.strikes)
		}
	}
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Mark(err)
	return err
}

// ExecuteFunc runs a result-returning function under circuit breaker
// protection. Package function instead of a method to allow generics.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.Allow(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.Mark(err)
	return result, err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.strikes = 0
	cb.probes = 0
}

// shift must be called with the mutex held.
func (cb *CircuitBreaker) shift(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(from, to, cb.name)
	}
}

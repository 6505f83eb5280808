package sambung

import (
	"context"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/sambung/internal/rolling"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker protects one endpoint with a three-state machine. Outcomes
// are sampled with timestamps; once at least MinimumRequests samples fall in
// the trailing TimeWindow and the failure ratio reaches FailureThreshold, the
// breaker opens. After a TimeWindow cool-down it half-opens and admits up to
// HalfOpenMaxProbes probe calls: a probe success closes the breaker, a probe
// failure reopens it. Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	config   BreakerConfig
	state    BreakerState
	window   *rolling.Window
	openedAt time.Time
	probes   int
	lastErr  error
}

// NewCircuitBreaker creates a circuit breaker, applying defaults for zero
// config fields.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 || config.FailureThreshold > 1 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.TimeWindow <= 0 {
		config.TimeWindow = defaults.TimeWindow
	}
	if config.MinimumRequests <= 0 {
		config.MinimumRequests = defaults.MinimumRequests
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = defaults.HalfOpenMaxProbes
	}

	return &CircuitBreaker{
		config: config,
		state:  BreakerClosed,
		window: rolling.NewWindow(),
	}
}

// Execute runs op under the breaker. While open it never invokes op: it
// returns fallback() when one is supplied, otherwise the last recorded error.
// Fallback results are returned as-is; a failing fallback is not protected.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (*CallResponse, error), fallback func() (*CallResponse, error)) (*CallResponse, error) {
	if !cb.allow() {
		if fallback != nil {
			return fallback()
		}
		return nil, cb.rejectionError()
	}

	resp, err := op(ctx)
	cb.record(err)
	return resp, err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(time.Now())
	return cb.state
}

// Reset returns the breaker to CLOSED and discards all samples.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.window.Reset()
	cb.probes = 0
	cb.lastErr = nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.refresh(time.Now())

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return false
		}
		cb.probes++
		return true
	default:
		return false
	}
}

// refresh moves an expired OPEN state to HALF_OPEN. Caller holds the lock.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == BreakerOpen && now.Sub(cb.openedAt) >= cb.config.TimeWindow {
		cb.state = BreakerHalfOpen
		cb.probes = 0
	}
}

func (cb *CircuitBreaker) record(err error) {
	now := time.Now()
	failure := err != nil

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failure {
		cb.lastErr = err
	}
	cb.window.Add(now, failure)
	cb.window.Prune(now.Add(-cb.config.TimeWindow))

	switch cb.state {
	case BreakerHalfOpen:
		if failure {
			cb.trip(now)
			return
		}
		cb.state = BreakerClosed
		cb.window.Reset()
		cb.probes = 0
	case BreakerClosed:
		total, failures := cb.window.Counts()
		if total >= cb.config.MinimumRequests &&
			float64(failures)/float64(total) >= cb.config.FailureThreshold {
			cb.trip(now)
		}
	}
}

// trip opens the breaker. Caller holds the lock.
func (cb *CircuitBreaker) trip(now time.Time) {
	cb.state = BreakerOpen
	cb.openedAt = now
	cb.probes = 0
}

func (cb *CircuitBreaker) rejectionError() error {
	cb.mu.Lock()
	lastErr := cb.lastErr
	cb.mu.Unlock()

	if lastErr != nil {
		return lastErr
	}
	return &CallError{
		Type:      ErrorTypeCircuitOpen,
		Message:   "circuit breaker is open",
		Cause:     ErrCircuitOpen,
		Timestamp: time.Now(),
	}
}

package resilience

import (
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// State is a circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker
	FailureThreshold int `json:"failureThreshold"`

	// ResetTimeout is how long the breaker stays open before a trial
	ResetTimeout time.Duration `json:"resetTimeout"`

	// BackoffFactor multiplies the reset timeout each time a trial fails;
	// values below 1 are treated as 1
	BackoffFactor float64 `json:"backoffFactor"`

	// MaxResetTimeout caps the backed-off reset timeout
	MaxResetTimeout time.Duration `json:"maxResetTimeout"`
}

// DefaultBreakerConfig returns the default breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     5 * time.Second,
		BackoffFactor:    2,
		MaxResetTimeout:  time.Minute,
	}
}

// Validate reports impossible breaker values
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("breaker: failureThreshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("breaker: resetTimeout must be positive")
	}
	if c.MaxResetTimeout > 0 && c.MaxResetTimeout < c.ResetTimeout {
		return fmt.Errorf("breaker: maxResetTimeout %s is below resetTimeout %s", c.MaxResetTimeout, c.ResetTimeout)
	}
	return nil
}

// BreakerSnapshot is a point-in-time view of a breaker
type BreakerSnapshot struct {
	State        State         `json:"state"`
	Failures     int           `json:"failures"`
	OpenedAt     time.Time     `json:"openedAt,omitempty"`
	ResetTimeout time.Duration `json:"resetTimeout"`
}

// CircuitBreaker guards one connection. Transitions are
// Closed→Open (threshold reached), Open→HalfOpen (reset timeout elapsed,
// observed lazily), HalfOpen→Closed (trial succeeded) and HalfOpen→Open
// (trial failed). While HalfOpen only one trial call is admitted.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	resetTimeout time.Duration
	trial        bool

	onChange func(name string, from, to State)
}

// BreakerOption configures a CircuitBreaker
type BreakerOption func(*CircuitBreaker)

// WithBreakerClock overrides the time source (tests)
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// OnStateChange registers a callback invoked after every transition.
// It runs outside the breaker lock.
func OnStateChange(fn func(name string, from, to State)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(name string, config BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}

	cb := &CircuitBreaker{
		name:         name,
		config:       config,
		now:          time.Now,
		state:        StateClosed,
		resetTimeout: config.ResetTimeout,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the breaker name (the connection id)
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// observe applies the lazy Open→HalfOpen transition. Caller holds mu.
func (cb *CircuitBreaker) observe() (State, bool) {
	if cb.state == StateOpen && !cb.now().Before(cb.openedAt.Add(cb.resetTimeout)) {
		cb.state = StateHalfOpen
		cb.trial = false
		return StateOpen, true
	}
	return cb.state, false
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.onChange != nil && from != to {
		cb.onChange(cb.name, from, to)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, changed := cb.observe()
	state := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, state)
	}
	return state
}

// Admits reports whether Allow would currently succeed, without taking the
// half-open trial.
func (cb *CircuitBreaker) Admits() bool {
	cb.mu.Lock()
	from, changed := cb.observe()
	state, trial := cb.state, cb.trial
	cb.mu.Unlock()

	if changed {
		cb.notify(from, state)
	}
	return state == StateClosed || (state == StateHalfOpen && !trial)
}

// Allow admits a call or returns a CircuitOpen error. In HalfOpen the first
// caller takes the trial; everyone else is rejected until it resolves.
func (cb *CircuitBreaker) Allow() error {
	_, err := cb.Admit()
	return err
}

// Admit is Allow that also reports whether the caller took the half-open
// trial. Only the trial holder may Abandon it.
func (cb *CircuitBreaker) Admit() (trial bool, err error) {
	cb.mu.Lock()
	from, changed := cb.observe()
	state := cb.state

	switch state {
	case StateClosed:
	case StateHalfOpen:
		if cb.trial {
			err = mcperrors.CircuitOpen(cb.name, 0)
		} else {
			cb.trial = true
			trial = true
		}
	default:
		err = mcperrors.CircuitOpen(cb.name, cb.openedAt.Add(cb.resetTimeout).Sub(cb.now()))
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, state)
	}
	return trial, err
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.trial = false
		cb.resetTimeout = cb.config.ResetTimeout
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++

	switch cb.state {
	case StateHalfOpen:
		cb.trial = false
		cb.resetTimeout = time.Duration(float64(cb.resetTimeout) * cb.config.BackoffFactor)
		if cb.config.MaxResetTimeout > 0 && cb.resetTimeout > cb.config.MaxResetTimeout {
			cb.resetTimeout = cb.config.MaxResetTimeout
		}
		cb.open()
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Abandon releases a half-open trial whose call ended without a verdict,
// such as a cancelled call or one rejected by middleware. Callers must hold
// the trial (see Admit).
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.trial = false
	}
}

// open moves to Open. Caller holds mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.trial = false
}

// ForceOpen opens the breaker regardless of its failure count
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	from := cb.state
	cb.open()
	cb.mu.Unlock()

	cb.notify(from, StateOpen)
}

// Reset closes the breaker and clears its history
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.trial = false
	cb.resetTimeout = cb.config.ResetTimeout
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// Snapshot returns the current breaker state
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	from, changed := cb.observe()
	snap := BreakerSnapshot{
		State:        cb.state,
		Failures:     cb.failures,
		OpenedAt:     cb.openedAt,
		ResetTimeout: cb.resetTimeout,
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, snap.State)
	}
	return snap
}

package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// CascadeConfig configures cascade detection
type CascadeConfig struct {
	Enabled bool `json:"enabled"`

	// Threshold failures within Window trip the detector
	Threshold int           `json:"threshold"`
	Window    time.Duration `json:"window"`

	// Cooldown is how long the detector stays tripped
	Cooldown time.Duration `json:"cooldown"`

	// ResetBreakers closes every watched breaker when the cool-down ends.
	// By default breakers keep their own state and recover through their
	// own half-open trials.
	ResetBreakers bool `json:"resetBreakers"`
}

// DefaultCascadeConfig returns the default cascade settings
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		Enabled:   true,
		Threshold: 10,
		Window:    time.Second,
		Cooldown:  10 * time.Second,
	}
}

// Validate reports impossible cascade values
func (c CascadeConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Threshold < 1 {
		return fmt.Errorf("cascade: threshold must be at least 1, got %d", c.Threshold)
	}
	if c.Window <= 0 || c.Cooldown <= 0 {
		return fmt.Errorf("cascade: window and cooldown must be positive")
	}
	return nil
}

// CascadeSnapshot is a point-in-time view of the detector
type CascadeSnapshot struct {
	Tripped        bool      `json:"tripped"`
	TrippedAt      time.Time `json:"trippedAt,omitempty"`
	WindowFailures int       `json:"windowFailures"`
	Trips          int       `json:"trips"`
}

// CascadeDetector counts failures across all connections of a pool in a
// sliding window. When the count reaches the threshold it force-opens every
// watched breaker and aborts every tracked call, and keeps rejecting new
// calls until its cool-down elapses.
type CascadeDetector struct {
	config CascadeConfig
	now    func() time.Time
	logger logging.Logger

	mu        sync.Mutex
	failures  []time.Time
	tripped   bool
	trippedAt time.Time
	trips     int
	breakers  map[string]*CircuitBreaker
	inflight  map[uint64]context.CancelCauseFunc
	nextToken uint64

	onTrip func(failures int)
}

// CascadeOption configures a CascadeDetector
type CascadeOption func(*CascadeDetector)

// WithCascadeClock overrides the time source (tests)
func WithCascadeClock(now func() time.Time) CascadeOption {
	return func(d *CascadeDetector) { d.now = now }
}

// WithCascadeLogger sets the logger
func WithCascadeLogger(logger logging.Logger) CascadeOption {
	return func(d *CascadeDetector) {
		d.logger = logging.OrNop(logger).WithFields(logging.Component("resilience"))
	}
}

// OnTrip registers a callback invoked after the detector trips
func OnTrip(fn func(failures int)) CascadeOption {
	return func(d *CascadeDetector) { d.onTrip = fn }
}

// NewCascadeDetector creates a detector. A disabled detector never trips.
func NewCascadeDetector(config CascadeConfig, opts ...CascadeOption) *CascadeDetector {
	d := &CascadeDetector{
		config:   config,
		now:      time.Now,
		logger:   logging.Nop(),
		breakers: make(map[string]*CircuitBreaker),
		inflight: make(map[uint64]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Watch adds a breaker to force-open on trip
func (d *CascadeDetector) Watch(cb *CircuitBreaker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakers[cb.Name()] = cb
}

// Unwatch removes a breaker
func (d *CascadeDetector) Unwatch(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakers, name)
}

// Track registers an in-flight call to abort on trip. The returned func
// must be called when the call completes.
func (d *CascadeDetector) Track(cancel context.CancelCauseFunc) (untrack func()) {
	d.mu.Lock()
	d.nextToken++
	token := d.nextToken
	d.inflight[token] = cancel
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.inflight, token)
		d.mu.Unlock()
	}
}

// cooled ends an elapsed trip. Caller holds mu.
func (d *CascadeDetector) cooled(now time.Time) []*CircuitBreaker {
	if !d.tripped || now.Before(d.trippedAt.Add(d.config.Cooldown)) {
		return nil
	}
	d.tripped = false
	d.logger.Info("Cascade cool-down elapsed")

	if !d.config.ResetBreakers {
		return nil
	}
	out := make([]*CircuitBreaker, 0, len(d.breakers))
	for _, cb := range d.breakers {
		out = append(out, cb)
	}
	return out
}

// Check returns a CircuitOpen error while the detector is tripped
func (d *CascadeDetector) Check() error {
	now := d.now()

	d.mu.Lock()
	reset := d.cooled(now)
	tripped, retryIn := d.tripped, d.trippedAt.Add(d.config.Cooldown).Sub(now)
	d.mu.Unlock()

	for _, cb := range reset {
		cb.Reset()
	}
	if tripped {
		return mcperrors.CircuitOpen("cascade", retryIn)
	}
	return nil
}

// Tripped reports whether the detector is currently tripped
func (d *CascadeDetector) Tripped() bool {
	return d.Check() != nil
}

// RecordFailure counts one failure. It reports whether this failure
// tripped the detector.
func (d *CascadeDetector) RecordFailure() bool {
	if !d.config.Enabled {
		return false
	}
	now := d.now()

	d.mu.Lock()
	reset := d.cooled(now)
	if d.tripped {
		d.mu.Unlock()
		for _, cb := range reset {
			cb.Reset()
		}
		return false
	}

	// Slide the window
	cutoff := now.Add(-d.config.Window)
	kept := d.failures[:0]
	for _, at := range d.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	d.failures = append(kept, now)

	if len(d.failures) < d.config.Threshold {
		d.mu.Unlock()
		for _, cb := range reset {
			cb.Reset()
		}
		return false
	}

	count := len(d.failures)
	d.tripped = true
	d.trippedAt = now
	d.trips++
	d.failures = d.failures[:0]

	breakers := make([]*CircuitBreaker, 0, len(d.breakers))
	for _, cb := range d.breakers {
		breakers = append(breakers, cb)
	}
	cancels := make([]context.CancelCauseFunc, 0, len(d.inflight))
	for _, cancel := range d.inflight {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()

	d.logger.Warn("Cascade failure detected",
		logging.Int("failures", count),
		logging.Duration("window", d.config.Window),
		logging.Int("breakers", len(breakers)),
		logging.Int("aborted_calls", len(cancels)),
	)

	for _, cb := range breakers {
		cb.ForceOpen()
	}
	cause := mcperrors.CircuitOpen("cascade", d.config.Cooldown)
	for _, cancel := range cancels {
		cancel(cause)
	}
	if d.onTrip != nil {
		d.onTrip(count)
	}
	return true
}

// Snapshot returns the current detector state
func (d *CascadeDetector) Snapshot() CascadeSnapshot {
	now := d.now()

	d.mu.Lock()
	reset := d.cooled(now)
	cutoff := now.Add(-d.config.Window)
	inWindow := 0
	for _, at := range d.failures {
		if at.After(cutoff) {
			inWindow++
		}
	}
	snap := CascadeSnapshot{
		Tripped:        d.tripped,
		TrippedAt:      d.trippedAt,
		WindowFailures: inWindow,
		Trips:          d.trips,
	}
	d.mu.Unlock()

	for _, cb := range reset {
		cb.Reset()
	}
	return snap
}

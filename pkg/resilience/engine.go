package resilience

import (
	"context"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// Outcome is the verdict of one attempt as seen by health accounting
type Outcome int

const (
	// OutcomeSuccess means the connection carried the exchange, including
	// exchanges that ended in an error reported by the peer
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the connection failed (transport error, timeout)
	OutcomeFailure
	// OutcomeNeutral means the attempt ended without saying anything about
	// the connection (cancelled, rejected locally)
	OutcomeNeutral
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "neutral"
	}
}

// Classify maps an attempt error to an Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil, mcperrors.IsRemote(err):
		return OutcomeSuccess
	case mcperrors.IsRetryable(err):
		return OutcomeFailure
	default:
		return OutcomeNeutral
	}
}

// Endpoint is what the engine runs an attempt against
type Endpoint interface {
	ID() string
	// Breaker returns the endpoint's circuit breaker, or nil
	Breaker() *CircuitBreaker
}

// Balancer hands out endpoints. Acquire must not block on I/O; it returns
// an error immediately when nothing is eligible. Every acquired endpoint
// is released exactly once.
type Balancer interface {
	Acquire(ctx context.Context) (Endpoint, error)
	Release(ep Endpoint, outcome Outcome)
}

// Operation is one attempt of a logical call
type Operation func(ctx context.Context, ep Endpoint, attempt int) error

// Engine runs operations with retry, breaker accounting and cascade
// detection. It is safe for concurrent use.
type Engine struct {
	policy   RetryPolicy
	balancer Balancer
	cascade  *CascadeDetector
	logger   logging.Logger
	random   func() float64
	onRetry  func(method string, attempt int, delay time.Duration, err error)
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger logging.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logging.OrNop(logger).WithFields(logging.Component("resilience"))
	}
}

// WithRand overrides the jitter source; fn must return values in [0, 1)
func WithRand(fn func() float64) EngineOption {
	return func(e *Engine) { e.random = fn }
}

// WithCascade attaches a cascade detector
func WithCascade(d *CascadeDetector) EngineOption {
	return func(e *Engine) { e.cascade = d }
}

// OnRetry registers a callback invoked before every backoff sleep
func OnRetry(fn func(method string, attempt int, delay time.Duration, err error)) EngineOption {
	return func(e *Engine) { e.onRetry = fn }
}

// NewEngine creates an engine drawing endpoints from balancer
func NewEngine(policy RetryPolicy, balancer Balancer, opts ...EngineOption) *Engine {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	e := &Engine{
		policy:   policy,
		balancer: balancer,
		logger:   logging.Nop(),
		random:   secureRandFloat64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the default retry policy
func (e *Engine) Policy() RetryPolicy {
	return e.policy
}

// Cascade returns the attached cascade detector, or nil
func (e *Engine) Cascade() *CascadeDetector {
	return e.cascade
}

// Execute runs op under the engine's default policy
func (e *Engine) Execute(ctx context.Context, method string, op Operation) error {
	return e.ExecuteWithPolicy(ctx, method, e.policy, op)
}

// ExecuteWithPolicy runs op until it succeeds, fails fatally, exhausts
// policy.MaxAttempts, or the next backoff would overrun the deadline of
// ctx. Each attempt acquires a fresh endpoint. Only retryable errors are
// retried; every other error is returned unchanged.
func (e *Engine) ExecuteWithPolicy(ctx context.Context, method string, policy RetryPolicy, op Operation) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	// A cascade trip aborts the call through its cancel cause
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if e.cascade != nil {
		untrack := e.cascade.Track(cancel)
		defer untrack()
	}

	var (
		lastErr error
		delay   time.Duration
	)
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return mcperrors.FromContext(ctx, method)
		}
		if e.cascade != nil {
			if err := e.cascade.Check(); err != nil {
				return err
			}
		}

		ep, trial, err := e.acquire(ctx)
		if err != nil {
			// Pool exhaustion is fatal for this call
			return err
		}

		err = op(ctx, ep, attempt)
		if err != nil && ctx.Err() != nil && context.Cause(ctx) != ctx.Err() {
			// The call was aborted from outside (cancel, cascade); report
			// that cause rather than whatever the attempt saw
			err = mcperrors.FromContext(ctx, method)
		}
		e.record(ep, trial, err)

		if err == nil {
			return nil
		}
		lastErr = err

		if !mcperrors.IsRetryable(err) {
			return err
		}
		if attempt >= policy.MaxAttempts {
			e.logger.Debug("Retry attempts exhausted",
				logging.String("method", method),
				logging.Int("attempts", attempt),
				logging.ErrorField(err),
			)
			return lastErr
		}

		delay = policy.Backoff(attempt, delay, e.random())
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
			e.logger.Debug("Retry would overrun deadline",
				logging.String("method", method),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
			)
			return lastErr
		}

		e.logger.Debug("Retrying",
			logging.String("method", method),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.ErrorField(err),
		)
		if e.onRetry != nil {
			e.onRetry(method, attempt, delay, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return mcperrors.FromContext(ctx, method)
		}
	}
}

// maxAdmitRetries bounds how often acquire redraws after losing a race for
// a half-open trial
const maxAdmitRetries = 8

// acquire draws an endpoint and passes it through its breaker. A refusal
// after selection means another call took the half-open trial in between;
// the balancer stops offering that endpoint, so another one is drawn.
func (e *Engine) acquire(ctx context.Context) (Endpoint, bool, error) {
	for i := 0; ; i++ {
		ep, err := e.balancer.Acquire(ctx)
		if err != nil {
			return nil, false, err
		}
		cb := ep.Breaker()
		if cb == nil {
			return ep, false, nil
		}
		trial, err := cb.Admit()
		if err == nil {
			return ep, trial, nil
		}
		e.balancer.Release(ep, OutcomeNeutral)
		if i+1 >= maxAdmitRetries {
			return nil, false, err
		}
	}
}

// record reports the attempt outcome to the breaker, the balancer and the
// cascade detector. trial is set when the attempt holds the half-open trial.
func (e *Engine) record(ep Endpoint, trial bool, err error) {
	outcome := Classify(err)

	if cb := ep.Breaker(); cb != nil {
		switch outcome {
		case OutcomeSuccess:
			cb.RecordSuccess()
		case OutcomeFailure:
			cb.RecordFailure()
		default:
			if trial {
				cb.Abandon()
			}
		}
	}
	e.balancer.Release(ep, outcome)

	if outcome == OutcomeFailure && e.cascade != nil {
		e.cascade.RecordFailure()
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

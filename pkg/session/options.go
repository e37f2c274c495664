package session

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger. Components get the same logger with
// their own component field.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		s.baseLogger = logging.OrNop(logger)
	}
}

// WithDispatcher handles requests and notifications the peer initiates
func WithDispatcher(d Dispatcher) Option {
	return func(s *Session) {
		s.dispatcher = d
	}
}

// WithMiddleware adds entries to the middleware chain. Entries without a
// priority get middleware.DefaultPriority of their capability; a
// CapabilityCircuitBreak entry without middleware is bound to the session's
// cascade detector.
func WithMiddleware(entries ...middleware.Entry) Option {
	return func(s *Session) {
		s.entries = append(s.entries, entries...)
	}
}

// WithMetrics records session, pool and resilience metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer sets the tracer for call and handler spans; the global
// provider is used otherwise
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// WithoutHandshake marks the session ready without an initialize exchange.
// Use it for the serving side of a session or for peers that negotiated
// out of band.
func WithoutHandshake() Option {
	return func(s *Session) {
		s.initialized.Store(true)
	}
}

// WithRand overrides the random source used for retry jitter and weighted
// selection; fn must return values in [0, 1)
func WithRand(fn func() float64) Option {
	return func(s *Session) {
		s.random = fn
	}
}

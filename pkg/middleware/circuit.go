package middleware

import (
	"context"

	"github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

type circuitMiddleware struct {
	cascade *resilience.CascadeDetector
}

// CircuitBreak rejects an attempt with a CircuitOpen error when the cascade
// detector is tripped, or when the selected connection's breaker opened
// after the engine admitted the attempt. The engine owns the half-open
// trial; this middleware never takes it. cascade may be nil.
func CircuitBreak(cascade *resilience.CascadeDetector) Middleware {
	return &circuitMiddleware{cascade: cascade}
}

func (m *circuitMiddleware) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	if m.cascade != nil {
		if err := m.cascade.Check(); err != nil {
			return ctx, err
		}
	}
	if req.Conn == nil {
		return ctx, nil
	}

	if cb := req.Conn.Breaker(); cb != nil && cb.State() == resilience.StateOpen {
		return ctx, errors.CircuitOpen(cb.Name(), 0)
	}
	return ctx, nil
}

func (m *circuitMiddleware) Incoming(context.Context, *Request, *Response) error {
	return nil
}

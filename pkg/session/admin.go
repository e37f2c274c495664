package session

import (
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

// Health is a point-in-time view of the session for monitoring
type Health struct {
	SessionID   string                     `json:"sessionId"`
	Initialized bool                       `json:"initialized"`
	Closed      bool                       `json:"closed"`
	Pool        pool.Snapshot              `json:"pool"`
	Cascade     resilience.CascadeSnapshot `json:"cascade"`
	Pending     int                        `json:"pendingRequests"`
	Calls       int                        `json:"activeCalls"`
	Middleware  []string                   `json:"middleware"`
}

// Health returns the current health snapshot. It never blocks on I/O.
func (s *Session) Health() Health {
	s.callsMu.Lock()
	calls := len(s.calls)
	s.callsMu.Unlock()

	entries := s.chain.Entries()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = string(e.Capability)
		}
		names = append(names, name)
	}

	return Health{
		SessionID:   s.id,
		Initialized: s.initialized.Load(),
		Closed:      s.closed.Load(),
		Pool:        s.pool.Snapshot(),
		Cascade:     s.cascade.Snapshot(),
		Pending:     s.table.Len(),
		Calls:       calls,
		Middleware:  names,
	}
}

// Use adds a middleware entry. Attempts already running keep the chain
// they started with.
func (s *Session) Use(e middleware.Entry) error {
	return s.chain.Add(s.bind(e))
}

// bind fills the entry defaults. A circuit break entry without middleware
// gets one bound to the session's cascade detector.
func (s *Session) bind(e middleware.Entry) middleware.Entry {
	if e.Priority == 0 {
		e.Priority = middleware.DefaultPriority(e.Capability)
	}
	if e.Middleware == nil && e.Capability == middleware.CapabilityCircuitBreak {
		e.Middleware = middleware.CircuitBreak(s.cascade)
	}
	return e
}

// RemoveMiddleware removes the named entry and reports whether it existed
func (s *Session) RemoveMiddleware(name string) bool {
	return s.chain.Remove(name)
}

// Connections lists the pooled connections
func (s *Session) Connections() []*pool.Connection {
	return s.pool.Connections()
}

// Cascade returns the session's cascade detector
func (s *Session) Cascade() *resilience.CascadeDetector {
	return s.cascade
}

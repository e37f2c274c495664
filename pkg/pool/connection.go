package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// Health is the derived health of a connection
type Health int

const (
	Healthy Health = iota
	Degraded
	Unhealthy
)

// String returns the health name
func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Connection is one live transport plus its health state and load counters
type Connection struct {
	id        string
	transport transport.Transport
	breaker   *resilience.CircuitBreaker
	createdAt time.Time

	weight   atomic.Int64
	inflight atomic.Int64

	mu                  sync.Mutex
	health              Health
	consecutiveFailures int
	lastFailureAt       time.Time
}

// ID returns the connection id
func (c *Connection) ID() string { return c.id }

// Transport returns the underlying transport
func (c *Connection) Transport() transport.Transport { return c.transport }

// Breaker returns the connection's circuit breaker
func (c *Connection) Breaker() *resilience.CircuitBreaker { return c.breaker }

// CreatedAt returns when the connection joined the pool
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Weight returns the weighted-strategy weight
func (c *Connection) Weight() int { return int(c.weight.Load()) }

// Inflight returns the number of acquired, unreleased attempts
func (c *Connection) Inflight() int { return int(c.inflight.Load()) }

// Health returns the current health
func (c *Connection) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// ConsecutiveFailures returns the current failure streak
func (c *Connection) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures
}

// ConnectionSnapshot is a point-in-time view of a connection
type ConnectionSnapshot struct {
	ID                  string                     `json:"id"`
	Health              string                     `json:"health"`
	Inflight            int                        `json:"inflight"`
	ConsecutiveFailures int                        `json:"consecutiveFailures"`
	LastFailureAt       time.Time                  `json:"lastFailureAt,omitempty"`
	Weight              int                        `json:"weight"`
	CreatedAt           time.Time                  `json:"createdAt"`
	Breaker             resilience.BreakerSnapshot `json:"breaker"`
}

// Snapshot returns the current connection state
func (c *Connection) Snapshot() ConnectionSnapshot {
	c.mu.Lock()
	snap := ConnectionSnapshot{
		ID:                  c.id,
		Health:              c.health.String(),
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailureAt:       c.lastFailureAt,
		CreatedAt:           c.createdAt,
	}
	c.mu.Unlock()

	snap.Inflight = c.Inflight()
	snap.Weight = c.Weight()
	snap.Breaker = c.breaker.Snapshot()
	return snap
}

// record applies one outcome and returns the health transition
func (c *Connection) record(success bool, now time.Time, degradeAt, unhealthyAt int) (from, to Health) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from = c.health
	if success {
		c.consecutiveFailures = 0
		c.health = Healthy
		return from, c.health
	}

	c.consecutiveFailures++
	c.lastFailureAt = now
	switch {
	case c.consecutiveFailures >= unhealthyAt:
		c.health = Unhealthy
	case c.consecutiveFailures >= degradeAt:
		c.health = Degraded
	}
	return from, c.health
}

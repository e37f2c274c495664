// Package pool owns a set of transport connections and selects one per
// attempt according to a strategy, routing only to connections currently
// believed to be working.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// ErrNotFound is returned for unknown connection ids
var ErrNotFound = errors.New("pool: connection not found")

// Strategy selects among eligible connections
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyWeighted         Strategy = "weighted"
)

// ParseStrategy converts a configuration string into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyRoundRobin, nil
	case StrategyRoundRobin, StrategyLeastConnections, StrategyWeighted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown pool strategy %q", s)
	}
}

// Config configures a Pool
type Config struct {
	Strategy Strategy `json:"strategy"`

	// DegradeThreshold consecutive failures mark a connection Degraded
	DegradeThreshold int `json:"degradeThreshold"`

	// UnhealthyThreshold consecutive failures take a connection out of
	// rotation until a success (typically a health probe) restores it
	UnhealthyThreshold int `json:"unhealthyThreshold"`

	// Breaker configures the breaker created for every connection
	Breaker resilience.BreakerConfig `json:"breaker"`
}

// DefaultConfig returns the default pool settings
func DefaultConfig() Config {
	return Config{
		Strategy:           StrategyRoundRobin,
		DegradeThreshold:   2,
		UnhealthyThreshold: 5,
		Breaker:            resilience.DefaultBreakerConfig(),
	}
}

// Validate reports impossible pool values
func (c Config) Validate() error {
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.DegradeThreshold < 1 {
		return fmt.Errorf("pool: degradeThreshold must be at least 1, got %d", c.DegradeThreshold)
	}
	if c.UnhealthyThreshold < c.DegradeThreshold {
		return fmt.Errorf("pool: unhealthyThreshold %d is below degradeThreshold %d", c.UnhealthyThreshold, c.DegradeThreshold)
	}
	return c.Breaker.Validate()
}

// Snapshot is a point-in-time view of the pool
type Snapshot struct {
	Strategy    Strategy             `json:"strategy"`
	Eligible    int                  `json:"eligible"`
	Connections []ConnectionSnapshot `json:"connections"`
}

// Pool owns connections and selects one per attempt. It never blocks on
// I/O and is safe for concurrent use.
type Pool struct {
	config      Config
	logger      logging.Logger
	now         func() time.Time
	random      func() float64
	breakerOpts []resilience.BreakerOption

	onHealthChange func(id string, from, to Health)

	mu     sync.RWMutex
	conns  []*Connection // oldest first
	closed bool

	next atomic.Uint64
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool logger
func WithLogger(logger logging.Logger) Option {
	return func(p *Pool) {
		p.logger = logging.OrNop(logger).WithFields(logging.Component("pool"))
	}
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithRand overrides the weighted-selection random source
func WithRand(fn func() float64) Option {
	return func(p *Pool) { p.random = fn }
}

// WithBreakerOptions passes options to every breaker the pool creates
func WithBreakerOptions(opts ...resilience.BreakerOption) Option {
	return func(p *Pool) { p.breakerOpts = append(p.breakerOpts, opts...) }
}

// OnHealthChange registers a callback invoked after every health transition
func OnHealthChange(fn func(id string, from, to Health)) Option {
	return func(p *Pool) { p.onHealthChange = fn }
}

// New creates an empty pool
func New(config Config, opts ...Option) *Pool {
	def := DefaultConfig()
	if config.Strategy == "" {
		config.Strategy = def.Strategy
	}
	if config.DegradeThreshold < 1 {
		config.DegradeThreshold = def.DegradeThreshold
	}
	if config.UnhealthyThreshold < config.DegradeThreshold {
		config.UnhealthyThreshold = config.DegradeThreshold
	}

	p := &Pool{
		config: config,
		logger: logging.Nop(),
		now:    time.Now,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddOption configures a connection added to the pool
type AddOption func(*addOptions)

type addOptions struct {
	id     string
	weight int
}

// WithID sets the connection id instead of a generated UUID
func WithID(id string) AddOption {
	return func(o *addOptions) { o.id = id }
}

// WithWeight sets the weighted-strategy weight (default 1)
func WithWeight(weight int) AddOption {
	return func(o *addOptions) { o.weight = weight }
}

// Add wraps t in a Healthy connection and puts it in rotation
func (p *Pool) Add(t transport.Transport, opts ...AddOption) (*Connection, error) {
	o := addOptions{id: uuid.NewString(), weight: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.weight < 0 {
		return nil, fmt.Errorf("pool: negative weight %d", o.weight)
	}

	conn := &Connection{
		id:        o.id,
		transport: t,
		createdAt: p.now(),
		health:    Healthy,
		breaker:   resilience.NewCircuitBreaker(o.id, p.config.Breaker, p.breakerOpts...),
	}
	conn.weight.Store(int64(o.weight))

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, mcperrors.SessionClosed("add connection")
	}
	for _, c := range p.conns {
		if c.id == o.id {
			return nil, fmt.Errorf("pool: duplicate connection id %q", o.id)
		}
	}
	p.conns = append(p.conns, conn)

	p.logger.Info("Connection added",
		logging.String("conn_id", conn.id),
		logging.Int("weight", o.weight),
		logging.Int("pool_size", len(p.conns)),
	)
	return conn, nil
}

// Remove takes a connection out of the pool. The caller owns the returned
// connection's transport.
func (p *Pool) Remove(id string) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, c := range p.conns {
		if c.id == id {
			p.conns = append(p.conns[:i:i], p.conns[i+1:]...)
			p.logger.Info("Connection removed", logging.String("conn_id", id), logging.Int("pool_size", len(p.conns)))
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Get returns a connection by id
func (p *Pool) Get(id string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.conns {
		if c.id == id {
			return c, true
		}
	}
	return nil, false
}

// Connections returns the pooled connections, oldest first
func (p *Pool) Connections() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Connection(nil), p.conns...)
}

// Len returns the number of pooled connections
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// SetWeight changes a connection's weight
func (p *Pool) SetWeight(id string, weight int) error {
	if weight < 0 {
		return fmt.Errorf("pool: negative weight %d", weight)
	}
	c, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c.weight.Store(int64(weight))
	return nil
}

// Acquire selects a connection for one attempt and counts it in flight.
// It never waits: with no eligible connection it fails immediately with
// PoolExhausted, or CircuitOpen when healthy connections exist but every
// breaker refuses traffic. Selection only checks admission; the retry
// engine takes the half-open trial. Every acquired connection must be
// released.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, mcperrors.FromContext(ctx, "acquire")
	}

	p.mu.RLock()
	total := len(p.conns)
	eligible := make([]*Connection, 0, total)
	refused := 0
	for _, c := range p.conns {
		if c.Health() == Unhealthy {
			continue
		}
		if !c.breaker.Admits() {
			refused++
			continue
		}
		eligible = append(eligible, c)
	}
	p.mu.RUnlock()

	if len(eligible) == 0 {
		if refused > 0 {
			return nil, mcperrors.CircuitOpen("pool", 0)
		}
		p.logger.Warn("Pool exhausted", logging.Int("pool_size", total))
		return nil, mcperrors.PoolExhausted(total)
	}

	var conn *Connection
	switch p.config.Strategy {
	case StrategyLeastConnections:
		conn = leastConnections(eligible)
	case StrategyWeighted:
		conn = p.weighted(eligible)
	default:
		conn = eligible[(p.next.Add(1)-1)%uint64(len(eligible))]
	}

	conn.inflight.Add(1)
	return conn, nil
}

// leastConnections picks the minimal in-flight count; the slice is oldest
// first so ties go to the oldest connection
func leastConnections(conns []*Connection) *Connection {
	selected := conns[0]
	for _, c := range conns[1:] {
		if c.Inflight() < selected.Inflight() {
			selected = c
		}
	}
	return selected
}

// weighted picks with probability proportional to weight among conns.
// Zero total weight falls back to uniform.
func (p *Pool) weighted(conns []*Connection) *Connection {
	total := 0
	for _, c := range conns {
		total += c.Weight()
	}
	if total == 0 {
		return conns[int(p.random()*float64(len(conns)))%len(conns)]
	}

	target := int(p.random() * float64(total))
	current := 0
	for _, c := range conns {
		current += c.Weight()
		if current > target {
			return c
		}
	}
	return conns[len(conns)-1]
}

// Release ends an acquired attempt and applies its outcome to the
// connection's health. Neutral outcomes only release the slot.
func (p *Pool) Release(conn *Connection, outcome resilience.Outcome) {
	conn.inflight.Add(-1)
	switch outcome {
	case resilience.OutcomeSuccess:
		p.record(conn, true)
	case resilience.OutcomeFailure:
		p.record(conn, false)
	}
}

// ReportOutcome applies a success or failure to a connection's health
// without touching its in-flight count
func (p *Pool) ReportOutcome(id string, success bool) error {
	conn, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.record(conn, success)
	return nil
}

func (p *Pool) record(conn *Connection, success bool) {
	from, to := conn.record(success, p.now(), p.config.DegradeThreshold, p.config.UnhealthyThreshold)
	if from == to {
		return
	}

	fields := []logging.Field{
		logging.String("conn_id", conn.id),
		logging.Stringer("from", from),
		logging.Stringer("to", to),
	}
	if to == Unhealthy {
		p.logger.Warn("Connection unhealthy", fields...)
	} else {
		p.logger.Info("Connection health changed", fields...)
	}
	if p.onHealthChange != nil {
		p.onHealthChange(conn.id, from, to)
	}
}

// Unhealthy returns the connections currently out of rotation
func (p *Pool) Unhealthy() []*Connection {
	var out []*Connection
	for _, c := range p.Connections() {
		if c.Health() == Unhealthy {
			out = append(out, c)
		}
	}
	return out
}

// Snapshot returns the current pool state
func (p *Pool) Snapshot() Snapshot {
	conns := p.Connections()
	snap := Snapshot{
		Strategy:    p.config.Strategy,
		Connections: make([]ConnectionSnapshot, 0, len(conns)),
	}
	for _, c := range conns {
		cs := c.Snapshot()
		if cs.Health != Unhealthy.String() && cs.Breaker.State != resilience.StateOpen {
			snap.Eligible++
		}
		snap.Connections = append(snap.Connections, cs)
	}
	return snap
}

// Close closes every pooled transport and empties the pool
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// Balancer adapts the pool to the retry engine
func (p *Pool) Balancer() resilience.Balancer {
	return balancer{p}
}

type balancer struct{ p *Pool }

func (b balancer) Acquire(ctx context.Context) (resilience.Endpoint, error) {
	conn, err := b.p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b balancer) Release(ep resilience.Endpoint, outcome resilience.Outcome) {
	b.p.Release(ep.(*Connection), outcome)
}

package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

func newTestPool(t *testing.T, strategy Strategy, ids ...string) *Pool {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.DegradeThreshold = 2
	cfg.UnhealthyThreshold = 3
	p := New(cfg)
	for _, id := range ids {
		a, b := transport.Pipe()
		t.Cleanup(func() { _ = b.Close() })
		_, err := p.Add(a, WithID(id))
		require.NoError(t, err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyRoundRobin, false},
		{"round_robin", StrategyRoundRobin, false},
		{"LEAST_CONNECTIONS", StrategyLeastConnections, false},
		{"weighted", StrategyWeighted, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStrategy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.UnhealthyThreshold = 1
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Strategy = "fastest"
	assert.Error(t, cfg.Validate())
}

func TestRoundRobinAlternates(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a", "b")

	var got []string
	for i := 0; i < 4; i++ {
		conn, err := p.Acquire(context.Background())
		require.NoError(t, err)
		got = append(got, conn.ID())
		p.Release(conn, resilience.OutcomeSuccess)
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a", "b", "c")

	for i := 0; i < 3; i++ {
		require.NoError(t, p.ReportOutcome("b", false))
	}
	conn, _ := p.Get("b")
	require.Equal(t, Unhealthy, conn.Health())

	for i := 0; i < 10; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, "b", c.ID())
		p.Release(c, resilience.OutcomeNeutral)
	}
}

func TestLeastConnectionsTiesGoToOldest(t *testing.T) {
	p := newTestPool(t, StrategyLeastConnections, "old", "new")

	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", first.ID())

	second, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", second.ID(), "old has one in flight")

	p.Release(first, resilience.OutcomeSuccess)
	third, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", third.ID())
}

func TestWeightedSelection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = StrategyWeighted

	var r float64
	p := New(cfg, WithRand(func() float64 { return r }))
	a, _ := transport.Pipe()
	b, _ := transport.Pipe()
	_, err := p.Add(a, WithID("light"), WithWeight(1))
	require.NoError(t, err)
	_, err = p.Add(b, WithID("heavy"), WithWeight(3))
	require.NoError(t, err)

	tests := []struct {
		r    float64
		want string
	}{
		{0.0, "light"},
		{0.24, "light"},
		{0.25, "heavy"},
		{0.99, "heavy"},
	}
	for _, tt := range tests {
		r = tt.r
		conn, err := p.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tt.want, conn.ID(), "r=%v", tt.r)
		p.Release(conn, resilience.OutcomeNeutral)
	}

	// Excluding heavy renormalizes onto light
	for i := 0; i < 5; i++ {
		require.NoError(t, p.ReportOutcome("heavy", false))
	}
	r = 0.99
	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "light", conn.ID())
}

func TestHealthTransitions(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	cfg := DefaultConfig()
	cfg.DegradeThreshold = 2
	cfg.UnhealthyThreshold = 3
	p := New(cfg, OnHealthChange(func(id string, from, to Health) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	a, _ := transport.Pipe()
	conn, err := p.Add(a, WithID("a"))
	require.NoError(t, err)

	p.Release(mustAcquire(t, p), resilience.OutcomeFailure)
	assert.Equal(t, Healthy, conn.Health())
	p.Release(mustAcquire(t, p), resilience.OutcomeFailure)
	assert.Equal(t, Degraded, conn.Health())
	p.Release(mustAcquire(t, p), resilience.OutcomeFailure)
	assert.Equal(t, Unhealthy, conn.Health())
	assert.Equal(t, 3, conn.ConsecutiveFailures())

	_, err = p.Acquire(context.Background())
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodePoolExhausted))

	require.NoError(t, p.ReportOutcome("a", true))
	assert.Equal(t, Healthy, conn.Health())
	assert.Equal(t, 0, conn.ConsecutiveFailures())
	assert.Equal(t, 0, conn.Inflight())

	assert.Equal(t, []string{"healthy->degraded", "degraded->unhealthy", "unhealthy->healthy"}, transitions)
}

func TestPoolExhaustedIsImmediate(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a", "b")
	for _, id := range []string{"a", "b"} {
		for i := 0; i < 3; i++ {
			require.NoError(t, p.ReportOutcome(id, false))
		}
	}

	start := time.Now()
	_, err := p.Acquire(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapacity))
	assert.Less(t, elapsed, 10*time.Millisecond)
}

func TestEmptyPoolExhausted(t *testing.T) {
	p := New(DefaultConfig())
	_, err := p.Acquire(context.Background())
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodePoolExhausted))
}

func TestOpenBreakersRefuseWithCircuitOpen(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a")
	conn, _ := p.Get("a")
	conn.Breaker().ForceOpen()

	_, err := p.Acquire(context.Background())
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCircuitOpen))
	assert.Equal(t, 0, p.Snapshot().Eligible)
}

func TestAcquireHonorsCancelledContext(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCancelled))
}

func TestAddRemove(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a")

	a, _ := transport.Pipe()
	_, err := p.Add(a, WithID("a"))
	assert.Error(t, err, "duplicate id")

	b, _ := transport.Pipe()
	generated, err := p.Add(b)
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())
	assert.Equal(t, 2, p.Len())

	removed, err := p.Remove("a")
	require.NoError(t, err)
	assert.Equal(t, "a", removed.ID())
	assert.Equal(t, 1, p.Len())

	_, err = p.Remove("a")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(p.ReportOutcome("a", true), ErrNotFound))
	assert.True(t, errors.Is(p.SetWeight("a", 2), ErrNotFound))
}

func TestCloseRejectsAdd(t *testing.T) {
	p := New(DefaultConfig())
	a, _ := transport.Pipe()
	_, err := p.Add(a)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.Equal(t, 0, p.Len())

	b, _ := transport.Pipe()
	_, err = p.Add(b)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryLifecycle))
}

func TestBalancerAdapter(t *testing.T) {
	p := newTestPool(t, StrategyRoundRobin, "a")
	b := p.Balancer()

	ep, err := b.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", ep.ID())
	assert.NotNil(t, ep.Breaker())

	conn, _ := p.Get("a")
	assert.Equal(t, 1, conn.Inflight())
	b.Release(ep, resilience.OutcomeFailure)
	assert.Equal(t, 0, conn.Inflight())
	assert.Equal(t, 1, conn.ConsecutiveFailures())
}

func TestEngineOverPoolAdmitsOneHalfOpenTrial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker = resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}
	p := New(cfg)
	a, b := transport.Pipe()
	t.Cleanup(func() { _ = b.Close() })
	conn, err := p.Add(a, WithID("only"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	conn.Breaker().RecordFailure()
	require.Eventually(t, func() bool { return conn.Breaker().State() == resilience.StateHalfOpen }, time.Second, time.Millisecond)

	e := resilience.NewEngine(resilience.RetryPolicy{MaxAttempts: 1}, p.Balancer())

	const callers = 5
	var (
		mu       sync.Mutex
		admitted int
		done     sync.WaitGroup
	)
	hold := make(chan struct{})
	entered := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			_ = e.Execute(context.Background(), "ping", func(context.Context, resilience.Endpoint, int) error {
				mu.Lock()
				admitted++
				mu.Unlock()
				entered <- struct{}{}
				<-hold
				return nil
			})
		}()
	}

	<-entered
	// Give the other callers time to be turned away
	time.Sleep(50 * time.Millisecond)
	close(hold)
	done.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, resilience.StateClosed, conn.Breaker().State())
	assert.Zero(t, conn.Inflight())
}

func TestSnapshot(t *testing.T) {
	p := newTestPool(t, StrategyLeastConnections, "a", "b")
	for i := 0; i < 3; i++ {
		require.NoError(t, p.ReportOutcome("b", false))
	}

	snap := p.Snapshot()
	assert.Equal(t, StrategyLeastConnections, snap.Strategy)
	assert.Equal(t, 1, snap.Eligible)
	require.Len(t, snap.Connections, 2)
	assert.Equal(t, "healthy", snap.Connections[0].Health)
	assert.Equal(t, "unhealthy", snap.Connections[1].Health)
	assert.Equal(t, 3, snap.Connections[1].ConsecutiveFailures)
	assert.Len(t, p.Unhealthy(), 1)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := newTestPool(t, StrategyLeastConnections, "a", "b", "c")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				conn, err := p.Acquire(context.Background())
				if err != nil {
					continue
				}
				p.Release(conn, resilience.OutcomeSuccess)
			}
		}()
	}
	wg.Wait()

	for _, c := range p.Connections() {
		assert.Equal(t, 0, c.Inflight())
	}
}

func mustAcquire(t *testing.T, p *Pool) *Connection {
	t.Helper()
	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	return conn
}

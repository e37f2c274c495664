package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

type endpoint struct {
	id string
	cb *resilience.CircuitBreaker
}

func (e endpoint) ID() string                          { return e.id }
func (e endpoint) Breaker() *resilience.CircuitBreaker { return e.cb }

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.NewTextFormatter())
	logger.SetLevel(logging.DebugLevel)
	m := Logging(logger)

	req := &Request{Method: "tools/call", ID: protocol.NewNumberID(7), Attempt: 2, Conn: endpoint{id: "conn-a"}}
	_, err := m.Outgoing(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, m.Incoming(context.Background(), req, &Response{Err: errors.New("reset")}))

	m.(FrameObserver).Observe(context.Background(), "conn-a", &protocol.Notification{Method: "notifications/progress"})

	out := buf.String()
	for _, want := range []string{"Sending", "method=tools/call", "conn_id=conn-a", "Attempt failed", "reset", "Peer frame", "notifications/progress"} {
		assert.Contains(t, out, want)
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("attaches credentials", func(t *testing.T) {
		m := Auth(auth.NewStatic("Bearer", "secret"))
		req := &Request{Method: "ping"}

		ctx, err := m.Outgoing(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, req.Auth)
		assert.Equal(t, "Bearer secret", req.Auth.HeaderValue())

		ac, ok := auth.FromContext(ctx)
		require.True(t, ok)
		assert.Same(t, req.Auth, ac)
	})

	t.Run("credential failure short-circuits", func(t *testing.T) {
		m := Auth(auth.CredentialFunc(func(context.Context) (*auth.AuthContext, error) {
			return nil, errors.New("vault sealed")
		}))
		_, err := m.Outgoing(context.Background(), &Request{Method: "ping"})
		require.Error(t, err)
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryAuth))
	})

	t.Run("nil credentials are rejected", func(t *testing.T) {
		m := Auth(auth.CredentialFunc(func(context.Context) (*auth.AuthContext, error) { return nil, nil }))
		_, err := m.Outgoing(context.Background(), &Request{Method: "ping"})
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryAuth))
	})
}

func TestRateLimitReject(t *testing.T) {
	rl := RateLimit(RateLimitConfig{
		Mode:    RateLimitReject,
		Methods: map[string]MethodLimit{"tools/call": {RPS: 1, Burst: 2}},
	})

	req := &Request{Method: "tools/call"}
	for i := 0; i < 2; i++ {
		_, err := rl.Outgoing(context.Background(), req)
		require.NoError(t, err)
	}

	_, err := rl.Outgoing(context.Background(), req)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeResourceUnavailable))
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapacity))

	// Other methods have no bucket
	_, err = rl.Outgoing(context.Background(), &Request{Method: "ping"})
	assert.NoError(t, err)
}

func TestRateLimitWait(t *testing.T) {
	rl := RateLimit(RateLimitConfig{Mode: RateLimitWait, GlobalRPS: 20, GlobalBurst: 1})
	req := &Request{Method: "ping"}

	_, err := rl.Outgoing(context.Background(), req)
	require.NoError(t, err)

	start := time.Now()
	_, err = rl.Outgoing(context.Background(), req)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond, "second token waits for refill")
}

func TestRateLimitWaitHonorsDeadline(t *testing.T) {
	rl := RateLimit(RateLimitConfig{Mode: RateLimitWait, GlobalRPS: 0.1, GlobalBurst: 1})
	req := &Request{Method: "ping"}
	_, err := rl.Outgoing(context.Background(), req)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = rl.Outgoing(ctx, req)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCapacity), "wait cannot finish before the deadline")
	assert.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestRateLimitConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultRateLimitConfig().Validate())
	assert.Error(t, RateLimitConfig{Mode: "drop"}.Validate())
	assert.Error(t, RateLimitConfig{GlobalRPS: 5}.Validate())
	assert.Error(t, RateLimitConfig{Methods: map[string]MethodLimit{"x": {RPS: 0, Burst: 1}}}.Validate())
}

func TestCompression(t *testing.T) {
	m := Compression(CompressionConfig{MinSize: 64})

	t.Run("small params pass through", func(t *testing.T) {
		req := &Request{Method: "ping", Params: json.RawMessage(`{"a":1}`)}
		_, err := m.Outgoing(context.Background(), req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1}`, string(req.Params))
	})

	t.Run("large params are wrapped", func(t *testing.T) {
		original := json.RawMessage(`{"text":"` + strings.Repeat("a", 500) + `"}`)
		req := &Request{Method: "tools/call", Params: original}
		_, err := m.Outgoing(context.Background(), req)
		require.NoError(t, err)

		var env map[string]map[string]string
		require.NoError(t, json.Unmarshal(req.Params, &env))
		assert.Equal(t, "gzip", env[CompressedKey]["encoding"])
		assert.Less(t, len(req.Params), len(original))

		raw, ok, err := Decompress(req.Params)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, string(original), string(raw))
	})

	t.Run("compressed results are unwrapped", func(t *testing.T) {
		wrapped, err := Compress(json.RawMessage(`{"ok":true}`), 0)
		require.NoError(t, err)

		resp := &Response{Result: wrapped}
		require.NoError(t, m.Incoming(context.Background(), &Request{}, resp))
		assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
	})

	t.Run("plain results are untouched", func(t *testing.T) {
		resp := &Response{Result: json.RawMessage(`{"_compressedish":1}`)}
		require.NoError(t, m.Incoming(context.Background(), &Request{}, resp))
		assert.JSONEq(t, `{"_compressedish":1}`, string(resp.Result))
	})

	t.Run("unknown encoding is a protocol error", func(t *testing.T) {
		resp := &Response{Result: json.RawMessage(`{"_compressed":{"encoding":"br","data":""}}`)}
		err := m.Incoming(context.Background(), &Request{}, resp)
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryProtocol))
	})
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *fakeRecorder) ObserveAttempt(method, connID, outcome string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, method+"|"+connID+"|"+outcome)
}

func TestMetricsMiddleware(t *testing.T) {
	rec := &fakeRecorder{}
	m := Metrics(rec)
	req := &Request{Method: "ping", Conn: endpoint{id: "a"}}

	remote := mcperrors.FromJSONRPCError(&protocol.Error{Code: protocol.InvalidParams, Message: "bad"})
	for _, err := range []error{nil, remote, mcperrors.ConnectionLost("pipe", "a", errors.New("eof")), errors.New("plain")} {
		require.NoError(t, m.Incoming(context.Background(), req, &Response{Err: err}))
	}

	assert.Equal(t, []string{"ping|a|ok", "ping|a|remote_error", "ping|a|transport", "ping|a|error"}, rec.seen)
}

func TestCircuitBreakMiddleware(t *testing.T) {
	t.Run("open breaker rejects", func(t *testing.T) {
		cb := resilience.NewCircuitBreaker("a", resilience.DefaultBreakerConfig())
		cb.ForceOpen()
		m := CircuitBreak(nil)

		_, err := m.Outgoing(context.Background(), &Request{Method: "ping", ID: protocol.NewNumberID(1), Conn: endpoint{id: "a", cb: cb}})
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCircuitOpen))

		_, err = m.Outgoing(context.Background(), &Request{Method: "notifications/progress", Conn: endpoint{id: "a", cb: cb}})
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCircuitOpen))
	})

	t.Run("closed breaker admits", func(t *testing.T) {
		cb := resilience.NewCircuitBreaker("a", resilience.DefaultBreakerConfig())
		_, err := CircuitBreak(nil).Outgoing(context.Background(), &Request{Method: "ping", ID: protocol.NewNumberID(1), Conn: endpoint{id: "a", cb: cb}})
		assert.NoError(t, err)
	})

	t.Run("half-open trial holder passes", func(t *testing.T) {
		cb := resilience.NewCircuitBreaker("a", resilience.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Millisecond})
		cb.RecordFailure()
		require.Eventually(t, func() bool { return cb.State() == resilience.StateHalfOpen }, time.Second, time.Millisecond)

		trial, err := cb.Admit()
		require.NoError(t, err)
		require.True(t, trial)

		_, err = CircuitBreak(nil).Outgoing(context.Background(), &Request{Method: "ping", ID: protocol.NewNumberID(1), Conn: endpoint{id: "a", cb: cb}})
		assert.NoError(t, err)
	})

	t.Run("tripped cascade rejects", func(t *testing.T) {
		d := resilience.NewCascadeDetector(resilience.CascadeConfig{Enabled: true, Threshold: 1, Window: time.Second, Cooldown: time.Minute})
		d.RecordFailure()

		_, err := CircuitBreak(d).Outgoing(context.Background(), &Request{Method: "ping", ID: protocol.NewNumberID(1)})
		assert.True(t, mcperrors.IsCategory(err, mcperrors.CategoryCircuitOpen))
	})

	t.Run("no connection passes", func(t *testing.T) {
		_, err := CircuitBreak(nil).Outgoing(context.Background(), &Request{Method: "ping"})
		assert.NoError(t, err)
	})
}

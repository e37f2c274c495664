// Package session is the orchestrator of the MCP client stack.
//
// A Session owns a connection pool, a correlation table, a middleware chain
// and a retry engine, and composes them into one call path:
//
//	Request -> retry engine -> pool.Acquire -> middleware (outgoing)
//	        -> transport send -> correlation wait -> middleware (incoming)
//
// Each connection has its own reader goroutine that resolves responses in
// the order the transport produced them and dispatches requests and
// notifications the peer initiates.
//
// Basic usage:
//
//	s, err := session.New(session.DefaultConfig(), session.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	if _, err := s.AddTransport(t); err != nil {
//		return err
//	}
//	if _, err := s.Initialize(ctx); err != nil {
//		return err
//	}
//	result, err := s.Request(ctx, protocol.MethodListTools, nil)
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hwiorn/mcp-sdk-go/pkg/correlation"
	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

// errClosed is the cause given to calls cut short by Close
var errClosed = errors.New("session closed")

// Session is a client session over a pool of connections. It is safe for
// concurrent use.
type Session struct {
	id     string
	config Config

	baseLogger logging.Logger
	logger     logging.Logger
	tracer     trace.Tracer
	metrics    *observability.Metrics
	random     func() float64

	table      *correlation.Table
	pool       *pool.Pool
	chain      *middleware.Chain
	entries    []middleware.Entry
	cascade    *resilience.CascadeDetector
	engine     *resilience.Engine
	dispatcher Dispatcher

	callSem    *semaphore.Weighted
	handlerSem *semaphore.Weighted

	// Lifetime of reader loops, probes and handlers
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  errgroup.Group

	initMu      sync.Mutex
	initialized atomic.Bool
	initResult  *protocol.InitializeResult

	// callsMu also orders Close against Go and AddTransport
	callsMu sync.Mutex
	calls   map[protocol.ID]*Call
	callWG  sync.WaitGroup

	servingMu sync.Mutex
	serving   map[servingKey]context.CancelCauseFunc
	handlerWG sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a session with no connections. Add transports with
// AddTransport before issuing calls.
func New(config Config, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.NewString(),
		config:     config,
		baseLogger: logging.Nop(),
		calls:      make(map[protocol.ID]*Call),
		serving:    make(map[servingKey]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.baseLogger.WithFields(
		logging.Component("session"),
		logging.String("session_id", s.id),
	)

	s.cascade = resilience.NewCascadeDetector(config.Cascade,
		resilience.WithCascadeLogger(s.baseLogger),
		resilience.OnTrip(s.cascadeTripped),
	)

	chain, err := middleware.NewChain()
	if err != nil {
		return nil, err
	}
	for _, e := range s.entries {
		if err := chain.Add(s.bind(e)); err != nil {
			return nil, err
		}
	}
	s.chain = chain

	poolOpts := []pool.Option{
		pool.WithLogger(s.baseLogger),
		pool.WithBreakerOptions(resilience.OnStateChange(s.breakerChanged)),
	}
	engineOpts := []resilience.EngineOption{
		resilience.WithLogger(s.baseLogger),
		resilience.WithCascade(s.cascade),
	}
	if s.random != nil {
		poolOpts = append(poolOpts, pool.WithRand(s.random))
		engineOpts = append(engineOpts, resilience.WithRand(s.random))
	}
	if s.metrics != nil {
		poolOpts = append(poolOpts, pool.OnHealthChange(s.metrics.HealthChanged))
		engineOpts = append(engineOpts, resilience.OnRetry(s.metrics.RecordRetry))
	}
	s.pool = pool.New(config.Pool, poolOpts...)
	s.engine = resilience.NewEngine(config.Retry, s.pool.Balancer(), engineOpts...)

	s.table = correlation.New(config.Correlation, correlation.WithLogger(s.baseLogger))

	if config.MaxConcurrentCalls > 0 {
		s.callSem = semaphore.NewWeighted(config.MaxConcurrentCalls)
	}
	if config.MaxConcurrentHandlers > 0 {
		s.handlerSem = semaphore.NewWeighted(config.MaxConcurrentHandlers)
	}

	s.ctx, s.cancel = context.WithCancelCause(context.Background())
	if config.ProbeInterval > 0 {
		s.group.Go(s.probeLoop)
	}

	s.logger.Debug("Session created")
	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Initialized reports whether the handshake has completed
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// ServerInfo returns the peer's initialize result, or nil before the
// handshake
func (s *Session) ServerInfo() *protocol.InitializeResult {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initResult
}

// Initialize performs the capability handshake. Calls other than
// initialize fail with NotInitialized until it succeeds. Calling it again
// after success returns the stored result.
func (s *Session) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initResult != nil {
		return s.initResult, nil
	}

	params := protocol.InitializeParams{
		ProtocolVersion: s.config.ProtocolVersion,
		Capabilities:    s.config.Capabilities,
		ClientInfo:      s.config.ClientInfo,
	}
	if params.Capabilities == nil {
		params.Capabilities = protocol.Capabilities{}
	}

	raw, err := s.Request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, err
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.ProtocolViolation("malformed initialize result: " + err.Error())
	}
	if err := protocol.CheckVersion(result.ProtocolVersion); err != nil {
		return nil, mcperrors.VersionMismatch(s.config.ProtocolVersion, result.ProtocolVersion)
	}

	s.initResult = &result
	s.initialized.Store(true)

	s.logger.Info("Session initialized",
		logging.String("server", result.ServerInfo.Name),
		logging.String("server_version", result.ServerInfo.Version),
		logging.String("protocol_version", result.ProtocolVersion),
	)

	if err := s.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return &result, err
	}
	return &result, nil
}

// gate rejects calls the session cannot accept
func (s *Session) gate(method string) error {
	if s.closed.Load() {
		return mcperrors.SessionClosed(method)
	}
	if method != protocol.MethodInitialize && !s.initialized.Load() {
		return mcperrors.NotInitialized(method)
	}
	return nil
}

// Close cancels outstanding calls with Cancelled, stops the probe loop and
// the sweeper, closes every transport and waits for the reader loops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		cause := mcperrors.Cancelled("session", errClosed)

		s.callsMu.Lock()
		s.closed.Store(true)
		calls := make([]*Call, 0, len(s.calls))
		for _, c := range s.calls {
			calls = append(calls, c)
		}
		s.callsMu.Unlock()
		for _, c := range calls {
			c.abort(cause)
		}

		s.cancel(cause)
		s.table.Close(cause)
		s.closeErr = s.pool.Close()

		_ = s.group.Wait()
		s.handlerWG.Wait()
		s.callWG.Wait()

		s.logger.Debug("Session closed")
	})
	return s.closeErr
}

func (s *Session) breakerChanged(name string, from, to resilience.State) {
	fields := []logging.Field{
		logging.String("conn_id", name),
		logging.Stringer("from", from),
		logging.Stringer("to", to),
	}
	if to == resilience.StateOpen {
		s.logger.Warn("Circuit breaker opened", fields...)
	} else {
		s.logger.Info("Circuit breaker state changed", fields...)
	}
	if s.metrics != nil {
		s.metrics.BreakerStateChanged(name, from, to)
	}
}

func (s *Session) cascadeTripped(failures int) {
	if s.metrics != nil {
		s.metrics.CascadeTripped(failures)
	}
}

func (s *Session) setPending() {
	if s.metrics != nil {
		s.metrics.SetPending(s.table.Len())
	}
}

// attemptDeadline returns the absolute deadline for one attempt
func (s *Session) attemptDeadline(ctx context.Context) time.Time {
	deadline, _ := ctx.Deadline()
	if s.config.AttemptTimeout > 0 {
		d := time.Now().Add(s.config.AttemptTimeout)
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	return deadline
}

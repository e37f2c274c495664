package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// Call is an outgoing request in flight. Its ID is the wire id of the
// first attempt; retries go out under fresh ids.
type Call struct {
	session *Session
	id      protocol.ID
	method  string
	params  json.RawMessage
	policy  resilience.RetryPolicy
	cancel  context.CancelCauseFunc
	done    chan struct{}

	mu       sync.Mutex
	wireID   protocol.ID
	connID   string
	attempts int
	result   json.RawMessage
	err      error
}

// ID returns the logical id of the call
func (c *Call) ID() protocol.ID {
	return c.id
}

// Method returns the called method
func (c *Call) Method() string {
	return c.method
}

// Done is closed when the call has a result
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the call finishes and returns its outcome
func (c *Call) Result() (json.RawMessage, error) {
	<-c.done
	return c.result, c.err
}

// Attempts returns how many attempts have started
func (c *Call) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Cancel cancels the call; see Session.Cancel
func (c *Call) Cancel() bool {
	return c.session.Cancel(c.id)
}

func (c *Call) startAttempt(wireID protocol.ID, connID string, n int) {
	c.mu.Lock()
	c.wireID, c.connID, c.attempts = wireID, connID, n
	c.mu.Unlock()
}

func (c *Call) current() (protocol.ID, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wireID, c.connID
}

func (c *Call) abort(cause error) {
	c.cancel(cause)
}

func (c *Call) finish(result json.RawMessage, err error) {
	c.result, c.err = result, err
	close(c.done)
}

// CallOption configures one call
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
	policy  resilience.RetryPolicy
}

// WithTimeout bounds the call, retries and the wait for a call slot
// included. It replaces the session RequestTimeout; a deadline already on
// the context still applies, so the earlier of the two wins.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithRetryPolicy overrides the session retry policy for one call
func WithRetryPolicy(p resilience.RetryPolicy) CallOption {
	return func(o *callOptions) { o.policy = p }
}

// WithoutRetry makes a single attempt
func WithoutRetry() CallOption {
	return func(o *callOptions) { o.policy.MaxAttempts = 1 }
}

// Go starts a call and returns without waiting for the result. It waits
// for a free slot when MaxConcurrentCalls calls are in flight.
func (s *Session) Go(ctx context.Context, method string, params interface{}, opts ...CallOption) (*Call, error) {
	if err := s.gate(method); err != nil {
		return nil, err
	}
	raw, err := encodeParams(method, params)
	if err != nil {
		return nil, err
	}

	co := callOptions{policy: s.engine.Policy()}
	for _, opt := range opts {
		opt(&co)
	}
	if co.timeout <= 0 {
		// The session default only bounds calls nobody else bounds
		if _, ok := ctx.Deadline(); !ok {
			co.timeout = s.config.RequestTimeout
		}
	}

	cancelTimeout := context.CancelFunc(func() {})
	if co.timeout > 0 {
		ctx, cancelTimeout = context.WithTimeout(ctx, co.timeout)
	}

	if s.callSem != nil {
		if err := s.callSem.Acquire(ctx, 1); err != nil {
			err = mcperrors.FromContext(ctx, method)
			cancelTimeout()
			return nil, err
		}
	}
	release := func() {
		if s.callSem != nil {
			s.callSem.Release(1)
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)

	call := &Call{
		session: s,
		id:      s.table.NextID(),
		method:  method,
		params:  raw,
		policy:  co.policy,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.callsMu.Lock()
	if s.closed.Load() {
		s.callsMu.Unlock()
		cancel(nil)
		cancelTimeout()
		release()
		return nil, mcperrors.SessionClosed(method)
	}
	s.calls[call.id] = call
	s.callWG.Add(1)
	s.callsMu.Unlock()

	go func() {
		defer s.callWG.Done()
		defer release()
		defer cancelTimeout()
		defer cancel(nil)
		s.run(ctx, call)
	}()
	return call, nil
}

// Request sends a request and waits for its result
func (s *Session) Request(ctx context.Context, method string, params interface{}, opts ...CallOption) (json.RawMessage, error) {
	call, err := s.Go(ctx, method, params, opts...)
	if err != nil {
		return nil, err
	}
	return call.Result()
}

// RequestInto sends a request and decodes its result into out
func (s *Session) RequestInto(ctx context.Context, method string, params, out interface{}, opts ...CallOption) error {
	raw, err := s.Request(ctx, method, params, opts...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return mcperrors.ProtocolViolation("malformed " + method + " result: " + err.Error())
	}
	return nil
}

// Ping checks that a peer answers
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.Request(ctx, protocol.MethodPing, nil)
	return err
}

func (s *Session) run(ctx context.Context, call *Call) {
	start := time.Now()

	ctx = logging.ContextWithRequestID(ctx, call.id.String())
	ctx = logging.ContextWithSessionID(ctx, s.id)
	ctx, span := observability.StartMethodSpan(ctx, s.tracer, call.method, trace.SpanKindClient,
		observability.AttrRequestID.String(call.id.String()),
		observability.AttrSessionID.String(s.id),
	)

	var result json.RawMessage
	err := s.engine.ExecuteWithPolicy(ctx, call.method, call.policy, func(ctx context.Context, ep resilience.Endpoint, attempt int) error {
		raw, err := s.attempt(ctx, call, ep, attempt)
		if err == nil {
			result = raw
		}
		return err
	})

	if err != nil {
		_, connID := call.current()
		err = mcperrors.Annotate(err, mcperrors.Context{
			SessionID: s.id,
			RequestID: call.id.String(),
			Method:    call.method,
			ConnID:    connID,
			Attempt:   call.Attempts(),
		})
	}

	span.SetAttributes(observability.AttrAttempt.Int(call.Attempts()))
	observability.EndSpan(span, err)
	if s.metrics != nil {
		s.metrics.RecordRequest(call.method, middleware.OutcomeLabel(err), time.Since(start))
	}

	s.callsMu.Lock()
	delete(s.calls, call.id)
	s.callsMu.Unlock()

	call.finish(result, err)
}

// attempt runs one attempt on the selected connection: the outgoing chain,
// the round trip and the incoming chain
func (s *Session) attempt(ctx context.Context, call *Call, ep resilience.Endpoint, n int) (json.RawMessage, error) {
	conn := ep.(*pool.Connection)

	id := call.id
	if n > 1 {
		id = s.table.NextID()
	}
	call.startAttempt(id, conn.ID(), n)

	req := &middleware.Request{
		Method:  call.method,
		ID:      id,
		Params:  call.params,
		Attempt: n,
		Conn:    ep,
	}

	start := time.Now()
	resp := &middleware.Response{}
	actx, err := s.chain.Outgoing(ctx, req)
	if err == nil {
		resp.Result, err = s.roundTrip(actx, conn, req)
	}
	resp.Err = err
	resp.Latency = time.Since(start)

	if err := s.chain.Incoming(actx, req, resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// roundTrip registers the attempt, sends it and waits for the response
func (s *Session) roundTrip(ctx context.Context, conn *pool.Connection, req *middleware.Request) (json.RawMessage, error) {
	waiter, err := s.table.Register(req.ID, req.Method, conn.ID(), s.attemptDeadline(ctx))
	if err != nil {
		return nil, err
	}
	s.setPending()
	defer s.setPending()

	frame, err := protocol.Marshal(&protocol.Request{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             req.ID,
		Method:         req.Method,
		Params:         req.Params,
	})
	if err != nil {
		err = mcperrors.InvalidParams(req.Method, err)
		s.table.Fail(req.ID, err)
		return nil, err
	}

	if err := conn.Transport().Send(ctx, frame); err != nil {
		err = s.sendError(ctx, conn, req.Method, err)
		s.table.Fail(req.ID, err)
		return nil, err
	}

	resp, err := waiter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// sendError classifies a transport send failure
func (s *Session) sendError(ctx context.Context, conn *pool.Connection, method string, err error) error {
	if ctx.Err() != nil {
		return mcperrors.FromContext(ctx, method)
	}
	if _, ok := mcperrors.AsMCPError(err); ok {
		return err
	}
	if errors.Is(err, transport.ErrClosed) {
		return mcperrors.ConnectionLost("session", conn.ID(), err)
	}
	return mcperrors.TransportError("session", "send", err)
}

// Notify sends a notification: one attempt, no correlation entry
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	if err := s.gate(method); err != nil {
		return err
	}
	raw, err := encodeParams(method, params)
	if err != nil {
		return err
	}

	policy := s.engine.Policy()
	policy.MaxAttempts = 1

	err = s.engine.ExecuteWithPolicy(ctx, method, policy, func(ctx context.Context, ep resilience.Endpoint, attempt int) error {
		conn := ep.(*pool.Connection)
		req := &middleware.Request{Method: method, Params: raw, Attempt: attempt, Conn: ep}

		start := time.Now()
		actx, err := s.chain.Outgoing(ctx, req)
		if err == nil {
			err = s.sendNotification(actx, conn, method, req.Params)
		}
		return s.chain.Incoming(actx, req, &middleware.Response{Err: err, Latency: time.Since(start)})
	})

	if s.metrics != nil {
		s.metrics.RecordNotification(method, middleware.OutcomeLabel(err))
	}
	return err
}

func (s *Session) sendNotification(ctx context.Context, conn *pool.Connection, method string, params json.RawMessage) error {
	frame, err := protocol.Marshal(&protocol.Notification{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		Method:         method,
		Params:         params,
	})
	if err != nil {
		return mcperrors.InvalidParams(method, err)
	}
	if err := conn.Transport().Send(ctx, frame); err != nil {
		return s.sendError(ctx, conn, method, err)
	}
	return nil
}

// Cancel cancels a call by its logical id. A pending attempt resolves as
// Cancelled and the peer is told with notifications/cancelled; a call in
// backoff makes no further attempt. It reports false for unknown ids.
func (s *Session) Cancel(id protocol.ID) bool {
	s.callsMu.Lock()
	call, ok := s.calls[id]
	s.callsMu.Unlock()
	if !ok {
		return false
	}

	cause := mcperrors.Cancelled(call.method, context.Canceled)
	wireID, connID := call.current()
	sent := wireID.IsValid() && s.table.Cancel(wireID, context.Canceled)
	call.abort(cause)

	if sent {
		s.notifyCancelled(connID, wireID, "cancelled by client")
	}
	s.logger.Debug("Call cancelled",
		logging.Stringer("id", id),
		logging.String("method", call.method),
	)
	return true
}

// notifyCancelled tells the peer on connID to stop working on wireID
func (s *Session) notifyCancelled(connID string, wireID protocol.ID, reason string) {
	conn, ok := s.pool.Get(connID)
	if !ok {
		return
	}
	params, err := json.Marshal(protocol.CancelledParams{RequestID: wireID, Reason: reason})
	if err != nil {
		return
	}

	timeout := s.config.ProbeTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := s.sendNotification(ctx, conn, protocol.MethodCancelled, params); err != nil {
		s.logger.Debug("Cancel notification not delivered",
			logging.String("conn_id", connID),
			logging.ErrorField(err),
		)
	}
}

func encodeParams(method string, params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, mcperrors.InvalidParams(method, err)
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

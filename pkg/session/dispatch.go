package session

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

// Dispatcher handles frames the peer initiates. The session answers ping
// itself and never passes it on.
type Dispatcher interface {
	// HandleRequest returns the result for a request. Returning an MCPError
	// sends its code to the peer; other errors become internal errors.
	HandleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

	// HandleNotification processes a notification
	HandleNotification(ctx context.Context, method string, params json.RawMessage)
}

// HandlerFunc handles one request
type HandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandlerFunc handles one notification
type NotificationHandlerFunc func(ctx context.Context, params json.RawMessage)

// Mux dispatches by method name. It is safe for concurrent use and
// handlers may be registered while the session runs.
type Mux struct {
	mu            sync.RWMutex
	requests      map[string]HandlerFunc
	notifications map[string]NotificationHandlerFunc
}

// NewMux creates an empty Mux
func NewMux() *Mux {
	return &Mux{
		requests:      make(map[string]HandlerFunc),
		notifications: make(map[string]NotificationHandlerFunc),
	}
}

// Handle registers the handler for a request method
func (m *Mux) Handle(method string, h HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[method] = h
}

// HandleNotificationFunc registers the handler for a notification method
func (m *Mux) HandleNotificationFunc(method string, h NotificationHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[method] = h
}

// HandleRequest implements Dispatcher
func (m *Mux) HandleRequest(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	m.mu.RLock()
	h, ok := m.requests[method]
	m.mu.RUnlock()

	if !ok {
		return nil, mcperrors.MethodNotFound(method)
	}
	return h(ctx, params)
}

// HandleNotification implements Dispatcher. Unknown notifications are
// ignored.
func (m *Mux) HandleNotification(ctx context.Context, method string, params json.RawMessage) {
	m.mu.RLock()
	h, ok := m.notifications[method]
	m.mu.RUnlock()

	if ok {
		h(ctx, params)
	}
}

// servingKey identifies a request the peer sent on one connection
type servingKey struct {
	connID string
	id     protocol.ID
}

// handleFrame processes one parsed frame from conn. Responses resolve
// inline so they stay in transport order. Requests and notifications run
// on their own goroutines, at most MaxConcurrentHandlers at a time; the
// reader never waits for a slot.
func (s *Session) handleFrame(conn *pool.Connection, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Response:
		s.table.Resolve(m)
	case *protocol.Request:
		s.chain.Observe(s.ctx, conn.ID(), m)
		if !s.spawnHandler(func() { s.serve(conn, m) }) {
			s.rejectRequest(conn, m)
		}
	case *protocol.Notification:
		s.chain.Observe(s.ctx, conn.ID(), m)
		if m.Method == protocol.MethodCancelled {
			s.peerCancelled(conn, m.Params)
			return
		}
		if !s.spawnHandler(func() { s.notified(m) }) {
			s.logger.Warn("Dropping notification, handlers busy",
				logging.String("conn_id", conn.ID()),
				logging.String("method", m.Method),
			)
		}
	}
}

// spawnHandler runs fn on a new goroutine if a handler slot is free
func (s *Session) spawnHandler(fn func()) bool {
	if s.handlerSem != nil && !s.handlerSem.TryAcquire(1) {
		return false
	}
	s.handlerWG.Add(1)
	go func() {
		defer s.handlerWG.Done()
		if s.handlerSem != nil {
			defer s.handlerSem.Release(1)
		}
		fn()
	}()
	return true
}

// rejectRequest answers req with an Overloaded error. The send runs off the
// reader goroutine.
func (s *Session) rejectRequest(conn *pool.Connection, req *protocol.Request) {
	s.logger.Warn("Rejecting request, handlers busy",
		logging.String("conn_id", conn.ID()),
		logging.String("method", req.Method),
		logging.Stringer("id", req.ID),
	)
	rejected := mcperrors.Overloaded(req.Method)
	if s.metrics != nil {
		s.metrics.RecordIncomingRequest(req.Method, middleware.OutcomeLabel(rejected), 0)
	}

	frame, err := protocol.Marshal(mcperrors.ToErrorResponse(req.ID, rejected))
	if err != nil {
		return
	}
	s.handlerWG.Add(1)
	go func() {
		defer s.handlerWG.Done()
		if err := conn.Transport().Send(s.ctx, frame); err != nil {
			s.logger.Debug("Failed to send rejection", logging.String("conn_id", conn.ID()), logging.ErrorField(err))
		}
	}()
}

// serve answers one request from the peer
func (s *Session) serve(conn *pool.Connection, req *protocol.Request) {
	start := time.Now()
	key := servingKey{connID: conn.ID(), id: req.ID}

	ctx, cancel := context.WithCancelCause(s.ctx)
	defer cancel(nil)

	s.servingMu.Lock()
	s.serving[key] = cancel
	s.servingMu.Unlock()
	defer func() {
		s.servingMu.Lock()
		delete(s.serving, key)
		s.servingMu.Unlock()
	}()

	ctx = logging.ContextWithRequestID(ctx, req.ID.String())
	ctx = logging.ContextWithSessionID(ctx, s.id)
	ctx, span := observability.StartMethodSpan(ctx, s.tracer, req.Method, trace.SpanKindServer,
		observability.AttrRequestID.String(req.ID.String()),
		observability.AttrConnID.String(conn.ID()),
	)

	result, err := s.dispatch(ctx, req)
	observability.EndSpan(span, err)
	if s.metrics != nil {
		s.metrics.RecordIncomingRequest(req.Method, middleware.OutcomeLabel(err), time.Since(start))
	}

	// The peer abandoned the request; it expects no response
	if context.Cause(ctx) != nil && s.ctx.Err() == nil {
		s.logger.Debug("Dropping response to cancelled request", logging.Stringer("id", req.ID))
		return
	}

	var resp *protocol.Response
	if err != nil {
		resp = mcperrors.ToErrorResponse(req.ID, err)
	} else if resp, err = protocol.NewResponse(req.ID, result); err != nil {
		resp = mcperrors.ToErrorResponse(req.ID, mcperrors.InternalError(req.Method, err))
	}

	frame, err := protocol.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response", logging.String("method", req.Method), logging.ErrorField(err))
		return
	}
	if err := conn.Transport().Send(s.ctx, frame); err != nil {
		s.logger.Warn("Failed to send response",
			logging.String("conn_id", conn.ID()),
			logging.String("method", req.Method),
			logging.ErrorField(err),
		)
	}
}

// dispatch runs the handler for req, turning panics into internal errors
func (s *Session) dispatch(ctx context.Context, req *protocol.Request) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			result, err = nil, mcperrors.InternalError(req.Method, fmt.Errorf("panic: %v", r))
		}
	}()

	if req.Method == protocol.MethodPing {
		return struct{}{}, nil
	}

	params, _, err := middleware.Decompress(req.Params)
	if err != nil {
		return nil, mcperrors.InvalidParams(req.Method, err)
	}
	if s.dispatcher == nil {
		return nil, mcperrors.MethodNotFound(req.Method)
	}
	return s.dispatcher.HandleRequest(ctx, req.Method, params)
}

func (s *Session) notified(n *protocol.Notification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notification handler panicked",
				logging.String("method", n.Method),
				logging.Any("panic", r),
			)
		}
	}()

	if s.dispatcher == nil {
		return
	}
	params, _, err := middleware.Decompress(n.Params)
	if err != nil {
		s.logger.Warn("Dropping notification with bad payload", logging.String("method", n.Method), logging.ErrorField(err))
		return
	}
	s.dispatcher.HandleNotification(logging.ContextWithSessionID(s.ctx, s.id), n.Method, params)
}

// peerCancelled stops the handler of a request the peer gave up on
func (s *Session) peerCancelled(conn *pool.Connection, raw json.RawMessage) {
	var params protocol.CancelledParams
	if err := json.Unmarshal(raw, &params); err != nil || !params.RequestID.IsValid() {
		s.logger.Debug("Ignoring malformed cancel notification", logging.String("conn_id", conn.ID()))
		return
	}

	s.servingMu.Lock()
	cancel, ok := s.serving[servingKey{connID: conn.ID(), id: params.RequestID}]
	s.servingMu.Unlock()
	if !ok {
		return
	}

	cancel(mcperrors.Cancelled("peer", fmt.Errorf("%s", params.Reason)))
	s.logger.Debug("Peer cancelled request",
		logging.Stringer("id", params.RequestID),
		logging.String("reason", params.Reason),
	)
}

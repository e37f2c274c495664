package session

import (
	"context"
	"errors"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// AddTransport puts t in the pool and starts its reader loop. The session
// owns t from then on.
func (s *Session) AddTransport(t transport.Transport, opts ...pool.AddOption) (*pool.Connection, error) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	if s.closed.Load() {
		return nil, mcperrors.SessionClosed("add transport")
	}

	conn, err := s.pool.Add(t, opts...)
	if err != nil {
		return nil, err
	}
	s.cascade.Watch(conn.Breaker())
	if s.metrics != nil {
		s.metrics.ConnectionAdded(conn.ID())
	}

	s.group.Go(func() error {
		s.readLoop(conn)
		return nil
	})
	return conn, nil
}

// RemoveConnection takes a connection out of the pool, fails its pending
// requests and closes its transport
func (s *Session) RemoveConnection(id string) error {
	conn, err := s.pool.Remove(id)
	if err != nil {
		return err
	}
	s.retire(conn, mcperrors.ConnectionLost("session", id, errors.New("connection removed")))
	return conn.Transport().Close()
}

// retire forgets a connection that has left the pool
func (s *Session) retire(conn *pool.Connection, cause error) {
	s.cascade.Unwatch(conn.ID())
	s.table.FailConnection(conn.ID(), cause)
	if s.metrics != nil {
		s.metrics.ConnectionRemoved(conn.ID())
	}
}

// readLoop delivers the frames of one connection in transport order until
// the connection leaves the pool or the session closes
func (s *Session) readLoop(conn *pool.Connection) {
	logger := s.logger.WithFields(logging.String("conn_id", conn.ID()))
	logger.Debug("Reader started")
	defer logger.Debug("Reader stopped")

	for {
		frame, err := conn.Transport().Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if _, ok := s.pool.Get(conn.ID()); !ok {
				// Removed through the admin surface
				return
			}
			if s.connectionLost(conn, err) {
				continue
			}
			return
		}

		msgs, err := protocol.ParseMessages(frame)
		if err != nil {
			logger.Warn("Dropping malformed frame", logging.ErrorField(err), logging.Int("size", len(frame)))
			continue
		}
		for _, msg := range msgs {
			s.handleFrame(conn, msg)
		}
	}
}

// connectionLost handles a terminal receive error. Pending requests on the
// connection fail with a retryable error; the transport is reconnected
// when it supports that, otherwise the connection is removed. It reports
// whether the reader should continue.
func (s *Session) connectionLost(conn *pool.Connection, cause error) bool {
	lost := mcperrors.ConnectionLost("session", conn.ID(), cause)
	n := s.table.FailConnection(conn.ID(), lost)

	s.logger.Warn("Connection lost",
		logging.String("conn_id", conn.ID()),
		logging.Int("failed_requests", n),
		logging.ErrorField(cause),
	)

	if r, ok := conn.Transport().(transport.Reconnector); ok && !errors.Is(cause, transport.ErrClosed) {
		ctx, cancel := context.WithTimeout(s.ctx, s.config.ReconnectTimeout)
		err := r.Reconnect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("Connection re-established", logging.String("conn_id", conn.ID()))
			return true
		}
		s.logger.Warn("Reconnect failed", logging.String("conn_id", conn.ID()), logging.ErrorField(err))
	}

	if _, err := s.pool.Remove(conn.ID()); err != nil {
		return false
	}
	s.retire(conn, lost)
	_ = conn.Transport().Close()
	return false
}

// probeLoop pings unhealthy connections until the session closes
func (s *Session) probeLoop() error {
	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, conn := range s.pool.Unhealthy() {
				s.probe(conn)
			}
		case <-s.ctx.Done():
			return nil
		}
	}
}

// probe sends ping directly on conn, outside the middleware chain and the
// breaker. Any answer, even an error response, proves the connection
// carries traffic and restores it.
func (s *Session) probe(conn *pool.Connection) {
	timeout := s.config.ProbeTimeout
	if timeout <= 0 {
		timeout = s.config.ProbeInterval
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	id := s.table.NextID()
	waiter, err := s.table.Register(id, protocol.MethodPing, conn.ID(), time.Now().Add(timeout))
	if err != nil {
		return
	}

	frame, err := protocol.Marshal(&protocol.Request{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		ID:             id,
		Method:         protocol.MethodPing,
	})
	if err == nil {
		err = conn.Transport().Send(ctx, frame)
	}
	if err != nil {
		s.table.Fail(id, err)
	} else {
		_, err = waiter.Wait(ctx)
	}

	if resilience.Classify(err) != resilience.OutcomeSuccess {
		s.logger.Debug("Health probe failed", logging.String("conn_id", conn.ID()), logging.ErrorField(err))
		return
	}
	if err := s.pool.ReportOutcome(conn.ID(), true); err == nil {
		s.logger.Info("Health probe succeeded", logging.String("conn_id", conn.ID()))
	}
}

package middleware

import (
	"context"

	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
)

type loggingMiddleware struct {
	logger logging.Logger
}

// Logging logs every attempt, its outcome and every peer-initiated frame
// at debug level; failed attempts are logged at warn
func Logging(logger logging.Logger) Middleware {
	return &loggingMiddleware{
		logger: logging.OrNop(logger).WithFields(logging.Component("middleware")),
	}
}

func (m *loggingMiddleware) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.Int("attempt", req.Attempt),
	}
	if req.ID.IsValid() {
		fields = append(fields, logging.Stringer("id", req.ID))
	}
	if req.Conn != nil {
		fields = append(fields, logging.String("conn_id", req.Conn.ID()))
	}
	m.logger.WithContext(ctx).Debug("Sending", fields...)
	return ctx, nil
}

func (m *loggingMiddleware) Incoming(ctx context.Context, req *Request, resp *Response) error {
	logger := m.logger.WithContext(ctx)
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.Int("attempt", req.Attempt),
		logging.Duration("latency", resp.Latency),
	}
	if resp.Err != nil {
		logger.Warn("Attempt failed", append(fields, logging.ErrorField(resp.Err))...)
		return nil
	}
	logger.Debug("Received", fields...)
	return nil
}

func (m *loggingMiddleware) Observe(ctx context.Context, connID string, msg protocol.Message) {
	fields := []logging.Field{
		logging.String("conn_id", connID),
		logging.Stringer("kind", msg.Kind()),
	}
	switch v := msg.(type) {
	case *protocol.Request:
		fields = append(fields, logging.String("method", v.Method), logging.Stringer("id", v.ID))
	case *protocol.Notification:
		fields = append(fields, logging.String("method", v.Method))
	}
	m.logger.WithContext(ctx).Debug("Peer frame", fields...)
}

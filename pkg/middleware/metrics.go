package middleware

import (
	"context"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// Recorder receives one observation per attempt
type Recorder interface {
	ObserveAttempt(method, connID, outcome string, latency time.Duration)
}

type metricsMiddleware struct {
	recorder Recorder
}

// Metrics reports every attempt to recorder with an outcome label: "ok",
// "remote_error", or the error category of a local failure
func Metrics(recorder Recorder) Middleware {
	return &metricsMiddleware{recorder: recorder}
}

func (m *metricsMiddleware) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	return ctx, nil
}

func (m *metricsMiddleware) Incoming(ctx context.Context, req *Request, resp *Response) error {
	connID := ""
	if req.Conn != nil {
		connID = req.Conn.ID()
	}
	m.recorder.ObserveAttempt(req.Method, connID, OutcomeLabel(resp.Err), resp.Latency)
	return nil
}

// OutcomeLabel maps an attempt error to a metric label
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case mcperrors.IsRemote(err):
		return "remote_error"
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		return string(mcpErr.Category())
	}
	return "error"
}

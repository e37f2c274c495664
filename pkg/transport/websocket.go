package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// WebSocket implements Transport with one text message per frame
type WebSocket struct {
	url    string
	cfg    Config
	logger logging.Logger
	in     *inbox

	connMu sync.Mutex
	conn   net.Conn
	done   chan struct{} // closed when the current conn's reader exits

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// DialWebSocket connects to cfg.Endpoint (ws:// or wss://). The
// Authorization header is taken from the AuthContext in ctx.
func DialWebSocket(ctx context.Context, cfg Config) (*WebSocket, error) {
	cfg = cfg.withDefaults()
	t := &WebSocket{
		url:    cfg.Endpoint,
		cfg:    cfg,
		logger: transportLogger(cfg),
		in:     newInbox(cfg.QueueSize),
	}
	if err := t.dial(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *WebSocket) dial(ctx context.Context) error {
	dialer := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(handshakeHeader(ctx, t.cfg.Headers)),
		Timeout: t.cfg.ConnectTimeout,
	}

	conn, _, _, err := dialer.Dial(ctx, t.url)
	if err != nil {
		if ctx.Err() != nil {
			return mcperrors.ConnectionTimeout("websocket", t.url, t.cfg.ConnectTimeout)
		}
		return mcperrors.ConnectionFailed("websocket", t.url, err)
	}

	done := make(chan struct{})
	t.connMu.Lock()
	t.conn = conn
	t.done = done
	t.connMu.Unlock()

	go t.readLoop(conn, done)
	return nil
}

func (t *WebSocket) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	for {
		msg, op, err := wsutil.ReadServerData(conn)
		if err != nil {
			if t.in.isClosed() {
				return
			}
			var closed wsutil.ClosedError
			if errors.As(err, &closed) || errors.Is(err, io.EOF) {
				t.in.fail(io.EOF)
				return
			}
			t.logger.Warn("WebSocket read failed", logging.ErrorField(err))
			t.in.fail(mcperrors.ConnectionLost("websocket", t.url, err))
			return
		}

		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		if len(msg) > t.cfg.MaxFrameSize {
			t.logger.Warn("Dropping oversized frame", logging.Int("size", len(msg)))
			continue
		}
		if !t.in.push(context.Background(), msg) {
			return
		}
	}
}

func (t *WebSocket) current() net.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

// Send writes a frame as a single text message
func (t *WebSocket) Send(ctx context.Context, frame []byte) error {
	if t.in.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn := t.current()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	defer conn.SetWriteDeadline(time.Time{})

	if err := wsutil.WriteClientMessage(conn, ws.OpText, frame); err != nil {
		if t.in.isClosed() {
			return ErrClosed
		}
		return mcperrors.TransportError("websocket", "send", err)
	}
	return nil
}

// Receive returns the next message
func (t *WebSocket) Receive(ctx context.Context) ([]byte, error) {
	return t.in.receive(ctx)
}

// Reconnect drops the current connection and dials again
func (t *WebSocket) Reconnect(ctx context.Context) error {
	if t.in.isClosed() {
		return ErrClosed
	}

	t.connMu.Lock()
	conn, done := t.conn, t.done
	t.connMu.Unlock()

	_ = conn.Close()
	<-done

	t.in.reset()
	t.logger.Info("Reconnecting", logging.String("endpoint", t.url))
	return t.dial(ctx)
}

// Close sends a close frame and closes the connection
func (t *WebSocket) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.in.close()

		t.connMu.Lock()
		conn, done := t.conn, t.done
		t.connMu.Unlock()

		t.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		t.writeMu.Unlock()

		err = conn.Close()
		<-done
	})
	return err
}

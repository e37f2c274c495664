package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// SessionIDHeader carries the server-assigned session across requests
const SessionIDHeader = "Mcp-Session-Id"

// StreamableHTTP implements the streamable HTTP transport. Every frame is
// POSTed to the endpoint; the server answers with a JSON body, an SSE
// stream of frames, or 202/204 with no content. Everything the server
// sends back is queued for Receive.
type StreamableHTTP struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
	logger   logging.Logger
	cfg      Config

	in *inbox

	mu        sync.Mutex
	sessionID string

	// lifetime bounds response streams and the listener; cancelled by Close
	lifetime   context.Context
	stop       context.CancelFunc
	listenOnce sync.Once

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStreamableHTTP creates a streamable HTTP transport. No request is made
// until the first Send.
func NewStreamableHTTP(cfg Config) (*StreamableHTTP, error) {
	cfg = cfg.withDefaults()
	lifetime, stop := context.WithCancel(context.Background())

	return &StreamableHTTP{
		endpoint: cfg.Endpoint,
		client:   httpClient(cfg),
		headers:  cfg.Headers,
		logger:   transportLogger(cfg),
		cfg:      cfg,
		in:       newInbox(cfg.QueueSize),
		lifetime: lifetime,
		stop:     stop,
	}, nil
}

// SessionID returns the session assigned by the server, if any
func (t *StreamableHTTP) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *StreamableHTTP) newRequest(ctx, reqCtx context.Context, method string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(reqCtx, method, t.endpoint, body)
	if err != nil {
		return nil, err
	}
	prepareRequest(ctx, req, t.headers)
	if sessionID := t.SessionID(); sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	return req, nil
}

// Send POSTs a frame. ctx bounds the wait for the response headers; an SSE
// response body keeps streaming after Send returns, until Close.
func (t *StreamableHTTP) Send(ctx context.Context, frame []byte) error {
	if t.in.isClosed() {
		return ErrClosed
	}

	reqCtx, cancel := context.WithCancel(t.lifetime)
	abort := context.AfterFunc(ctx, cancel)

	req, err := t.newRequest(ctx, reqCtx, http.MethodPost, bytes.NewReader(frame))
	if err != nil {
		abort()
		cancel()
		return mcperrors.TransportError("streamable_http", "send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		abort()
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if t.in.isClosed() {
			return ErrClosed
		}
		return mcperrors.HTTPTransportError("send", t.endpoint, 0, err)
	}

	if resp.StatusCode >= 400 {
		abort()
		defer cancel()
		drain(resp.Body)
		if resp.StatusCode == http.StatusNotFound && t.SessionID() != "" {
			// The server forgot the session; the next initialize starts a new one
			t.setSessionID("")
		}
		return mcperrors.HTTPTransportError("send", t.endpoint, resp.StatusCode, nil)
	}

	if sessionID := resp.Header.Get(SessionIDHeader); sessionID != "" {
		t.setSessionID(sessionID)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		// Hand the stream off; it is bound to the transport lifetime now
		abort()
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer cancel()
			t.consumeStream(resp.Body, "post")
		}()

	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusNoContent:
		abort()
		drain(resp.Body)
		cancel()

	default:
		defer cancel()
		defer abort()
		body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.cfg.MaxFrameSize)+1))
		_ = resp.Body.Close()
		if err != nil {
			return mcperrors.HTTPTransportError("receive", t.endpoint, resp.StatusCode, err)
		}
		if len(body) > t.cfg.MaxFrameSize {
			return mcperrors.TransportError("streamable_http", "receive", errors.New("response exceeds max frame size"))
		}
		if len(bytes.TrimSpace(body)) > 0 && !t.in.push(ctx, body) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrClosed
		}
	}

	if t.cfg.Listen {
		t.listenOnce.Do(func() {
			t.wg.Add(1)
			go t.listen()
		})
	}
	return nil
}

func (t *StreamableHTTP) setSessionID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionID != id {
		t.logger.Debug("Session ID updated", logging.String("mcp_session_id", id))
		t.sessionID = id
	}
}

// consumeStream queues every event of an SSE response body
func (t *StreamableHTTP) consumeStream(body io.ReadCloser, origin string) {
	defer body.Close()

	err := readEvents(body, t.cfg.MaxFrameSize, func(ev event) error {
		if ev.Type != "" && ev.Type != "message" {
			return nil
		}
		if !t.in.push(t.lifetime, []byte(ev.Data)) {
			return ErrClosed
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, ErrClosed) && t.lifetime.Err() == nil {
		t.logger.Warn("Event stream ended with error", logging.String("stream", origin), logging.ErrorField(err))
	}
}

// listen opens the optional GET stream for server-initiated messages.
// Servers that do not offer one answer 405, which is not an error.
func (t *StreamableHTTP) listen() {
	defer t.wg.Done()

	req, err := t.newRequest(t.lifetime, t.lifetime, http.MethodGet, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		if t.lifetime.Err() == nil {
			t.logger.Warn("Listener stream failed", logging.ErrorField(err))
		}
		return
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.logger.Warn("Listener stream refused", logging.Int("status", resp.StatusCode))
		}
		return
	}
	t.consumeStream(resp.Body, "listen")
}

// Receive returns the next frame sent by the server
func (t *StreamableHTTP) Receive(ctx context.Context) ([]byte, error) {
	return t.in.receive(ctx)
}

// Close terminates the server session (best effort) and stops all streams
func (t *StreamableHTTP) Close() error {
	t.closeOnce.Do(func() {
		if sessionID := t.SessionID(); sessionID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			req, err := t.newRequest(ctx, ctx, http.MethodDelete, nil)
			if err == nil {
				if resp, err := t.client.Do(req); err == nil {
					drain(resp.Body)
				}
			}
			cancel()
		}

		t.in.close()
		t.stop()
		t.wg.Wait()
	})
	return nil
}

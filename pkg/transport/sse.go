package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// SSE implements the HTTP+SSE transport: a long-lived GET stream carries
// frames from the server, and frames to the server are POSTed to the URL
// announced by the stream's "endpoint" event.
type SSE struct {
	base    *url.URL
	client  *http.Client
	headers map[string]string
	logger  logging.Logger
	cfg     Config

	in *inbox

	mu       sync.Mutex
	endpoint string
	ready    chan struct{}
	stop     context.CancelFunc
	done     chan struct{} // closed when the current stream's reader exits

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// DialSSE opens the event stream and waits for the endpoint event
func DialSSE(ctx context.Context, cfg Config) (*SSE, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, mcperrors.ConnectionFailed("sse", cfg.Endpoint, err)
	}

	t := &SSE{
		base:    base,
		client:  httpClient(cfg),
		headers: cfg.Headers,
		logger:  transportLogger(cfg),
		cfg:     cfg,
		in:      newInbox(cfg.QueueSize),
	}
	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// connect opens a new event stream. The stream outlives ctx; ctx only
// bounds the wait for response headers and the endpoint event.
func (t *SSE) connect(ctx context.Context) error {
	streamCtx, stop := context.WithCancel(context.Background())
	ready := make(chan struct{})

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.base.String(), nil)
	if err != nil {
		stop()
		return mcperrors.ConnectionFailed("sse", t.base.String(), err)
	}
	prepareRequest(ctx, req, t.headers)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	abort := context.AfterFunc(ctx, stop)
	resp, err := t.client.Do(req)
	if err != nil {
		abort()
		stop()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return mcperrors.ConnectionTimeout("sse", t.base.String(), t.cfg.ConnectTimeout)
		}
		return mcperrors.ConnectionFailed("sse", t.base.String(), err)
	}
	if resp.StatusCode != http.StatusOK {
		abort()
		stop()
		drain(resp.Body)
		return mcperrors.HTTPTransportError("connect", t.base.String(), resp.StatusCode, nil)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		abort()
		stop()
		drain(resp.Body)
		return mcperrors.ConnectionFailed("sse", t.base.String(), fmt.Errorf("unexpected content type %q", ct))
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.endpoint = ""
	t.ready = ready
	t.stop = stop
	t.done = done
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readStream(resp.Body, ready, stop, done)

	select {
	case <-ready:
		abort()
		return nil
	case <-ctx.Done():
		stop()
		return mcperrors.ConnectionTimeout("sse", t.base.String(), t.cfg.ConnectTimeout)
	}
}

func (t *SSE) readStream(body io.ReadCloser, ready chan struct{}, stop context.CancelFunc, done chan struct{}) {
	defer t.wg.Done()
	defer close(done)
	defer body.Close()
	defer stop()

	var readyOnce sync.Once
	err := readEvents(body, t.cfg.MaxFrameSize, func(ev event) error {
		switch ev.Type {
		case "endpoint":
			endpoint, err := t.base.Parse(strings.TrimSpace(ev.Data))
			if err != nil {
				return fmt.Errorf("bad endpoint event %q: %w", ev.Data, err)
			}
			t.mu.Lock()
			t.endpoint = endpoint.String()
			t.mu.Unlock()
			readyOnce.Do(func() { close(ready) })
			t.logger.Debug("SSE endpoint received", logging.String("endpoint", endpoint.String()))
		case "", "message":
			if !t.in.push(context.Background(), []byte(ev.Data)) {
				return ErrClosed
			}
		default:
			t.logger.Debug("Ignoring SSE event", logging.String("event", ev.Type))
		}
		return nil
	})

	if t.in.isClosed() || errors.Is(err, ErrClosed) {
		return
	}
	if errors.Is(err, io.EOF) {
		t.in.fail(io.EOF)
		return
	}
	t.logger.Warn("SSE stream failed", logging.ErrorField(err))
	t.in.fail(mcperrors.ConnectionLost("sse", t.base.String(), err))
}

// Send POSTs a frame to the announced endpoint
func (t *SSE) Send(ctx context.Context, frame []byte) error {
	if t.in.isClosed() {
		return ErrClosed
	}

	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(frame))
	if err != nil {
		return mcperrors.TransportError("sse", "send", err)
	}
	prepareRequest(ctx, req, t.headers)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return mcperrors.HTTPTransportError("send", endpoint, 0, err)
	}
	defer drain(resp.Body)

	if resp.StatusCode >= 300 {
		return mcperrors.HTTPTransportError("send", endpoint, resp.StatusCode, nil)
	}
	return nil
}

// Receive returns the next message event
func (t *SSE) Receive(ctx context.Context) ([]byte, error) {
	return t.in.receive(ctx)
}

// Reconnect opens a fresh event stream after the previous one ended
func (t *SSE) Reconnect(ctx context.Context) error {
	if t.in.isClosed() {
		return ErrClosed
	}

	t.mu.Lock()
	stop, done := t.stop, t.done
	t.mu.Unlock()
	stop()
	<-done

	t.in.reset()
	return t.connect(ctx)
}

// Close ends the event stream
func (t *SSE) Close() error {
	t.closeOnce.Do(func() {
		t.in.close()
		t.mu.Lock()
		stop := t.stop
		t.mu.Unlock()
		if stop != nil {
			stop()
		}
		t.wg.Wait()
	})
	return nil
}

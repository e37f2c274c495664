package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
)

// event is one Server-Sent Event
type event struct {
	ID    string
	Type  string
	Data  string
	Retry string
}

// readEvents parses a text/event-stream body and calls fn for every
// complete event. It returns io.EOF when the stream ends cleanly; an
// incomplete trailing event is discarded.
func readEvents(r io.Reader, maxSize int, fn func(event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(4096, maxSize)), maxSize)

	var (
		ev   event
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()

		// Empty line means end of event
		if line == "" {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				if err := fn(ev); err != nil {
					return err
				}
			}
			ev, data = event{}, nil
			continue
		}

		// Comment / keep-alive
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
		case "event":
			ev.Type = value
		case "id":
			ev.ID = value
		case "retry":
			ev.Retry = value
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// prepareRequest sets the static headers, the Authorization header from the
// AuthContext in ctx, and the W3C trace context of the span in ctx.
func prepareRequest(ctx context.Context, req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if ac, ok := auth.FromContext(ctx); ok {
		req.Header.Set(ac.HeaderName(), ac.HeaderValue())
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// handshakeHeader builds the header set for handshakes that are not plain
// HTTP requests (WebSocket upgrade).
func handshakeHeader(ctx context.Context, headers map[string]string) http.Header {
	req := &http.Request{Header: http.Header{}}
	prepareRequest(ctx, req, headers)
	return req.Header
}

func httpClient(cfg Config) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{}
}

// drain discards the rest of a response body so the connection can be reused
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	_ = body.Close()
}

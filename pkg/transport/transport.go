package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
)

// ErrClosed is returned by Send and Receive after Close
var ErrClosed = errors.New("transport: closed")

// Transport moves opaque frames between two peers.
// Send and Receive may be called concurrently with each other; Receive
// must be called from a single goroutine.
type Transport interface {
	// Send writes one frame
	Send(ctx context.Context, frame []byte) error

	// Receive blocks until the next frame arrives. It returns io.EOF when
	// the peer ends the stream and ErrClosed after Close.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the transport. It is safe to call more than once.
	Close() error
}

// Reconnector is implemented by transports whose receive sequence can be
// restarted after a terminal receive error.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Type identifies the transport implementation
type Type string

const (
	TypeStdio          Type = "stdio"
	TypeWebSocket      Type = "websocket"
	TypeSSE            Type = "sse"
	TypeStreamableHTTP Type = "streamable_http"
	TypeHTTP           Type = "http" // alias for TypeStreamableHTTP
)

// Config is the configuration for all transports
type Config struct {
	// Type of transport to create
	Type Type `json:"type"`

	// Endpoint is the URL for HTTP and WebSocket transports
	Endpoint string `json:"endpoint,omitempty"`

	// Command starts a subprocess and speaks stdio to it
	Command []string `json:"command,omitempty"`

	// Headers are added to every HTTP request and WebSocket handshake
	Headers map[string]string `json:"headers,omitempty"`

	ConnectTimeout time.Duration `json:"connectTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`

	// MaxFrameSize bounds a single incoming frame in bytes
	MaxFrameSize int `json:"maxFrameSize"`

	// QueueSize is the number of received frames buffered ahead of Receive
	QueueSize int `json:"queueSize"`

	// Listen opens the optional server-to-client GET stream (streamable HTTP)
	Listen bool `json:"listen"`

	// Testing support (custom reader/writer for stdio)
	StdioReader io.Reader `json:"-"`
	StdioWriter io.Writer `json:"-"`

	HTTPClient *http.Client   `json:"-"`
	Logger     logging.Logger `json:"-"`
}

// DefaultConfig returns a config with sensible defaults for the given type
func DefaultConfig(t Type) Config {
	return Config{
		Type:           t,
		Headers:        map[string]string{},
		ConnectTimeout: 30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   4 * 1024 * 1024,
		QueueSize:      64,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Type)
	if c.Type == TypeHTTP {
		c.Type = TypeStreamableHTTP
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.QueueSize == 0 {
		c.QueueSize = def.QueueSize
	}
	return c
}

// Validate reports configuration errors
func (c Config) Validate() error {
	switch c.Type {
	case TypeStdio:
	case TypeWebSocket, TypeSSE, TypeStreamableHTTP, TypeHTTP:
		if c.Endpoint == "" {
			return fmt.Errorf("transport: %s requires an endpoint", c.Type)
		}
	case "":
		return fmt.Errorf("transport: type is required")
	default:
		return fmt.Errorf("transport: unknown type %q", c.Type)
	}

	if c.MaxFrameSize < 0 || c.QueueSize < 0 {
		return fmt.Errorf("transport: negative frame or queue size")
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("transport: negative timeout")
	}
	return nil
}

// Dial creates a transport from config. For connection-oriented transports
// it blocks until the connection is established or ConnectTimeout elapses.
func Dial(ctx context.Context, cfg Config) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var (
		t   Transport
		err error
	)
	switch cfg.Type {
	case TypeStdio:
		t, err = NewStdio(cfg)
	case TypeWebSocket:
		t, err = DialWebSocket(dialCtx, cfg)
	case TypeSSE:
		t, err = DialSSE(dialCtx, cfg)
	default:
		t, err = NewStreamableHTTP(cfg)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func transportLogger(cfg Config) logging.Logger {
	return logging.OrNop(cfg.Logger).WithFields(
		logging.Component("transport"),
		logging.String("transport", string(cfg.Type)),
	)
}

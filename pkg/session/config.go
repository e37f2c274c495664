package session

import (
	"fmt"
	"time"

	"github.com/hwiorn/mcp-sdk-go/pkg/correlation"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
)

// Config holds the session settings
type Config struct {
	// ClientInfo is sent in the initialize request
	ClientInfo protocol.Implementation `json:"clientInfo"`

	// Capabilities advertised during the handshake
	Capabilities protocol.Capabilities `json:"capabilities,omitempty"`

	// ProtocolVersion requested during the handshake
	ProtocolVersion string `json:"protocolVersion"`

	// RequestTimeout bounds a logical call, retries included, when the
	// caller's context carries no deadline
	RequestTimeout time.Duration `json:"requestTimeout"`

	// AttemptTimeout bounds the wait for one attempt's response; 0 leaves
	// only the call deadline
	AttemptTimeout time.Duration `json:"attemptTimeout"`

	// MaxConcurrentCalls bounds outgoing calls in flight; 0 is unbounded
	MaxConcurrentCalls int64 `json:"maxConcurrentCalls"`

	// MaxConcurrentHandlers bounds incoming requests and notifications being
	// handled; 0 is unbounded
	MaxConcurrentHandlers int64 `json:"maxConcurrentHandlers"`

	// ProbeInterval is how often unhealthy connections are pinged; 0
	// disables probing
	ProbeInterval time.Duration `json:"probeInterval"`
	ProbeTimeout  time.Duration `json:"probeTimeout"`

	// ReconnectTimeout bounds one reconnect of a transport that supports it
	ReconnectTimeout time.Duration `json:"reconnectTimeout"`

	Pool        pool.Config              `json:"pool"`
	Retry       resilience.RetryPolicy   `json:"retry"`
	Cascade     resilience.CascadeConfig `json:"cascade"`
	Correlation correlation.Config       `json:"correlation"`
}

// DefaultConfig returns the default session settings
func DefaultConfig() Config {
	return Config{
		ClientInfo:            protocol.Implementation{Name: "mcp-sdk-go", Version: "1.0.0"},
		Capabilities:          protocol.Capabilities{},
		ProtocolVersion:       protocol.ProtocolRevision,
		RequestTimeout:        30 * time.Second,
		MaxConcurrentCalls:    256,
		MaxConcurrentHandlers: 64,
		ProbeInterval:         5 * time.Second,
		ProbeTimeout:          2 * time.Second,
		ReconnectTimeout:      10 * time.Second,
		Pool:                  pool.DefaultConfig(),
		Retry:                 resilience.DefaultRetryPolicy(),
		Cascade:               resilience.DefaultCascadeConfig(),
		Correlation:           correlation.DefaultConfig(),
	}
}

// Validate reports impossible settings
func (c Config) Validate() error {
	if c.RequestTimeout < 0 || c.AttemptTimeout < 0 {
		return fmt.Errorf("session: timeouts must not be negative")
	}
	if c.ProbeInterval < 0 || c.ProbeTimeout < 0 || c.ReconnectTimeout < 0 {
		return fmt.Errorf("session: probe and reconnect timings must not be negative")
	}
	if c.MaxConcurrentCalls < 0 || c.MaxConcurrentHandlers < 0 {
		return fmt.Errorf("session: concurrency limits must not be negative")
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Cascade.Validate(); err != nil {
		return err
	}
	return nil
}

// Package config loads the file configuration of an MCP client: the
// connections to dial, the session and resilience settings, the
// middleware to install and the observability exporters.
//
// Files are YAML or JSON. Keys follow the json tags of the component
// configs and durations are written as Go duration strings:
//
//	clientInfo:
//	  name: my-client
//	  version: 1.0.0
//	connections:
//	  - id: primary
//	    transport:
//	      type: websocket
//	      endpoint: ws://localhost:8080/mcp
//	retry:
//	  maxAttempts: 5
//	  baseDelay: 200ms
//	middleware:
//	  rateLimit:
//	    mode: reject
//	    globalRps: 50
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	"github.com/hwiorn/mcp-sdk-go/pkg/correlation"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/protocol"
	"github.com/hwiorn/mcp-sdk-go/pkg/resilience"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// Config is the complete client configuration
type Config struct {
	ClientInfo      protocol.Implementation `json:"clientInfo"`
	ProtocolVersion string                  `json:"protocolVersion"`

	Logging     LoggingConfig            `json:"logging"`
	Connections []ConnectionConfig       `json:"connections"`
	Session     SessionConfig            `json:"session"`
	Pool        pool.Config              `json:"pool"`
	Retry       resilience.RetryPolicy   `json:"retry"`
	Cascade     resilience.CascadeConfig `json:"cascade"`
	Correlation correlation.Config       `json:"correlation"`
	Middleware  MiddlewareConfig         `json:"middleware"`
	Metrics     MetricsConfig            `json:"metrics"`
	Tracing     TracingConfig            `json:"tracing"`
}

// LoggingConfig selects the log level and output format
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text or json
}

// ConnectionConfig is one transport to dial into the pool
type ConnectionConfig struct {
	ID        string           `json:"id"`
	Weight    int              `json:"weight"`
	Transport transport.Config `json:"transport"`
}

// SessionConfig carries the session-level limits and timers
type SessionConfig struct {
	RequestTimeout        time.Duration `json:"requestTimeout"`
	AttemptTimeout        time.Duration `json:"attemptTimeout"`
	MaxConcurrentCalls    int64         `json:"maxConcurrentCalls"`
	MaxConcurrentHandlers int64         `json:"maxConcurrentHandlers"`
	ProbeInterval         time.Duration `json:"probeInterval"`
	ProbeTimeout          time.Duration `json:"probeTimeout"`
	ReconnectTimeout      time.Duration `json:"reconnectTimeout"`
}

// MiddlewareConfig enables the built-in middleware capabilities. Entries
// are installed in capability order regardless of their order here.
type MiddlewareConfig struct {
	Logging      bool                          `json:"logging"`
	Auth         auth.Config                   `json:"auth"`
	RateLimit    *middleware.RateLimitConfig   `json:"rateLimit,omitempty"`
	Compression  *middleware.CompressionConfig `json:"compression,omitempty"`
	Metrics      bool                          `json:"metrics"`
	CircuitBreak bool                          `json:"circuitBreak"`
}

// MetricsConfig enables Prometheus metrics
type MetricsConfig struct {
	observability.MetricsConfig `json:",squash"`

	Enabled bool `json:"enabled"`
	// Serve exposes the registry over HTTP on ListenAddr
	Serve   bool `json:"serve"`
}

// TracingConfig enables OpenTelemetry tracing
type TracingConfig struct {
	observability.TracingConfig `json:",squash"`

	Enabled bool `json:"enabled"`
}

// DefaultConfig returns the configuration used for keys a file leaves out
func DefaultConfig() Config {
	return Config{
		ClientInfo:      protocol.Implementation{Name: "mcp-sdk-go", Version: "1.0.0"},
		ProtocolVersion: protocol.ProtocolRevision,
		Logging:         LoggingConfig{Level: "info", Format: "text"},
		Session: SessionConfig{
			RequestTimeout:        30 * time.Second,
			MaxConcurrentCalls:    256,
			MaxConcurrentHandlers: 64,
			ProbeInterval:         5 * time.Second,
			ProbeTimeout:          2 * time.Second,
			ReconnectTimeout:      10 * time.Second,
		},
		Pool:        pool.DefaultConfig(),
		Retry:       resilience.DefaultRetryPolicy(),
		Cascade:     resilience.DefaultCascadeConfig(),
		Correlation: correlation.DefaultConfig(),
		Middleware: MiddlewareConfig{
			Logging:      true,
			CircuitBreak: true,
		},
	}
}

// Load reads a YAML or JSON file on top of DefaultConfig and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML or JSON on top of DefaultConfig and validates it
func Parse(data []byte) (*Config, error) {
	// JSON is a subset of YAML, so one decoder covers both
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(raw map[string]interface{}, out *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "json",
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringHook,
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// stringHook accepts numeric YAML scalars for string fields such as
// versions ("version: 2" parses as an int)
func stringHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Int, reflect.Int64, reflect.Float64:
		return fmt.Sprint(data), nil
	}
	return data, nil
}

// Validate reports impossible values
func (c *Config) Validate() error {
	if c.ClientInfo.Name == "" {
		return fmt.Errorf("config: clientInfo.name is required")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("config: logging: %w", err)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logging: unknown format %q", c.Logging.Format)
	}

	seen := make(map[string]bool, len(c.Connections))
	for i, conn := range c.Connections {
		if err := conn.Transport.Validate(); err != nil {
			return fmt.Errorf("config: connections[%d]: %w", i, err)
		}
		if conn.Weight < 0 {
			return fmt.Errorf("config: connections[%d]: negative weight", i)
		}
		if conn.ID == "" {
			continue
		}
		if seen[conn.ID] {
			return fmt.Errorf("config: duplicate connection id %q", conn.ID)
		}
		seen[conn.ID] = true
	}

	s := c.Session
	if s.RequestTimeout < 0 || s.AttemptTimeout < 0 || s.ProbeInterval < 0 || s.ProbeTimeout < 0 || s.ReconnectTimeout < 0 {
		return fmt.Errorf("config: session: negative duration")
	}
	if s.MaxConcurrentCalls < 0 || s.MaxConcurrentHandlers < 0 {
		return fmt.Errorf("config: session: negative concurrency limit")
	}

	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Cascade.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Middleware.RateLimit != nil {
		if err := c.Middleware.RateLimit.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Middleware.Compression != nil && c.Middleware.Compression.MinSize < 0 {
		return fmt.Errorf("config: compression: negative minSize")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.ExporterType {
		case "", observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
		default:
			return fmt.Errorf("config: tracing: unsupported exporter %q", c.Tracing.ExporterType)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("config: tracing: sampleRate must be within [0, 1]")
		}
	}
	return nil
}

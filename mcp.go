package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hwiorn/mcp-sdk-go/pkg/config"
	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/pool"
	"github.com/hwiorn/mcp-sdk-go/pkg/session"
	"github.com/hwiorn/mcp-sdk-go/pkg/transport"
)

// Version represents the current version of the SDK
const Version = "1.0.0"

// These exports provide direct access to the core SDK components
var (
	// NewSession creates a session without connections
	NewSession = session.New

	// NewMux creates a per-method dispatcher for peer-initiated requests
	NewMux = session.NewMux

	// LoadConfig reads a YAML or JSON configuration file
	LoadConfig = config.Load

	// DefaultConfig returns the configuration defaults
	DefaultConfig = config.DefaultConfig

	// Dial creates a transport from its configuration
	Dial = transport.Dial
)

// Session options
var (
	WithLogger       = session.WithLogger
	WithDispatcher   = session.WithDispatcher
	WithMiddleware   = session.WithMiddleware
	WithMetrics      = session.WithMetrics
	WithTracer       = session.WithTracer
	WithoutHandshake = session.WithoutHandshake
)

// Call options
var (
	WithTimeout     = session.WithTimeout
	WithRetryPolicy = session.WithRetryPolicy
	WithoutRetry    = session.WithoutRetry
)

// Client is a session built by Connect together with the exporters it owns
type Client struct {
	*session.Session
	obs *session.Observability
}

// Observability returns the logger and exporters built from configuration
func (c *Client) Observability() *session.Observability {
	return c.obs
}

// Close closes the session, then stops the metrics server and flushes
// pending spans
func (c *Client) Close() error {
	err := c.Session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(err, c.obs.Shutdown(ctx))
}

// Connect builds a session from cfg, dials every configured connection
// into its pool and runs the initialize handshake. Connections that fail
// to dial are logged and skipped; Connect fails when none succeeds.
// opts are applied after the options derived from cfg.
func Connect(ctx context.Context, cfg *config.Config, opts ...session.Option) (*Client, error) {
	sc, derived, obs, err := session.OptionsFromConfig(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	s, err := session.New(sc, append(derived, opts...)...)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	c := &Client{Session: s, obs: obs}
	logger := obs.Logger.WithFields(logging.Component("mcp"), logging.String("session_id", s.ID()))

	var dialErrs []error
	for i, conn := range cfg.Connections {
		tc := conn.Transport
		tc.Logger = obs.Logger

		t, err := transport.Dial(ctx, tc)
		if err != nil {
			logger.Warn("Failed to dial connection",
				logging.Int("index", i),
				logging.String("id", conn.ID),
				logging.String("type", string(tc.Type)),
				logging.ErrorField(err),
			)
			dialErrs = append(dialErrs, err)
			continue
		}

		var addOpts []pool.AddOption
		if conn.ID != "" {
			addOpts = append(addOpts, pool.WithID(conn.ID))
		}
		if conn.Weight > 0 {
			addOpts = append(addOpts, pool.WithWeight(conn.Weight))
		}
		if _, err := s.AddTransport(t, addOpts...); err != nil {
			_ = t.Close()
			_ = c.Close()
			return nil, err
		}
	}

	if len(s.Connections()) == 0 {
		_ = c.Close()
		if len(dialErrs) == 0 {
			return nil, fmt.Errorf("mcp: no connections configured")
		}
		return nil, mcperrors.ConnectionFailed("pool", "", errors.Join(dialErrs...))
	}

	if _, err := s.Initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	logger.Info("Connected",
		logging.Int("connections", len(s.Connections())),
		logging.Int("failed", len(dialErrs)),
	)
	return c, nil
}

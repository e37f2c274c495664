package session

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/hwiorn/mcp-sdk-go/pkg/auth"
	"github.com/hwiorn/mcp-sdk-go/pkg/config"
	"github.com/hwiorn/mcp-sdk-go/pkg/logging"
	"github.com/hwiorn/mcp-sdk-go/pkg/middleware"
	"github.com/hwiorn/mcp-sdk-go/pkg/observability"
)

// Observability holds the logger and exporters built from file
// configuration. Metrics and Tracing may be nil.
type Observability struct {
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracing *observability.TracingProvider
}

// Shutdown stops the metrics server and flushes pending spans
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Metrics != nil {
		errs = append(errs, o.Metrics.Shutdown(ctx))
	}
	if o.Tracing != nil {
		errs = append(errs, o.Tracing.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// NewLogger builds the logger described by cfg. Output defaults to stderr
// so a stdio transport on stdout stays clean.
func NewLogger(cfg config.LoggingConfig, output io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if output == nil {
		output = os.Stderr
	}

	var formatter logging.Formatter = logging.NewTextFormatter()
	if cfg.Format == "json" {
		formatter = logging.NewJSONFormatter()
	}
	logger := logging.New(output, formatter)
	logger.SetLevel(level)
	return logger, nil
}

// OptionsFromConfig converts file configuration into session settings and
// the options installing its logger, middleware, metrics and tracer.
// Connections are not dialed here. Shut the returned Observability down
// after the session is closed.
func OptionsFromConfig(ctx context.Context, cfg *config.Config, logOutput io.Writer) (Config, []Option, *Observability, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, nil, err
	}

	sc := DefaultConfig()
	sc.ClientInfo = cfg.ClientInfo
	sc.ProtocolVersion = cfg.ProtocolVersion
	sc.RequestTimeout = cfg.Session.RequestTimeout
	sc.AttemptTimeout = cfg.Session.AttemptTimeout
	sc.MaxConcurrentCalls = cfg.Session.MaxConcurrentCalls
	sc.MaxConcurrentHandlers = cfg.Session.MaxConcurrentHandlers
	sc.ProbeInterval = cfg.Session.ProbeInterval
	sc.ProbeTimeout = cfg.Session.ProbeTimeout
	sc.ReconnectTimeout = cfg.Session.ReconnectTimeout
	sc.Pool = cfg.Pool
	sc.Retry = cfg.Retry
	sc.Cascade = cfg.Cascade
	sc.Correlation = cfg.Correlation

	logger, err := NewLogger(cfg.Logging, logOutput)
	if err != nil {
		return Config{}, nil, nil, err
	}
	opts := []Option{WithLogger(logger)}
	obs := &Observability{Logger: logger}

	fail := func(err error) (Config, []Option, *Observability, error) {
		_ = obs.Shutdown(ctx)
		return Config{}, nil, nil, err
	}

	if cfg.Metrics.Enabled || cfg.Middleware.Metrics {
		obs.Metrics, err = observability.NewMetrics(cfg.Metrics.MetricsConfig)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, WithMetrics(obs.Metrics))
		if cfg.Metrics.Serve {
			if err := obs.Metrics.Serve(); err != nil {
				return fail(err)
			}
		}
	}

	if cfg.Tracing.Enabled {
		obs.Tracing, err = observability.NewTracingProvider(cfg.Tracing.TracingConfig)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, WithTracer(obs.Tracing.Tracer()))
	}

	var entries []middleware.Entry
	mw := cfg.Middleware
	if mw.Logging {
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityLogging, Middleware: middleware.Logging(logger)})
	}
	source, err := auth.FromConfig(ctx, mw.Auth)
	if err != nil {
		return fail(err)
	}
	if source != nil {
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityAuth, Middleware: middleware.Auth(source)})
	}
	if mw.RateLimit != nil {
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityRateLimit, Middleware: middleware.RateLimit(*mw.RateLimit)})
	}
	if mw.Compression != nil {
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityCompression, Middleware: middleware.Compression(*mw.Compression)})
	}
	if mw.Metrics {
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityMetrics, Middleware: middleware.Metrics(obs.Metrics)})
	}
	if mw.CircuitBreak {
		// Bound to the session's cascade detector by New
		entries = append(entries, middleware.Entry{Capability: middleware.CapabilityCircuitBreak})
	}
	opts = append(opts, WithMiddleware(entries...))

	return sc, opts, obs, nil
}

// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for MCP sessions
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// TracerName is the instrumentation name of session spans
const TracerName = "github.com/hwiorn/mcp-sdk-go"

// Span attribute keys
const (
	AttrMethod    = attribute.Key("mcp.method")
	AttrRequestID = attribute.Key("mcp.request_id")
	AttrSessionID = attribute.Key("mcp.session_id")
	AttrConnID    = attribute.Key("mcp.connection_id")
	AttrAttempt   = attribute.Key("mcp.attempt")
	AttrErrorCode = attribute.Key("mcp.error.code")
	AttrCategory  = attribute.Key("mcp.error.category")
)

// ExporterType selects where spans go
type ExporterType string

const (
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	// ExporterTypeNoop keeps spans in process; useful with SpanProcessors
	ExporterTypeNoop ExporterType = "noop"
)

// TracingConfig configures a TracingProvider. Zero values take the
// defaults noted per field.
type TracingConfig struct {
	ServiceName    string `json:"serviceName"`    // "mcp-client"
	ServiceVersion string `json:"serviceVersion"` // "unknown"
	Environment    string `json:"environment"`    // "development"

	ExporterType ExporterType      `json:"exporter"` // noop
	Endpoint     string            `json:"endpoint"`
	Headers      map[string]string `json:"headers,omitempty"`
	Insecure     bool              `json:"insecure"`

	// SampleRate is the fraction of root spans kept; zero means 1.0.
	// AlwaysSample and NeverSample override it per method.
	SampleRate   float64  `json:"sampleRate"`
	AlwaysSample []string `json:"alwaysSample"`
	NeverSample  []string `json:"neverSample"`

	BatchTimeout time.Duration `json:"batchTimeout"` // 5s
	MaxBatchSize int           `json:"maxBatchSize"` // 512
	MaxQueueSize int           `json:"maxQueueSize"` // 2048

	ResourceAttributes map[string]string `json:"resourceAttributes,omitempty"`

	// SpanProcessors run next to the exporter batcher
	SpanProcessors []sdktrace.SpanProcessor `json:"-"`

	// Global installs the provider and propagator as the otel globals
	Global bool `json:"global"`
}

func (c TracingConfig) withDefaults() TracingConfig {
	setDefault(&c.ServiceName, "mcp-client")
	setDefault(&c.ServiceVersion, "unknown")
	setDefault(&c.Environment, "development")
	setDefault(&c.ExporterType, ExporterTypeNoop)
	setDefault(&c.SampleRate, 1.0)
	setDefault(&c.BatchTimeout, 5*time.Second)
	setDefault(&c.MaxBatchSize, 512)
	setDefault(&c.MaxQueueSize, 2048)
	return c
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// TracingProvider owns an SDK tracer provider and the propagator used to
// carry trace context across transports
type TracingProvider struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewTracingProvider builds a provider from cfg
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	cfg = cfg.withDefaults()

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxBatchSize),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		sdktrace.WithResource(newResource(cfg)),
		sdktrace.WithSampler(sdktrace.ParentBased(newMethodSampler(cfg))),
	}
	for _, sp := range cfg.SpanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}

	tp := &TracingProvider{
		provider:   sdktrace.NewTracerProvider(opts...),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}
	tp.tracer = tp.provider.Tracer(TracerName)

	if cfg.Global {
		otel.SetTracerProvider(tp.provider)
		otel.SetTextMapPropagator(tp.propagator)
	}
	return tp, nil
}

func newResource(cfg TracingConfig) *resource.Resource {
	attrs := make([]attribute.KeyValue, 0, 3+len(cfg.ResourceAttributes))
	attrs = append(attrs,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	var client otlptrace.Client
	switch cfg.ExporterType {
	case ExporterTypeNoop:
		return discardExporter{}, nil
	case ExporterTypeOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		client = otlptracegrpc.NewClient(opts...)
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithHeaders(cfg.Headers)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		client = otlptracehttp.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter %q", cfg.ExporterType)
	}
	return otlptrace.New(context.Background(), client)
}

func (tp *TracingProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// Propagator returns the W3C trace context and baggage propagator
func (tp *TracingProvider) Propagator() propagation.TextMapPropagator {
	return tp.propagator
}

func (tp *TracingProvider) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return tp.propagator.Extract(ctx, carrier)
}

func (tp *TracingProvider) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	tp.propagator.Inject(ctx, carrier)
}

// ForceFlush exports all ended spans
func (tp *TracingProvider) ForceFlush(ctx context.Context) error {
	return tp.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider. Later calls return the first
// call's result.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	tp.shutdownOnce.Do(func() {
		tp.shutdownErr = tp.provider.Shutdown(ctx)
	})
	return tp.shutdownErr
}

// StartMethodSpan starts the span of one MCP method call, named
// "mcp.<method>". A nil tracer uses the global provider.
func StartMethodSpan(ctx context.Context, tracer trace.Tracer, method string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	attrs = append([]attribute.KeyValue{AttrMethod.String(method)}, attrs...)
	return tracer.Start(ctx, "mcp."+method, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// EndSpan ends span, marking it failed when err is set. MCP errors add
// their code and category.
func EndSpan(span trace.Span, err error) {
	defer span.End()
	if err == nil || !span.IsRecording() {
		return
	}

	var attrs []attribute.KeyValue
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		attrs = []attribute.KeyValue{
			AttrErrorCode.Int(mcpErr.Code()),
			AttrCategory.String(string(mcpErr.Category())),
		}
		span.SetAttributes(attrs...)
	}
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// methodSampler applies per-method overrides before a ratio sampler
type methodSampler struct {
	always map[string]bool
	never  map[string]bool
	ratio  sdktrace.Sampler
}

func newMethodSampler(cfg TracingConfig) *methodSampler {
	s := &methodSampler{always: map[string]bool{}, never: map[string]bool{}}
	for _, m := range cfg.AlwaysSample {
		s.always[m] = true
	}
	for _, m := range cfg.NeverSample {
		s.never[m] = true
	}

	switch {
	case cfg.SampleRate >= 1:
		s.ratio = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		s.ratio = sdktrace.NeverSample()
	default:
		s.ratio = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}
	return s
}

func (s *methodSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	method := p.Name
	for _, attr := range p.Attributes {
		if attr.Key == AttrMethod {
			method = attr.Value.AsString()
			break
		}
	}

	switch {
	case s.always[method]:
		return sdktrace.AlwaysSample().ShouldSample(p)
	case s.never[method]:
		return sdktrace.NeverSample().ShouldSample(p)
	default:
		return s.ratio.ShouldSample(p)
	}
}

func (s *methodSampler) Description() string {
	return "MethodSampler{" + s.ratio.Description() + "}"
}

type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }
func (discardExporter) Shutdown(context.Context) error                             { return nil }

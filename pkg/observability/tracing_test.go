package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

func newTestTracing(t *testing.T, cfg TracingConfig) (*TracingProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	cfg.ExporterType = ExporterTypeNoop
	cfg.SpanProcessors = []sdktrace.SpanProcessor{recorder}

	tp, err := NewTracingProvider(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

func TestTracing_MethodSpan(t *testing.T) {
	tp, recorder := newTestTracing(t, TracingConfig{})

	_, span := StartMethodSpan(context.Background(), tp.Tracer(), "tools/call", trace.SpanKindClient, AttrRequestID.String("7"))
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mcp.tools/call", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Contains(t, spans[0].Attributes(), AttrMethod.String("tools/call"))
	assert.Contains(t, spans[0].Attributes(), AttrRequestID.String("7"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestTracing_EndSpanWithError(t *testing.T) {
	tp, recorder := newTestTracing(t, TracingConfig{})

	_, span := StartMethodSpan(context.Background(), tp.Tracer(), "ping", trace.SpanKindClient)
	EndSpan(span, mcperrors.PoolExhausted(2))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Attributes(), AttrErrorCode.Int(mcperrors.CodePoolExhausted))
	assert.Contains(t, spans[0].Attributes(), AttrCategory.String(string(mcperrors.CategoryCapacity)))

	_, span = StartMethodSpan(context.Background(), tp.Tracer(), "ping", trace.SpanKindClient)
	EndSpan(span, errors.New("plain"))
	spans = recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plain", spans[1].Status().Description)
}

func TestTracing_MethodSampler(t *testing.T) {
	tp, recorder := newTestTracing(t, TracingConfig{
		SampleRate:  1.0,
		NeverSample: []string{"ping"},
	})

	_, span := StartMethodSpan(context.Background(), tp.Tracer(), "ping", trace.SpanKindClient)
	EndSpan(span, nil)
	_, span = StartMethodSpan(context.Background(), tp.Tracer(), "tools/list", trace.SpanKindClient)
	EndSpan(span, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mcp.tools/list", spans[0].Name())
}

func TestTracing_Propagation(t *testing.T) {
	tp, _ := newTestTracing(t, TracingConfig{})

	ctx, span := StartMethodSpan(context.Background(), tp.Tracer(), "initialize", trace.SpanKindClient)
	defer span.End()

	carrier := map[string]string{}
	tp.Inject(ctx, propagation.MapCarrier(carrier))
	require.NotEmpty(t, carrier["traceparent"])

	extracted := tp.Extract(context.Background(), propagation.MapCarrier(carrier))
	assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
}

func TestTracing_UnsupportedExporter(t *testing.T) {
	_, err := NewTracingProvider(TracingConfig{ExporterType: "jaeger"})
	assert.Error(t, err)
}

func TestTracing_ShutdownTwice(t *testing.T) {
	tp, _ := newTestTracing(t, TracingConfig{})
	require.NoError(t, tp.Shutdown(context.Background()))
	assert.NoError(t, tp.Shutdown(context.Background()))
}

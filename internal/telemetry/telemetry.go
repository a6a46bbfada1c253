// Package telemetry wires an OpenTelemetry tracer (span helpers with a
// no-op fallback) and keeps a handful of process-local counters for the
// signals this fetcher tracks: queue depth, retry attempts, bundles
// processed, and pending notifications.
package telemetry

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var (
	meterName   = "github.com/dataforge/fetcher"
	initialized atomic.Bool
	tracerRef   atomic.Value // trace.Tracer
)

// Config configures the telemetry backend.
type Config struct {
	Enabled         bool
	ServiceName     string
	OTLPEndpoint    string // empty -> stdout exporter, used for dev-mode
	SamplingRatio   float64
}

// Init wires up a tracer provider. It is safe to call once at process
// start; subsequent calls are no-ops so tests can call it freely.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if initialized.Swap(true) {
		return func(context.Context) error { return nil }, nil
	}

	if !cfg.Enabled {
		tracerRef.Store(noop.NewTracerProvider().Tracer(meterName))
		return func(context.Context) error { return nil }, nil
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, err
	}

	ratio := cfg.SamplingRatio
	if ratio <= 0 {
		ratio = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
	otel.SetTracerProvider(tp)
	tracerRef.Store(tp.Tracer(meterName))

	return tp.Shutdown, nil
}

func tracer() trace.Tracer {
	if t, ok := tracerRef.Load().(trace.Tracer); ok {
		return t
	}
	return noop.NewTracerProvider().Tracer(meterName)
}

// StartSpan starts a span for op, returning a context and an end func.
func StartSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := tracer().Start(ctx, op, trace.WithAttributes(attrs...))
	return ctx, func() { span.End() }
}

// AddEvent records a point-in-time event on the span in ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// The following counters are process-local atomics rather than full OTel
// metric instruments: this fetcher runs as a single long-lived worker, and
// the values are exposed only through the getters below; no metrics SDK
// or exporter is involved.
var (
	queueDepth       atomic.Int64
	bundlesProcessed atomic.Int64
	retryAttempts    atomic.Int64
	notifyPending    atomic.Int64
)

func SetQueueDepth(n int64)      { queueDepth.Store(n) }
func QueueDepth() int64          { return queueDepth.Load() }
func IncBundlesProcessed()       { bundlesProcessed.Add(1) }
func BundlesProcessed() int64    { return bundlesProcessed.Load() }
func IncRetryAttempts()          { retryAttempts.Add(1) }
func RetryAttempts() int64       { return retryAttempts.Load() }
func SetNotifyPending(n int64)   { notifyPending.Store(n) }
func NotifyPending() int64       { return notifyPending.Load() }

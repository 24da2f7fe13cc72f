package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type (
	// otelLogger is a minimal structured logger that forwards to the supplied
	// sink (a no-op when none is given); integrators that already run an OTEL collector
	// typically pair this with a log-bridge exporter configured globally via
	// otel.SetLoggerProvider, so this type stays dependency-light and only
	// attaches span context when one is present on ctx.
	otelLogger struct {
		sink func(level, msg string, keyvals ...any)
	}

	// otelMetrics records counters/timers/gauges against the global OTEL
	// MeterProvider. Configure the provider (OTLP exporter, resource, etc.)
	// before constructing this type via otel.SetMeterProvider.
	otelMetrics struct {
		meter metric.Meter
	}

	// otelTracer starts spans against the global OTEL TracerProvider.
	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewOTelLogger returns a Logger that appends span trace/span IDs (when
// present on ctx) as trace_id/span_id keyvals before handing each message
// to sink. sink is called
// synchronously; pass nil to use a no-op sink (useful when only trace
// correlation matters and a separate log pipeline owns delivery).
func NewOTelLogger(sink func(level, msg string, keyvals ...any)) Logger {
	if sink == nil {
		sink = func(string, string, ...any) {}
	}
	return &otelLogger{sink: sink}
}

func (l *otelLogger) log(ctx context.Context, level, msg string, keyvals ...any) {
	span := trace.SpanContextFromContext(ctx)
	if span.IsValid() {
		keyvals = append(keyvals, "trace_id", span.TraceID().String(), "span_id", span.SpanID().String())
	}
	l.sink(level, msg, keyvals...)
}

func (l *otelLogger) Debug(ctx context.Context, msg string, keyvals ...any) { l.log(ctx, "debug", msg, keyvals...) }
func (l *otelLogger) Info(ctx context.Context, msg string, keyvals ...any)  { l.log(ctx, "info", msg, keyvals...) }
func (l *otelLogger) Warn(ctx context.Context, msg string, keyvals ...any)  { l.log(ctx, "warn", msg, keyvals...) }
func (l *otelLogger) Error(ctx context.Context, msg string, keyvals ...any) { l.log(ctx, "error", msg, keyvals...) }

// NewOTelMetrics constructs a Metrics recorder backed by the global
// MeterProvider under the given instrumentation scope name.
func NewOTelMetrics(scope string) Metrics {
	return &otelMetrics{meter: otel.Meter(scope)}
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	h, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	h.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

// NewOTelTracer constructs a Tracer backed by the global TracerProvider under
// the given instrumentation scope name.
func NewOTelTracer(scope string) Tracer {
	return &otelTracer{tracer: otel.Tracer(scope)}
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (s *otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }

func (s *otelSpan) RecordError(err error, opts ...trace.EventOption) { s.span.RecordError(err, opts...) }

func (s *otelSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(fmt.Sprintf("%s %v", name, keyvals))
}

func tagAttrs(tags []string) []attribute.KeyValue {
	var out []attribute.KeyValue
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

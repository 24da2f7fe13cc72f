// Package telemetry defines the narrow logging/metrics/tracing interfaces
// every component in this module accepts through functional options. The
// core never reaches for a global logger: callers wire in whichever
// implementation fits their deployment (noop for tests and libraries, the
// OpenTelemetry-backed one in production).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Keyvals follow the
	// alternating key/value convention used throughout this module:
	// Info(ctx, "instance created", "instance_id", id, "agent_id", agentID).
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers and gauges. Tags are flattened
	// "key", "value" pairs, mirroring Logger's keyval convention.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts spans. Span is returned so callers can end it and
	// record status/events without depending on a concrete tracing SDK type.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is the subset of a tracing span that callers in this module use.
	Span interface {
		End(opts ...trace.SpanEndOption)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
		AddEvent(name string, keyvals ...any)
	}
)

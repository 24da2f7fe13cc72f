package events

import (
	"context"
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

const subjectPrefix = "agentmesh.events."

// NATSBus publishes events over a NATS connection, one subject per event
// type, trace-propagating the publishing context in the message header
// (grounded on the swarm pack's natsctx publish/subscribe helpers).
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus wraps an already-connected NATS client.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn}
}

// Publish marshals evt to JSON and publishes it to "agentmesh.events.<type>".
func (b *NATSBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	msg := &nats.Msg{Subject: subjectPrefix + string(evt.Type), Data: data, Header: hdr}
	return b.conn.PublishMsg(msg)
}

// Subscribe extracts the publisher's trace context from each message,
// starts a child span, and invokes handler with the decoded Event.
func Subscribe(conn *nats.Conn, eventType Type, handler func(context.Context, Event)) (*nats.Subscription, error) {
	subject := subjectPrefix + string(eventType)
	return conn.Subscribe(subject, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("agentmesh-events")
		ctx, span := tr.Start(ctx, "events.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var evt Event
		if err := json.Unmarshal(m.Data, &evt); err != nil {
			span.RecordError(err)
			return
		}
		handler(ctx, evt)
	})
}

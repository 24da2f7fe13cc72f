package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"goa.design/pulse/streaming"
)

// pulseStream is the narrow subset of goa.design/pulse/streaming.Stream this
// bus needs, letting tests substitute a fake instead of a real Redis-backed
// stream (grounded on features/stream/pulse/clients/pulse/client.go's
// Client/Stream wrapper interfaces).
type pulseStream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
}

// PulseStreamer opens (creating if needed) the named stream. Typically a
// goa.design/pulse/streaming.Streamer method value.
type PulseStreamer func(name string) (pulseStream, error)

// PulseBus publishes events to a single goa.design/pulse stream, one event
// per Add call, name carried in the payload rather than split across
// per-type streams (unlike NATSBus, a Pulse stream has one consumer-group
// namespace per name, and agentmesh.events wants one ordered log).
type PulseBus struct {
	mu       sync.Mutex
	stream   pulseStream
	streamer PulseStreamer
}

// NewPulseBus opens "agentmesh.events" via streamer.
func NewPulseBus(streamer PulseStreamer) (*PulseBus, error) {
	s, err := streamer("agentmesh.events")
	if err != nil {
		return nil, fmt.Errorf("events: open pulse stream: %w", err)
	}
	return &PulseBus{stream: s, streamer: streamer}, nil
}

// Publish marshals evt to JSON and appends it to the bus's stream.
func (b *PulseBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	b.mu.Lock()
	s := b.stream
	b.mu.Unlock()
	_, err = s.Add(ctx, string(evt.Type), data)
	return err
}

// DecodePulseEvent unmarshals a streaming.Event's payload back into an
// Event, for subscribers reading the stream this bus writes to.
func DecodePulseEvent(raw *streaming.Event) (Event, error) {
	var evt Event
	err := json.Unmarshal(raw.Payload, &evt)
	return evt, err
}

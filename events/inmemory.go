package events

import (
	"context"
	"sync"
)

// InMemoryBus records every published event in order, for tests and for
// in-process deployments that don't need a real broker.
type InMemoryBus struct {
	mu     sync.Mutex
	events []Event
}

// NewInMemoryBus constructs an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{}
}

// Publish appends evt to the recorded history. Always succeeds.
func (b *InMemoryBus) Publish(_ context.Context, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

// Events returns a snapshot of every event published so far, in order.
func (b *InMemoryBus) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// OfType returns the recorded events whose Type matches t, in order.
func (b *InMemoryBus) OfType(t Type) []Event {
	var out []Event
	for _, evt := range b.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

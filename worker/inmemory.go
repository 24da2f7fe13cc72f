package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryResponder computes a canned Result for a Message, letting tests
// script specific behavior per node without a real model provider.
type InMemoryResponder func(cfg Config, msg Message) (Result, error)

// EchoResponder is the default InMemoryResponder: it returns the
// instructions plus a flattened view of the input, useful as a
// deterministic stand-in for a real model response in tests.
func EchoResponder(cfg Config, msg Message) (Result, error) {
	return Result{
		Text:   fmt.Sprintf("%s :: %v", msg.Instructions, msg.Input),
		Tokens: len(msg.Instructions),
		Raw:    map[string]any{"toolCount": len(msg.Tools)},
	}, nil
}

// InMemoryPrimitive is a non-deterministic-safe, non-replay-safe Primitive
// suitable for local development and tests (spec.md §9: "tests wire an
// in-memory one").
type InMemoryPrimitive struct {
	mu        sync.Mutex
	handles   map[Handle]Config
	responder InMemoryResponder
}

// NewInMemoryPrimitive constructs an InMemoryPrimitive. A nil responder
// defaults to EchoResponder.
func NewInMemoryPrimitive(responder InMemoryResponder) *InMemoryPrimitive {
	if responder == nil {
		responder = EchoResponder
	}
	return &InMemoryPrimitive{
		handles:   make(map[Handle]Config),
		responder: responder,
	}
}

// Create reserves a new handle bound to cfg.
func (p *InMemoryPrimitive) Create(ctx context.Context, cfg Config) (Handle, error) {
	h := Handle(uuid.NewString())
	p.mu.Lock()
	p.handles[h] = cfg
	p.mu.Unlock()
	return h, nil
}

// Run invokes the configured responder for the handle's bound config.
func (p *InMemoryPrimitive) Run(ctx context.Context, handle Handle, msg Message) (Result, error) {
	start := time.Now()
	p.mu.Lock()
	cfg, ok := p.handles[handle]
	p.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("worker: unknown handle %q", handle)
	}
	res, err := p.responder(cfg, msg)
	if err != nil {
		return Result{}, err
	}
	res.LatencyMS = measure(start)
	return res, nil
}

// Destroy releases handle. Idempotent.
func (p *InMemoryPrimitive) Destroy(ctx context.Context, handle Handle) error {
	p.mu.Lock()
	delete(p.handles, handle)
	p.mu.Unlock()
	return nil
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/model"
)

// ModelPrimitive adapts a model.Client (anthropic, openai, bedrock) to the
// Primitive interface. Create/Destroy are cheap local bookkeeping: the
// underlying model APIs are stateless per call, so a "handle" is just the
// remembered Config.
type ModelPrimitive struct {
	client model.Client

	mu      sync.Mutex
	handles map[Handle]Config
}

// NewModelPrimitive wraps client as a Primitive.
func NewModelPrimitive(client model.Client) *ModelPrimitive {
	return &ModelPrimitive{client: client, handles: make(map[Handle]Config)}
}

// Create reserves a handle bound to cfg; no remote call is made.
func (m *ModelPrimitive) Create(ctx context.Context, cfg Config) (Handle, error) {
	h := Handle(uuid.NewString())
	m.mu.Lock()
	m.handles[h] = cfg
	m.mu.Unlock()
	return h, nil
}

// Run issues one Complete call against the wrapped model.Client.
func (m *ModelPrimitive) Run(ctx context.Context, handle Handle, msg Message) (Result, error) {
	start := time.Now()
	m.mu.Lock()
	cfg, ok := m.handles[handle]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("worker: unknown handle %q", handle)
	}

	tools := make([]model.ToolSchema, len(msg.Tools))
	for i, t := range msg.Tools {
		tools[i] = model.ToolSchema{ToolID: t.ToolID, Schema: t.Schema}
	}

	resp, err := m.client.Complete(ctx, model.Request{
		Model:        cfg.Model,
		Instructions: msg.Instructions,
		Input:        msg.Input,
		Tools:        tools,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	if err != nil {
		return Result{}, fmt.Errorf("worker: model call failed: %w", err)
	}
	return Result{
		Text:      resp.Text,
		Tokens:    resp.InputTokens + resp.OutputTokens,
		LatencyMS: measure(start),
		Raw:       resp.Raw,
	}, nil
}

// Destroy forgets handle. Idempotent.
func (m *ModelPrimitive) Destroy(ctx context.Context, handle Handle) error {
	m.mu.Lock()
	delete(m.handles, handle)
	m.mu.Unlock()
	return nil
}

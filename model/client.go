// Package model defines the provider-agnostic model call contract backing
// worker.Primitive.Run. The DAG executor's agent node handler never sees a
// concrete provider SDK type, only this interface (spec.md §9's opaque
// WorkerPrimitive redesign).
package model

import "context"

// ToolSchema is one tool's invocation schema, forwarded verbatim from the
// tool registry so a provider adapter can offer it to the model.
type ToolSchema struct {
	ToolID string
	Schema []byte
}

// Request is a single, non-streaming model call. Streaming is explicitly an
// external collaborator concern (spec.md §9); this module only ever issues
// the non-streaming path.
type Request struct {
	Model        string
	Instructions string
	Input        map[string]any
	Tools        []ToolSchema
	Temperature  float64
	MaxTokens    int
}

// Response is the result of a Complete call.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Raw          map[string]any
}

// Client is implemented by each provider adapter (anthropic, openai,
// bedrock).
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

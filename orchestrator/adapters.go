package orchestrator

import (
	"context"
	"fmt"

	"github.com/agentmesh/orchestrator/dag"
	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/tools"
	"github.com/agentmesh/orchestrator/worker"
)

// toolSourceAdapter exposes a *tools.Registry as a dag.ToolSource, converting
// the plain-string categories/types the generator works with (it avoids
// importing tools directly per spec.md §9) into the registry's typed enums.
type toolSourceAdapter struct {
	registry *tools.Registry
}

func (a toolSourceAdapter) SelectForAgent(categories, types []string, maxTools int) []dag.ToolInfo {
	cats := make([]tools.Category, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, tools.Category(c))
	}
	typs := make([]tools.Type, 0, len(types))
	for _, t := range types {
		typs = append(typs, tools.Type(t))
	}
	selected := a.registry.SelectForAgent(cats, typs, maxTools)
	out := make([]dag.ToolInfo, 0, len(selected))
	for _, t := range selected {
		stats := t.Stats()
		out = append(out, dag.ToolInfo{
			ID:              t.ID,
			Category:        string(t.Category),
			Type:            string(t.Type),
			SuccessRate:     stats.SuccessRate,
			AvgResponseTime: stats.AvgResponseTime,
		})
	}
	return out
}

// agentHandler implements dag.AgentHandler for a single DAG execution bound
// to one worker handle. The instance is already chosen by the balancer by
// the time the executor reaches an agent node; this handler only needs to
// run the model call and let builtin/external tools be invoked by name
// through the registry.
type agentHandler struct {
	primitive worker.Primitive
	handle    worker.Handle
	tools     *tools.Registry
}

func (h agentHandler) RunAgent(ctx context.Context, node *dag.Node, toolIDs []string, deps map[string]map[string]any, input map[string]any) (map[string]any, error) {
	if node.Config.Agent == nil {
		return nil, orcherrors.New(orcherrors.DAGInvalid, "orchestrator.agentHandler.RunAgent", fmt.Errorf("node %q has no agent config", node.ID))
	}
	cfg := node.Config.Agent

	merged := make(map[string]any, len(input)+len(deps))
	for k, v := range input {
		merged[k] = v
	}
	for _, dep := range deps {
		for k, v := range dep {
			merged[k] = v
		}
	}

	schemas := h.tools.SchemasFor(toolIDs)
	toolSchemas := make([]worker.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		toolSchemas = append(toolSchemas, worker.ToolSchema{ToolID: s.ToolID, Schema: s.Schema})
	}

	msg := worker.Message{
		Instructions: cfg.Instructions,
		Input:        merged,
		Tools:        toolSchemas,
	}
	res, err := h.primitive.Run(ctx, h.handle, msg)
	if err != nil {
		return nil, orcherrors.New(orcherrors.UpstreamFailure, "orchestrator.agentHandler.RunAgent", err)
	}
	return map[string]any{"text": res.Text, "tokens": res.Tokens, "latencyMs": res.LatencyMS}, nil
}

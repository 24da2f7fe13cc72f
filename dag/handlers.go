package dag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	orcherrors "github.com/agentmesh/orchestrator/errors"
)

// AgentHandler runs a single agent node to completion. Implementations own
// tool selection against the live registry, schema lookup, template variable
// substitution, and the opaque worker-primitive call (spec.md §9's
// WorkerPrimitive abstraction) — none of which this package depends on
// directly, keeping dag free of tools/worker/model import edges.
type AgentHandler interface {
	RunAgent(ctx context.Context, node *Node, toolIDs []string, deps map[string]map[string]any, input map[string]any) (map[string]any, error)
}

// dispatchNode is the tagged-variant dispatch point: exactly one case per
// NodeType (spec.md §9). A NodeType without a case here is not caught at
// compile time; the default branch fails loudly at run time with DAGInvalid
// instead of silently no-opping.
func dispatchNode(ctx context.Context, d *DAG, node *Node, deps map[string]map[string]any, input map[string]any, agents AgentHandler) (map[string]any, error) {
	switch node.Type {
	case NodeInput:
		return handleInput(input), nil
	case NodeOutput:
		return handleOutput(deps), nil
	case NodeAgent:
		return handleAgent(ctx, d, node, deps, input, agents)
	case NodeCondition:
		return handleCondition(node, deps), nil
	case NodeMerge:
		return handleMerge(node, deps), nil
	case NodeParallel:
		return handleParallel(node), nil
	default:
		return nil, orcherrors.New(orcherrors.DAGInvalid, "dag.dispatchNode", fmt.Errorf("unhandled node type %q", node.Type))
	}
}

// handleInput passes the execution's input through verbatim.
func handleInput(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

// handleOutput unions every dependency's result, keyed by dependency node id
// under a nested map so results from parallel branches never collide.
func handleOutput(deps map[string]map[string]any) map[string]any {
	out := make(map[string]any, len(deps))
	for id, result := range deps {
		out[id] = result
	}
	return out
}

// handleAgent resolves the node's bound tools from the DAG's ToolMapping,
// flattens dependency text into the agent's input, and delegates the actual
// model call to the injected AgentHandler.
func handleAgent(ctx context.Context, d *DAG, node *Node, deps map[string]map[string]any, input map[string]any, agents AgentHandler) (map[string]any, error) {
	if agents == nil {
		return nil, orcherrors.New(orcherrors.DAGInvalid, "dag.handleAgent", fmt.Errorf("node %q: no agent handler configured", node.ID))
	}
	toolIDs := d.ToolMapping[node.ID]
	return agents.RunAgent(ctx, node, toolIDs, deps, input)
}

// handleCondition re-evaluates the node's own expression (if any) against
// the union of its dependencies' result fields (on a key clash the
// dependency with the later id wins), and returns the dependency results
// keyed by dependency id plus the verdict under "passed" so downstream
// edges and callers can inspect it without re-parsing the expression.
func handleCondition(node *Node, deps map[string]map[string]any) map[string]any {
	merged := handleOutput(deps)
	expr := ConditionExpr{Empty: true}
	if node.Config.Condition != nil {
		expr = ParseCondition(node.Config.Condition.Expression)
	}
	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	flat := make(map[string]any)
	for _, id := range ids {
		for k, v := range deps[id] {
			flat[k] = v
		}
	}
	merged["passed"] = expr.Evaluate(flat)
	return merged
}

// handleMerge combines dependency results per the node's MergeStrategy:
// concat joins every dependency's "text" field with newlines; combine
// returns the dependency results keyed by dependency id, unmodified.
func handleMerge(node *Node, deps map[string]map[string]any) map[string]any {
	strategy := MergeConcat
	if node.Config.Merge != nil && node.Config.Merge.Strategy != "" {
		strategy = node.Config.Merge.Strategy
	}

	ids := make([]string, 0, len(deps))
	for id := range deps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	switch strategy {
	case MergeCombine:
		return handleOutput(deps)
	default: // concat
		var parts []string
		for _, id := range ids {
			if text, ok := deps[id]["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return map[string]any{"text": strings.Join(parts, "\n")}
	}
}

// handleParallel is a pure fan-out marker: the executor already runs every
// ready node concurrently, so a parallel node carries no behavior of its own
// beyond identifying itself to callers (spec.md §9 resolved open question).
func handleParallel(node *Node) map[string]any {
	return map[string]any{"parallelCoordinator": true, "nodeId": node.ID}
}

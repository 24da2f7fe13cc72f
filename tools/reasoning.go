package tools

import (
	"context"
	"fmt"
)

// DefinitionReasoning is the builtin reasoning tool's registration metadata.
// It is the sole tool selected for the "minimal" DAG generation mode
// (spec.md §4.B).
var DefinitionReasoning = Definition{
	LocalName:   "reasoning",
	DisplayName: "Reasoning",
	Description: "Structures a chain-of-thought note for the calling agent node.",
	Category:    CategoryReasoning,
	Enabled:     true,
}

// ExecuteReasoning is the BuiltinExecutor for DefinitionReasoning. It is a
// local, deterministic pass-through that echoes the supplied prompt back as
// a structured note; it exists so "minimal" DAGs have a concrete tool to map
// without depending on any remote service.
func ExecuteReasoning(_ context.Context, action string, params map[string]any) (map[string]any, error) {
	prompt, _ := params["prompt"].(string)
	return map[string]any{
		"note":   fmt.Sprintf("considered: %s", prompt),
		"action": action,
	}, nil
}

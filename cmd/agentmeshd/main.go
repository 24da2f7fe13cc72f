// Command agentmeshd wires a minimal orchestrator in-process and runs one
// agent end to end: create, execute, scale. It exists to exercise the
// façade the way an integrator would, not as a production entrypoint —
// real deployments supply their own worker.Primitive, tools.Registry, and
// dag.TemplateStore.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/orchestrator/config"
	"github.com/agentmesh/orchestrator/dag"
	"github.com/agentmesh/orchestrator/orchestrator"
	"github.com/agentmesh/orchestrator/telemetry"
	"github.com/agentmesh/orchestrator/tools"
	"github.com/agentmesh/orchestrator/worker"
)

func main() {
	ctx := context.Background()
	cfg := config.Load("AGENTMESH_")
	logger := telemetry.NewOTelLogger(func(level, msg string, keyvals ...any) {
		fmt.Printf("[%s] %s %v\n", level, msg, keyvals)
	})

	reg := tools.New()
	if err := reg.RegisterBuiltin(tools.Definition{
		LocalName:   "web-search",
		DisplayName: "Web Search",
		Category:    tools.CategorySearch,
		Enabled:     true,
	}, func(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
		return map[string]any{"result": "demo search result"}, nil
	}); err != nil {
		panic(err)
	}

	store := dag.StaticTemplateStore{
		"demo-chat": dag.Template{
			ID: "demo-chat",
			Nodes: []dag.TemplateNode{
				{ID: "in", Type: dag.NodeInput},
				{ID: "assistant", Type: dag.NodeAgent, Config: dag.NodeConfig{Agent: &dag.AgentConfig{
					Instructions:        "Answer the user's question.",
					ModelConfig:         dag.ModelConfig{Model: "demo-model"},
					PreferredCategories: []string{"search"},
					PreferredTypes:      []string{"builtin"},
					MaxTools:            3,
				}}},
				{ID: "out", Type: dag.NodeOutput},
			},
			Edges: []dag.TemplateEdge{
				{From: "in", To: "assistant"},
				{From: "assistant", To: "out"},
			},
		},
	}

	primitive := worker.NewInMemoryPrimitive(nil)

	o := orchestrator.New(primitive, reg, store, cfg, orchestrator.WithLogger(logger))
	o.Start(ctx)
	defer o.Stop()

	desc, err := o.CreateAgent(ctx, "demo-chat", "demo-user", dag.Request{
		TemplateID: "demo-chat",
		Mode:       dag.ModeFull,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created agent %s (instance %s, dag %s, score %.2f)\n",
		desc.AgentID, desc.InstanceID, desc.DAGID, desc.OptimizationScore)

	resp, err := o.Execute(ctx, desc.InstanceID, "What is the weather like today?", "demo-user")
	if err != nil {
		panic(err)
	}
	fmt.Printf("response: %v\n", resp)

	added, removed, err := o.Scale(ctx, desc.AgentID, 3)
	if err != nil {
		panic(err)
	}
	fmt.Printf("scaled agent %s: +%d -%d instances\n", desc.AgentID, added, removed)

	// Pause briefly before exiting. The background health/autoscaler loops
	// first tick only after their intervals (30s and longer by default), so
	// no tick of theirs falls inside this pause.
	time.Sleep(100 * time.Millisecond)
}

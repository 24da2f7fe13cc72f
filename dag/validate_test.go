package dag

import "testing"

func alwaysValid(string) bool { return true }

func baseValidDAG() *DAG {
	return &DAG{
		ID: "d1",
		Nodes: map[string]*Node{
			"in":    {ID: "in", Type: NodeInput},
			"agent": {ID: "agent", Type: NodeAgent, Config: NodeConfig{Agent: &AgentConfig{PreferredCategories: []string{"search"}, PreferredTypes: []string{"builtin"}}}},
			"out":   {ID: "out", Type: NodeOutput},
		},
		Edges: []*Edge{
			{From: "in", To: "agent"},
			{From: "agent", To: "out"},
		},
		ExecutionOrder: []string{"in", "agent", "out"},
	}
}

func TestValidateAcceptsWellFormedDAG(t *testing.T) {
	d := baseValidDAG()
	if err := d.Validate(alwaysValid, alwaysValid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsMissingInput(t *testing.T) {
	d := baseValidDAG()
	delete(d.Nodes, "in")
	d.Edges = []*Edge{{From: "agent", To: "out"}}
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected error for missing input node")
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	d := baseValidDAG()
	d.Edges = append(d.Edges, &Edge{From: "out", To: "agent"})
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected cycle to be detected")
	}
}

func TestValidateDetectsBadExecutionOrder(t *testing.T) {
	d := baseValidDAG()
	d.ExecutionOrder = []string{"agent", "in", "out"}
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected execution order violation to be detected")
	}
}

func TestValidateRejectsUnknownPreferredCategory(t *testing.T) {
	d := baseValidDAG()
	if err := d.Validate(func(string) bool { return false }, alwaysValid); err == nil {
		t.Fatal("expected unknown preferred category to be rejected")
	}
}

func TestValidateDetectsUnreachableAgent(t *testing.T) {
	d := baseValidDAG()
	d.Nodes["orphan"] = &Node{ID: "orphan", Type: NodeAgent, Config: NodeConfig{Agent: &AgentConfig{}}}
	d.ExecutionOrder = append(d.ExecutionOrder, "orphan")
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected unreachable agent node to be rejected")
	}
}

func TestValidateRejectsToolMappingExceedingMaxTools(t *testing.T) {
	d := baseValidDAG()
	d.Nodes["agent"].Config.Agent.MaxTools = 1
	d.SelectedTools = []string{"t1", "t2"}
	d.ToolMapping = map[string][]string{"agent": {"t1", "t2"}}
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected tool mapping to exceed MaxTools")
	}
}

func TestValidateRejectsToolMappingNotInSelectedTools(t *testing.T) {
	d := baseValidDAG()
	d.SelectedTools = []string{"t1"}
	d.ToolMapping = map[string][]string{"agent": {"t2"}}
	if err := d.Validate(alwaysValid, alwaysValid); err == nil {
		t.Fatal("expected unknown tool mapping entry to be rejected")
	}
}

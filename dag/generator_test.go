package dag

import (
	"context"
	"testing"
	"time"
)

type fakeToolSource struct {
	tools []ToolInfo
}

func (f *fakeToolSource) SelectForAgent(categories, types []string, maxTools int) []ToolInfo {
	catSet := toSetStr(categories)
	typeSet := toSetStr(types)
	var out []ToolInfo
	for _, t := range f.tools {
		if len(catSet) > 0 && !catSet[t.Category] {
			continue
		}
		if len(typeSet) > 0 && !typeSet[t.Type] {
			continue
		}
		out = append(out, t)
	}
	if maxTools > 0 && len(out) > maxTools {
		out = out[:maxTools]
	}
	return out
}

func searchTemplate() Template {
	return Template{
		ID: "search-and-answer",
		Nodes: []TemplateNode{
			{ID: "in", Type: NodeInput},
			{ID: "researcher", Type: NodeAgent, Capabilities: []string{"research"}, Config: NodeConfig{Agent: &AgentConfig{
				Instructions:        "Research the question.",
				PreferredCategories: []string{"search"},
				PreferredTypes:      []string{"external", "builtin"},
				MaxTools:            3,
			}}},
			{ID: "out", Type: NodeOutput},
		},
		Edges: []TemplateEdge{
			{From: "in", To: "researcher"},
			{From: "researcher", To: "out"},
		},
	}
}

func fakeTools() []ToolInfo {
	return []ToolInfo{
		{ID: "svc.web-search", Category: "search", Type: "external", SuccessRate: 0.95, AvgResponseTime: 200 * time.Millisecond},
		{ID: "builtin.web-search", Category: "search", Type: "builtin", SuccessRate: 0.80, AvgResponseTime: 50 * time.Millisecond},
		{ID: "builtin.reasoning", Category: "reasoning", Type: "builtin", SuccessRate: 0.99, AvgResponseTime: 10 * time.Millisecond},
	}
}

func TestGenerateFullModeProducesValidDAG(t *testing.T) {
	store := StaticTemplateStore{"search-and-answer": searchTemplate()}
	g := NewGenerator(store, &fakeToolSource{tools: fakeTools()})

	d, err := g.Generate(context.Background(), Request{TemplateID: "search-and-answer", Mode: ModeFull})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(d.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(d.Nodes))
	}
	if len(d.ExecutionOrder) != 3 || d.ExecutionOrder[0] != "in" || d.ExecutionOrder[2] != "out" {
		t.Fatalf("unexpected execution order: %v", d.ExecutionOrder)
	}
	mapped := d.ToolMapping["researcher"]
	if len(mapped) == 0 {
		t.Fatal("expected researcher node to have mapped tools")
	}
	if mapped[0] != "svc.web-search" {
		t.Fatalf("expected highest-accuracy search tool ranked first in balanced mode, got %v", mapped)
	}
}

func TestGenerateMinimalModeWiresSingleReasoningTool(t *testing.T) {
	store := StaticTemplateStore{"search-and-answer": searchTemplate()}
	g := NewGenerator(store, &fakeToolSource{tools: fakeTools()})

	d, err := g.Generate(context.Background(), Request{TemplateID: "search-and-answer", Mode: ModeMinimal})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(d.SelectedTools) != 1 || d.SelectedTools[0] != "builtin.reasoning" {
		t.Fatalf("expected minimal mode to select only builtin.reasoning, got %v", d.SelectedTools)
	}
	mapped := d.ToolMapping["researcher"]
	if len(mapped) != 1 || mapped[0] != "builtin.reasoning" {
		t.Fatalf("expected the agent node mapped to exactly the reasoning tool, got %v", mapped)
	}
}

func TestGenerateUnknownTemplateFails(t *testing.T) {
	store := StaticTemplateStore{}
	g := NewGenerator(store, &fakeToolSource{})
	if _, err := g.Generate(context.Background(), Request{TemplateID: "missing"}); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestGeneratePerformanceStrategyRanksByLatency(t *testing.T) {
	store := StaticTemplateStore{"search-and-answer": searchTemplate()}
	g := NewGenerator(store, &fakeToolSource{tools: fakeTools()})

	prefs := UserPreferences{OptimizationStrategy: StrategyPerformance}
	d, err := g.Generate(context.Background(), Request{TemplateID: "search-and-answer", Mode: ModeCustom, UserPreferences: prefs})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	mapped := d.ToolMapping["researcher"]
	if len(mapped) == 0 || mapped[0] != "builtin.web-search" {
		t.Fatalf("expected fastest tool ranked first under performance strategy, got %v", mapped)
	}
}

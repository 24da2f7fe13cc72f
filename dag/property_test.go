package dag

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestGeneratedDAGIsAlwaysAcyclicProperty verifies spec.md §8 property #1:
// for any chain-shaped template (an input node, a run of agent nodes, an
// output node, each edge pointing strictly forward), Generate's result
// passes topological validation with no cycle.
func TestGeneratedDAGIsAlwaysAcyclicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every generated DAG is acyclic and topologically ordered", prop.ForAll(
		func(agentCount int) bool {
			tmpl := chainTemplate(agentCount)
			store := StaticTemplateStore{tmpl.ID: tmpl}
			g := NewGenerator(store, &fakeToolSource{tools: fakeTools()})

			d, err := g.Generate(context.Background(), Request{TemplateID: tmpl.ID, Mode: ModeFull})
			if err != nil {
				return false
			}

			if err := d.Validate(alwaysValid, alwaysValid); err != nil {
				return false
			}

			// ExecutionOrder must place every edge's From before its To.
			pos := make(map[string]int, len(d.ExecutionOrder))
			for i, id := range d.ExecutionOrder {
				pos[id] = i
			}
			for _, e := range d.Edges {
				if pos[e.From] >= pos[e.To] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

// chainTemplate builds a template with n agent nodes chained linearly
// between an input and output node.
func chainTemplate(n int) Template {
	nodes := make([]TemplateNode, 0, n+2)
	edges := make([]TemplateEdge, 0, n+1)
	nodes = append(nodes, TemplateNode{ID: "in", Type: NodeInput})
	prev := "in"
	for i := 0; i < n; i++ {
		id := "agent" + string(rune('a'+i))
		nodes = append(nodes, TemplateNode{
			ID:   id,
			Type: NodeAgent,
			Config: NodeConfig{Agent: &AgentConfig{
				Instructions:        "step",
				PreferredCategories: []string{"search"},
				PreferredTypes:      []string{"builtin"},
			}},
		})
		edges = append(edges, TemplateEdge{From: prev, To: id})
		prev = id
	}
	nodes = append(nodes, TemplateNode{ID: "out", Type: NodeOutput})
	edges = append(edges, TemplateEdge{From: prev, To: "out"})
	return Template{ID: "chain", Nodes: nodes, Edges: edges}
}

// TestToolSelectionOrderingIsStableProperty verifies spec.md §8 property #2:
// selecting tools for the same candidate set twice, regardless of the
// candidates' input order, produces the same ranked output order.
func TestToolSelectionOrderingIsStableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("tool selection order is independent of input order", prop.ForAll(
		func(tools []ToolInfo) bool {
			if len(tools) == 0 {
				return true
			}
			forward := &fakeRankingToolSource{tools: tools}
			reversed := &fakeRankingToolSource{tools: reverseToolInfo(tools)}

			a := forward.SelectForAgent(nil, nil, 0)
			b := reversed.SelectForAgent(nil, nil, 0)

			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].ID != b[i].ID {
					return false
				}
			}
			return true
		},
		genToolInfoSlice(),
	))

	properties.TestingRun(t)
}

// fakeRankingToolSource mimics tools.Registry.SelectForAgent's documented
// (successRate desc, -avgResponseTime) ranking over an arbitrary candidate
// set, independent of their storage order.
type fakeRankingToolSource struct {
	tools []ToolInfo
}

func (f *fakeRankingToolSource) SelectForAgent(categories, types []string, maxTools int) []ToolInfo {
	out := append([]ToolInfo(nil), f.tools...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && less(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func less(a, b ToolInfo) bool {
	if a.SuccessRate != b.SuccessRate {
		return a.SuccessRate > b.SuccessRate
	}
	if a.AvgResponseTime != b.AvgResponseTime {
		return a.AvgResponseTime < b.AvgResponseTime
	}
	return a.ID < b.ID
}

func reverseToolInfo(in []ToolInfo) []ToolInfo {
	out := make([]ToolInfo, len(in))
	for i, t := range in {
		out[len(in)-1-i] = t
	}
	return out
}

func genToolInfoSlice() gopter.Gen {
	return gen.IntRange(0, 12).FlatMap(func(n any) gopter.Gen {
		count := n.(int)
		return gen.SliceOfN(count, genToolInfo())
	}, reflect.TypeOf([]ToolInfo{})).Map(func(v []ToolInfo) []ToolInfo {
		tools := append([]ToolInfo(nil), v...)
		for i := range tools {
			tools[i].ID = "tool-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		}
		return tools
	})
}

func genToolInfo() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0.0, 1.0),
		gen.IntRange(1, 2000),
	).Map(func(vals []any) ToolInfo {
		return ToolInfo{
			SuccessRate:     vals[0].(float64),
			AvgResponseTime: time.Duration(vals[1].(int)) * time.Millisecond,
			Type:            "builtin",
			Category:        "search",
		}
	})
}

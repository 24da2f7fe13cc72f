package persist

import (
	"context"
	"testing"

	"github.com/agentmesh/orchestrator/dag"
)

func TestFromDAGFlattensNodesEdgesAndOrder(t *testing.T) {
	d := &dag.DAG{
		Nodes: map[string]*dag.Node{
			"in":  {ID: "in", Type: dag.NodeInput},
			"out": {ID: "out", Type: dag.NodeOutput},
		},
		Edges:             []*dag.Edge{{From: "in", To: "out", Weight: 1}},
		ExecutionOrder:    []string{"in", "out"},
		OptimizationScore: 0.8,
		EstimatedCost:     0.1,
		EstimatedTime:     2.5,
	}
	doc := FromDAG(d)
	if len(doc.Nodes) != 2 || len(doc.Edges) != 1 {
		t.Fatalf("expected 2 nodes and 1 edge, got %d nodes %d edges", len(doc.Nodes), len(doc.Edges))
	}
	if doc.ExecutionOrder[0] != "in" || doc.ExecutionOrder[1] != "out" {
		t.Fatalf("expected execution order preserved, got %v", doc.ExecutionOrder)
	}
	if doc.OptimizationScore != 0.8 || doc.EstimatedCost != 0.1 || doc.EstimatedTime != 2.5 {
		t.Fatalf("expected scalar fields carried through unchanged, got %+v", doc)
	}
}

func TestInMemoryStoreUpsertThenLoadRoundTrips(t *testing.T) {
	store := NewInMemoryStore()
	doc := ConfigDocument{InstanceID: "inst-1", AgentID: "agent-a", TemplateID: "search-and-answer"}

	if err := store.Upsert(context.Background(), doc); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := store.Load(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AgentID != "agent-a" || got.TemplateID != "search-and-answer" {
		t.Fatalf("expected round-tripped document, got %+v", got)
	}
}

func TestInMemoryStoreLoadMissingReturnsZeroValue(t *testing.T) {
	store := NewInMemoryStore()
	got, err := store.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.InstanceID != "" {
		t.Fatalf("expected zero-value document for unknown instanceId, got %+v", got)
	}
}

func TestMongoStoreUpsertRequiresInstanceID(t *testing.T) {
	s := &MongoStore{coll: nil}
	if err := s.Upsert(context.Background(), ConfigDocument{}); err == nil {
		t.Fatal("expected error for missing instanceId")
	}
}

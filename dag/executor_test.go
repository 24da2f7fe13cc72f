package dag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type scriptedAgentHandler struct {
	results map[string]map[string]any
	errs    map[string]error
}

func (s *scriptedAgentHandler) RunAgent(ctx context.Context, node *Node, toolIDs []string, deps map[string]map[string]any, input map[string]any) (map[string]any, error) {
	if err, ok := s.errs[node.ID]; ok {
		return nil, err
	}
	return s.results[node.ID], nil
}

func branchingDAG() *DAG {
	return &DAG{
		ID: "d1",
		Nodes: map[string]*Node{
			"in":     {ID: "in", Type: NodeInput, Status: StatusPending},
			"router": {ID: "router", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"hard":   {ID: "hard", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"easy":   {ID: "easy", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"out":    {ID: "out", Type: NodeOutput, Status: StatusPending},
		},
		Edges: []*Edge{
			{From: "in", To: "router"},
			{From: "router", To: "hard", Condition: "confidence < 0.5", parsed: ParseCondition("confidence < 0.5")},
			{From: "router", To: "easy", Condition: "confidence >= 0.5", parsed: ParseCondition("confidence >= 0.5")},
			{From: "hard", To: "out"},
			{From: "easy", To: "out"},
		},
		ExecutionOrder: []string{"in", "router", "hard", "easy", "out"},
	}
}

func TestExecuteLinearPath(t *testing.T) {
	d := &DAG{
		ID: "linear",
		Nodes: map[string]*Node{
			"in":    {ID: "in", Type: NodeInput, Status: StatusPending},
			"agent": {ID: "agent", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"out":   {ID: "out", Type: NodeOutput, Status: StatusPending},
		},
		Edges: []*Edge{
			{From: "in", To: "agent"},
			{From: "agent", To: "out"},
		},
		ExecutionOrder: []string{"in", "agent", "out"},
	}
	agents := &scriptedAgentHandler{results: map[string]map[string]any{
		"agent": {"text": "done"},
	}}
	e := NewExecutor(agents)
	res, err := e.Execute(context.Background(), d, map[string]any{"query": "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Failed {
		t.Fatalf("expected success, failed at %q", res.FailedNode)
	}
	if d.Nodes["agent"].Status != StatusCompleted {
		t.Fatalf("expected agent node completed, got %v", d.Nodes["agent"].Status)
	}
	if got := res.FinalResult["agent"].(map[string]any)["text"]; got != "done" {
		t.Fatalf("unexpected final result: %v", res.FinalResult)
	}
}

func TestExecuteSkipsFalseConditionBranch(t *testing.T) {
	d := branchingDAG()
	agents := &scriptedAgentHandler{results: map[string]map[string]any{
		"router": {"confidence": 0.9},
		"hard":   {"text": "should not run"},
		"easy":   {"text": "took the easy path"},
	}}
	e := NewExecutor(agents)
	res, err := e.Execute(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if d.Nodes["hard"].Status != StatusSkipped {
		t.Fatalf("expected hard branch skipped, got %v", d.Nodes["hard"].Status)
	}
	if d.Nodes["easy"].Status != StatusCompleted {
		t.Fatalf("expected easy branch completed, got %v", d.Nodes["easy"].Status)
	}
	if res.Failed {
		t.Fatal("expected overall success")
	}
}

func TestExecutePropagatesFailureWithoutStoppingSiblings(t *testing.T) {
	d := &DAG{
		ID: "fanout",
		Nodes: map[string]*Node{
			"in":  {ID: "in", Type: NodeInput, Status: StatusPending},
			"a":   {ID: "a", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"b":   {ID: "b", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"out": {ID: "out", Type: NodeOutput, Status: StatusPending},
		},
		Edges: []*Edge{
			{From: "in", To: "a"},
			{From: "in", To: "b"},
			{From: "a", To: "out"},
			{From: "b", To: "out"},
		},
		ExecutionOrder: []string{"in", "a", "b", "out"},
	}
	agents := &scriptedAgentHandler{
		results: map[string]map[string]any{"b": {"text": "ok"}},
		errs:    map[string]error{"a": errors.New("boom")},
	}
	e := NewExecutor(agents)
	res, err := e.Execute(context.Background(), d, nil)
	if err == nil {
		t.Fatal("expected an error from the failed node")
	}
	if !res.Failed || res.FailedNode != "a" {
		t.Fatalf("expected failure recorded at node a, got %+v", res)
	}
	if d.Nodes["b"].Status != StatusCompleted {
		t.Fatalf("expected sibling b to complete despite a's failure, got %v", d.Nodes["b"].Status)
	}
}

// barrierAgentHandler blocks every node until exactly concurrent goroutines
// are all waiting, proving a team of siblings is dispatched together rather
// than one at a time.
type barrierAgentHandler struct {
	concurrent int
	mu         sync.Mutex
	waiting    int
	release    chan struct{}
}

func (b *barrierAgentHandler) RunAgent(ctx context.Context, node *Node, toolIDs []string, deps map[string]map[string]any, input map[string]any) (map[string]any, error) {
	b.mu.Lock()
	b.waiting++
	n := b.waiting
	b.mu.Unlock()

	if n == b.concurrent {
		close(b.release)
	}

	select {
	case <-b.release:
	case <-time.After(time.Second):
		return nil, errors.New("timed out waiting for sibling nodes to start")
	}
	return map[string]any{"text": node.ID}, nil
}

func TestExecuteDispatchesParallelTeamInASingleBatch(t *testing.T) {
	d := &DAG{
		ID: "team",
		Nodes: map[string]*Node{
			"in":       {ID: "in", Type: NodeInput, Status: StatusPending},
			"member-1": {ID: "member-1", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"member-2": {ID: "member-2", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"member-3": {ID: "member-3", Type: NodeAgent, Status: StatusPending, Config: NodeConfig{Agent: &AgentConfig{}}},
			"out":      {ID: "out", Type: NodeOutput, Status: StatusPending},
		},
		Edges: []*Edge{
			{From: "in", To: "member-1"},
			{From: "in", To: "member-2"},
			{From: "in", To: "member-3"},
			{From: "member-1", To: "out"},
			{From: "member-2", To: "out"},
			{From: "member-3", To: "out"},
		},
		ExecutionOrder: []string{"in", "member-1", "member-2", "member-3", "out"},
	}
	agents := &barrierAgentHandler{concurrent: 3, release: make(chan struct{})}
	e := NewExecutor(agents)
	res, err := e.Execute(context.Background(), d, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.Failed {
		t.Fatalf("expected success, failed at %q", res.FailedNode)
	}
	for _, id := range []string{"member-1", "member-2", "member-3"} {
		if d.Nodes[id].Status != StatusCompleted {
			t.Fatalf("expected %s completed, got %v", id, d.Nodes[id].Status)
		}
	}
}

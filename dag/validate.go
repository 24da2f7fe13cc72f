package dag

import (
	"fmt"

	orcherrors "github.com/agentmesh/orchestrator/errors"
)

// Validate checks every invariant from spec.md §3: exactly one input node,
// at least one output node, acyclic, a valid topological ExecutionOrder,
// every agent node's preferred categories/types within the closed sets
// (checked by the caller via validCategory/validType funcs so this package
// has no dependency on tools), and ToolMapping bounded by MaxTools and a
// subset of SelectedTools.
func (d *DAG) Validate(validCategory, validType func(string) bool) error {
	if err := d.validateInputOutput(); err != nil {
		return err
	}
	if err := d.validateAcyclic(); err != nil {
		return err
	}
	if err := d.validateExecutionOrder(); err != nil {
		return err
	}
	if err := d.validateAgentPreferences(validCategory, validType); err != nil {
		return err
	}
	if err := d.validateToolMapping(); err != nil {
		return err
	}
	if err := d.validateReachability(); err != nil {
		return err
	}
	return nil
}

func (d *DAG) validateInputOutput() error {
	var inputs, outputs int
	for _, n := range d.Nodes {
		switch n.Type {
		case NodeInput:
			inputs++
		case NodeOutput:
			outputs++
		}
	}
	if inputs != 1 {
		return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("expected exactly one input node, found %d", inputs))
	}
	if outputs < 1 {
		return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("expected at least one output node, found %d", outputs))
	}
	return nil
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// validateAcyclic runs DFS 3-coloring over the adjacency implied by Edges.
func (d *DAG) validateAcyclic() error {
	adj := d.adjacency()
	color := make(map[string]int, len(d.Nodes))
	for id := range d.Nodes {
		color[id] = colorWhite
	}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = colorGray
		for _, next := range adj[id] {
			switch color[next] {
			case colorGray:
				return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("cycle detected at node %q", next))
			case colorWhite:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = colorBlack
		return nil
	}

	for id := range d.Nodes {
		if color[id] == colorWhite {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateExecutionOrder checks ExecutionOrder is a permutation of Nodes'
// keys and respects every edge's precedence.
func (d *DAG) validateExecutionOrder() error {
	if len(d.ExecutionOrder) != len(d.Nodes) {
		return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("execution order has %d entries, expected %d", len(d.ExecutionOrder), len(d.Nodes)))
	}
	position := make(map[string]int, len(d.ExecutionOrder))
	for i, id := range d.ExecutionOrder {
		if _, ok := d.Nodes[id]; !ok {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("execution order references unknown node %q", id))
		}
		if _, dup := position[id]; dup {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("execution order repeats node %q", id))
		}
		position[id] = i
	}
	for _, e := range d.Edges {
		if position[e.From] >= position[e.To] {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("execution order violates edge %s->%s", e.From, e.To))
		}
	}
	return nil
}

func (d *DAG) validateAgentPreferences(validCategory, validType func(string) bool) error {
	for id, n := range d.Nodes {
		if n.Type != NodeAgent || n.Config.Agent == nil {
			continue
		}
		for _, c := range n.Config.Agent.PreferredCategories {
			if !validCategory(c) {
				return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("node %q has unknown preferred category %q", id, c))
			}
		}
		for _, t := range n.Config.Agent.PreferredTypes {
			if !validType(t) {
				return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("node %q has unknown preferred type %q", id, t))
			}
		}
	}
	return nil
}

func (d *DAG) validateToolMapping() error {
	selected := make(map[string]bool, len(d.SelectedTools))
	for _, id := range d.SelectedTools {
		selected[id] = true
	}
	for nodeID, ids := range d.ToolMapping {
		n, ok := d.Nodes[nodeID]
		if !ok {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("tool mapping references unknown node %q", nodeID))
		}
		if n.Type == NodeAgent && n.Config.Agent != nil && n.Config.Agent.MaxTools > 0 && len(ids) > n.Config.Agent.MaxTools {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("node %q maps %d tools, exceeding max %d", nodeID, len(ids), n.Config.Agent.MaxTools))
		}
		for _, id := range ids {
			if !selected[id] {
				return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("node %q maps tool %q not in selected tools", nodeID, id))
			}
		}
	}
	return nil
}

// validateReachability ensures every agent node can reach at least one
// output node by a directed path, so a generated DAG never contains dead
// agent work (spec.md §7 DAGInvalid: "unreachable agent").
func (d *DAG) validateReachability() error {
	adj := d.adjacency()
	outputs := make(map[string]bool)
	for id, n := range d.Nodes {
		if n.Type == NodeOutput {
			outputs[id] = true
		}
	}
	reachesOutput := make(map[string]bool, len(d.Nodes))
	var canReach func(id string, seen map[string]bool) bool
	canReach = func(id string, seen map[string]bool) bool {
		if v, ok := reachesOutput[id]; ok {
			return v
		}
		if outputs[id] {
			reachesOutput[id] = true
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		for _, next := range adj[id] {
			if canReach(next, seen) {
				reachesOutput[id] = true
				return true
			}
		}
		return false
	}
	for id, n := range d.Nodes {
		if n.Type != NodeAgent {
			continue
		}
		if !canReach(id, map[string]bool{}) {
			return orcherrors.New(orcherrors.DAGInvalid, "dag.Validate", fmt.Errorf("agent node %q cannot reach any output node", id))
		}
	}
	return nil
}

func (d *DAG) adjacency() map[string][]string {
	adj := make(map[string][]string, len(d.Nodes))
	for _, e := range d.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

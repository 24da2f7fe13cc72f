// Package persist writes the instance configuration document through to an
// external store, verbatim and opaque to the core (spec.md §6 "Persisted
// configuration shape").
package persist

import (
	"time"

	"github.com/agentmesh/orchestrator/dag"
)

// NodeDoc is the persisted shape of one dag.Node.
type NodeDoc struct {
	ID           string   `bson:"id" json:"id"`
	Type         string   `bson:"type" json:"type"`
	Capabilities []string `bson:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// EdgeDoc is the persisted shape of one dag.Edge.
type EdgeDoc struct {
	From      string  `bson:"from" json:"from"`
	To        string  `bson:"to" json:"to"`
	Condition string  `bson:"condition,omitempty" json:"condition,omitempty"`
	Weight    float64 `bson:"weight" json:"weight"`
}

// DAGDoc is the `dag` sub-document of the persisted config shape.
type DAGDoc struct {
	Nodes             []NodeDoc `bson:"nodes" json:"nodes"`
	Edges             []EdgeDoc `bson:"edges" json:"edges"`
	ExecutionOrder    []string  `bson:"executionOrder" json:"executionOrder"`
	OptimizationScore float64   `bson:"optimizationScore" json:"optimizationScore"`
	EstimatedCost     float64   `bson:"estimatedCost" json:"estimatedCost"`
	EstimatedTime     float64   `bson:"estimatedTime" json:"estimatedTime"`
}

// AgentDoc is the `agent` sub-document: the root agent node's configuration,
// flattened for the integrator's convenience.
type AgentDoc struct {
	Name          string         `bson:"name" json:"name"`
	Description   string         `bson:"description" json:"description"`
	Instructions  string         `bson:"instructions" json:"instructions"`
	ModelConfig   map[string]any `bson:"modelConfig" json:"modelConfig"`
	Temperature   float64        `bson:"temperature" json:"temperature"`
	MaxTokens     int            `bson:"maxTokens" json:"maxTokens"`
	MemoryEnabled bool           `bson:"memoryEnabled" json:"memoryEnabled"`
}

// ToolsDoc is the `tools` sub-document.
type ToolsDoc struct {
	TotalTools int                 `bson:"totalTools" json:"totalTools"`
	ByCategory map[string]int      `bson:"byCategory" json:"byCategory"`
	ByNode     map[string][]string `bson:"byNode" json:"byNode"`
	Details    map[string]any      `bson:"details" json:"details"`
}

// MetaDoc is the `meta` sub-document.
type MetaDoc struct {
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	Status       string    `bson:"status" json:"status"`
	HealthStatus string    `bson:"healthStatus" json:"healthStatus"`
}

// ConfigDocument is the full persisted configuration shape from spec.md §6,
// written verbatim through an external DB collaborator. The core never
// reads interpreted fields back out of it; it exists purely as an audit/
// rehydration record for integrators.
type ConfigDocument struct {
	InstanceID      string `bson:"instanceId" json:"instanceId"`
	AgentID         string `bson:"agentId" json:"agentId"`
	DAGID           string `bson:"dagId" json:"dagId"`
	UserID          string `bson:"userId" json:"userId"`
	TemplateID      string `bson:"templateId" json:"templateId"`
	GenerationMode  string `bson:"generationMode" json:"generationMode"`

	DAG   DAGDoc   `bson:"dag" json:"dag"`
	Agent AgentDoc `bson:"agent" json:"agent"`
	Tools ToolsDoc `bson:"tools" json:"tools"`
	Meta  MetaDoc  `bson:"meta" json:"meta"`
}

// FromDAG flattens a generated dag.DAG into its persisted NodeDoc/EdgeDoc
// representation.
func FromDAG(d *dag.DAG) DAGDoc {
	nodes := make([]NodeDoc, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		nodes = append(nodes, NodeDoc{ID: n.ID, Type: string(n.Type), Capabilities: n.Capabilities})
	}
	edges := make([]EdgeDoc, 0, len(d.Edges))
	for _, e := range d.Edges {
		edges = append(edges, EdgeDoc{From: e.From, To: e.To, Condition: e.Condition, Weight: e.Weight})
	}
	return DAGDoc{
		Nodes:             nodes,
		Edges:             edges,
		ExecutionOrder:    append([]string(nil), d.ExecutionOrder...),
		OptimizationScore: d.OptimizationScore,
		EstimatedCost:     d.EstimatedCost,
		EstimatedTime:     d.EstimatedTime,
	}
}

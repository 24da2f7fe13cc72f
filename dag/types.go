// Package dag implements the DAG generator and executor (spec.md §§4.B-4.D):
// turning a template plus user preferences into a validated, tool-bound
// execution graph, then topologically scheduling and running it.
package dag

import (
	"time"
)

// NodeType is the closed set of node kinds. Each NodeType has exactly one
// handler, selected by a switch over NodeType in dispatchNode (see
// handlers.go); a variant without a handler is rejected at run time.
type NodeType string

const (
	NodeInput     NodeType = "input"
	NodeOutput    NodeType = "output"
	NodeAgent     NodeType = "agent"
	NodeCondition NodeType = "condition"
	NodeMerge     NodeType = "merge"
	NodeParallel  NodeType = "parallel"
)

// MergeStrategy selects how a merge node combines its dependencies' results.
type MergeStrategy string

const (
	MergeConcat   MergeStrategy = "concat"
	MergeCombine  MergeStrategy = "combine"
)

// Status is a node's execution-time state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ModelConfig carries per-agent-node model call parameters. Opaque beyond
// these fields: the executor never interprets ModelConfig.Extra, it only
// forwards it to the worker primitive.
type ModelConfig struct {
	Model  string
	Extra  map[string]any
}

// AgentConfig is the tagged config for NodeAgent (spec.md §3's free-form
// config bag, replaced here with a typed record per the §9 redesign note —
// unknown fields are simply not representable, so they cannot leak through).
type AgentConfig struct {
	Instructions        string
	ModelConfig         ModelConfig
	Temperature         float64
	MaxTokens           int
	PreferredCategories []string // tools.Category values, kept as strings to avoid an import cycle with tools
	PreferredTypes      []string // tools.Type values
	MaxTools            int
	KnowledgeBases       []string
}

// ConditionConfig is the tagged config for NodeCondition.
type ConditionConfig struct {
	Expression string
}

// MergeConfig is the tagged config for NodeMerge.
type MergeConfig struct {
	Strategy MergeStrategy
}

// NodeConfig is a closed, tagged union: exactly one of the pointer fields is
// set, matching Node.Type. input/output/parallel nodes carry no config.
type NodeConfig struct {
	Agent     *AgentConfig
	Condition *ConditionConfig
	Merge     *MergeConfig
}

// Node is one vertex of a DAG.
type Node struct {
	ID     string
	Type   NodeType
	Config NodeConfig

	// Capabilities are template-declared tags used by the generator's node
	// inclusion rule (spec.md §4.B step 2); not used after generation.
	Capabilities []string

	// Execution-time fields, populated by the executor.
	Status    Status
	StartedAt time.Time
	EndedAt   time.Time
	Result    map[string]any
	Error     string
}

// Edge connects two nodes. Condition is the raw grammar string from the
// template/spec; the generator parses it once into a ConditionExpr (see
// condition.go) so the executor never re-parses it (spec.md §9).
type Edge struct {
	From      string
	To        string
	Condition string
	Weight    float64

	parsed ConditionExpr
}

// DAG is a validated, tool-bound execution graph (spec.md §3).
type DAG struct {
	ID             string
	Nodes          map[string]*Node
	Edges          []*Edge
	ExecutionOrder []string

	// SelectedTools are every tool id available to at least one node.
	SelectedTools []string
	// ToolMapping is nodeId -> the subset of SelectedTools bound to that node.
	ToolMapping map[string][]string

	EstimatedCost      float64
	EstimatedTime      float64
	OptimizationScore  float64
}

// OptimizationStrategy is the multi-objective preference used by tool
// ranking and the optimized-mode post-filter.
type OptimizationStrategy string

const (
	StrategyPerformance OptimizationStrategy = "performance"
	StrategyAccuracy    OptimizationStrategy = "accuracy"
	StrategyCost        OptimizationStrategy = "cost"
	StrategyBalanced    OptimizationStrategy = "balanced"
)

// Mode selects how much of the template survives generation.
type Mode string

const (
	ModeFull      Mode = "full"
	ModeMinimal   Mode = "minimal"
	ModeCustom    Mode = "custom"
	ModeOptimized Mode = "optimized"
)

// UserPreferences is the request-scoped preference bag (spec.md §3).
type UserPreferences struct {
	PreferredTypes      []string
	PreferredCategories []string
	ExcludedTools       []string
	MaxToolsPerAgent    int // default 5
	OptimizationStrategy OptimizationStrategy
	MaxExecutionTime    time.Duration
	MaxCostPerExecution float64
	MinSuccessRate      float64
	EnableParallelExecution bool
	EnableFallbackNodes     bool
	CustomNodeConfigs   map[string]AgentConfig
}

// WithDefaults returns a copy of p with documented defaults applied.
func (p UserPreferences) WithDefaults() UserPreferences {
	if p.MaxToolsPerAgent <= 0 {
		p.MaxToolsPerAgent = 5
	}
	if p.OptimizationStrategy == "" {
		p.OptimizationStrategy = StrategyBalanced
	}
	return p
}

// ScoreWeights parametrizes the optimization-score computation (spec.md §9
// open question: the source's weights differ ad hoc across code paths; here
// they are a single configurable value defaulting to 0.4/0.3/0.3).
type ScoreWeights struct {
	SuccessRate float64
	TimeBand    float64
	CostBand    float64
}

// DefaultScoreWeights is the spec's chosen default weighting.
var DefaultScoreWeights = ScoreWeights{SuccessRate: 0.4, TimeBand: 0.3, CostBand: 0.3}

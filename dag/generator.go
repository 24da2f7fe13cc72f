package dag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/telemetry"
)

// ToolInfo is the minimal per-tool data the generator needs to rank and cost
// a selection. It mirrors tools.Tool's ranking-relevant fields as plain
// strings/primitives so this package has no import-cycle dependency on the
// tools package; the orchestrator package adapts a *tools.Registry to the
// ToolSource interface below.
type ToolInfo struct {
	ID              string
	Category        string
	Type            string // "builtin", "system", "external", "mcp"
	SuccessRate     float64
	AvgResponseTime time.Duration
}

// ToolSource is the narrow read dependency the generator has on the tool
// registry (component A).
type ToolSource interface {
	// SelectForAgent returns enabled+available tools filtered by categories
	// and types (nil/empty means unfiltered), already sorted by
	// (successRate desc, -avgResponseTime), truncated to maxTools (<=0
	// unbounded).
	SelectForAgent(categories, types []string, maxTools int) []ToolInfo
}

// Generator turns a (template, preferences) pair into a validated,
// tool-bound DAG (spec.md §4.B).
type Generator struct {
	templates TemplateStore
	tools     ToolSource
	weights   ScoreWeights
	logger    telemetry.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithScoreWeights overrides DefaultScoreWeights.
func WithScoreWeights(w ScoreWeights) GeneratorOption {
	return func(g *Generator) { g.weights = w }
}

// WithGeneratorLogger sets the generator's logger.
func WithGeneratorLogger(l telemetry.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator constructs a Generator.
func NewGenerator(templates TemplateStore, tools ToolSource, opts ...GeneratorOption) *Generator {
	g := &Generator{
		templates: templates,
		tools:     tools,
		weights:   DefaultScoreWeights,
		logger:    telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the full pipeline from spec.md §4.B steps 1-8: load, include,
// customize, rebuild edges, select tools, map per node, validate, score.
func (g *Generator) Generate(ctx context.Context, req Request) (*DAG, error) {
	tmpl, ok := g.templates.Template(req.TemplateID)
	if !ok {
		return nil, orcherrors.New(orcherrors.TemplateNotFound, "dag.Generate", fmt.Errorf("unknown template %q", req.TemplateID))
	}
	working := tmpl.Clone()
	prefs := req.UserPreferences.WithDefaults()

	mode := req.Mode
	if mode == "" {
		mode = ModeCustom
	}

	nodes := g.includeNodes(working, mode, req, prefs)
	g.customizeNodes(nodes, prefs)
	edges := rebuildEdges(working.Edges, nodes)

	var selected []ToolInfo
	if mode == ModeMinimal {
		selected = nil // minimal wires exactly one reasoning tool below
	} else {
		selected = g.selectToolPool(prefs, req)
	}

	d := &DAG{
		ID:          uuid.NewString(),
		Nodes:       make(map[string]*Node, len(nodes)),
		ToolMapping: make(map[string][]string),
	}
	for _, n := range nodes {
		d.Nodes[n.ID] = &Node{ID: n.ID, Type: n.Type, Config: n.Config, Capabilities: n.Capabilities, Status: StatusPending}
	}
	d.Edges = make([]*Edge, 0, len(edges))
	for _, e := range edges {
		parsed := ParseCondition(e.Condition)
		if parsed.Unknown {
			g.logger.Warn(ctx, "edge has unrecognized condition, treating as always-true", "from", e.From, "to", e.To, "condition", e.Condition)
		}
		d.Edges = append(d.Edges, &Edge{From: e.From, To: e.To, Condition: e.Condition, Weight: e.Weight, parsed: parsed})
	}

	toolSet := make(map[string]bool)
	if mode == ModeMinimal {
		toolSet["builtin.reasoning"] = true
		for _, n := range nodes {
			if n.Type != NodeAgent {
				continue
			}
			d.ToolMapping[n.ID] = []string{"builtin.reasoning"}
		}
	} else {
		strategy := prefs.OptimizationStrategy
		for _, n := range nodes {
			if n.Type != NodeAgent || n.Config.Agent == nil {
				continue
			}
			ranked := rankForNode(selected, n.Config.Agent, strategy)
			max := n.Config.Agent.MaxTools
			if max <= 0 {
				max = prefs.MaxToolsPerAgent
			}
			if len(ranked) > max {
				ranked = ranked[:max]
			}
			ids := make([]string, len(ranked))
			for i, t := range ranked {
				ids[i] = t.ID
				toolSet[t.ID] = true
			}
			d.ToolMapping[n.ID] = ids
		}
	}
	for id := range toolSet {
		d.SelectedTools = append(d.SelectedTools, id)
	}
	sort.Strings(d.SelectedTools)

	if mode == ModeOptimized {
		g.applyOptimizedFilter(d, prefs.OptimizationStrategy, toolInfoIndex(selected))
	}

	order, err := topologicalOrder(d)
	if err != nil {
		return nil, err
	}
	d.ExecutionOrder = order

	if err := d.Validate(validCategoryString, validTypeString); err != nil {
		return nil, err
	}

	g.score(d, toolInfoIndex(selected))
	return d, nil
}

// includeNodes implements spec.md §4.B step 2: always keep input/output; for
// other nodes, keep iff declared capabilities intersect
// request.SelectedCapabilities (when non-empty); agent nodes additionally
// require at least one preferred category to be in the user's preferred
// categories (when the user specified any).
func (g *Generator) includeNodes(tmpl Template, mode Mode, req Request, prefs UserPreferences) []TemplateNode {
	if mode == ModeMinimal {
		return minimalNodes(tmpl)
	}

	var kept []TemplateNode
	for _, n := range tmpl.Nodes {
		if n.Type == NodeInput || n.Type == NodeOutput {
			kept = append(kept, n)
			continue
		}
		if len(req.SelectedCapabilities) > 0 && !intersects(n.Capabilities, req.SelectedCapabilities) {
			continue
		}
		if n.Type == NodeAgent && n.Config.Agent != nil && len(prefs.PreferredCategories) > 0 {
			if !intersects(n.Config.Agent.PreferredCategories, prefs.PreferredCategories) {
				continue
			}
		}
		kept = append(kept, n)
	}
	return kept
}

// minimalNodes keeps only input/output and a single agent node wired to the
// builtin reasoning tool (spec.md §4.B "minimal" mode). The agent node is the
// template's first agent node, keeping its id (and so its edges) with a
// reasoning-only config; a template without agent nodes gets a synthesized
// node "agent". Edges through the dropped nodes are not rewired.
func minimalNodes(tmpl Template) []TemplateNode {
	var out []TemplateNode
	agent := TemplateNode{ID: "agent", Type: NodeAgent}
	found := false
	for _, n := range tmpl.Nodes {
		if n.Type == NodeInput || n.Type == NodeOutput {
			out = append(out, n)
		} else if n.Type == NodeAgent && !found {
			agent, found = n, true
		}
	}
	out = append(out, TemplateNode{
		ID:           agent.ID,
		Type:         NodeAgent,
		Capabilities: agent.Capabilities,
		Config: NodeConfig{Agent: &AgentConfig{
			Instructions:        "Respond directly using reasoning only.",
			PreferredCategories: []string{"reasoning"},
			PreferredTypes:      []string{"builtin"},
			MaxTools:            1,
		}},
	})
	return out
}

// customizeNodes implements spec.md §4.B step 3.
func (g *Generator) customizeNodes(nodes []TemplateNode, prefs UserPreferences) {
	for i := range nodes {
		n := &nodes[i]
		if n.Type != NodeAgent || n.Config.Agent == nil {
			continue
		}
		a := n.Config.Agent
		if len(prefs.PreferredTypes) > 0 {
			a.PreferredTypes = prefs.PreferredTypes
		}
		if len(prefs.PreferredCategories) > 0 {
			a.PreferredCategories = prefs.PreferredCategories
		}
		if prefs.MaxToolsPerAgent > 0 {
			a.MaxTools = prefs.MaxToolsPerAgent
		}
		if override, ok := prefs.CustomNodeConfigs[n.ID]; ok {
			if override.Instructions != "" {
				a.Instructions = a.Instructions + " " + override.Instructions
			}
			if override.ModelConfig.Model != "" {
				a.ModelConfig.Model = override.ModelConfig.Model
			}
			if override.MaxTokens > 0 {
				a.MaxTokens = override.MaxTokens
			}
			if override.Temperature > 0 {
				a.Temperature = override.Temperature
			}
		}
	}
}

func rebuildEdges(edges []TemplateEdge, nodes []TemplateNode) []TemplateEdge {
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}
	var out []TemplateEdge
	for _, e := range edges {
		if present[e.From] && present[e.To] {
			out = append(out, e)
		}
	}
	return out
}

// selectToolPool implements spec.md §4.B step 5.
func (g *Generator) selectToolPool(prefs UserPreferences, req Request) []ToolInfo {
	pool := g.tools.SelectForAgent(prefs.PreferredCategories, prefs.PreferredTypes, 0)

	excluded := toSetStr(prefs.ExcludedTools)
	for _, id := range req.DisabledTools {
		excluded[id] = true
	}
	enabled := toSetStr(req.EnabledTools)

	out := pool[:0:0]
	for _, t := range pool {
		if excluded[t.ID] {
			continue
		}
		if len(enabled) > 0 && !enabled[t.ID] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// rankForNode implements spec.md §4.B step 6: filter to the node's preferred
// categories (if any), rank by strategy.
func rankForNode(pool []ToolInfo, agent *AgentConfig, strategy OptimizationStrategy) []ToolInfo {
	catSet := toSetStr(agent.PreferredCategories)
	var filtered []ToolInfo
	for _, t := range pool {
		if len(catSet) > 0 && !catSet[t.Category] {
			continue
		}
		filtered = append(filtered, t)
	}
	rankByStrategy(filtered, strategy)
	return filtered
}

// rankByStrategy sorts in place per spec.md §4.B's four ranking strategies,
// tie-broken by ascending ID.
func rankByStrategy(tools []ToolInfo, strategy OptimizationStrategy) {
	less := func(i, j int) bool {
		a, b := tools[i], tools[j]
		switch strategy {
		case StrategyPerformance:
			if a.AvgResponseTime != b.AvgResponseTime {
				return a.AvgResponseTime < b.AvgResponseTime
			}
		case StrategyAccuracy:
			if a.SuccessRate != b.SuccessRate {
				return a.SuccessRate > b.SuccessRate
			}
		case StrategyCost:
			ca, cb := builtinRank(a.Type), builtinRank(b.Type)
			if ca != cb {
				return ca < cb
			}
			if a.AvgResponseTime != b.AvgResponseTime {
				return a.AvgResponseTime < b.AvgResponseTime
			}
		default: // balanced
			sa, sb := balancedScore(a), balancedScore(b)
			if sa != sb {
				return sa > sb
			}
		}
		return a.ID < b.ID
	}
	sort.Slice(tools, less)
}

func builtinRank(t string) int {
	if t == "builtin" {
		return 0
	}
	return 1
}

// balancedScore implements 0.5*successRate - 0.3*avgResponseTime
// (normalized to seconds so the two terms are comparable in magnitude).
func balancedScore(t ToolInfo) float64 {
	return 0.5*t.SuccessRate - 0.3*t.AvgResponseTime.Seconds()
}

// applyOptimizedFilter implements spec.md §4.B's optimized-mode post-filter.
func (g *Generator) applyOptimizedFilter(d *DAG, strategy OptimizationStrategy, index map[string]ToolInfo) {
	keep := func(id string) bool {
		t, ok := index[id]
		if !ok {
			return false
		}
		switch strategy {
		case StrategyPerformance:
			return t.AvgResponseTime <= 5000*time.Millisecond
		case StrategyAccuracy:
			return t.SuccessRate >= 0.9
		case StrategyCost:
			return t.Type == "builtin"
		default:
			return balancedScore(t) >= 0.6
		}
	}

	newSelected := d.SelectedTools[:0:0]
	for _, id := range d.SelectedTools {
		if keep(id) {
			newSelected = append(newSelected, id)
		}
	}
	d.SelectedTools = newSelected
	selectedSet := toSetStr(newSelected)
	for nodeID, ids := range d.ToolMapping {
		filtered := ids[:0:0]
		for _, id := range ids {
			if selectedSet[id] {
				filtered = append(filtered, id)
			}
		}
		d.ToolMapping[nodeID] = filtered
	}
}

// score implements spec.md §4.B step 8.
func (g *Generator) score(d *DAG, index map[string]ToolInfo) {
	var agentNodes, mcpTools, externalTools int
	var otherWeight float64
	for _, n := range d.Nodes {
		if n.Type == NodeAgent {
			agentNodes++
		} else {
			otherWeight += nodeWeight(n.Type)
		}
	}
	for _, id := range d.SelectedTools {
		if t, ok := index[id]; ok {
			switch t.Type {
			case "mcp":
				mcpTools++
			case "external":
				externalTools++
			}
		}
	}

	d.EstimatedCost = 0.1 + 0.02*float64(len(d.SelectedTools)) + 0.05*float64(mcpTools) + 0.03*float64(externalTools)
	d.EstimatedTime = 5 + 10*float64(agentNodes) + otherWeight

	d.OptimizationScore = g.weights.SuccessRate*meanSuccessRate(d.SelectedTools, index) +
		g.weights.TimeBand*normalizedTimeBand(d.EstimatedTime) +
		g.weights.CostBand*normalizedCostBand(d.EstimatedCost)
}

func nodeWeight(t NodeType) float64 {
	switch t {
	case NodeCondition, NodeMerge, NodeParallel:
		return 1
	default:
		return 0
	}
}

func meanSuccessRate(ids []string, index map[string]ToolInfo) float64 {
	if len(ids) == 0 {
		return 1
	}
	var sum float64
	for _, id := range ids {
		sum += index[id].SuccessRate
	}
	return sum / float64(len(ids))
}

// normalizedTimeBand/normalizedCostBand squash the dimensionless
// cost/time estimates into [0,1] via a simple decay, so the optimization
// score stays bounded regardless of DAG size (spec.md §9: units are
// undocumented/relative; this module treats them as relative costs only).
func normalizedTimeBand(t float64) float64 {
	return 1 / (1 + t/60)
}

func normalizedCostBand(c float64) float64 {
	return 1 / (1 + c)
}

func toolInfoIndex(tools []ToolInfo) map[string]ToolInfo {
	m := make(map[string]ToolInfo, len(tools))
	for _, t := range tools {
		m[t.ID] = t
	}
	return m
}

func toSetStr(ss []string) map[string]bool {
	m := make(map[string]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

func intersects(a, b []string) bool {
	set := toSetStr(b)
	for _, v := range a {
		if set[v] {
			return true
		}
	}
	return false
}

// topologicalOrder computes a valid topological order via Kahn's algorithm.
// Ties are broken by node id ascending so generation is deterministic.
func topologicalOrder(d *DAG) ([]string, error) {
	inDegree := make(map[string]int, len(d.Nodes))
	adj := make(map[string][]string, len(d.Nodes))
	for id := range d.Nodes {
		inDegree[id] = 0
	}
	for _, e := range d.Edges {
		inDegree[e.To]++
		adj[e.From] = append(adj[e.From], e.To)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if len(order) != len(d.Nodes) {
		return nil, orcherrors.New(orcherrors.DAGInvalid, "dag.topologicalOrder", fmt.Errorf("graph has a cycle, scheduled %d of %d nodes", len(order), len(d.Nodes)))
	}
	return order, nil
}

// validCategoryString/validTypeString are the closed-set checks the
// generator needs without importing the tools package (avoiding an import
// cycle: tools never imports dag). They accept any of the ten documented
// category strings and four type strings directly, the same closed sets as
// tools.ValidCategory/tools.ValidType.
func validCategoryString(c string) bool {
	switch c {
	case "search", "content", "file", "reasoning", "calculation",
		"communication", "analysis", "automation", "security", "data":
		return true
	}
	return false
}

func validTypeString(t string) bool {
	switch t {
	case "builtin", "system", "external", "mcp":
		return true
	}
	return false
}

package dag

import (
	"context"
	"sort"
	"sync"

	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/telemetry"
)

// ExecutionResult is the outcome of running a DAG to completion (spec.md
// §4.D).
type ExecutionResult struct {
	DAGID         string
	NodeResults   map[string]map[string]any
	ExecutionPath []string
	FinalResult   map[string]any
	Failed        bool
	FailedNode    string
	Err           error
}

// Executor schedules and runs a generated DAG's nodes in topological batches,
// running every ready node in a batch concurrently (spec.md §4.D).
type Executor struct {
	agents AgentHandler
	logger telemetry.Logger
	tracer telemetry.Tracer
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l telemetry.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorTracer sets the executor's tracer.
func WithExecutorTracer(t telemetry.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

// NewExecutor constructs an Executor. agents handles every NodeAgent node;
// it may be nil for DAGs with no agent nodes (e.g. pure routing graphs).
func NewExecutor(agents AgentHandler, opts ...ExecutorOption) *Executor {
	e := &Executor{
		agents: agents,
		logger: telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs d to completion or until ctx is done. Nodes are scheduled in
// in-degree-zero batches; every node in a batch runs in its own goroutine.
// A failed node's downstream nodes are marked skipped without running, while
// sibling branches continue uninterrupted (spec.md §4.D).
func (e *Executor) Execute(ctx context.Context, d *DAG, input map[string]any) (*ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "dag.Execute")
	defer span.End()

	inDegree := make(map[string]int, len(d.Nodes))
	adj := make(map[string][]string, len(d.Nodes))
	predecessors := make(map[string][]string, len(d.Nodes))
	for id := range d.Nodes {
		inDegree[id] = 0
	}
	for _, edge := range d.Edges {
		inDegree[edge.To]++
		adj[edge.From] = append(adj[edge.From], edge.To)
		predecessors[edge.To] = append(predecessors[edge.To], edge.From)
	}

	var mu sync.Mutex
	results := make(map[string]map[string]any, len(d.Nodes))
	blocked := make(map[string]bool)

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	res := &ExecutionResult{DAGID: d.ID, NodeResults: results}

	for len(ready) > 0 {
		if err := ctx.Err(); err != nil {
			markRemainingSkipped(d, ready, res)
			res.Err = orcherrors.New(orcherrors.Deadline, "dag.Execute", err)
			return res, res.Err
		}

		sort.Strings(ready)
		batch := ready
		ready = nil

		var wg sync.WaitGroup
		for _, id := range batch {
			id := id
			wg.Add(1)
			go func() {
				defer wg.Done()
				node := d.Nodes[id]

				mu.Lock()
				skip := blocked[id]
				mu.Unlock()
				if skip {
					mu.Lock()
					node.Status = StatusSkipped
					res.ExecutionPath = append(res.ExecutionPath, id)
					mu.Unlock()
					return
				}

				mu.Lock()
				deps := make(map[string]map[string]any, len(predecessors[id]))
				for _, p := range predecessors[id] {
					deps[p] = results[p]
				}
				mu.Unlock()

				node.Status = StatusRunning
				result, err := dispatchNode(ctx, d, node, deps, input, e.agents)

				mu.Lock()
				defer mu.Unlock()
				res.ExecutionPath = append(res.ExecutionPath, id)
				if err != nil {
					node.Status = StatusFailed
					node.Error = err.Error()
					res.Failed = true
					if res.FailedNode == "" {
						res.FailedNode = id
						res.Err = err
					}
					e.logger.Error(ctx, "node failed", "node", id, "error", err)
					propagateSkip(id, adj, blocked)
					return
				}
				node.Status = StatusCompleted
				node.Result = result
				results[id] = result
			}()
		}
		wg.Wait()

		next := make(map[string]bool)
		for _, id := range batch {
			node := d.Nodes[id]
			if node.Status == StatusSkipped || node.Status == StatusFailed {
				for _, n := range adj[id] {
					inDegree[n]--
					if inDegree[n] <= 0 {
						next[n] = true
					}
				}
				continue
			}
			if node.Status != StatusCompleted {
				continue
			}
			for _, edge := range edgesFrom(d, id) {
				if !edge.parsed.Evaluate(results[id]) {
					mu.Lock()
					propagateSkip(edge.To, adj, blocked)
					mu.Unlock()
				}
			}
			for _, n := range adj[id] {
				inDegree[n]--
				if inDegree[n] <= 0 {
					next[n] = true
				}
			}
		}
		for id := range next {
			ready = append(ready, id)
		}
	}

	res.FinalResult = collectFinalResult(d, results)
	if res.Failed {
		return res, res.Err
	}
	return res, nil
}

// edgesFrom returns every edge whose From is id.
func edgesFrom(d *DAG, id string) []*Edge {
	var out []*Edge
	for _, e := range d.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// propagateSkip marks id and everything reachable from it as blocked, so a
// later scheduling pass marks them StatusSkipped instead of running them.
func propagateSkip(id string, adj map[string][]string, blocked map[string]bool) {
	if blocked[id] {
		return
	}
	blocked[id] = true
	for _, next := range adj[id] {
		propagateSkip(next, adj, blocked)
	}
}

func markRemainingSkipped(d *DAG, pending []string, res *ExecutionResult) {
	for _, id := range pending {
		node := d.Nodes[id]
		if node.Status == StatusPending || node.Status == StatusRunning {
			node.Status = StatusSkipped
		}
	}
}

// collectFinalResult returns the sole output node's result, or the last
// completed node's result if no output node ran (e.g. a partial execution
// that failed before reaching output).
func collectFinalResult(d *DAG, results map[string]map[string]any) map[string]any {
	for id, n := range d.Nodes {
		if n.Type == NodeOutput {
			if r, ok := results[id]; ok {
				return r
			}
		}
	}
	for i := len(d.ExecutionOrder) - 1; i >= 0; i-- {
		if r, ok := results[d.ExecutionOrder[i]]; ok {
			return r
		}
	}
	return nil
}

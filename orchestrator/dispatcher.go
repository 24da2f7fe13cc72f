package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmesh/orchestrator/dag"
	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/tools"
	"github.com/agentmesh/orchestrator/worker"
)

// workerDispatcher implements balancer.Dispatcher by running the full DAG
// bound to the chosen instance (spec.md §4.I: execute "runs G (uses E+F)
// then C"). The balancer's failover retries re-invoke this per candidate
// instance, so one slow/broken replica's DAG run does not fail the whole
// request.
type workerDispatcher struct {
	primitive worker.Primitive
	tools     *tools.Registry
	dags      *dagStore
}

func newWorkerDispatcher(primitive worker.Primitive, toolsReg *tools.Registry, dags *dagStore) *workerDispatcher {
	return &workerDispatcher{primitive: primitive, tools: toolsReg, dags: dags}
}

// Dispatch acquires a session slot on inst, runs inst's bound DAG to
// completion, and releases the slot with the outcome folded into inst's
// rolling stats.
func (d *workerDispatcher) Dispatch(ctx context.Context, inst *instance.AgentInstance, requestType string, payload map[string]any) (map[string]any, error) {
	if !inst.TryAcquireSession() {
		return nil, orcherrors.New(orcherrors.NoCapacity, "orchestrator.workerDispatcher.Dispatch", fmt.Errorf("instance %q at capacity", inst.ID))
	}

	d2, ok := d.dags.get(inst.DAGID)
	if !ok {
		inst.ReleaseSession(false, 0)
		return nil, orcherrors.New(orcherrors.DAGInvalid, "orchestrator.workerDispatcher.Dispatch", fmt.Errorf("no DAG registered for %q", inst.DAGID))
	}

	handler := agentHandler{primitive: d.primitive, handle: inst.WorkerHandle, tools: d.tools}
	executor := dag.NewExecutor(handler)

	start := time.Now()
	result, err := executor.Execute(ctx, d2, payload)
	latency := time.Since(start)

	if err != nil {
		inst.ReleaseSession(false, latency)
		return nil, orcherrors.New(orcherrors.UpstreamFailure, "orchestrator.workerDispatcher.Dispatch", fmt.Errorf("node %q: %w", result.FailedNode, err))
	}

	inst.ReleaseSession(true, latency)
	return result.FinalResult, nil
}

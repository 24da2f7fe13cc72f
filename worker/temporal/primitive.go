// Package temporal provides a durable-execution worker.Primitive backed by
// Temporal: agent runs survive process crashes because each Run call is a
// Temporal workflow execution delegating to an activity, instead of an
// in-process function call. Not on the hot DAG-execution path — the executor
// still awaits it synchronously — it exists for deployments that need
// crash-safe agent instances.
package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	tworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentmesh/orchestrator/worker"
)

const workflowName = "agentmesh.worker.Run"
const activityName = "agentmesh.worker.RunActivity"
const defaultActivityTimeout = 2 * time.Minute

// RunInput is the workflow/activity payload for one durable Run call.
type RunInput struct {
	Config worker.Config
	Msg    worker.Message
}

// Primitive implements worker.Primitive by running each call as a Temporal
// workflow that invokes the inner Primitive's Run inside an activity.
type Primitive struct {
	client    client.Client
	taskQueue string
	w         tworker.Worker

	mu      sync.Mutex
	configs map[worker.Handle]worker.Config
}

// New constructs a Temporal-backed Primitive. inner performs the actual model
// call from within the registered activity; taskQueue must be non-empty.
// The returned worker must be started by the caller via Start before any Run
// call, and stopped on shutdown.
func New(c client.Client, taskQueue string, inner worker.Primitive) (*Primitive, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal: client is required")
	}
	if taskQueue == "" {
		return nil, fmt.Errorf("temporal: task queue is required")
	}
	p := &Primitive{client: c, taskQueue: taskQueue, configs: make(map[worker.Handle]worker.Config)}

	w := tworker.New(c, taskQueue, tworker.Options{})
	w.RegisterWorkflowWithOptions(runWorkflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(makeRunActivity(inner), activity.RegisterOptions{Name: activityName})
	p.w = w
	return p, nil
}

// Start starts the embedded Temporal worker without blocking; it runs until
// Stop is called.
func (p *Primitive) Start() error {
	return p.w.Start()
}

// Stop gracefully stops the embedded Temporal worker.
func (p *Primitive) Stop() {
	p.w.Stop()
}

// Create remembers cfg under a fresh handle; no workflow is started yet.
func (p *Primitive) Create(ctx context.Context, cfg worker.Config) (worker.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := worker.Handle(fmt.Sprintf("agentmesh-%d", len(p.configs)+1))
	p.configs[h] = cfg
	return h, nil
}

// Run starts one workflow execution per call and awaits its result.
func (p *Primitive) Run(ctx context.Context, handle worker.Handle, msg worker.Message) (worker.Result, error) {
	p.mu.Lock()
	cfg, ok := p.configs[handle]
	p.mu.Unlock()
	if !ok {
		return worker.Result{}, fmt.Errorf("temporal: unknown handle %q", handle)
	}
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("%s-%s", workflowName, handle),
		TaskQueue: p.taskQueue,
	}
	run, err := p.client.ExecuteWorkflow(ctx, opts, runWorkflow, RunInput{Config: cfg, Msg: msg})
	if err != nil {
		return worker.Result{}, fmt.Errorf("temporal: start workflow: %w", err)
	}
	var result worker.Result
	if err := run.Get(ctx, &result); err != nil {
		return worker.Result{}, fmt.Errorf("temporal: workflow run failed: %w", err)
	}
	return result, nil
}

// Destroy forgets handle. Idempotent.
func (p *Primitive) Destroy(ctx context.Context, handle worker.Handle) error {
	p.mu.Lock()
	delete(p.configs, handle)
	p.mu.Unlock()
	return nil
}

// runWorkflow is the durable wrapper: it delegates the actual model call to
// the activity so a crash between steps resumes from Temporal's history
// instead of losing the call.
func runWorkflow(ctx workflow.Context, in RunInput) (worker.Result, error) {
	ao := workflow.ActivityOptions{StartToCloseTimeout: defaultActivityTimeout}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var result worker.Result
	err := workflow.ExecuteActivity(ctx, activityName, in).Get(ctx, &result)
	return result, err
}

func makeRunActivity(inner worker.Primitive) func(ctx context.Context, in RunInput) (worker.Result, error) {
	return func(ctx context.Context, in RunInput) (worker.Result, error) {
		handle, err := inner.Create(ctx, in.Config)
		if err != nil {
			return worker.Result{}, err
		}
		defer inner.Destroy(ctx, handle)
		return inner.Run(ctx, handle, in.Msg)
	}
}

package orchestrator

import (
	"context"
	"time"

	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/worker"
)

// workerProber implements health.Prober against the opaque worker primitive.
// Resource sampling has no real OS-level signal behind worker.Primitive, so
// it is approximated from the instance's own session load; cpuUsage and
// memoryUsage track identically until a richer worker primitive exposes
// real metrics.
type workerProber struct {
	primitive worker.Primitive
}

func newWorkerProber(p worker.Primitive) workerProber {
	return workerProber{primitive: p}
}

func (w workerProber) Ping(ctx context.Context, inst *instance.AgentInstance) (time.Duration, float64, error) {
	start := time.Now()
	_, err := w.primitive.Run(ctx, inst.WorkerHandle, worker.Message{Instructions: "ping"})
	rt := time.Since(start)
	if err != nil {
		return rt, 0, err
	}
	return rt, 1, nil
}

func (w workerProber) Functional(ctx context.Context, inst *instance.AgentInstance) (time.Duration, bool, float64, error) {
	start := time.Now()
	res, err := w.primitive.Run(ctx, inst.WorkerHandle, worker.Message{Instructions: "healthcheck probe"})
	rt := time.Since(start)
	if err != nil {
		return rt, false, 0, err
	}
	quality := 0.5
	if res.Text != "" {
		quality = 1
	}
	return rt, true, quality, nil
}

func (w workerProber) Resource(ctx context.Context, inst *instance.AgentInstance) (float64, float64, error) {
	perf := inst.Perf()
	load := 0.0
	if inst.MaxConcurrentSessions > 0 {
		load = float64(perf.ActiveSessions) / float64(inst.MaxConcurrentSessions)
	}
	return load * 100, load * 100, nil
}

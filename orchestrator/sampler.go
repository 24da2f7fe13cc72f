package orchestrator

import (
	"context"
	"time"

	"github.com/agentmesh/orchestrator/autoscaler"
	"github.com/agentmesh/orchestrator/instance"
)

// poolSampler builds an autoscaler.Sampler from a live instance pool: it
// aggregates every instance currently bound to agentID into one
// autoscaler.MetricSample (spec.md §4.H step 1). There is no separate
// request-queueing component in this runtime, so queueLength/queueWaitTime
// are always zero.
func poolSampler(pool *instance.Pool) autoscaler.Sampler {
	return func(ctx context.Context, agentID string) (autoscaler.MetricSample, error) {
		instances := pool.ListInstances(agentID)
		if len(instances) == 0 {
			return autoscaler.MetricSample{}, nil
		}

		var loadSum, cpuSum, memSum, healthySum float64
		var latencySum time.Duration
		var totalReq, totalFail uint64

		for _, inst := range instances {
			perf := inst.Perf()
			res := inst.Resource()
			if inst.MaxConcurrentSessions > 0 {
				loadSum += float64(perf.ActiveSessions) / float64(inst.MaxConcurrentSessions)
			}
			cpuSum += res.CPUUsage
			memSum += res.MemoryUsage
			latencySum += perf.AvgResponseTime
			totalReq += perf.TotalRequests
			totalFail += perf.Failures
			if inst.Health() == instance.HealthHealthy {
				healthySum++
			}
		}

		n := float64(len(instances))
		var errorRate float64
		if totalReq > 0 {
			errorRate = float64(totalFail) / float64(totalReq)
		}

		return autoscaler.MetricSample{
			LoadRatio:       loadSum / n,
			AvgResponseTime: latencySum / time.Duration(len(instances)),
			ErrorRate:       errorRate,
			CPUUsage:        cpuSum / n,
			MemoryUsage:     memSum / n,
			HealthRatio:     healthySum / n,
			QueueLength:     0,
			QueueWaitTime:   0,
		}, nil
	}
}

package health

import (
	"context"
	"time"

	"github.com/agentmesh/orchestrator/instance"
)

// Prober supplies the out-of-band signals the health checks need, keeping
// this package free of a direct dependency on worker/model (spec.md §9).
type Prober interface {
	// Ping performs a lightweight connectivity probe against the instance's
	// worker handle ("basic" check).
	Ping(ctx context.Context, inst *instance.AgentInstance) (responseTime time.Duration, connectivity float64, err error)
	// Functional sends a synthetic request and grades the response
	// ("functionality" check).
	Functional(ctx context.Context, inst *instance.AgentInstance) (responseTime time.Duration, ok bool, quality float64, err error)
	// Resource samples the instance's current CPU/memory usage
	// ("resource" check).
	Resource(ctx context.Context, inst *instance.AgentInstance) (cpuUsage, memoryUsage float64, err error)
}

func basicCheck(ctx context.Context, p Prober, inst *instance.AgentInstance) CheckResult {
	rt, connectivity, err := p.Ping(ctx, inst)
	if err != nil {
		return CheckResult{Kind: "basic", Status: StatusCritical, Metrics: map[string]float64{"connectivity": 0}, At: time.Now()}
	}
	rtStatus := statusFromThresholds(float64(rt.Milliseconds()), basicResponseWarnMS, basicResponseCritMS)
	connStatus := StatusHealthy
	if connectivity < basicConnectivityCrit {
		connStatus = StatusCritical
	}
	return CheckResult{
		Kind:   "basic",
		Status: worseOf(rtStatus, connStatus),
		Score:  averageScore(rtStatus, connStatus),
		Metrics: map[string]float64{
			"responseTime": float64(rt.Milliseconds()),
			"connectivity": connectivity,
		},
		At: time.Now(),
	}
}

func performanceCheck(inst *instance.AgentInstance) CheckResult {
	perf := inst.Perf()
	var errorRate float64
	if perf.TotalRequests > 0 {
		errorRate = float64(perf.Failures) / float64(perf.TotalRequests)
	}
	sessionLoad := 0.0
	if inst.MaxConcurrentSessions > 0 {
		sessionLoad = float64(perf.ActiveSessions) / float64(inst.MaxConcurrentSessions)
	}
	errStatus := statusFromThresholds(errorRate, perfErrorRateWarn, perfErrorRateCrit)
	loadStatus := statusFromThresholds(sessionLoad, perfSessionLoadWarn, perfSessionLoadCrit)
	return CheckResult{
		Kind:   "performance",
		Status: worseOf(errStatus, loadStatus),
		Score:  averageScore(errStatus, loadStatus),
		Metrics: map[string]float64{
			"errorRate":       errorRate,
			"avgResponseTime": float64(perf.AvgResponseTime.Milliseconds()),
			"sessionLoad":     sessionLoad,
		},
		At: time.Now(),
	}
}

func resourceCheck(ctx context.Context, p Prober, inst *instance.AgentInstance) CheckResult {
	cpu, mem, err := p.Resource(ctx, inst)
	if err != nil {
		return CheckResult{Kind: "resource", Status: StatusUnknown, Metrics: map[string]float64{}, At: time.Now()}
	}
	cpuStatus := statusFromThresholds(cpu, resourceCPUWarn, resourceCPUCrit)
	memStatus := statusFromThresholds(mem, resourceMemWarn, resourceMemCrit)
	return CheckResult{
		Kind:   "resource",
		Status: worseOf(cpuStatus, memStatus),
		Score:  averageScore(cpuStatus, memStatus),
		Metrics: map[string]float64{
			"cpuUsage":    cpu,
			"memoryUsage": mem,
		},
		At: time.Now(),
	}
}

func functionalityCheck(ctx context.Context, p Prober, inst *instance.AgentInstance) CheckResult {
	rt, ok, quality, err := p.Functional(ctx, inst)
	if err != nil || !ok {
		return CheckResult{
			Kind:   "functionality",
			Status: StatusCritical,
			Score:  averageScore(StatusCritical),
			Metrics: map[string]float64{
				"functionResponseTime": float64(rt.Milliseconds()),
				"functionality":        0,
				"responseQuality":      quality,
			},
			At: time.Now(),
		}
	}
	rtStatus := statusFromThresholds(float64(rt.Milliseconds()), funcResponseWarnMS, funcResponseCritMS)
	qualityStatus := statusFromThresholdsInverted(quality, funcQualityWarn, funcQualityCrit)
	return CheckResult{
		Kind:   "functionality",
		Status: worseOf(rtStatus, qualityStatus),
		Score:  averageScore(rtStatus, qualityStatus),
		Metrics: map[string]float64{
			"functionResponseTime": float64(rt.Milliseconds()),
			"functionality":        1,
			"responseQuality":      quality,
		},
		At: time.Now(),
	}
}

// comprehensiveCheck runs all four checks and aggregates per spec.md §4.F:
// any critical makes the whole check critical; two or more warnings make it
// critical; exactly one warning makes it warning.
func comprehensiveCheck(ctx context.Context, p Prober, inst *instance.AgentInstance) CheckResult {
	results := []CheckResult{
		basicCheck(ctx, p, inst),
		performanceCheck(inst),
		resourceCheck(ctx, p, inst),
		functionalityCheck(ctx, p, inst),
	}
	warnings := 0
	hasCritical := false
	var scoreSum float64
	merged := map[string]float64{}
	for _, r := range results {
		scoreSum += r.Score
		if r.Status == StatusCritical {
			hasCritical = true
		}
		if r.Status == StatusWarning {
			warnings++
		}
		for k, v := range r.Metrics {
			merged[r.Kind+"."+k] = v
		}
	}
	status := StatusHealthy
	switch {
	case hasCritical, warnings >= 2:
		status = StatusCritical
	case warnings == 1:
		status = StatusWarning
	}
	return CheckResult{Kind: "comprehensive", Status: status, Score: scoreSum / float64(len(results)), Metrics: merged, At: time.Now()}
}

// Package health runs the five concurrent per-instance health check loops
// (spec.md §4.F) and maintains each instance's rolling health score and
// status. The monitor depends only on a PoolView (satisfied by
// instance.Pool) and an injected Prober, never on balancer or autoscaler,
// keeping the explicit-composition boundary from spec.md §9.
package health

import (
	"time"

	"github.com/agentmesh/orchestrator/instance"
)

// Status is the outcome of one health check. It is the same type as
// instance.HealthStatus, so a check result's status can be stored on the
// instance directly.
type Status = instance.HealthStatus

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// scoreOf converts a check status to its point value for averaging
// (spec.md §4.F: "Convert each metric status to 100/60/20").
func scoreOf(s Status) float64 {
	switch s {
	case StatusHealthy:
		return 100
	case StatusWarning:
		return 60
	case StatusCritical:
		return 20
	default:
		return 0
	}
}

// CheckResult is one check's outcome: overall status, per-metric detail, and
// Score — the average of each metric's individual status converted to
// 100/60/20, used to update the instance's rolling healthScore (spec.md
// §4.F "Per-instance overall score").
type CheckResult struct {
	Kind    string
	Status  Status
	Metrics map[string]float64
	Score   float64
	At      time.Time
}

// averageScore converts each status to 100/60/20 and averages them.
func averageScore(statuses ...Status) float64 {
	if len(statuses) == 0 {
		return 0
	}
	var sum float64
	for _, s := range statuses {
		sum += scoreOf(s)
	}
	return sum / float64(len(statuses))
}

// AlertRule fires when a check matches its condition. Triggering is
// out-of-band (published as an event) and never blocks the check loop
// (spec.md §4.F).
type AlertRule struct {
	Name            string
	CheckKind       string // "" matches any check kind
	StatusCondition Status // zero value matches any status
	MetricName      string // "" disables the metric condition
	MetricAbove     float64
	Severity        string
	Message         string
}

// matches reports whether res satisfies the rule.
func (r AlertRule) matches(res CheckResult) bool {
	if r.CheckKind != "" && r.CheckKind != res.Kind {
		return false
	}
	if r.StatusCondition != "" && r.StatusCondition != res.Status {
		return false
	}
	if r.MetricName != "" {
		v, ok := res.Metrics[r.MetricName]
		if !ok || v < r.MetricAbove {
			return false
		}
	}
	return true
}

// thresholds bundled per check kind (spec.md §4.F).
const (
	basicResponseWarnMS  = 2000
	basicResponseCritMS  = 5000
	basicConnectivityCrit = 0.1

	perfErrorRateWarn = 0.05
	perfErrorRateCrit = 0.1
	perfSessionLoadWarn = 0.8
	perfSessionLoadCrit = 0.95

	resourceCPUWarn = 70
	resourceCPUCrit = 90
	resourceMemWarn = 80
	resourceMemCrit = 95

	funcResponseWarnMS = 10000
	funcResponseCritMS = 30000
	funcQualityWarn    = 0.7
	funcQualityCrit    = 0.3

	unhealthyRemovalAfter = 300 * time.Second
)

func statusFromThresholds(value, warn, crit float64) Status {
	switch {
	case value >= crit:
		return StatusCritical
	case value >= warn:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// statusFromThresholdsInverted is for metrics where lower is worse (e.g.
// connectivity, responseQuality): critical below critFloor, warning below
// warnFloor.
func statusFromThresholdsInverted(value, warnFloor, critFloor float64) Status {
	switch {
	case value < critFloor:
		return StatusCritical
	case value < warnFloor:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

func worseOf(a, b Status) Status {
	rank := map[Status]int{StatusUnknown: 0, StatusHealthy: 1, StatusWarning: 2, StatusCritical: 3}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

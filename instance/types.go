// Package instance implements the agent instance data model and the pool
// that creates, tracks, and removes instances (spec.md §§3, 4.E).
package instance

import (
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/worker"
)

// Status is an instance's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusBusy         Status = "busy"
	StatusOverloaded   Status = "overloaded"
	StatusUnhealthy    Status = "unhealthy"
	StatusOffline      Status = "offline"
)

// HealthStatus is an instance's health classification, maintained by the
// health monitor (spec.md §4.F).
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

const recentResponseTimesCap = 100

// PerfStats is an instance's rolling request performance (spec.md §3).
type PerfStats struct {
	ActiveSessions      int
	TotalRequests       uint64
	Successes           uint64
	Failures             uint64
	AvgResponseTime      time.Duration
	RecentResponseTimes []time.Duration
}

// ResourceStats is an instance's last-observed resource usage and derived
// health score.
type ResourceStats struct {
	CPUUsage    float64
	MemoryUsage float64
	HealthScore float64 // [0,100], recomputed by the health monitor
}

// AgentInstance is a live binding of one compiled DAG to a worker handle
// plus its rolling stats (spec.md §3).
type AgentInstance struct {
	ID           string
	AgentID      string
	WorkerHandle worker.Handle
	DAGID        string

	Weight                 float64
	MaxConcurrentSessions  int
	CreatedAt              time.Time

	mu           sync.Mutex
	status       Status
	health       HealthStatus
	perf         PerfStats
	resource     ResourceStats
	lastActivity time.Time
}

// NewAgentInstance constructs an instance in StatusInitializing /
// HealthUnknown, as left by the pool until the health monitor's first
// non-critical check activates it (spec.md §3 lifecycle summary).
func NewAgentInstance(id, agentID, dagID string, handle worker.Handle, weight float64, maxSessions int) *AgentInstance {
	now := time.Now()
	return &AgentInstance{
		ID:                    id,
		AgentID:               agentID,
		WorkerHandle:          handle,
		DAGID:                 dagID,
		Weight:                weight,
		MaxConcurrentSessions: maxSessions,
		CreatedAt:             now,
		status:                StatusInitializing,
		health:                HealthUnknown,
		lastActivity:          now,
	}
}

// Status returns the instance's current lifecycle status.
func (a *AgentInstance) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// SetStatus updates the instance's lifecycle status.
func (a *AgentInstance) SetStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Health returns the instance's current health classification.
func (a *AgentInstance) Health() HealthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.health
}

// SetHealth updates the instance's health classification. The
// unhealthy-since marker is tracked by the health monitor, not here.
func (a *AgentInstance) SetHealth(h HealthStatus) {
	a.mu.Lock()
	a.health = h
	a.mu.Unlock()
}

// Perf returns a copy of the instance's current performance stats.
func (a *AgentInstance) Perf() PerfStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := a.perf
	cp.RecentResponseTimes = append([]time.Duration(nil), a.perf.RecentResponseTimes...)
	return cp
}

// Resource returns a copy of the instance's current resource stats.
func (a *AgentInstance) Resource() ResourceStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resource
}

// SetResource overwrites the instance's resource stats. Recomputing
// HealthScore is the health monitor's responsibility, not this setter's;
// callers pass the already-computed score in stats.HealthScore.
func (a *AgentInstance) SetResource(stats ResourceStats) {
	a.mu.Lock()
	a.resource = stats
	a.mu.Unlock()
}

// LastActivity returns the instance's last-observed-busy timestamp.
func (a *AgentInstance) LastActivity() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}

// TryAcquireSession increments ActiveSessions iff it would stay within
// MaxConcurrentSessions, enforcing spec.md §3's invariant at the only
// mutation point.
func (a *AgentInstance) TryAcquireSession() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.perf.ActiveSessions >= a.MaxConcurrentSessions {
		return false
	}
	a.perf.ActiveSessions++
	a.lastActivity = time.Now()
	if a.status == StatusIdle {
		a.status = StatusBusy
	}
	return true
}

// ReleaseSession decrements ActiveSessions and folds one completed request's
// outcome into the rolling stats (spec.md §4.E release).
func (a *AgentInstance) ReleaseSession(success bool, latency time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.perf.ActiveSessions > 0 {
		a.perf.ActiveSessions--
	}
	a.lastActivity = time.Now()
	a.perf.TotalRequests++
	if success {
		a.perf.Successes++
	} else {
		a.perf.Failures++
	}
	a.perf.RecentResponseTimes = append(a.perf.RecentResponseTimes, latency)
	if len(a.perf.RecentResponseTimes) > recentResponseTimesCap {
		a.perf.RecentResponseTimes = a.perf.RecentResponseTimes[len(a.perf.RecentResponseTimes)-recentResponseTimesCap:]
	}
	var sum time.Duration
	for _, d := range a.perf.RecentResponseTimes {
		sum += d
	}
	a.perf.AvgResponseTime = sum / time.Duration(len(a.perf.RecentResponseTimes))
	if a.perf.ActiveSessions == 0 && a.status == StatusBusy {
		a.status = StatusIdle
	}
}

// IdleSince reports whether the instance has had zero active sessions for at
// least d, used by the pool's inactivity-based removal rule.
func (a *AgentInstance) IdleSince(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perf.ActiveSessions == 0 && time.Since(a.lastActivity) >= d
}

package health

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/events"
	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/telemetry"
)

// Interval defaults for the five concurrent check loops (spec.md §4.F).
const (
	BasicInterval         = 30 * time.Second
	PerformanceInterval   = 60 * time.Second
	ResourceInterval      = 120 * time.Second
	FunctionalityInterval = 300 * time.Second
	ComprehensiveInterval = 600 * time.Second
)

// PoolView is the narrow read access the monitor needs into the instance
// pool: list instances per agent and know every agent id currently tracked.
// The pool satisfies this directly; it is expressed as an interface so the
// monitor never depends on instance.Pool's write surface.
type PoolView interface {
	ListInstances(agentID string) []*instance.AgentInstance
}

// Monitor runs the five health-check loops against every instance known to
// a PoolView, updates each instance's health/status, and removes instances
// that have been unhealthy for more than 300s.
type Monitor struct {
	pool   PoolView
	prober Prober
	bus    events.EventBus
	remove func(ctx context.Context, instanceID string) error
	rules  []AlertRule
	logger telemetry.Logger

	agentsMu sync.RWMutex
	agents   map[string]bool

	unhealthySinceMu sync.Mutex
	unhealthySince   map[string]time.Time

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor's logger.
func WithLogger(l telemetry.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithAlertRules registers the alert rules the monitor evaluates after every
// check (spec.md §4.F "Alert rules").
func WithAlertRules(rules ...AlertRule) Option {
	return func(m *Monitor) { m.rules = append(m.rules, rules...) }
}

// NewMonitor constructs a Monitor. remove is called (e.g. pool.Remove) when
// an instance has been unhealthy for more than 300s.
func NewMonitor(pool PoolView, prober Prober, bus events.EventBus, remove func(ctx context.Context, instanceID string) error, opts ...Option) *Monitor {
	m := &Monitor{
		pool:           pool,
		prober:         prober,
		bus:            bus,
		remove:         remove,
		agents:         make(map[string]bool),
		unhealthySince: make(map[string]time.Time),
		logger:         telemetry.NewNoopLogger(),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch adds agentID to the set of agents the monitor checks. Idempotent.
func (m *Monitor) Watch(agentID string) {
	m.agentsMu.Lock()
	defer m.agentsMu.Unlock()
	m.agents[agentID] = true
}

func (m *Monitor) watchedAgents() []string {
	m.agentsMu.RLock()
	defer m.agentsMu.RUnlock()
	out := make([]string, 0, len(m.agents))
	for a := range m.agents {
		out = append(out, a)
	}
	return out
}

// Start launches the five check loops. Each loop runs independently and
// checks of different types may run simultaneously for the same instance
// (spec.md §9).
func (m *Monitor) Start(ctx context.Context) {
	loops := []struct {
		interval time.Duration
		run      func(context.Context)
	}{
		{BasicInterval, m.runBasic},
		{PerformanceInterval, m.runPerformance},
		{ResourceInterval, m.runResource},
		{FunctionalityInterval, m.runFunctionality},
		{ComprehensiveInterval, m.runComprehensive},
	}
	for _, l := range loops {
		m.doneWG.Add(1)
		go m.loop(ctx, l.interval, l.run)
	}
}

// Stop terminates every loop and waits for them to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.doneWG.Wait()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer m.doneWG.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

func (m *Monitor) forEachInstance(fn func(inst *instance.AgentInstance)) {
	var wg sync.WaitGroup
	for _, agentID := range m.watchedAgents() {
		for _, inst := range m.pool.ListInstances(agentID) {
			wg.Add(1)
			go func(inst *instance.AgentInstance) {
				defer wg.Done()
				fn(inst)
			}(inst)
		}
	}
	wg.Wait()
}

func (m *Monitor) runBasic(ctx context.Context) {
	m.forEachInstance(func(inst *instance.AgentInstance) {
		m.apply(ctx, inst, basicCheck(ctx, m.prober, inst))
	})
}

func (m *Monitor) runPerformance(ctx context.Context) {
	m.forEachInstance(func(inst *instance.AgentInstance) {
		m.apply(ctx, inst, performanceCheck(inst))
	})
}

func (m *Monitor) runResource(ctx context.Context) {
	m.forEachInstance(func(inst *instance.AgentInstance) {
		m.apply(ctx, inst, resourceCheck(ctx, m.prober, inst))
	})
}

func (m *Monitor) runFunctionality(ctx context.Context) {
	m.forEachInstance(func(inst *instance.AgentInstance) {
		m.apply(ctx, inst, functionalityCheck(ctx, m.prober, inst))
	})
}

func (m *Monitor) runComprehensive(ctx context.Context) {
	m.forEachInstance(func(inst *instance.AgentInstance) {
		m.apply(ctx, inst, comprehensiveCheck(ctx, m.prober, inst))
	})
}

// apply folds a check result into the instance's health/status/resource
// state, evaluates alert rules, and removes instances unhealthy for too
// long.
func (m *Monitor) apply(ctx context.Context, inst *instance.AgentInstance, res CheckResult) {
	prevHealth := inst.Health()
	inst.SetHealth(res.Status)

	resStats := inst.Resource()
	resStats.HealthScore = res.Score
	if v, ok := res.Metrics["cpuUsage"]; ok {
		resStats.CPUUsage = v
	}
	if v, ok := res.Metrics["memoryUsage"]; ok {
		resStats.MemoryUsage = v
	}
	inst.SetResource(resStats)

	if res.Status == StatusCritical {
		inst.SetStatus(instance.StatusUnhealthy)
	} else if s := inst.Status(); s == instance.StatusUnhealthy || s == instance.StatusInitializing {
		inst.SetStatus(instance.StatusIdle)
	}

	if prevHealth != res.Status {
		m.publish(ctx, events.Event{
			Type:       events.StatusChanged,
			InstanceID: inst.ID,
			AgentID:    inst.AgentID,
			At:         time.Now(),
			Payload:    events.StatusChangedPayload(string(res.Status), nil),
		})
	}

	m.evaluateAlerts(ctx, inst, res)
	m.trackUnhealthy(ctx, inst, res.Status)
}

func (m *Monitor) evaluateAlerts(ctx context.Context, inst *instance.AgentInstance, res CheckResult) {
	for _, rule := range m.rules {
		if !rule.matches(res) {
			continue
		}
		m.publish(ctx, events.Event{
			Type:       events.StatusChanged,
			InstanceID: inst.ID,
			AgentID:    inst.AgentID,
			At:         time.Now(),
			Payload: events.StatusChangedPayload(string(res.Status), map[string]any{
				"rule":     rule.Name,
				"severity": rule.Severity,
				"message":  rule.Message,
			}),
		})
	}
}

func (m *Monitor) trackUnhealthy(ctx context.Context, inst *instance.AgentInstance, status Status) {
	m.unhealthySinceMu.Lock()
	since, tracked := m.unhealthySince[inst.ID]
	if status == StatusCritical {
		if !tracked {
			m.unhealthySince[inst.ID] = time.Now()
		}
	} else {
		delete(m.unhealthySince, inst.ID)
	}
	m.unhealthySinceMu.Unlock()

	if status == StatusCritical && tracked && time.Since(since) > unhealthyRemovalAfter {
		m.unhealthySinceMu.Lock()
		delete(m.unhealthySince, inst.ID)
		m.unhealthySinceMu.Unlock()
		if m.remove != nil {
			if err := m.remove(ctx, inst.ID); err != nil {
				m.logger.Warn(ctx, "failed to remove unhealthy instance", "instanceId", inst.ID, "err", err)
			} else {
				m.publish(ctx, events.Event{Type: events.InstanceDeleted, InstanceID: inst.ID, AgentID: inst.AgentID, At: time.Now()})
			}
		}
	}
}

func (m *Monitor) publish(ctx context.Context, evt events.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.Warn(ctx, "event publish failed", "type", evt.Type, "err", err)
	}
}

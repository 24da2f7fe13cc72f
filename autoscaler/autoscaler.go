package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/events"
	"github.com/agentmesh/orchestrator/telemetry"
)

// Sampler collects one MetricSample for agentID (spec.md §4.H step 1). It is
// injected so the autoscaler never depends directly on balancer/health
// internals.
type Sampler func(ctx context.Context, agentID string) (MetricSample, error)

// Pool is the narrow write access the autoscaler needs into the instance
// pool (instance.Pool satisfies this directly).
type Pool interface {
	Scale(ctx context.Context, agentID string, target int) (added, removed int, err error)
}

// Autoscaler runs the periodic scale-decision loop for every watched agent
// (spec.md §4.H).
type Autoscaler struct {
	pool    Pool
	sampler Sampler
	bus     events.EventBus
	logger  telemetry.Logger

	interval      time.Duration
	historyWindow int
	minDataPoints int
	minInstances  int
	maxInstances  int

	agentsMu sync.RWMutex
	agents   map[string]bool

	historyMu sync.Mutex
	history   map[string][]MetricSample

	lastScalingMu sync.Mutex
	lastScalingAt map[string]time.Time

	rulesMu sync.RWMutex
	rules   map[string][]Rule

	currentMu sync.Mutex
	current   map[string]int

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

// Option configures an Autoscaler.
type Option func(*Autoscaler)

// WithLogger sets the autoscaler's logger.
func WithLogger(l telemetry.Logger) Option { return func(a *Autoscaler) { a.logger = l } }

// WithEventBus registers an EventBus for fire-and-forget scaling events.
func WithEventBus(bus events.EventBus) Option { return func(a *Autoscaler) { a.bus = bus } }

// New constructs an Autoscaler. interval, historyWindow, and minDataPoints
// mirror config.Config's OptimizationInterval/MetricsWindow/MinDataPoints;
// minInstances/maxInstances bound every scaling decision.
func New(pool Pool, sampler Sampler, interval time.Duration, historyWindow, minDataPoints, minInstances, maxInstances int, opts ...Option) *Autoscaler {
	a := &Autoscaler{
		pool:          pool,
		sampler:       sampler,
		interval:      interval,
		historyWindow: historyWindow,
		minDataPoints: minDataPoints,
		minInstances:  minInstances,
		maxInstances:  maxInstances,
		logger:        telemetry.NewNoopLogger(),
		agents:        make(map[string]bool),
		history:       make(map[string][]MetricSample),
		lastScalingAt: make(map[string]time.Time),
		rules:         make(map[string][]Rule),
		current:       make(map[string]int),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Watch registers agentID for periodic evaluation with the given rules and
// its current instance count (so scaling targets can be computed as ±1 from
// it). SetCurrent should be called whenever the pool's instance count for
// agentID changes outside the autoscaler (e.g. manual scale, instance
// removal).
func (a *Autoscaler) Watch(agentID string, current int, rules ...Rule) {
	a.agentsMu.Lock()
	a.agents[agentID] = true
	a.agentsMu.Unlock()

	a.rulesMu.Lock()
	a.rules[agentID] = append([]Rule(nil), rules...)
	a.rulesMu.Unlock()

	a.SetCurrent(agentID, current)
}

// SetCurrent updates the tracked instance count for agentID.
func (a *Autoscaler) SetCurrent(agentID string, n int) {
	a.currentMu.Lock()
	a.current[agentID] = n
	a.currentMu.Unlock()
}

func (a *Autoscaler) watchedAgents() []string {
	a.agentsMu.RLock()
	defer a.agentsMu.RUnlock()
	out := make([]string, 0, len(a.agents))
	for id := range a.agents {
		out = append(out, id)
	}
	return out
}

// Start launches the optimization loop.
func (a *Autoscaler) Start(ctx context.Context) {
	a.doneWG.Add(1)
	go func() {
		defer a.doneWG.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case <-ticker.C:
				a.Tick(ctx)
			}
		}
	}()
}

// Stop terminates the loop and waits for it to exit.
func (a *Autoscaler) Stop() {
	close(a.stopCh)
	a.doneWG.Wait()
}

// Tick runs one evaluation pass over every watched agent. Exported so tests
// and callers with their own scheduling can drive it directly.
func (a *Autoscaler) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, agentID := range a.watchedAgents() {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			a.evaluate(ctx, agentID)
		}(agentID)
	}
	wg.Wait()
}

func (a *Autoscaler) evaluate(ctx context.Context, agentID string) {
	sample, err := a.sampler(ctx, agentID)
	if err != nil {
		a.logger.Warn(ctx, "metrics sample failed", "agentId", agentID, "err", err)
		return
	}
	sample.At = time.Now()

	samples := a.appendSample(agentID, sample)
	if len(samples) < a.minDataPoints {
		return
	}

	decision, rule := a.decide(agentID, samples)
	if decision == NoAction || decision == "" {
		return
	}

	a.lastScalingMu.Lock()
	a.lastScalingAt[agentID] = time.Now()
	a.lastScalingMu.Unlock()

	a.currentMu.Lock()
	cur := a.current[agentID]
	a.currentMu.Unlock()

	target := cur
	if decision == ScaleUp {
		target = cur + 1
	} else if decision == ScaleDown {
		target = cur - 1
	}
	if target > a.maxInstances {
		target = a.maxInstances
	}
	if target < a.minInstances {
		target = a.minInstances
	}
	if target == cur {
		return
	}

	added, removed, err := a.pool.Scale(ctx, agentID, target)
	if err != nil {
		a.logger.Warn(ctx, "autoscaler scale failed", "agentId", agentID, "target", target, "err", err)
		return
	}
	a.SetCurrent(agentID, cur+added-removed)

	a.logger.Info(ctx, "autoscaler scaled agent", "agentId", agentID, "rule", rule, "decision", decision, "from", cur, "to", target)
	a.publish(ctx, events.Event{
		Type:    events.ScalingEvent,
		AgentID: agentID,
		At:      time.Now(),
		Payload: events.ScalingPayload(string(decision), cur, target, rule),
	})
}

func (a *Autoscaler) appendSample(agentID string, s MetricSample) []MetricSample {
	a.historyMu.Lock()
	defer a.historyMu.Unlock()
	hist := append(a.history[agentID], s)
	if len(hist) > a.historyWindow {
		hist = hist[len(hist)-a.historyWindow:]
	}
	a.history[agentID] = hist
	return append([]MetricSample(nil), hist...)
}

// decide evaluates agentID's enabled rules in order; the first rule whose
// cooldown has elapsed and whose smoothed metric crosses a threshold wins
// (spec.md §4.H step 4).
func (a *Autoscaler) decide(agentID string, samples []MetricSample) (Decision, string) {
	a.rulesMu.RLock()
	rules := a.rules[agentID]
	a.rulesMu.RUnlock()

	a.lastScalingMu.Lock()
	last, ok := a.lastScalingAt[agentID]
	a.lastScalingMu.Unlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if ok && time.Since(last) < rule.Cooldown {
			continue
		}
		smoothed := smooth(samples, rule.Metric, 3)
		if d := rule.evaluate(smoothed); d != NoAction {
			return d, rule.Name
		}
	}
	return NoAction, ""
}

func (a *Autoscaler) publish(ctx context.Context, evt events.Event) {
	if a.bus == nil {
		return
	}
	if err := a.bus.Publish(ctx, evt); err != nil {
		a.logger.Warn(ctx, "event publish failed", "type", evt.Type, "err", err)
	}
}

package balancer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/agentmesh/orchestrator/config"
	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/events"
	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/telemetry"
)

// PoolView is the narrow read access the balancer needs into the instance
// pool (instance.Pool satisfies this directly).
type PoolView interface {
	ListInstances(agentID string) []*instance.AgentInstance
}

// Dispatcher performs the actual request dispatch against a chosen instance,
// keeping the balancer free of a direct dependency on dag/worker (spec.md
// §9).
type Dispatcher interface {
	Dispatch(ctx context.Context, inst *instance.AgentInstance, requestType string, payload map[string]any) (map[string]any, error)
}

// Balancer routes requests for an agentId across its pool instances per
// spec.md §4.G: candidate filtering, session affinity, nine routing
// algorithms, per-instance circuit breaking, and failover retries.
type Balancer struct {
	pool       PoolView
	dispatcher Dispatcher
	affinity   AffinityStore
	bus        events.EventBus
	cfg        config.LoadBalanceConfig
	maxRRCount uint64
	logger     telemetry.Logger

	rrMu       sync.Mutex
	rrCounters map[string]uint64

	breakersMu sync.Mutex
	breakers   map[string]*instance.CircuitBreaker
	breakerCfg config.CircuitBreakerConfig

	predictiveMu      sync.Mutex
	predictiveWeights map[string]float64

	randMu  sync.Mutex
	randSrc *rand.Rand
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithLogger sets the balancer's logger.
func WithLogger(l telemetry.Logger) Option { return func(b *Balancer) { b.logger = l } }

// WithEventBus registers an EventBus for fire-and-forget routing events.
func WithEventBus(bus events.EventBus) Option { return func(b *Balancer) { b.bus = bus } }

// New constructs a Balancer. maxRRCount bounds the round-robin counter
// before it wraps (config.Config.MaxRoundRobinCounterPerAgent); 0 falls
// back to 1<<32.
func New(pool PoolView, dispatcher Dispatcher, affinity AffinityStore, lbCfg config.LoadBalanceConfig, breakerCfg config.CircuitBreakerConfig, maxRRCount uint64, opts ...Option) *Balancer {
	b := &Balancer{
		pool:              pool,
		dispatcher:        dispatcher,
		affinity:          affinity,
		cfg:               lbCfg,
		breakerCfg:        breakerCfg,
		maxRRCount:        maxRRCount,
		logger:            telemetry.NewNoopLogger(),
		rrCounters:        make(map[string]uint64),
		breakers:          make(map[string]*instance.CircuitBreaker),
		predictiveWeights: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Balancer) breakerFor(instanceID string) *instance.CircuitBreaker {
	b.breakersMu.Lock()
	defer b.breakersMu.Unlock()
	cb, ok := b.breakers[instanceID]
	if !ok {
		cb = instance.NewCircuitBreaker(b.breakerCfg)
		b.breakers[instanceID] = cb
	}
	return cb
}

func isAvailable(inst *instance.AgentInstance) bool {
	switch inst.Status() {
	case instance.StatusOffline, instance.StatusUnhealthy:
		return false
	}
	return true
}

// affinityKeyFor resolves the configured affinity source to a concrete key.
// sessionID/userID/clientIP/header are whatever the caller supplied for this
// request; an empty affinitySource or missing value disables affinity for
// this call.
func affinityKeyFor(source, sessionID, userID, clientIP string, headers map[string]string) string {
	switch source {
	case "sessionId":
		return sessionID
	case "userId":
		return userID
	case "clientIp":
		return clientIP
	default:
		if headers != nil {
			return headers[source]
		}
		return ""
	}
}

// Route selects an instance for agentID and dispatches the request,
// retrying on the next candidate up to FailoverRetries on failure (spec.md
// §4.G).
func (b *Balancer) Route(ctx context.Context, agentID, requestType string, payload map[string]any, sessionID, userID, clientIP string, headers map[string]string) (RouteResult, map[string]any, error) {
	all := b.pool.ListInstances(agentID)
	candidates := make([]*instance.AgentInstance, 0, len(all))
	for _, inst := range all {
		if !isAvailable(inst) {
			continue
		}
		if b.cfg.CircuitBreakerEnabled && !b.breakerFor(inst.ID).AllowRequest() {
			continue
		}
		candidates = append(candidates, inst)
	}
	if len(candidates) == 0 {
		return RouteResult{}, nil, orcherrors.New(orcherrors.UpstreamFailure, "balancer.Route", fmt.Errorf("no available instance for agent %q", agentID))
	}

	affinityKey := ""
	if b.cfg.SessionAffinity {
		affinityKey = affinityKeyFor(b.cfg.AffinitySource, sessionID, userID, clientIP, headers)
	}

	var chosen *instance.AgentInstance
	if affinityKey != "" {
		if instID, ok, _ := b.affinity.Get(ctx, affinityKey); ok {
			for _, inst := range candidates {
				if inst.ID == instID {
					chosen = inst
					break
				}
			}
		}
	}

	requestKey := requestType + ":" + agentID
	if affinityKey != "" {
		requestKey = affinityKey
	}

	viaAffinity := chosen != nil
	if chosen == nil {
		chosen = b.pick(Algorithm(b.cfg.Algorithm), agentID, candidates, requestKey, requestType)
	}
	if !viaAffinity && affinityKey != "" {
		_ = b.affinity.Set(ctx, affinityKey, chosen.ID, stickySessionTimeout(b.cfg.StickySessionTimeout))
	}

	tried := map[string]bool{}
	retries := b.cfg.FailoverRetries
	if retries <= 0 {
		retries = 3
	}

	attempts := 0
	var lastErr error
	for attempts <= retries {
		attempts++
		tried[chosen.ID] = true

		start := time.Now()
		resp, err := b.dispatcher.Dispatch(ctx, chosen, requestType, payload)
		latency := time.Since(start)

		cb := b.breakerFor(chosen.ID)
		if err != nil {
			lastErr = err
			cb.OnFailure()
			if b.cfg.AdaptiveWeights {
				b.updateLearnedWeight(chosen.ID, requestType, latency, false)
			}
			b.logger.Warn(ctx, "instance dispatch failed", "instanceId", chosen.ID, "agentId", agentID, "err", err)
			b.publish(ctx, events.Event{Type: events.ModelCallFailed, InstanceID: chosen.ID, AgentID: agentID, At: time.Now(), Payload: map[string]any{"error": err.Error()}})

			next := firstUntried(candidates, tried)
			if next == nil {
				break
			}
			chosen = next
			continue
		}

		cb.OnSuccess()
		if b.cfg.AdaptiveWeights {
			b.updateLearnedWeight(chosen.ID, requestType, latency, true)
		}
		b.publish(ctx, events.Event{Type: events.ModelCalled, InstanceID: chosen.ID, AgentID: agentID, At: time.Now(), Payload: map[string]any{"latencyMs": latency.Milliseconds()}})
		return RouteResult{Instance: chosen, FallbackUsed: attempts > 1, Attempts: attempts}, resp, nil
	}

	return RouteResult{FallbackUsed: attempts > 1, Attempts: attempts}, nil, orcherrors.New(orcherrors.UpstreamFailure, "balancer.Route", fmt.Errorf("all candidates failed for agent %q: %w", agentID, lastErr))
}

func firstUntried(candidates []*instance.AgentInstance, tried map[string]bool) *instance.AgentInstance {
	for _, inst := range candidates {
		if !tried[inst.ID] {
			return inst
		}
	}
	return nil
}

func (b *Balancer) publish(ctx context.Context, evt events.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(ctx, evt); err != nil {
		b.logger.Warn(ctx, "event publish failed", "type", evt.Type, "err", err)
	}
}

func stickySessionTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

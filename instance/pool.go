package instance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/orchestrator/config"
	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/telemetry"
	"github.com/agentmesh/orchestrator/worker"
)

// Factory supplies the worker.Config used when the pool creates a new
// instance for an agent. It is the pool's only dependency on how an agent's
// DAG/model configuration is produced, keeping instance free of a direct
// dependency on dag or model (spec.md §9 explicit-composition redesign).
type Factory func(ctx context.Context, agentID string) (cfg worker.Config, dagID string, weight float64, maxSessions int, err error)

// Selector picks one instance from a non-empty candidate list, or reports
// false if none is acceptable (e.g. the load balancer found every candidate
// circuit-open). Acquire falls back to creating a new instance when Selector
// returns false or there are no candidates.
type Selector func(candidates []*AgentInstance) (*AgentInstance, bool)

// Pool maintains per-agent instance lists: create/remove, acquire/release,
// and scale (spec.md §4.E).
type Pool struct {
	mu      sync.RWMutex
	byAgent map[string][]*AgentInstance
	byID    map[string]*AgentInstance

	primitive worker.Primitive
	factory   Factory
	cfg       config.Config
	logger    telemetry.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool constructs a Pool.
func NewPool(primitive worker.Primitive, factory Factory, cfg config.Config, opts ...Option) *Pool {
	p := &Pool{
		byAgent:   make(map[string][]*AgentInstance),
		byID:      make(map[string]*AgentInstance),
		primitive: primitive,
		factory:   factory,
		cfg:       cfg,
		logger:    telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ListInstances returns a snapshot of agentID's current instances.
func (p *Pool) ListInstances(agentID string) []*AgentInstance {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*AgentInstance, len(p.byAgent[agentID]))
	copy(out, p.byAgent[agentID])
	return out
}

// Get returns the instance with the given id.
func (p *Pool) Get(instanceID string) (*AgentInstance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.byID[instanceID]
	return inst, ok
}

// Acquire selects an instance for agentID via sel among current candidates,
// reserving a session slot on it. If sel finds nothing usable (or there are
// no instances yet), Acquire creates one, subject to maxInstancesPerAgent;
// if that is also exhausted it fails with NoCapacity (spec.md §4.E).
func (p *Pool) Acquire(ctx context.Context, agentID string, sel Selector) (*AgentInstance, error) {
	for attempt := 0; attempt < 2; attempt++ {
		candidates := p.ListInstances(agentID)
		if len(candidates) > 0 {
			if chosen, ok := sel(candidates); ok {
				if chosen.TryAcquireSession() {
					return chosen, nil
				}
			}
		}
		if attempt == 1 {
			break
		}
		if _, err := p.Create(ctx, agentID); err != nil {
			return nil, err
		}
	}
	return nil, orcherrors.New(orcherrors.NoCapacity, "instance.Pool.Acquire", fmt.Errorf("no available instance for agent %q", agentID))
}

// Release folds one completed request's outcome into instanceID's stats and
// frees its session slot.
func (p *Pool) Release(instanceID string, success bool, latency time.Duration) error {
	p.mu.RLock()
	inst, ok := p.byID[instanceID]
	p.mu.RUnlock()
	if !ok {
		return orcherrors.New(orcherrors.InstanceNotFound, "instance.Pool.Release", fmt.Errorf("instance %q not found", instanceID))
	}
	inst.ReleaseSession(success, latency)
	return nil
}

// Create reserves a worker handle for agentID via the factory and primitive,
// registers the new instance, and attaches it to the agent's list.
func (p *Pool) Create(ctx context.Context, agentID string) (*AgentInstance, error) {
	p.mu.RLock()
	existing := len(p.byAgent[agentID])
	p.mu.RUnlock()
	if p.cfg.MaxInstancesPerAgent > 0 && existing >= p.cfg.MaxInstancesPerAgent {
		return nil, orcherrors.New(orcherrors.NoCapacity, "instance.Pool.Create", fmt.Errorf("agent %q at max instances (%d)", agentID, p.cfg.MaxInstancesPerAgent))
	}

	cfg, dagID, weight, maxSessions, err := p.factory(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("instance: build config for agent %q: %w", agentID, err)
	}
	handle, err := p.primitive.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("instance: create worker handle for agent %q: %w", agentID, err)
	}
	if weight <= 0 {
		weight = 1
	}
	if maxSessions <= 0 {
		maxSessions = 10
	}
	inst := NewAgentInstance(uuid.NewString(), agentID, dagID, handle, weight, maxSessions)

	p.mu.Lock()
	p.byAgent[agentID] = append(p.byAgent[agentID], inst)
	p.byID[inst.ID] = inst
	p.mu.Unlock()

	p.logger.Info(ctx, "instance created", "instanceId", inst.ID, "agentId", agentID)
	return inst, nil
}

// Remove releases instanceID's worker handle and detaches it. Idempotent.
func (p *Pool) Remove(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	inst, ok := p.byID[instanceID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.byID, instanceID)
	list := p.byAgent[inst.AgentID]
	for i, cand := range list {
		if cand.ID == instanceID {
			p.byAgent[inst.AgentID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if err := p.primitive.Destroy(ctx, inst.WorkerHandle); err != nil {
		p.logger.Warn(ctx, "worker handle destroy failed", "instanceId", instanceID, "error", err)
	}
	p.logger.Info(ctx, "instance removed", "instanceId", instanceID, "agentId", inst.AgentID)
	return nil
}

// Scale grows agentID's instance list by creating instances, or shrinks it
// by removing instances, preferring ones with zero active sessions and the
// lowest health score first (spec.md §4.E).
func (p *Pool) Scale(ctx context.Context, agentID string, target int) (added, removed int, err error) {
	current := p.ListInstances(agentID)
	switch {
	case target > len(current):
		for i := 0; i < target-len(current); i++ {
			if _, cerr := p.Create(ctx, agentID); cerr != nil {
				return added, removed, cerr
			}
			added++
		}
	case target < len(current):
		victims := append([]*AgentInstance(nil), current...)
		sort.Slice(victims, func(i, j int) bool {
			pi, pj := victims[i].Perf(), victims[j].Perf()
			if (pi.ActiveSessions == 0) != (pj.ActiveSessions == 0) {
				return pi.ActiveSessions == 0
			}
			return victims[i].Resource().HealthScore < victims[j].Resource().HealthScore
		})
		toRemove := len(current) - target
		for i := 0; i < toRemove && i < len(victims); i++ {
			if err := p.Remove(ctx, victims[i].ID); err != nil {
				return added, removed, err
			}
			removed++
		}
	}
	return added, removed, nil
}

// RemoveInactive removes every instance of agentID that has had zero active
// sessions for at least instanceTimeout (spec.md §3 lifecycle summary).
func (p *Pool) RemoveInactive(ctx context.Context, agentID string, instanceTimeout time.Duration) int {
	removed := 0
	for _, inst := range p.ListInstances(agentID) {
		if inst.IdleSince(instanceTimeout) {
			if err := p.Remove(ctx, inst.ID); err == nil {
				removed++
			}
		}
	}
	return removed
}

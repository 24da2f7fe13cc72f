package balancer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/config"
	"github.com/agentmesh/orchestrator/instance"
	"github.com/agentmesh/orchestrator/worker"
)

type fakePool struct {
	instances []*instance.AgentInstance
}

func (f *fakePool) ListInstances(agentID string) []*instance.AgentInstance {
	return f.instances
}

type scriptedDispatcher struct {
	fail map[string]bool
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, inst *instance.AgentInstance, requestType string, payload map[string]any) (map[string]any, error) {
	if d.fail[inst.ID] {
		return nil, fmt.Errorf("instance %s unavailable", inst.ID)
	}
	return map[string]any{"instance": inst.ID}, nil
}

func newTestInstance(id string, weight float64, maxSessions int) *instance.AgentInstance {
	return instance.NewAgentInstance(id, "agent-a", "dag-1", worker.Handle(id), weight, maxSessions)
}

func TestRouteRoundRobinCyclesCandidates(t *testing.T) {
	a := newTestInstance("a", 1, 5)
	c := newTestInstance("c", 1, 5)
	b2 := newTestInstance("b", 1, 5)
	pool := &fakePool{instances: []*instance.AgentInstance{a, c, b2}}
	lbCfg := config.Default().LoadBalance
	lbCfg.Algorithm = string(RoundRobin)
	lbCfg.SessionAffinity = false
	bal := New(pool, &scriptedDispatcher{}, NewInMemoryAffinityStore(), lbCfg, config.Default().CircuitBreaker, config.Default().MaxRoundRobinCounterPerAgent)

	var got []string
	for i := 0; i < 3; i++ {
		res, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "", "", "", nil)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		got = append(got, res.Instance.ID)
	}
	// sorted order is a, b, c; round robin should cycle through exactly once
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("expected round-robin cycle a,b,c; got %v", got)
	}
}

func TestRouteSessionAffinityStickToSameInstance(t *testing.T) {
	a := newTestInstance("a", 1, 5)
	b2 := newTestInstance("b", 1, 5)
	pool := &fakePool{instances: []*instance.AgentInstance{a, b2}}
	lbCfg := config.Default().LoadBalance
	lbCfg.SessionAffinity = true
	lbCfg.AffinitySource = "sessionId"
	bal := New(pool, &scriptedDispatcher{}, NewInMemoryAffinityStore(), lbCfg, config.Default().CircuitBreaker, config.Default().MaxRoundRobinCounterPerAgent)

	first, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "sess-1", "", "", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		res, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "sess-1", "", "", nil)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if res.Instance.ID != first.Instance.ID {
			t.Fatalf("expected sticky routing to %s, got %s", first.Instance.ID, res.Instance.ID)
		}
	}
}

func TestRouteLeastConnectionsPicksLowestActiveSessions(t *testing.T) {
	a := newTestInstance("a", 1, 10)
	b2 := newTestInstance("b", 1, 10)
	a.TryAcquireSession()
	a.TryAcquireSession()
	pool := &fakePool{instances: []*instance.AgentInstance{a, b2}}
	lbCfg := config.Default().LoadBalance
	lbCfg.Algorithm = string(LeastConnections)
	lbCfg.SessionAffinity = false
	bal := New(pool, &scriptedDispatcher{}, NewInMemoryAffinityStore(), lbCfg, config.Default().CircuitBreaker, config.Default().MaxRoundRobinCounterPerAgent)

	res, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "", "", "", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if res.Instance.ID != "b" {
		t.Fatalf("expected least-connections to pick b, got %s", res.Instance.ID)
	}
}

func TestRouteFailsOverToNextCandidateOnDispatchError(t *testing.T) {
	a := newTestInstance("a", 1, 5)
	b2 := newTestInstance("b", 1, 5)
	pool := &fakePool{instances: []*instance.AgentInstance{a, b2}}
	lbCfg := config.Default().LoadBalance
	lbCfg.Algorithm = string(RoundRobin)
	lbCfg.SessionAffinity = false
	lbCfg.FailoverRetries = 3
	bal := New(pool, &scriptedDispatcher{fail: map[string]bool{"a": true}}, NewInMemoryAffinityStore(), lbCfg, config.Default().CircuitBreaker, config.Default().MaxRoundRobinCounterPerAgent)

	res, resp, err := bal.Route(context.Background(), "agent-a", "chat", nil, "", "", "", nil)
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if !res.FallbackUsed {
		t.Fatal("expected fallbackUsed true after a failed candidate")
	}
	if resp["instance"] != "b" {
		t.Fatalf("expected fallback to succeed on instance b, got %v", resp)
	}
}

func TestRouteExcludesCircuitOpenInstances(t *testing.T) {
	a := newTestInstance("a", 1, 5)
	b2 := newTestInstance("b", 1, 5)
	pool := &fakePool{instances: []*instance.AgentInstance{a, b2}}
	lbCfg := config.Default().LoadBalance
	lbCfg.Algorithm = string(RoundRobin)
	lbCfg.SessionAffinity = false
	lbCfg.CircuitBreakerEnabled = true
	breakerCfg := config.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Hour}
	bal := New(pool, &scriptedDispatcher{}, NewInMemoryAffinityStore(), lbCfg, breakerCfg, config.Default().MaxRoundRobinCounterPerAgent)

	bal.breakerFor("a").OnFailure()

	for i := 0; i < 4; i++ {
		res, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "", "", "", nil)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if res.Instance.ID != "b" {
			t.Fatalf("expected only b to be selected while a's breaker is open, got %s", res.Instance.ID)
		}
	}
}

func TestConsistentHashStableForSameKey(t *testing.T) {
	a := newTestInstance("a", 1, 5)
	b2 := newTestInstance("b", 1, 5)
	c := newTestInstance("c", 1, 5)
	pool := &fakePool{instances: []*instance.AgentInstance{a, b2, c}}
	lbCfg := config.Default().LoadBalance
	lbCfg.Algorithm = string(ConsistentHash)
	lbCfg.SessionAffinity = false
	bal := New(pool, &scriptedDispatcher{}, NewInMemoryAffinityStore(), lbCfg, config.Default().CircuitBreaker, config.Default().MaxRoundRobinCounterPerAgent)

	var first string
	for i := 0; i < 5; i++ {
		res, _, err := bal.Route(context.Background(), "agent-a", "chat", nil, "user-42", "user-42", "", nil)
		if err != nil {
			t.Fatalf("Route() error = %v", err)
		}
		if i == 0 {
			first = res.Instance.ID
		} else if res.Instance.ID != first {
			t.Fatalf("expected consistent hash to route the same key to the same instance, got %s then %s", first, res.Instance.ID)
		}
	}
}

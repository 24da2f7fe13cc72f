package orchestrator

import (
	"context"
	"fmt"
	"sync"

	orcherrors "github.com/agentmesh/orchestrator/errors"
	"github.com/agentmesh/orchestrator/worker"
)

// agentDefinition is what createAgent records about a freshly generated
// agent before binding it into the pool: the factory reads this back by
// agentID to produce the pool instance's worker config and dagId (spec.md
// §4.I "binds to a pool entry via E").
type agentDefinition struct {
	DAGID       string
	Config      worker.Config
	Weight      float64
	MaxSessions int
}

// agentDefStore is the registered-agent-configuration side table the pool's
// instance.Factory reads from. It exists so instance.Pool's Create/Acquire
// path (which only receives an agentID) can still produce the right worker
// config without the pool depending on dag/orchestrator directly.
type agentDefStore struct {
	mu   sync.RWMutex
	defs map[string]agentDefinition
}

func newAgentDefStore() *agentDefStore {
	return &agentDefStore{defs: make(map[string]agentDefinition)}
}

func (s *agentDefStore) put(agentID string, def agentDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[agentID] = def
}

// factory implements instance.Factory.
func (s *agentDefStore) factory(ctx context.Context, agentID string) (worker.Config, string, float64, int, error) {
	s.mu.RLock()
	def, ok := s.defs[agentID]
	s.mu.RUnlock()
	if !ok {
		return worker.Config{}, "", 0, 0, orcherrors.New(orcherrors.InstanceNotFound, "orchestrator.agentDefStore.factory", fmt.Errorf("no registered definition for agent %q", agentID))
	}
	return def.Config, def.DAGID, def.Weight, def.MaxSessions, nil
}

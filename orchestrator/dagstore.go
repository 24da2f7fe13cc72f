package orchestrator

import (
	"sync"

	"github.com/agentmesh/orchestrator/dag"
)

// dagStore holds every DAG generated by createAgent, keyed by dagId, so the
// executor can be run against it from a later, independent execute call.
type dagStore struct {
	mu   sync.RWMutex
	dags map[string]*dag.DAG
}

func newDAGStore() *dagStore {
	return &dagStore{dags: make(map[string]*dag.DAG)}
}

func (s *dagStore) put(d *dag.DAG) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dags[d.ID] = d
}

func (s *dagStore) get(dagID string) (*dag.DAG, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dags[dagID]
	return d, ok
}

package persist

import (
	"context"
	"sync"
)

// InMemoryStore is a ConfigStore for tests and single-process deployments
// that don't need a durable backing store.
type InMemoryStore struct {
	mu   sync.Mutex
	docs map[string]ConfigDocument
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{docs: make(map[string]ConfigDocument)}
}

func (s *InMemoryStore) Upsert(ctx context.Context, doc ConfigDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.InstanceID] = doc
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, instanceID string) (ConfigDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[instanceID], nil
}

func (s *InMemoryStore) Ping(ctx context.Context) error { return nil }

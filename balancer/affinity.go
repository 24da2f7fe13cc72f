package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// AffinityStore maps a session-affinity key to the instance id it was last
// routed to, with a TTL refreshed on every Set (spec.md §4.G, default TTL
// 3600s).
type AffinityStore interface {
	Get(ctx context.Context, key string) (instanceID string, ok bool, err error)
	Set(ctx context.Context, key, instanceID string, ttl time.Duration) error
}

// InMemoryAffinityStore is a single-process AffinityStore backed by a
// lazily-swept map, used in tests and single-instance deployments.
type InMemoryAffinityStore struct {
	mu      sync.Mutex
	entries map[string]affinityEntry
}

type affinityEntry struct {
	instanceID string
	expiresAt  time.Time
}

// NewInMemoryAffinityStore constructs an empty store.
func NewInMemoryAffinityStore() *InMemoryAffinityStore {
	return &InMemoryAffinityStore{entries: make(map[string]affinityEntry)}
}

func (s *InMemoryAffinityStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.instanceID, true, nil
}

func (s *InMemoryAffinityStore) Set(ctx context.Context, key, instanceID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = affinityEntry{instanceID: instanceID, expiresAt: time.Now().Add(ttl)}
	return nil
}

// RedisAffinityStore is a distributed AffinityStore for multi-process
// deployments, backed directly by go-redis (grounded on the gokit redis
// client's typed-store Get/Set/TTL pattern).
type RedisAffinityStore struct {
	rdb       *goredis.Client
	keyPrefix string
}

// NewRedisAffinityStore wraps an existing go-redis client.
func NewRedisAffinityStore(rdb *goredis.Client, keyPrefix string) *RedisAffinityStore {
	if keyPrefix == "" {
		keyPrefix = "agentmesh:affinity"
	}
	return &RedisAffinityStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RedisAffinityStore) fullKey(key string) string {
	return s.keyPrefix + ":" + key
}

func (s *RedisAffinityStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.fullKey(key)).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("balancer: affinity get %q: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisAffinityStore) Set(ctx context.Context, key, instanceID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.fullKey(key), instanceID, ttl).Err(); err != nil {
		return fmt.Errorf("balancer: affinity set %q: %w", key, err)
	}
	return nil
}

package balancer

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *goredis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

// TestMain starts a single Redis container for every integration test in
// this package, skipping them if Docker isn't available (grounded on
// registry/health_tracker_integration_test.go's TestMain).
func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, skipping balancer integration tests: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else if port, err := testRedisContainer.MappedPort(ctx, "6379"); err != nil {
			skipIntegration = true
		} else {
			testRedisClient = goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
			if err := testRedisClient.Ping(ctx).Err(); err != nil {
				skipIntegration = true
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func getTestRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return testRedisClient
}

func TestRedisAffinityStoreSetThenGetRoundTrips(t *testing.T) {
	rdb := getTestRedis(t)
	store := NewRedisAffinityStore(rdb, "")
	ctx := context.Background()

	if err := store.Set(ctx, "session-1", "instance-a", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "instance-a" {
		t.Fatalf("Get() = (%q, %v), want (instance-a, true)", got, ok)
	}
}

func TestRedisAffinityStoreGetMissingReturnsNotFound(t *testing.T) {
	rdb := getTestRedis(t)
	store := NewRedisAffinityStore(rdb, "")

	_, ok, err := store.Get(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing key")
	}
}

func TestRedisAffinityStoreEntryExpiresAfterTTL(t *testing.T) {
	rdb := getTestRedis(t)
	store := NewRedisAffinityStore(rdb, "")
	ctx := context.Background()

	if err := store.Set(ctx, "session-2", "instance-b", 200*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	_, ok, err := store.Get(ctx, "session-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatal("expected the entry to have expired")
	}
}

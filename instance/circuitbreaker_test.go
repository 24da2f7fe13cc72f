package instance

import (
	"testing"
	"time"

	"github.com/agentmesh/orchestrator/config"
)

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
	}
}

func TestCircuitBreakerTripsOpenAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(testBreakerConfig())
	for i := 0; i < 2; i++ {
		if !b.AllowRequest() {
			t.Fatalf("expected closed breaker to allow request %d", i)
		}
		b.OnFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected still closed before threshold, got %s", b.State())
	}
	b.AllowRequest()
	b.OnFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after %d failures, got %s", 3, b.State())
	}
	if b.AllowRequest() {
		t.Fatal("expected open breaker to reject requests before timeout")
	}
}

func TestCircuitBreakerHalfOpenAllowsOneTrial(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewCircuitBreaker(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.AllowRequest()
		b.OnFailure()
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	if !b.AllowRequest() {
		t.Fatal("expected half-open trial to be allowed after timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	if b.AllowRequest() {
		t.Fatal("expected a second concurrent half-open trial to be rejected")
	}
}

func TestCircuitBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewCircuitBreaker(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.AllowRequest()
		b.OnFailure()
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if !b.AllowRequest() {
			t.Fatalf("expected trial %d to be allowed", i)
		}
		b.OnSuccess()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after %d successes, got %s", cfg.SuccessThreshold, b.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopensImmediately(t *testing.T) {
	cfg := testBreakerConfig()
	b := NewCircuitBreaker(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.AllowRequest()
		b.OnFailure()
	}
	time.Sleep(cfg.OpenTimeout + 5*time.Millisecond)

	if !b.AllowRequest() {
		t.Fatal("expected half-open trial to be allowed")
	}
	b.OnFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected a half-open failure to reopen immediately, got %s", b.State())
	}
	if b.AllowRequest() {
		t.Fatal("expected freshly reopened breaker to reject requests")
	}
}

package instance

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/agentmesh/orchestrator/config"
)

// TestCircuitBreakerOpensExactlyAtFailureThresholdProperty verifies spec.md
// §8 property #4: a breaker fed a sequence of consecutive failures (no
// intervening success) opens exactly when the run length reaches
// FailureThreshold, never before.
func TestCircuitBreakerOpensExactlyAtFailureThresholdProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("breaker opens exactly at the configured failure threshold", prop.ForAll(
		func(threshold, failureCount int) bool {
			b := NewCircuitBreaker(config.CircuitBreakerConfig{
				FailureThreshold: threshold,
				SuccessThreshold: 1,
				OpenTimeout:      time.Hour,
			})

			for i := 0; i < failureCount; i++ {
				b.OnFailure()
				wantOpen := i+1 >= threshold
				if (b.State() == BreakerOpen) != wantOpen {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 15),
	))

	properties.TestingRun(t)
}

// TestCircuitBreakerNeverAllowsRequestsWhileOpenBeforeTimeoutProperty
// verifies spec.md §8 property #6: once open, AllowRequest stays false for
// every call made before OpenTimeout elapses, regardless of how many times
// it's called.
func TestCircuitBreakerNeverAllowsRequestsWhileOpenBeforeTimeoutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("breaker rejects every request while open and within the timeout window", prop.ForAll(
		func(pollCount int) bool {
			b := NewCircuitBreaker(config.CircuitBreakerConfig{
				FailureThreshold: 1,
				SuccessThreshold: 1,
				OpenTimeout:      time.Hour,
			})
			b.OnFailure()
			if b.State() != BreakerOpen {
				return false
			}
			for i := 0; i < pollCount; i++ {
				if b.AllowRequest() {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

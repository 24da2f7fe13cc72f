package config

import (
	"testing"
	"time"
)

func TestLoadYAMLOverridesOnlyMentionedFields(t *testing.T) {
	data := []byte(`
metricsWindow: 50
maxInstancesPerAgent: 25
loadBalance:
  algorithm: leastConnections
  sessionAffinity: true
  affinitySource: userId
  stickySessionTimeout: 30m
  failoverRetries: 5
  circuitBreakerEnabled: true
  healthCheckWeight: 0.5
  responseTimeWeight: 0.3
  loadWeight: 0.2
`)
	cfg, err := LoadYAML(data)
	if err != nil {
		t.Fatalf("LoadYAML() error = %v", err)
	}

	if cfg.MetricsWindow != 50 {
		t.Errorf("MetricsWindow = %d, want 50", cfg.MetricsWindow)
	}
	if cfg.MaxInstancesPerAgent != 25 {
		t.Errorf("MaxInstancesPerAgent = %d, want 25", cfg.MaxInstancesPerAgent)
	}
	if cfg.LoadBalance.Algorithm != "leastConnections" {
		t.Errorf("LoadBalance.Algorithm = %q, want leastConnections", cfg.LoadBalance.Algorithm)
	}
	if cfg.LoadBalance.StickySessionTimeout != 30*time.Minute {
		t.Errorf("LoadBalance.StickySessionTimeout = %v, want 30m", cfg.LoadBalance.StickySessionTimeout)
	}

	// untouched fields keep their Default() values
	def := Default()
	if cfg.MinInstancesPerAgent != def.MinInstancesPerAgent {
		t.Errorf("MinInstancesPerAgent = %d, want default %d", cfg.MinInstancesPerAgent, def.MinInstancesPerAgent)
	}
	if cfg.CircuitBreaker.FailureThreshold != def.CircuitBreaker.FailureThreshold {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want default %d", cfg.CircuitBreaker.FailureThreshold, def.CircuitBreaker.FailureThreshold)
	}
}

func TestLoadYAMLRejectsInvalidDuration(t *testing.T) {
	if _, err := LoadYAML([]byte("discoveryInterval: not-a-duration\n")); err == nil {
		t.Fatal("expected an error for an invalid duration string")
	}
}

func TestLoadYAMLFileMissingReturnsError(t *testing.T) {
	if _, err := LoadYAMLFile("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

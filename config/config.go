// Package config enumerates every configuration option recognized by the
// orchestrator runtime (spec.md §6) and loads them from the environment with
// documented defaults. No CLI is defined here — integrators own flag parsing
// and call Load (or construct a Config literal) themselves.
package config

import (
	"os"
	"strconv"
	"time"
)

// LoadBalanceConfig configures the load balancer (component G).
type LoadBalanceConfig struct {
	// Algorithm selects the routing algorithm. One of roundRobin,
	// weightedRoundRobin, leastConnections, weightedLeastConnections,
	// fastestResponse, resourceBased, adaptiveRandom, consistentHash,
	// predictive.
	Algorithm string
	// SessionAffinity enables sticky routing via the configured affinity
	// source (sessionId, userId, clientIp, or a named header).
	SessionAffinity bool
	// AffinitySource names the affinity key source.
	AffinitySource string
	// StickySessionTimeout is the affinity map entry TTL.
	StickySessionTimeout time.Duration
	// FailoverRetries bounds balancer-internal retries on dispatch failure.
	FailoverRetries int
	// CircuitBreakerEnabled toggles circuit-breaker participation in
	// candidate filtering.
	CircuitBreakerEnabled bool
	// AdaptiveWeights enables the predictive algorithm's learned weight
	// updates.
	AdaptiveWeights bool
	// HealthCheckWeight, LoadWeight, ResponseTimeWeight are the (α,β,γ)
	// weights for the resourceBased algorithm, applied to its health, load
	// and response-time factors respectively.
	HealthCheckWeight  float64
	ResponseTimeWeight float64
	LoadWeight         float64
}

// CircuitBreakerConfig configures the per-instance circuit breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

// Config is the full set of recognized options from spec.md §6.
type Config struct {
	// Tool registry (component A).
	DiscoveryInterval   time.Duration
	HealthProbeInterval time.Duration

	// Autoscaler (component H).
	OptimizationInterval time.Duration
	MetricsWindow        int
	MinDataPoints        int

	// Instance pool (component E).
	MinInstancesPerAgent int
	MaxInstancesPerAgent int
	InstanceTimeout      time.Duration

	LoadBalance    LoadBalanceConfig
	CircuitBreaker CircuitBreakerConfig

	// MaxRoundRobinCounterPerAgent bounds the round-robin counter before it
	// wraps, avoiding unbounded growth on long-lived agents.
	MaxRoundRobinCounterPerAgent uint64
}

// Default returns the documented defaults for every option.
func Default() Config {
	return Config{
		DiscoveryInterval:    5 * time.Minute,
		HealthProbeInterval:  60 * time.Second,
		OptimizationInterval: 60 * time.Second,
		MetricsWindow:        100,
		MinDataPoints:        3,
		MinInstancesPerAgent: 1,
		MaxInstancesPerAgent: 10,
		InstanceTimeout:      10 * time.Minute,
		LoadBalance: LoadBalanceConfig{
			Algorithm:            "roundRobin",
			SessionAffinity:      false,
			AffinitySource:       "sessionId",
			StickySessionTimeout: time.Hour,
			FailoverRetries:      3,
			CircuitBreakerEnabled: true,
			HealthCheckWeight:    0.4,
			ResponseTimeWeight:   0.3,
			LoadWeight:           0.3,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			OpenTimeout:      60 * time.Second,
		},
		MaxRoundRobinCounterPerAgent: 1 << 32,
	}
}

// Load builds a Config from the environment, falling back to Default for any
// option without a recognized environment variable. Prefix, when non-empty,
// is prepended to every variable name (e.g. "AGENTMESH_").
func Load(prefix string) Config {
	cfg := Default()

	if v, ok := lookupDuration(prefix, "DISCOVERY_INTERVAL"); ok {
		cfg.DiscoveryInterval = v
	}
	if v, ok := lookupDuration(prefix, "HEALTH_PROBE_INTERVAL"); ok {
		cfg.HealthProbeInterval = v
	}
	if v, ok := lookupDuration(prefix, "OPTIMIZATION_INTERVAL"); ok {
		cfg.OptimizationInterval = v
	}
	if v, ok := lookupInt(prefix, "METRICS_WINDOW"); ok {
		cfg.MetricsWindow = v
	}
	if v, ok := lookupInt(prefix, "MIN_DATA_POINTS"); ok {
		cfg.MinDataPoints = v
	}
	if v, ok := lookupInt(prefix, "MIN_INSTANCES_PER_AGENT"); ok {
		cfg.MinInstancesPerAgent = v
	}
	if v, ok := lookupInt(prefix, "MAX_INSTANCES_PER_AGENT"); ok {
		cfg.MaxInstancesPerAgent = v
	}
	if v, ok := lookupDuration(prefix, "INSTANCE_TIMEOUT"); ok {
		cfg.InstanceTimeout = v
	}
	if v, ok := lookupString(prefix, "LOAD_BALANCE_ALGORITHM"); ok {
		cfg.LoadBalance.Algorithm = v
	}
	if v, ok := lookupBool(prefix, "LOAD_BALANCE_SESSION_AFFINITY"); ok {
		cfg.LoadBalance.SessionAffinity = v
	}
	if v, ok := lookupString(prefix, "LOAD_BALANCE_AFFINITY_SOURCE"); ok {
		cfg.LoadBalance.AffinitySource = v
	}
	if v, ok := lookupDuration(prefix, "LOAD_BALANCE_STICKY_SESSION_TIMEOUT"); ok {
		cfg.LoadBalance.StickySessionTimeout = v
	}
	if v, ok := lookupInt(prefix, "LOAD_BALANCE_FAILOVER_RETRIES"); ok {
		cfg.LoadBalance.FailoverRetries = v
	}
	if v, ok := lookupBool(prefix, "LOAD_BALANCE_CIRCUIT_BREAKER_ENABLED"); ok {
		cfg.LoadBalance.CircuitBreakerEnabled = v
	}
	if v, ok := lookupBool(prefix, "LOAD_BALANCE_ADAPTIVE_WEIGHTS"); ok {
		cfg.LoadBalance.AdaptiveWeights = v
	}
	if v, ok := lookupInt(prefix, "CIRCUIT_BREAKER_FAILURE_THRESHOLD"); ok {
		cfg.CircuitBreaker.FailureThreshold = v
	}
	if v, ok := lookupInt(prefix, "CIRCUIT_BREAKER_SUCCESS_THRESHOLD"); ok {
		cfg.CircuitBreaker.SuccessThreshold = v
	}
	if v, ok := lookupDuration(prefix, "CIRCUIT_BREAKER_OPEN_TIMEOUT"); ok {
		cfg.CircuitBreaker.OpenTimeout = v
	}
	return cfg
}

func env(prefix, name string) (string, bool) {
	v, ok := os.LookupEnv(prefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupString(prefix, name string) (string, bool) { return env(prefix, name) }

func lookupDuration(prefix, name string) (time.Duration, bool) {
	v, ok := env(prefix, name)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func lookupInt(prefix, name string) (int, bool) {
	v, ok := env(prefix, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupBool(prefix, name string) (bool, bool) {
	v, ok := env(prefix, name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

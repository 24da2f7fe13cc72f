package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config with yaml tags, kept separate from Config itself
// so the environment-variable loader above stays the single source of
// truth for field names and Config carries no yaml-specific struct tags.
type yamlConfig struct {
	DiscoveryInterval   string `yaml:"discoveryInterval"`
	HealthProbeInterval string `yaml:"healthProbeInterval"`

	OptimizationInterval string `yaml:"optimizationInterval"`
	MetricsWindow        int    `yaml:"metricsWindow"`
	MinDataPoints        int    `yaml:"minDataPoints"`

	MinInstancesPerAgent int    `yaml:"minInstancesPerAgent"`
	MaxInstancesPerAgent int    `yaml:"maxInstancesPerAgent"`
	InstanceTimeout      string `yaml:"instanceTimeout"`

	LoadBalance struct {
		Algorithm             string  `yaml:"algorithm"`
		SessionAffinity       bool    `yaml:"sessionAffinity"`
		AffinitySource        string  `yaml:"affinitySource"`
		StickySessionTimeout  string  `yaml:"stickySessionTimeout"`
		FailoverRetries       int     `yaml:"failoverRetries"`
		CircuitBreakerEnabled bool    `yaml:"circuitBreakerEnabled"`
		AdaptiveWeights       bool    `yaml:"adaptiveWeights"`
		HealthCheckWeight     float64 `yaml:"healthCheckWeight"`
		ResponseTimeWeight    float64 `yaml:"responseTimeWeight"`
		LoadWeight            float64 `yaml:"loadWeight"`
	} `yaml:"loadBalance"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failureThreshold"`
		SuccessThreshold int    `yaml:"successThreshold"`
		OpenTimeout      string `yaml:"openTimeout"`
	} `yaml:"circuitBreaker"`

	MaxRoundRobinCounterPerAgent uint64 `yaml:"maxRoundRobinCounterPerAgent"`
}

// LoadYAML parses data over Default(), leaving any field data doesn't
// mention at its default value. Durations are parsed with
// time.ParseDuration strings (e.g. "60s", "10m").
func LoadYAML(data []byte) (Config, error) {
	cfg := Default()

	// Prefill the grouped loadBalance/circuitBreaker fields with their
	// defaults: yaml.Unmarshal leaves unmentioned fields as they are, and
	// applyYAML copies these fields as a group.
	var y yamlConfig
	lb := cfg.LoadBalance
	y.LoadBalance.Algorithm, y.LoadBalance.SessionAffinity, y.LoadBalance.AffinitySource = lb.Algorithm, lb.SessionAffinity, lb.AffinitySource
	y.LoadBalance.FailoverRetries, y.LoadBalance.CircuitBreakerEnabled, y.LoadBalance.AdaptiveWeights = lb.FailoverRetries, lb.CircuitBreakerEnabled, lb.AdaptiveWeights
	y.LoadBalance.HealthCheckWeight, y.LoadBalance.ResponseTimeWeight, y.LoadBalance.LoadWeight = lb.HealthCheckWeight, lb.ResponseTimeWeight, lb.LoadWeight
	y.CircuitBreaker.FailureThreshold, y.CircuitBreaker.SuccessThreshold = cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.SuccessThreshold
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := applyYAML(&cfg, y); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadYAMLFile reads path and delegates to LoadYAML.
func LoadYAMLFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return LoadYAML(data)
}

func applyYAML(cfg *Config, y yamlConfig) error {
	if y.DiscoveryInterval != "" {
		d, err := parseDuration("discoveryInterval", y.DiscoveryInterval)
		if err != nil {
			return err
		}
		cfg.DiscoveryInterval = d
	}
	if y.HealthProbeInterval != "" {
		d, err := parseDuration("healthProbeInterval", y.HealthProbeInterval)
		if err != nil {
			return err
		}
		cfg.HealthProbeInterval = d
	}
	if y.OptimizationInterval != "" {
		d, err := parseDuration("optimizationInterval", y.OptimizationInterval)
		if err != nil {
			return err
		}
		cfg.OptimizationInterval = d
	}
	if y.InstanceTimeout != "" {
		d, err := parseDuration("instanceTimeout", y.InstanceTimeout)
		if err != nil {
			return err
		}
		cfg.InstanceTimeout = d
	}
	if y.LoadBalance.StickySessionTimeout != "" {
		d, err := parseDuration("loadBalance.stickySessionTimeout", y.LoadBalance.StickySessionTimeout)
		if err != nil {
			return err
		}
		cfg.LoadBalance.StickySessionTimeout = d
	}
	if y.CircuitBreaker.OpenTimeout != "" {
		d, err := parseDuration("circuitBreaker.openTimeout", y.CircuitBreaker.OpenTimeout)
		if err != nil {
			return err
		}
		cfg.CircuitBreaker.OpenTimeout = d
	}

	if y.MetricsWindow != 0 {
		cfg.MetricsWindow = y.MetricsWindow
	}
	if y.MinDataPoints != 0 {
		cfg.MinDataPoints = y.MinDataPoints
	}
	if y.MinInstancesPerAgent != 0 {
		cfg.MinInstancesPerAgent = y.MinInstancesPerAgent
	}
	if y.MaxInstancesPerAgent != 0 {
		cfg.MaxInstancesPerAgent = y.MaxInstancesPerAgent
	}
	if y.LoadBalance.Algorithm != "" {
		cfg.LoadBalance.Algorithm = y.LoadBalance.Algorithm
		cfg.LoadBalance.SessionAffinity = y.LoadBalance.SessionAffinity
		cfg.LoadBalance.AffinitySource = y.LoadBalance.AffinitySource
		cfg.LoadBalance.FailoverRetries = y.LoadBalance.FailoverRetries
		cfg.LoadBalance.CircuitBreakerEnabled = y.LoadBalance.CircuitBreakerEnabled
		cfg.LoadBalance.AdaptiveWeights = y.LoadBalance.AdaptiveWeights
		cfg.LoadBalance.HealthCheckWeight = y.LoadBalance.HealthCheckWeight
		cfg.LoadBalance.ResponseTimeWeight = y.LoadBalance.ResponseTimeWeight
		cfg.LoadBalance.LoadWeight = y.LoadBalance.LoadWeight
	}
	if y.CircuitBreaker.FailureThreshold != 0 {
		cfg.CircuitBreaker.FailureThreshold = y.CircuitBreaker.FailureThreshold
		cfg.CircuitBreaker.SuccessThreshold = y.CircuitBreaker.SuccessThreshold
	}
	if y.MaxRoundRobinCounterPerAgent != 0 {
		cfg.MaxRoundRobinCounterPerAgent = y.MaxRoundRobinCounterPerAgent
	}
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}

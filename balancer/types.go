// Package balancer implements the smart load balancer (component G):
// candidate filtering, session affinity, nine routing algorithms, and
// failover retries across an instance pool's candidates (spec.md §4.G).
package balancer

import (
	"time"

	"github.com/agentmesh/orchestrator/instance"
)

// Algorithm names one of the nine supported routing strategies.
type Algorithm string

const (
	RoundRobin               Algorithm = "roundRobin"
	WeightedRoundRobin       Algorithm = "weightedRoundRobin"
	LeastConnections         Algorithm = "leastConnections"
	WeightedLeastConnections Algorithm = "weightedLeastConnections"
	FastestResponse          Algorithm = "fastestResponse"
	ResourceBased            Algorithm = "resourceBased"
	AdaptiveRandom           Algorithm = "adaptiveRandom"
	ConsistentHash           Algorithm = "consistentHash"
	Predictive               Algorithm = "predictive"
)

const virtualNodesPerInstance = 150

const (
	predictiveLearnRate  = 0.01
	predictiveWeightMin  = 0.1
	predictiveWeightMax  = 2.0
)

// Candidate is the per-instance snapshot the routing algorithms select
// over. It carries only the instance; the consistent-hashing key is passed
// to the algorithms separately.
type Candidate struct {
	Instance *instance.AgentInstance
}

// RouteResult describes the outcome of one Route call.
type RouteResult struct {
	Instance     *instance.AgentInstance
	FallbackUsed bool
	Attempts     int
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

package balancer

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/agentmesh/orchestrator/instance"
)

// pick selects one instance from candidates (non-empty) using algo. Every
// algorithm tie-breaks by ascending instance id for determinism (spec.md
// §4.G).
func (b *Balancer) pick(algo Algorithm, agentID string, candidates []*instance.AgentInstance, requestKey, requestType string) *instance.AgentInstance {
	sorted := append([]*instance.AgentInstance(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	switch algo {
	case WeightedRoundRobin:
		return b.pickWeightedRoundRobin(agentID, sorted)
	case LeastConnections:
		return pickBy(sorted, func(inst *instance.AgentInstance) float64 {
			return float64(inst.Perf().ActiveSessions)
		}, false)
	case WeightedLeastConnections:
		return pickBy(sorted, func(inst *instance.AgentInstance) float64 {
			return float64(inst.Perf().ActiveSessions) / math.Max(inst.Weight, 0.1)
		}, false)
	case FastestResponse:
		return pickBy(sorted, func(inst *instance.AgentInstance) float64 {
			return float64(inst.Perf().AvgResponseTime)
		}, false)
	case ResourceBased:
		return b.pickResourceBased(sorted)
	case AdaptiveRandom:
		return b.pickAdaptiveRandom(sorted)
	case ConsistentHash:
		return pickConsistentHash(sorted, requestKey)
	case Predictive:
		return b.pickPredictive(sorted, requestType)
	case RoundRobin:
		fallthrough
	default:
		return b.pickRoundRobin(agentID, sorted)
	}
}

func (b *Balancer) pickRoundRobin(agentID string, sorted []*instance.AgentInstance) *instance.AgentInstance {
	n := b.nextRoundRobinCount(agentID)
	return sorted[int(n)%len(sorted)]
}

// pickWeightedRoundRobin expands each instance ceil(weight*10) times into a
// virtual list and round-robins over that (spec.md §4.G).
func (b *Balancer) pickWeightedRoundRobin(agentID string, sorted []*instance.AgentInstance) *instance.AgentInstance {
	var expanded []*instance.AgentInstance
	for _, inst := range sorted {
		reps := int(math.Ceil(inst.Weight * 10))
		if reps < 1 {
			reps = 1
		}
		for i := 0; i < reps; i++ {
			expanded = append(expanded, inst)
		}
	}
	n := b.nextRoundRobinCount(agentID)
	return expanded[int(n)%len(expanded)]
}

func (b *Balancer) nextRoundRobinCount(agentID string) uint64 {
	b.rrMu.Lock()
	defer b.rrMu.Unlock()
	n := b.rrCounters[agentID]
	limit := b.maxRRCount
	if limit == 0 {
		limit = 1 << 32
	}
	next := (n + 1) % limit
	b.rrCounters[agentID] = next
	return n
}

// pickBy selects the candidate minimizing (or maximizing, if maximize) f,
// tie-broken by id (the slice is already sorted ascending by id).
func pickBy(sorted []*instance.AgentInstance, f func(*instance.AgentInstance) float64, maximize bool) *instance.AgentInstance {
	best := sorted[0]
	bestVal := f(best)
	for _, inst := range sorted[1:] {
		v := f(inst)
		if (maximize && v > bestVal) || (!maximize && v < bestVal) {
			best = inst
			bestVal = v
		}
	}
	return best
}

func (b *Balancer) pickResourceBased(sorted []*instance.AgentInstance) *instance.AgentInstance {
	alpha, beta, gamma := b.cfg.HealthCheckWeight, b.cfg.LoadWeight, b.cfg.ResponseTimeWeight
	return pickBy(sorted, func(inst *instance.AgentInstance) float64 {
		healthFactor := inst.Resource().HealthScore / 100
		loadFactor := 1.0
		if inst.MaxConcurrentSessions > 0 {
			loadFactor = 1 - float64(inst.Perf().ActiveSessions)/float64(inst.MaxConcurrentSessions)
		}
		responseFactor := 1.0
		if rt := inst.Perf().AvgResponseTime; rt > 0 {
			responseFactor = 1 / rt.Seconds()
		}
		return healthFactor*alpha + loadFactor*beta + responseFactor*gamma
	}, true)
}

func (b *Balancer) pickAdaptiveRandom(sorted []*instance.AgentInstance) *instance.AgentInstance {
	weights := make([]float64, len(sorted))
	var total float64
	for i, inst := range sorted {
		health := inst.Resource().HealthScore / 100
		loadSlack := 1.0
		if inst.MaxConcurrentSessions > 0 {
			loadSlack = 1 - float64(inst.Perf().ActiveSessions)/float64(inst.MaxConcurrentSessions)
		}
		w := (health + loadSlack) * math.Max(inst.Weight, 0.01)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return sorted[0]
	}
	r := b.rand().Float64() * total
	var cum float64
	for i, w := range weights {
		cum += w
		if r <= cum {
			return sorted[i]
		}
	}
	return sorted[len(sorted)-1]
}

// pickConsistentHash builds a 150-virtual-node ring per instance and maps
// requestKey to the next node at or after its hash (spec.md §4.G).
func pickConsistentHash(sorted []*instance.AgentInstance, requestKey string) *instance.AgentInstance {
	type ringEntry struct {
		hash uint32
		inst *instance.AgentInstance
	}
	ring := make([]ringEntry, 0, len(sorted)*virtualNodesPerInstance)
	for _, inst := range sorted {
		for v := 0; v < virtualNodesPerInstance; v++ {
			ring = append(ring, ringEntry{hash: fnvHash(inst.ID, v), inst: inst})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })

	h := fnvHash(requestKey, -1)
	idx := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= h })
	if idx == len(ring) {
		idx = 0
	}
	return ring[idx].inst
}

func fnvHash(key string, virtualNode int) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	if virtualNode >= 0 {
		h.Write([]byte{byte(virtualNode), byte(virtualNode >> 8)})
	}
	// FNV-1a alone clusters keys that differ only in their last bytes (the
	// virtual node index); a murmur3-style finalizer spreads them over the ring.
	x := h.Sum32()
	x ^= x >> 16
	x *= 0x85ebca6b
	x ^= x >> 13
	x *= 0xc2b2ae35
	x ^= x >> 16
	return x
}

// pickPredictive scores each candidate by
// 0.3*health + 0.3*(1-load) + 0.3*(1/recentAvgLatency) + 0.1*learnedWeight
// (spec.md §4.G).
func (b *Balancer) pickPredictive(sorted []*instance.AgentInstance, requestType string) *instance.AgentInstance {
	return pickBy(sorted, func(inst *instance.AgentInstance) float64 {
		perf := inst.Perf()
		health := inst.Resource().HealthScore / 100
		load := 0.0
		if inst.MaxConcurrentSessions > 0 {
			load = float64(perf.ActiveSessions) / float64(inst.MaxConcurrentSessions)
		}
		invLatency := 1.0
		if perf.AvgResponseTime > 0 {
			invLatency = 1 / perf.AvgResponseTime.Seconds()
		}
		learned := b.learnedWeight(inst.ID, requestType)
		return 0.3*health + 0.3*(1-load) + 0.3*invLatency + 0.1*learned
	}, true)
}

func (b *Balancer) learnedWeight(instanceID, requestType string) float64 {
	b.predictiveMu.Lock()
	defer b.predictiveMu.Unlock()
	key := instanceID + "/" + requestType
	if w, ok := b.predictiveWeights[key]; ok {
		return w
	}
	return 1.0
}

// updateLearnedWeight applies the reward update rule after one request
// completes (spec.md §4.G predictive).
func (b *Balancer) updateLearnedWeight(instanceID, requestType string, latency time.Duration, success bool) {
	reward := -1.0
	if success {
		ms := latency.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		reward = 1 / float64(ms)
	}
	b.predictiveMu.Lock()
	defer b.predictiveMu.Unlock()
	key := instanceID + "/" + requestType
	w, ok := b.predictiveWeights[key]
	if !ok {
		w = 1.0
	}
	b.predictiveWeights[key] = clip(w+predictiveLearnRate*reward, predictiveWeightMin, predictiveWeightMax)
}

func (b *Balancer) rand() *rand.Rand {
	b.randMu.Lock()
	defer b.randMu.Unlock()
	if b.randSrc == nil {
		b.randSrc = rand.New(rand.NewSource(1))
	}
	return b.randSrc
}

package sambung

import (
	"math/rand"
	"sort"
	"sync"
)

// Strategy names a load-balancing algorithm.
type Strategy string

const (
	StrategyRandom             Strategy = "random"
	StrategyRoundRobin         Strategy = "roundRobin"
	StrategyWeightedRoundRobin Strategy = "weightedRoundRobin"
	StrategyConsistentHash     Strategy = "consistentHash"
	StrategyLeastActive        Strategy = "leastActive"
)

// Balancer selects one instance from a candidate list. Select returns nil
// when no instance can be chosen; hashKey is only meaningful to hash-based
// strategies and ignored by the rest. Implementations are safe for concurrent
// use.
type Balancer interface {
	Name() Strategy
	Select(instances []ServiceInstance, hashKey string) *ServiceInstance
}

// NewBalancer constructs the balancer for a strategy name. Unknown strategies
// fall back to random selection.
func NewBalancer(strategy Strategy) Balancer {
	switch strategy {
	case StrategyRoundRobin:
		return NewRoundRobinBalancer()
	case StrategyWeightedRoundRobin:
		return NewWeightedRoundRobinBalancer()
	case StrategyConsistentHash:
		return NewConsistentHashBalancer()
	case StrategyLeastActive:
		return NewLeastActiveBalancer()
	default:
		return NewRandomBalancer()
	}
}

// RandomBalancer picks a uniformly random instance.
type RandomBalancer struct{}

// NewRandomBalancer creates a random balancer.
func NewRandomBalancer() *RandomBalancer { return &RandomBalancer{} }

// Name returns the strategy name.
func (b *RandomBalancer) Name() Strategy { return StrategyRandom }

// Select returns a uniformly random instance, or nil for an empty list.
func (b *RandomBalancer) Select(instances []ServiceInstance, _ string) *ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	pick := instances[rand.Intn(len(instances))]
	return &pick
}

// RoundRobinBalancer cycles through instances with a single cursor that
// persists for the life of the balancer.
type RoundRobinBalancer struct {
	mu   sync.Mutex
	next int
}

// NewRoundRobinBalancer creates a round-robin balancer.
func NewRoundRobinBalancer() *RoundRobinBalancer { return &RoundRobinBalancer{} }

// Name returns the strategy name.
func (b *RoundRobinBalancer) Name() Strategy { return StrategyRoundRobin }

// Select returns the next instance in registration order, wrapping modulo the
// current list length.
func (b *RoundRobinBalancer) Select(instances []ServiceInstance, _ string) *ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	b.mu.Lock()
	pick := instances[b.next%len(instances)]
	b.next++
	b.mu.Unlock()
	return &pick
}

// WeightedRoundRobinBalancer implements interleaved weighted round-robin: a
// cursor walks the candidate list and a weight threshold decrements on each
// wrap, so an instance is picked whenever its weight reaches the current
// threshold. Long-run selection frequency converges to the weight ratio. The
// maximum weight is recomputed from the candidate set on every call, so the
// balancer tolerates membership and weight changes between calls.
type WeightedRoundRobinBalancer struct {
	mu            sync.Mutex
	index         int
	currentWeight int
}

// NewWeightedRoundRobinBalancer creates a weighted round-robin balancer.
func NewWeightedRoundRobinBalancer() *WeightedRoundRobinBalancer {
	return &WeightedRoundRobinBalancer{index: -1}
}

// Name returns the strategy name.
func (b *WeightedRoundRobinBalancer) Name() Strategy { return StrategyWeightedRoundRobin }

// Select returns the next instance by smooth weighted rotation, or nil for an
// empty list.
func (b *WeightedRoundRobinBalancer) Select(instances []ServiceInstance, _ string) *ServiceInstance {
	if len(instances) == 0 {
		return nil
	}

	maxWeight := 0
	for _, in := range instances {
		if w := in.EffectiveWeight(); w > maxWeight {
			maxWeight = w
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// The threshold can exceed the new maximum after the candidate set
	// changed between calls.
	if b.currentWeight > maxWeight {
		b.currentWeight = maxWeight
	}

	for {
		b.index = (b.index + 1) % len(instances)
		if b.index == 0 {
			b.currentWeight--
			if b.currentWeight <= 0 {
				b.currentWeight = maxWeight
			}
		}
		if instances[b.index].EffectiveWeight() >= b.currentWeight {
			pick := instances[b.index]
			return &pick
		}
	}
}

// LeastActiveBalancer approximates least-active selection: it keeps only
// instances marked healthy and picks the highest-weighted of them. It does
// not track in-flight request counts; health plus static weight stand in for
// live load.
type LeastActiveBalancer struct{}

// NewLeastActiveBalancer creates a least-active balancer.
func NewLeastActiveBalancer() *LeastActiveBalancer { return &LeastActiveBalancer{} }

// Name returns the strategy name.
func (b *LeastActiveBalancer) Name() Strategy { return StrategyLeastActive }

// Select returns the healthy instance with the highest weight, or nil when no
// instance is healthy. Ties keep registration order.
func (b *LeastActiveBalancer) Select(instances []ServiceInstance, _ string) *ServiceInstance {
	healthy := make([]ServiceInstance, 0, len(instances))
	for _, in := range instances {
		if in.Healthy {
			healthy = append(healthy, in)
		}
	}
	if len(healthy) == 0 {
		return nil
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return healthy[i].EffectiveWeight() > healthy[j].EffectiveWeight()
	})
	pick := healthy[0]
	return &pick
}

package sambung

import (
	"github.com/ambiyansyah-risyal/sambung/internal/hashring"
)

// virtualNodesPerInstance is the number of ring positions each instance
// occupies.
const virtualNodesPerInstance = 160

// ConsistentHashBalancer maps a caller-supplied key onto a virtual-node hash
// ring so the same key keeps landing on the same instance while the instance
// set is stable. The ring is rebuilt from the candidate list on every call;
// selection is a pure function of (instance set, key). Without a key it falls
// back to random selection.
type ConsistentHashBalancer struct{}

// NewConsistentHashBalancer creates a consistent-hash balancer.
func NewConsistentHashBalancer() *ConsistentHashBalancer { return &ConsistentHashBalancer{} }

// Name returns the strategy name.
func (b *ConsistentHashBalancer) Name() Strategy { return StrategyConsistentHash }

// Select returns the ring owner of hashKey, or a random instance when no key
// is supplied. Returns nil for an empty list.
func (b *ConsistentHashBalancer) Select(instances []ServiceInstance, hashKey string) *ServiceInstance {
	if len(instances) == 0 {
		return nil
	}
	if hashKey == "" {
		return NewRandomBalancer().Select(instances, "")
	}

	addresses := make([]string, len(instances))
	byAddress := make(map[string]ServiceInstance, len(instances))
	for i, in := range instances {
		addresses[i] = in.Address
		byAddress[in.Address] = in
	}

	owner := hashring.New(addresses, virtualNodesPerInstance).Lookup(hashKey)
	pick, ok := byAddress[owner]
	if !ok {
		return nil
	}
	return &pick
}

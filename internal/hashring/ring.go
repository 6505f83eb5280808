// Package hashring implements the virtual-node consistent-hash ring used for
// sticky instance selection.
package hashring

import (
	"fmt"
	"hash/fnv"
	"sort"
)

type node struct {
	hash    uint32
	address string
}

// Ring is an immutable consistent-hash ring. Each address is placed at
// multiple virtual positions hashed from "{address}#{index}" so the keyspace
// spreads evenly across few real instances.
type Ring struct {
	nodes []node
}

// New builds a ring with virtualNodes positions per address.
func New(addresses []string, virtualNodes int) *Ring {
	if virtualNodes <= 0 {
		virtualNodes = 1
	}
	nodes := make([]node, 0, len(addresses)*virtualNodes)
	for _, addr := range addresses {
		for i := 0; i < virtualNodes; i++ {
			nodes = append(nodes, node{
				hash:    Sum32(fmt.Sprintf("%s#%d", addr, i)),
				address: addr,
			})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].hash < nodes[j].hash })
	return &Ring{nodes: nodes}
}

// Lookup returns the address owning key: the first ring position with hash >=
// the key hash, wrapping to the first position past the end. Returns "" on an
// empty ring.
func (r *Ring) Lookup(key string) string {
	if len(r.nodes) == 0 {
		return ""
	}
	h := Sum32(key)
	i := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].hash >= h })
	if i == len(r.nodes) {
		i = 0
	}
	return r.nodes[i].address
}

// Size returns the number of virtual positions on the ring.
func (r *Ring) Size() int {
	return len(r.nodes)
}

// Sum32 hashes s with 32-bit FNV-1a.
func Sum32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

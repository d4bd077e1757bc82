package loadbalance

import (
	"sort"
	"strconv"
	"sync"
)

const replicasPerNode = 150

// hash is a classic multiply-by-31 string hash with uint32 wraparound.
// Not cryptographic, and frozen deliberately: the ring placement it
// produces is a compatibility surface — changing the function reshuffles
// every user's backend assignment on the next deploy.
func hash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

// ConsistentHashBalancer maps a user id onto the same backend node every
// time (until the node set changes), giving session/cache affinity.
type ConsistentHashBalancer struct {
	mu    sync.RWMutex
	ring  []uint32
	owner map[uint32]string
	nodes map[string]bool
}

// NewConsistentHashBalancer creates an empty hash ring.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		owner: make(map[uint32]string),
		nodes: make(map[string]bool),
	}
}

func (b *ConsistentHashBalancer) AddNode(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.nodes[addr] {
		return
	}
	b.nodes[addr] = true
	for i := 0; i < replicasPerNode; i++ {
		key := addr + "&&VN" + strconv.Itoa(i)
		h := hash(key)
		b.ring = append(b.ring, h)
		b.owner[h] = addr
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

func (b *ConsistentHashBalancer) RemoveNode(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.nodes[addr] {
		return
	}
	delete(b.nodes, addr)
	newRing := b.ring[:0]
	for _, h := range b.ring {
		if b.owner[h] == addr {
			delete(b.owner, h)
			continue
		}
		newRing = append(newRing, h)
	}
	b.ring = newRing
}

func (b *ConsistentHashBalancer) GetNodes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.nodes))
	for n := range b.nodes {
		out = append(out, n)
	}
	return out
}

// SelectNode hashes userID and walks the ring clockwise to the first
// virtual node at or past that hash, wrapping around to index 0.
func (b *ConsistentHashBalancer) SelectNode(userID int32) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return ""
	}
	h := hash(strconv.Itoa(int(userID)))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= h })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.owner[b.ring[idx]]
}

func (b *ConsistentHashBalancer) Name() string { return "ConsistentHash" }

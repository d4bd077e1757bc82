// Package loadbalance selects which backend address should serve a given
// user's request. Every strategy here operates on plain addresses rather
// than registry.ServiceInstance, since routing decisions in meshline are
// keyed by user id (for cache/session affinity), not by round-robin over
// opaque instance structs.
package loadbalance

// Balancer is the interface rpcconsumer.Channel uses to pick a target
// address out of the instances registry.Discover returned.
type Balancer interface {
	// AddNode adds addr to the set of candidate nodes.
	AddNode(addr string)
	// RemoveNode removes addr from the set of candidate nodes.
	RemoveNode(addr string)
	// GetNodes returns the current candidate set.
	GetNodes() []string
	// SelectNode picks one node for userID. Returns "" if there are no
	// nodes.
	SelectNode(userID int32) string
	// Name identifies the strategy, for logging.
	Name() string
}

// Package registry defines meshline's service discovery contract and data
// types: servers register themselves under a persistent "/serviceName"
// node plus one ephemeral "/serviceName/methodName" node per exposed
// method, and clients discover instances by address.
package registry

import "context"

// ServiceInstance represents a single running instance of a service.
type ServiceInstance struct {
	Addr    string // Network address, e.g. "127.0.0.1:8080"
	Weight  int    // Weight for load balancing (higher = more traffic)
	Version string // Service version, for canary rollouts
}

// Registry is the interface for service registration and discovery.
// Implementations include EtcdRegistry (production) and MockRegistry
// (tests).
type Registry interface {
	// Start blocks until the registry's backing connection is ready, or
	// ctx is done / a fixed readiness deadline elapses.
	Start(ctx context.Context) error

	// Register adds path to the registry. A path with no "/" is treated
	// as a persistent service marker (no lease); a path of the form
	// "serviceName/methodName" is registered as an ephemeral node scoped
	// to instance.Addr, renewed automatically until Deregister is called.
	Register(path string, instance ServiceInstance, ttl int64) error

	// Deregister removes the entry path/addr previously added by Register.
	Deregister(path string, addr string) error

	// Discover returns every currently registered instance under
	// serviceName, deduplicated by address.
	Discover(serviceName string) ([]ServiceInstance, error)

	// Watch returns a channel that emits an updated instance list whenever
	// serviceName's registrations change.
	Watch(serviceName string) <-chan []ServiceInstance

	// Reconnect drops and recreates the underlying client connection.
	Reconnect() error

	// Close releases the underlying connection.
	Close() error
}

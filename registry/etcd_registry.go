// Package registry's etcd-backed implementation.
//
// etcd plays the distributed directory: a persistent "/serviceName" node
// marks that a service exists, and one ephemeral "/serviceName/methodName/addr"
// node per exposed method (scoped by address, so multiple instances
// exposing the same method don't collide) is kept alive by a TTL lease and
// KeepAlive, so a dead provider's entries expire on their own.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRegistry implements Registry on top of etcd v3.
type EtcdRegistry struct {
	endpoints []string
	client    *clientv3.Client
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{endpoints: endpoints, client: c}, nil
}

// Start blocks until etcd answers a trivial Get, or 10s elapses — a
// bounded connected-or-fail gate so binaries fail fast at startup instead
// of on their first real call.
func (r *EtcdRegistry) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.client.Get(ctx, "/meshline-ready-probe")
	if err != nil {
		return fmt.Errorf("registry: not ready: %w", err)
	}
	return nil
}

// Reconnect drops and recreates the etcd client.
func (r *EtcdRegistry) Reconnect() error {
	if r.client != nil {
		r.client.Close()
	}
	c, err := clientv3.New(clientv3.Config{Endpoints: r.endpoints})
	if err != nil {
		return err
	}
	r.client = c
	return nil
}

func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func isMethodPath(path string) bool {
	return strings.Contains(path, "/")
}

// Register creates a persistent "/path" marker for a bare service name, or
// an ephemeral "/path/addr" node (TTL lease + auto-renewing KeepAlive) for
// a "service/method" path.
func (r *EtcdRegistry) Register(path string, instance ServiceInstance, ttl int64) error {
	ctx := context.Background()
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if !isMethodPath(path) {
		_, err := r.client.Put(ctx, "/"+path, string(val))
		return err
	}

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}
	key := "/" + path + "/" + instance.Addr
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes the entry previously registered at path/addr.
func (r *EtcdRegistry) Deregister(path string, addr string) error {
	ctx := context.Background()
	key := "/" + path
	if isMethodPath(path) {
		key = "/" + path + "/" + addr
	}
	_, err := r.client.Delete(ctx, key)
	return err
}

// Discover returns every instance registered under any
// "/serviceName/methodName/addr" node, deduplicated by address (a single
// provider process registers the same address under every method it
// exposes).
func (r *EtcdRegistry) Discover(serviceName string) ([]ServiceInstance, error) {
	ctx := context.Background()
	prefix := "/" + serviceName + "/"

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	instances := make([]ServiceInstance, 0)
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		if seen[instance.Addr] {
			continue
		}
		seen[instance.Addr] = true
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch monitors serviceName's prefix and re-resolves the full instance
// list on any change.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []ServiceInstance {
	ctx := context.Background()
	ch := make(chan []ServiceInstance, 1)
	prefix := "/" + serviceName + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(serviceName)
			if err != nil {
				continue
			}
			ch <- instances
		}
	}()

	return ch
}
